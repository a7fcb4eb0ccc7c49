// Package batch collects per-item outcomes of heterogeneous batch operations
// such as "download this playlist" or "play these tracks".
//
// Producers yield tagged Result values from a lazy iter.Seq. A failure is a
// value in the sequence, so nothing has to be checked after consumption.
package batch

import (
	"fmt"
	"iter"
	"strings"

	apperrors "github.com/deemusic/deemusic-player/internal/errors"
)

// Result is one item of a batch: either Value or Err is meaningful.
type Result[T any] struct {
	Index int
	Key   string
	Value T
	Err   error
}

// Ok returns a successful result
func Ok[T any](index int, key string, value T) Result[T] {
	return Result[T]{Index: index, Key: key, Value: value}
}

// Fail returns a failed result
func Fail[T any](index int, key string, err error) Result[T] {
	return Result[T]{Index: index, Key: key, Err: err}
}

// Failed reports whether the result carries an error
func (r Result[T]) Failed() bool {
	return r.Err != nil
}

// Then maps the successful values of seq through fn. Failures pass through
// untouched, keeping their original error.
func Then[T, U any](seq iter.Seq[Result[T]], fn func(Result[T]) (U, error)) iter.Seq[Result[U]] {
	return func(yield func(Result[U]) bool) {
		for r := range seq {
			if r.Err != nil {
				if !yield(Fail[U](r.Index, r.Key, r.Err)) {
					return
				}
				continue
			}
			v, err := fn(r)
			if err != nil {
				if !yield(Fail[U](r.Index, r.Key, err)) {
					return
				}
				continue
			}
			if !yield(Ok(r.Index, r.Key, v)) {
				return
			}
		}
	}
}

// Outcome classifies a finished batch
type Outcome string

const (
	OutcomeAllSucceeded Outcome = "all_succeeded"
	OutcomeSomeFailed   Outcome = "some_failed"
	OutcomeAllFailed    Outcome = "all_failed"
)

// Failure describes one failed item
type Failure struct {
	Index int
	Key   string
	Err   error
}

// Report is the aggregate of a consumed batch
type Report[T any] struct {
	Total     int
	Succeeded []T
	Failures  []Failure
}

// Collect drains seq into a Report.
func Collect[T any](seq iter.Seq[Result[T]]) *Report[T] {
	report := &Report[T]{}
	for r := range seq {
		report.Total++
		if r.Err != nil {
			report.Failures = append(report.Failures, Failure{Index: r.Index, Key: r.Key, Err: r.Err})
			continue
		}
		report.Succeeded = append(report.Succeeded, r.Value)
	}
	return report
}

// Outcome returns the classification of the batch. An empty batch counts as
// all succeeded.
func (r *Report[T]) Outcome() Outcome {
	switch {
	case len(r.Failures) == 0:
		return OutcomeAllSucceeded
	case len(r.Failures) == r.Total:
		return OutcomeAllFailed
	default:
		return OutcomeSomeFailed
	}
}

// Err returns a non-nil *Error only when every item failed. Partial failure
// is not an error; callers inspect Outcome and Failures.
func (r *Report[T]) Err() error {
	if r.Outcome() != OutcomeAllFailed {
		return nil
	}
	return &Error{Total: r.Total, Failures: r.Failures}
}

// InvalidReferences returns the failures caused by stale identifiers, the
// entries a caller should mark as corrupted.
func (r *Report[T]) InvalidReferences() []Failure {
	var out []Failure
	for _, f := range r.Failures {
		if apperrors.IsInvalidReference(f.Err) {
			out = append(out, f)
		}
	}
	return out
}

// Message renders the user-facing summary. "all failed" and "some failed"
// are distinct messages.
func (r *Report[T]) Message() string {
	switch r.Outcome() {
	case OutcomeAllFailed:
		return fmt.Sprintf("all %d items failed", r.Total)
	case OutcomeSomeFailed:
		return fmt.Sprintf("%d of %d items failed", len(r.Failures), r.Total)
	default:
		return fmt.Sprintf("%d items succeeded", r.Total)
	}
}

// Error is returned by Report.Err when the whole batch failed
type Error struct {
	Total    int
	Failures []Failure
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "all %d items failed", e.Total)
	if len(e.Failures) > 0 {
		fmt.Fprintf(&b, ": first: %v", e.Failures[0].Err)
	}
	return b.String()
}

// Unwrap exposes every item error so errors.Is and errors.As see the
// original failures.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}
