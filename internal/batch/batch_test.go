package batch

import (
	"errors"
	"fmt"
	"iter"
	"testing"

	apperrors "github.com/deemusic/deemusic-player/internal/errors"
)

func sequence(n int, failAt map[int]bool) iter.Seq[Result[string]] {
	return func(yield func(Result[string]) bool) {
		for i := 0; i < n; i++ {
			key := fmt.Sprintf("item-%d", i+1)
			var r Result[string]
			if failAt[i+1] {
				r = Fail[string](i, key, apperrors.NewInvalidReferenceError(key, nil))
			} else {
				r = Ok(i, key, key)
			}
			if !yield(r) {
				return
			}
		}
	}
}

func TestCollectOutcomes(t *testing.T) {
	tests := []struct {
		name    string
		n       int
		failAt  map[int]bool
		outcome Outcome
		message string
		wantErr bool
	}{
		{
			name:    "all succeeded",
			n:       3,
			outcome: OutcomeAllSucceeded,
			message: "3 items succeeded",
		},
		{
			name:    "some failed",
			n:       5,
			failAt:  map[int]bool{2: true, 4: true},
			outcome: OutcomeSomeFailed,
			message: "2 of 5 items failed",
		},
		{
			name:    "all failed",
			n:       2,
			failAt:  map[int]bool{1: true, 2: true},
			outcome: OutcomeAllFailed,
			message: "all 2 items failed",
			wantErr: true,
		},
		{
			name:    "empty batch",
			n:       0,
			outcome: OutcomeAllSucceeded,
			message: "0 items succeeded",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := Collect(sequence(tt.n, tt.failAt))

			if report.Total != tt.n {
				t.Errorf("Total = %d, want %d", report.Total, tt.n)
			}
			if got := report.Outcome(); got != tt.outcome {
				t.Errorf("Outcome() = %v, want %v", got, tt.outcome)
			}
			if got := report.Message(); got != tt.message {
				t.Errorf("Message() = %q, want %q", got, tt.message)
			}
			if err := report.Err(); (err != nil) != tt.wantErr {
				t.Errorf("Err() = %v, wantErr %v", err, tt.wantErr)
			}
			if len(report.Succeeded)+len(report.Failures) != tt.n {
				t.Errorf("succeeded + failed = %d, want %d", len(report.Succeeded)+len(report.Failures), tt.n)
			}
		})
	}
}

func TestReportKeepsFailureDetail(t *testing.T) {
	report := Collect(sequence(5, map[int]bool{2: true, 4: true}))

	refs := report.InvalidReferences()
	if len(refs) != 2 {
		t.Fatalf("Expected 2 invalid references, got %d", len(refs))
	}
	if refs[0].Key != "item-2" || refs[1].Key != "item-4" {
		t.Errorf("Unexpected failed keys: %s, %s", refs[0].Key, refs[1].Key)
	}
	if refs[0].Index != 1 {
		t.Errorf("Expected index 1 for item-2, got %d", refs[0].Index)
	}
}

func TestErrorPreservesIdentity(t *testing.T) {
	sentinel := errors.New("stale id")
	seq := func(yield func(Result[int]) bool) {
		yield(Fail[int](0, "a", sentinel))
	}

	err := Collect[int](seq).Err()
	if err == nil {
		t.Fatal("Expected an error for an all-failed batch")
	}
	if !errors.Is(err, sentinel) {
		t.Errorf("Expected errors.Is to find the original failure, got %v", err)
	}

	var batchErr *Error
	if !errors.As(err, &batchErr) {
		t.Fatalf("Expected *Error, got %T", err)
	}
	if batchErr.Total != 1 {
		t.Errorf("Total = %d, want 1", batchErr.Total)
	}
}

func TestThen(t *testing.T) {
	enqueueErr := errors.New("queue closed")
	seq := Then(sequence(4, map[int]bool{1: true}), func(r Result[string]) (int, error) {
		if r.Key == "item-3" {
			return 0, enqueueErr
		}
		return len(r.Value), nil
	})

	report := Collect(seq)
	if report.Outcome() != OutcomeSomeFailed {
		t.Fatalf("Outcome() = %v, want %v", report.Outcome(), OutcomeSomeFailed)
	}
	if len(report.Failures) != 2 {
		t.Fatalf("Expected 2 failures, got %d", len(report.Failures))
	}
	if !apperrors.IsInvalidReference(report.Failures[0].Err) {
		t.Errorf("Expected first failure to keep its resolver error, got %v", report.Failures[0].Err)
	}
	if !errors.Is(report.Failures[1].Err, enqueueErr) {
		t.Errorf("Expected second failure to be the mapping error, got %v", report.Failures[1].Err)
	}
}

func TestThenStopsEarly(t *testing.T) {
	calls := 0
	seq := Then(sequence(10, nil), func(r Result[string]) (string, error) {
		calls++
		return r.Value, nil
	})

	for r := range seq {
		if r.Index == 2 {
			break
		}
	}
	if calls != 3 {
		t.Errorf("Expected lazy evaluation to stop after 3 items, got %d", calls)
	}
}
