package transfer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/deemusic/deemusic-player/internal/errors"
	"github.com/deemusic/deemusic-player/internal/monitoring"
)

// partialSuffix marks a download that has not completed yet
const partialSuffix = ".part"

// Worker drives one record through download, transcode and tag writing.
// Every run is a single attempt.
type Worker struct {
	transport  Transport
	transcoder Transcoder
	tagger     Tagger
	onFinished func(Snapshot)
	logger     *zap.Logger
}

// WorkerOption configures a Worker
type WorkerOption func(*Worker)

// WithTranscoder enables the Transcoding step
func WithTranscoder(t Transcoder) WorkerOption {
	return func(w *Worker) { w.transcoder = t }
}

// WithTagger enables the WritingTag step
func WithTagger(t Tagger) WorkerOption {
	return func(w *Worker) { w.tagger = t }
}

// WithFinishedHook is called with the terminal snapshot of every run
func WithFinishedHook(fn func(Snapshot)) WorkerOption {
	return func(w *Worker) { w.onFinished = fn }
}

// NewWorker creates a worker over the given transport
func NewWorker(transport Transport, logger *zap.Logger, opts ...WorkerOption) *Worker {
	w := &Worker{
		transport: transport,
		logger:    monitoring.Component(logger, "transfer_worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// PartialPath returns where the in-progress download of dest is written
func PartialPath(dest string) string {
	return dest + partialSuffix
}

type run struct {
	rec       *Record
	partial   string
	artifacts []string
	written   int64
}

// Run executes the pipeline for rec. It returns the typed failure, or nil
// when the record ends Done or Canceled.
func (w *Worker) Run(ctx context.Context, rec *Record) error {
	started := time.Now()
	monitoring.RecordTransferStart()

	item := rec.Item()
	r := &run{rec: rec, partial: PartialPath(item.Destination)}

	snap, err := w.guard(ctx, r)
	if snap.State != StateDone {
		r.cleanup(w.logger)
	}

	monitoring.RecordTransferFinished(string(snap.State), time.Since(started), r.written)
	if err != nil {
		monitoring.RecordError(string(apperrors.GetErrorType(err)))
	}

	switch snap.State {
	case StateDone:
		w.logger.Info("Transfer completed",
			zap.String("id", snap.ID),
			zap.String("source", snap.SourceURI),
			zap.String("output", snap.OutputPath),
			zap.Duration("elapsed", time.Since(started)))
	case StateCanceled:
		w.logger.Info("Transfer canceled",
			zap.String("id", snap.ID),
			zap.String("source", snap.SourceURI))
	default:
		w.logger.Warn("Transfer failed",
			zap.String("id", snap.ID),
			zap.String("source", snap.SourceURI),
			zap.Error(err))
	}

	if w.onFinished != nil {
		w.onFinished(snap)
	}
	return err
}

// guard runs the pipeline and turns a panic in any step into a failed record
func (w *Worker) guard(ctx context.Context, r *run) (snap Snapshot, err error) {
	defer func() {
		p := recover()
		if p == nil {
			return
		}
		r.rec.detach()
		w.logger.Error("Transfer step panicked",
			zap.String("id", r.rec.ID()),
			zap.Any("panic", p),
			zap.Stack("stack"))
		snap, err = w.fail(ctx, r.rec, apperrors.NewProcessingError(fmt.Sprintf("transfer step panicked: %v", p), nil))
	}()
	return w.execute(ctx, r)
}

func (w *Worker) execute(ctx context.Context, r *run) (Snapshot, error) {
	rec := r.rec
	item := rec.Item()

	if ctx.Err() != nil {
		return rec.finish(StateCanceled, nil, ""), nil
	}

	if err := os.MkdirAll(filepath.Dir(item.Destination), 0755); err != nil {
		return w.fail(ctx, rec, apperrors.NewFileSystemError("failed to create destination folder", err))
	}

	op, err := w.transport.Start(ctx, Request{
		URL:         item.SourceURI,
		Destination: item.Destination,
		PartialPath: r.partial,
		Progress:    rec.reportProgress,
	})
	if err != nil {
		return w.fail(ctx, rec, err)
	}

	rec.attach(op)
	written, err := op.Wait(ctx)
	rec.detach()
	r.written = written
	if err != nil {
		return w.fail(ctx, rec, err)
	}

	if err := os.Rename(r.partial, item.Destination); err != nil {
		return w.fail(ctx, rec, apperrors.NewFileSystemError("failed to finalize download", err))
	}
	r.artifacts = append(r.artifacts, item.Destination)
	output := item.Destination

	if w.transcoder != nil {
		if !rec.transition(StateTranscoding) {
			return rec.finish(StateCanceled, nil, ""), nil
		}
		converted, err := w.transcoder.Transcode(ctx, output)
		if err != nil {
			return w.fail(ctx, rec, err)
		}
		if converted != output {
			r.artifacts = append(r.artifacts, converted)
			if err := os.Remove(output); err != nil && !os.IsNotExist(err) {
				w.logger.Warn("Failed to remove transcode input",
					zap.String("path", output),
					zap.Error(err))
			}
			output = converted
		}
	}

	if w.tagger != nil && !item.Tags.IsZero() {
		if !rec.transition(StateWritingTag) {
			return rec.finish(StateCanceled, nil, ""), nil
		}
		if err := w.tagger.Tag(ctx, output, item.Tags); err != nil {
			return w.fail(ctx, rec, err)
		}
	}

	if ctx.Err() != nil {
		return rec.finish(StateCanceled, nil, ""), nil
	}
	return rec.finish(StateDone, nil, output), nil
}

// fail ends the record. A failure observed after cancellation was requested
// is the cancellation unwinding and ends as Canceled.
func (w *Worker) fail(ctx context.Context, rec *Record, err error) (Snapshot, error) {
	if ctx.Err() != nil || IsCanceled(err) {
		return rec.finish(StateCanceled, nil, ""), nil
	}
	typed := TranslateError(err)
	snap := rec.finish(StateError, typed, "")
	if snap.State != StateError {
		return snap, nil
	}
	return snap, typed
}

// cleanup deletes everything the run wrote
func (r *run) cleanup(logger *zap.Logger) {
	paths := append([]string{r.partial}, r.artifacts...)
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			logger.Warn("Failed to remove partial output",
				zap.String("path", p),
				zap.Error(err))
		}
	}
}
