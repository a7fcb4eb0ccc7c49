// Package transfer tracks background downloads: the records, the queue that
// deduplicates them by source, and the workers that drive them.
package transfer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	apperrors "github.com/deemusic/deemusic-player/internal/errors"
	"github.com/deemusic/deemusic-player/internal/events"
	"github.com/deemusic/deemusic-player/internal/monitoring"
)

// Queue is the ordered, observable set of in-flight records. Its contents are
// owned by the hub loop; every mutation runs there.
type Queue struct {
	hub    *events.Hub
	pool   *Pool
	worker *Worker
	logger *zap.Logger
	ctx    context.Context

	// loop-owned
	records       []*Record
	bySource      map[string]*Record
	byDestination map[string]*Record
}

// NewQueue creates a queue running at most concurrency workers at once
func NewQueue(hub *events.Hub, worker *Worker, concurrency int, logger *zap.Logger) *Queue {
	q := &Queue{
		hub:      hub,
		worker:   worker,
		logger:   monitoring.Component(logger, "transfer_queue"),
		ctx:           context.Background(),
		bySource:      make(map[string]*Record),
		byDestination: make(map[string]*Record),
	}
	q.pool = NewPool(concurrency, q.runRecord, logger)
	return q
}

// Start begins accepting transfers. Cancelling ctx cancels every record.
func (q *Queue) Start(ctx context.Context) error {
	q.ctx = ctx
	return q.pool.Start(ctx)
}

// Stop cancels all transfers and waits for their workers
func (q *Queue) Stop() {
	q.pool.Stop()
}

// Enqueue adds a record for item and starts its worker. When a record with
// the same source URI is already queued it is returned and added is false.
// A destination held by a running record for another source is refused.
func (q *Queue) Enqueue(ctx context.Context, item Item) (rec *Record, added bool, err error) {
	if item.SourceURI == "" {
		return nil, false, apperrors.NewValidationError("source URI cannot be empty")
	}
	if item.Destination == "" {
		return nil, false, apperrors.NewValidationError("destination cannot be empty")
	}

	var submitErr error
	err = q.hub.Invoke(ctx, func() {
		if existing, ok := q.bySource[item.SourceURI]; ok {
			rec = existing
			return
		}
		if holder, ok := q.byDestination[item.Destination]; ok {
			submitErr = &apperrors.AppError{
				Type:    apperrors.ErrTypeValidation,
				Message: fmt.Sprintf("destination %s is already used by %s", item.Destination, holder.SourceURI()),
				Cause:   ErrDestinationInUse,
			}
			return
		}

		rec = newRecord(q.ctx, item, StateDownloading, false, q.hub)
		if submitErr = q.pool.Submit(rec); submitErr != nil {
			return
		}
		q.appendLocked(rec)
		added = true
	})
	if err != nil {
		return nil, false, err
	}
	if submitErr != nil {
		if apperrors.GetErrorType(submitErr) == apperrors.ErrTypeValidation {
			return nil, false, submitErr
		}
		return nil, false, fmt.Errorf("failed to start transfer: %w", submitErr)
	}

	if added {
		q.logger.Debug("Transfer enqueued",
			zap.String("id", rec.ID()),
			zap.String("source", item.SourceURI))
	}
	return rec, added, nil
}

// AddPlaceholder adds a record with no worker in state Skipped or Paused. It
// stays in the queue until Remove is called.
func (q *Queue) AddPlaceholder(ctx context.Context, item Item, state State) (rec *Record, added bool, err error) {
	if item.SourceURI == "" {
		return nil, false, apperrors.NewValidationError("source URI cannot be empty")
	}
	if state != StateSkipped && state != StatePaused {
		return nil, false, apperrors.NewValidationError(fmt.Sprintf("placeholder state must be skipped or paused, got %s", state))
	}

	err = q.hub.Invoke(ctx, func() {
		if existing, ok := q.bySource[item.SourceURI]; ok {
			rec = existing
			return
		}
		rec = NewPlaceholder(item, state, q.hub)
		q.appendLocked(rec)
		added = true
	})
	if err != nil {
		return nil, false, err
	}
	return rec, added, nil
}

// Remove drops a record from the queue, cancelling it first if it is still
// running. Removing an unknown ID is a no-op.
func (q *Queue) Remove(ctx context.Context, id string) error {
	var rec *Record
	if err := q.hub.Invoke(ctx, func() { rec = q.removeLocked(id) }); err != nil {
		return err
	}
	if rec != nil {
		q.cancelRecord(rec)
	}
	return nil
}

// Cancel requests cancellation of the record with the given ID. The record
// stays queued until its worker has unwound.
func (q *Queue) Cancel(ctx context.Context, id string) error {
	rec, ok, err := q.Get(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.NewNotFoundError(fmt.Sprintf("transfer not found: %s", id))
	}
	q.cancelRecord(rec)
	return nil
}

// cancelRecord cancels through the pool when rec holds a worker slot, and
// directly when it is still waiting or has no worker at all.
func (q *Queue) cancelRecord(rec *Record) {
	if q.pool.IsActive(rec.ID()) && q.pool.CancelJob(rec.ID()) == nil {
		q.logger.Debug("Cancelled running transfer", zap.String("id", rec.ID()))
		return
	}
	rec.Cancel()
}

// Get returns the queued record with the given ID
func (q *Queue) Get(ctx context.Context, id string) (*Record, bool, error) {
	var rec *Record
	err := q.hub.Invoke(ctx, func() {
		for _, r := range q.records {
			if r.ID() == id {
				rec = r
				return
			}
		}
	})
	return rec, rec != nil, err
}

// PauseAll pauses every record in the current snapshot
func (q *Queue) PauseAll(ctx context.Context) error {
	return q.each(ctx, (*Record).Pause)
}

// ResumeAll resumes every record in the current snapshot
func (q *Queue) ResumeAll(ctx context.Context) error {
	return q.each(ctx, (*Record).Resume)
}

// CancelAll cancels every record in the current snapshot
func (q *Queue) CancelAll(ctx context.Context) error {
	return q.each(ctx, q.cancelRecord)
}

// each applies fn to a copy of the queue taken on the loop. Records are
// independent; one that ignores the call does not affect the rest.
func (q *Queue) each(ctx context.Context, fn func(*Record)) error {
	recs, err := q.snapshotRecords(ctx)
	if err != nil {
		return err
	}
	for _, r := range recs {
		fn(r)
	}
	return nil
}

// Snapshot returns copies of the queued records in insertion order
func (q *Queue) Snapshot(ctx context.Context) ([]Snapshot, error) {
	recs, err := q.snapshotRecords(ctx)
	if err != nil {
		return nil, err
	}
	snaps := make([]Snapshot, len(recs))
	for i, r := range recs {
		snaps[i] = r.Snapshot()
	}
	return snaps, nil
}

// Len returns the number of queued records
func (q *Queue) Len(ctx context.Context) (int, error) {
	var n int
	err := q.hub.Invoke(ctx, func() { n = len(q.records) })
	return n, err
}

// ActiveCount returns the number of records holding a worker slot
func (q *Queue) ActiveCount() int {
	return q.pool.ActiveCount()
}

// MaxWorkers returns the worker slot count
func (q *Queue) MaxWorkers() int {
	return q.pool.MaxWorkers()
}

func (q *Queue) snapshotRecords(ctx context.Context) ([]*Record, error) {
	var recs []*Record
	err := q.hub.Invoke(ctx, func() {
		recs = make([]*Record, len(q.records))
		copy(recs, q.records)
	})
	return recs, err
}

// runRecord is the pool handler: run the worker, then drop the record
func (q *Queue) runRecord(ctx context.Context, rec *Record) {
	_ = q.worker.Run(ctx, rec)
	q.hub.Post(func() { q.removeLocked(rec.ID()) })
}

func (q *Queue) appendLocked(rec *Record) {
	q.records = append(q.records, rec)
	q.bySource[rec.SourceURI()] = rec
	if !rec.IsPlaceholder() {
		q.byDestination[rec.Item().Destination] = rec
	}
	monitoring.UpdateQueueSize(len(q.records))
	q.hub.Emit(events.TransferAdded, rec.Snapshot())
}

func (q *Queue) removeLocked(id string) *Record {
	for i, r := range q.records {
		if r.ID() != id {
			continue
		}
		q.records = append(q.records[:i], q.records[i+1:]...)
		if q.bySource[r.SourceURI()] == r {
			delete(q.bySource, r.SourceURI())
		}
		if dest := r.Item().Destination; q.byDestination[dest] == r {
			delete(q.byDestination, dest)
		}
		monitoring.UpdateQueueSize(len(q.records))
		q.hub.Emit(events.TransferRemoved, r.Snapshot())
		return r
	}
	return nil
}
