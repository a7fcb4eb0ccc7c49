package transfer

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/deemusic/deemusic-player/internal/events"
)

// progressStep is the smallest progress change that is published
const progressStep = 0.01

// Item describes what to download
type Item struct {
	SourceURI   string `json:"source_uri"`
	DisplayName string `json:"display_name"`
	Destination string `json:"destination"`
	Tags        Tags   `json:"tags,omitempty"`
}

// Snapshot is a point-in-time copy of a record
type Snapshot struct {
	ID          string    `json:"id"`
	SourceURI   string    `json:"source_uri"`
	DisplayName string    `json:"display_name"`
	Destination string    `json:"destination"`
	OutputPath  string    `json:"output_path,omitempty"`
	State       State     `json:"state"`
	Progress    float64   `json:"progress"`
	BytesDone   int64     `json:"bytes_done"`
	BytesTotal  int64     `json:"bytes_total"`
	Error       string    `json:"error,omitempty"`
	Placeholder bool      `json:"placeholder"`
	CreatedAt   time.Time `json:"created_at"`
}

// Record is one tracked transfer. A record owns its cancellation handle; the
// worker bound to it is the only writer of progress and pipeline states.
type Record struct {
	id          string
	item        Item
	placeholder bool
	createdAt   time.Time
	hub         *events.Hub

	mu         sync.Mutex
	state      State
	progress   float64
	published  float64
	bytesDone  int64
	bytesTotal int64
	err        error
	outputPath string
	ctx        context.Context
	cancel     context.CancelFunc
	op         Operation
}

// NewRecord creates a record for a real transfer, in state Downloading
func NewRecord(item Item, hub *events.Hub) *Record {
	return newRecord(context.Background(), item, StateDownloading, false, hub)
}

// NewPlaceholder creates a record with no transfer behind it, standing for a
// request that is already satisfied (Skipped) or parked (Paused).
func NewPlaceholder(item Item, state State, hub *events.Hub) *Record {
	if state != StateSkipped {
		state = StatePaused
	}
	return newRecord(context.Background(), item, state, true, hub)
}

func newRecord(parent context.Context, item Item, state State, placeholder bool, hub *events.Hub) *Record {
	ctx, cancel := context.WithCancel(parent)
	return &Record{
		id:          uuid.NewString(),
		item:        item,
		placeholder: placeholder,
		createdAt:   time.Now(),
		hub:         hub,
		state:       state,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// ID returns the record identifier
func (r *Record) ID() string { return r.id }

// SourceURI returns the source the record downloads
func (r *Record) SourceURI() string { return r.item.SourceURI }

// DisplayName returns the name shown for the record
func (r *Record) DisplayName() string { return r.item.DisplayName }

// Item returns the download request the record was created from
func (r *Record) Item() Item { return r.item }

// IsPlaceholder reports whether no worker drives the record
func (r *Record) IsPlaceholder() bool { return r.placeholder }

// Context is cancelled when Cancel is called
func (r *Record) Context() context.Context { return r.ctx }

// State returns the current state
func (r *Record) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Err returns the failure detail of a record in state Error
func (r *Record) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Snapshot returns a copy of the record
func (r *Record) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Record) snapshotLocked() Snapshot {
	s := Snapshot{
		ID:          r.id,
		SourceURI:   r.item.SourceURI,
		DisplayName: r.item.DisplayName,
		Destination: r.item.Destination,
		OutputPath:  r.outputPath,
		State:       r.state,
		Progress:    r.progress,
		BytesDone:   r.bytesDone,
		BytesTotal:  r.bytesTotal,
		Placeholder: r.placeholder,
		CreatedAt:   r.createdAt,
	}
	if r.err != nil {
		s.Error = r.err.Error()
	}
	return s
}

// Pause pauses a downloading record. Any other state is left alone.
func (r *Record) Pause() {
	r.mu.Lock()
	if r.state != StateDownloading {
		r.mu.Unlock()
		return
	}
	r.state = StatePaused
	op := r.op
	snap := r.snapshotLocked()
	r.mu.Unlock()

	if op != nil {
		op.Pause()
	}
	r.publish(events.TransferState, snap)
}

// Resume resumes a paused record. Placeholders have no transport to resume
// and stay as they are.
func (r *Record) Resume() {
	r.mu.Lock()
	if r.state != StatePaused || r.placeholder {
		r.mu.Unlock()
		return
	}
	r.state = StateDownloading
	op := r.op
	snap := r.snapshotLocked()
	r.mu.Unlock()

	if op != nil {
		op.Resume()
	}
	r.publish(events.TransferState, snap)
}

// Cancel requests cooperative cancellation and moves the record to
// Cancelling. The worker sets Canceled once it has cleaned up. A placeholder
// has no worker and is canceled at once. Repeated calls have no effect.
func (r *Record) Cancel() {
	r.mu.Lock()
	if r.state.IsTerminal() || r.state == StateCancelling {
		r.mu.Unlock()
		return
	}
	cancel := r.cancel
	if r.placeholder {
		r.state = StateCanceled
		r.cancel = nil
	} else {
		r.state = StateCancelling
	}
	snap := r.snapshotLocked()
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.publish(events.TransferState, snap)
}

// reportProgress records transport progress. The fraction never decreases
// while the record is downloading.
func (r *Record) reportProgress(done, total int64) {
	r.mu.Lock()
	if r.state != StateDownloading && r.state != StatePaused {
		r.mu.Unlock()
		return
	}

	r.bytesDone = done
	r.bytesTotal = total

	fraction := r.progress
	if total > 0 {
		fraction = float64(done) / float64(total)
		if fraction > 1 {
			fraction = 1
		}
	}
	if fraction < r.progress {
		fraction = r.progress
	}
	r.progress = fraction

	if fraction-r.published < progressStep && !(fraction == 1 && r.published < 1) {
		r.mu.Unlock()
		return
	}
	r.published = fraction
	snap := r.snapshotLocked()
	r.mu.Unlock()

	r.publish(events.TransferProgress, snap)
}

// transition moves the record to next if the state machine allows it
func (r *Record) transition(next State) bool {
	r.mu.Lock()
	if !r.state.CanTransitionTo(next) {
		r.mu.Unlock()
		return false
	}
	r.state = next
	snap := r.snapshotLocked()
	r.mu.Unlock()

	r.publish(events.TransferState, snap)
	return true
}

// finish puts the record in a terminal state and disposes its cancellation
// handle. Canceled is reachable from every non-terminal state so that a
// shutdown can end records nobody asked to cancel.
func (r *Record) finish(state State, err error, outputPath string) Snapshot {
	r.mu.Lock()
	if r.state.IsTerminal() {
		snap := r.snapshotLocked()
		r.mu.Unlock()
		return snap
	}
	if state != StateCanceled && !r.state.CanTransitionTo(state) {
		// A cancel request raced the end of the pipeline
		state = StateCanceled
		err = nil
	}
	r.state = state
	r.err = err
	if state == StateDone {
		r.outputPath = outputPath
		r.progress = 1
	}
	r.op = nil
	cancel := r.cancel
	r.cancel = nil
	snap := r.snapshotLocked()
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.publish(events.TransferState, snap)
	return snap
}

// attach binds the running transport operation. A pause requested while
// waiting for the transport is applied immediately.
func (r *Record) attach(op Operation) {
	r.mu.Lock()
	r.op = op
	paused := r.state == StatePaused
	r.mu.Unlock()

	if paused {
		op.Pause()
	}
}

func (r *Record) detach() {
	r.mu.Lock()
	r.op = nil
	r.mu.Unlock()
}

func (r *Record) publish(eventType events.Type, snap Snapshot) {
	if r.hub != nil {
		r.hub.Publish(eventType, snap)
	}
}
