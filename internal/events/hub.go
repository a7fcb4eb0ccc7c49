// Package events runs the coordination loop: one goroutine on which every
// UI-visible mutation is executed and from which every notification is
// delivered, in order, to subscribers.
package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/deemusic/deemusic-player/internal/monitoring"
)

// Type names a notification
type Type string

const (
	TransferAdded    Type = "transfer.added"
	TransferProgress Type = "transfer.progress"
	TransferState    Type = "transfer.state"
	TransferRemoved  Type = "transfer.removed"

	MediaReplacing     Type = "media.replacing"
	MediaReplaceFailed Type = "media.replace_failed"

	PlaybackStopped        Type = "playback.stopped"
	PlaybackCurrentChanged Type = "playback.current_changed"
	PlaybackListChanged    Type = "playback.list_changed"
	PlaybackState          Type = "playback.state"
	PlaybackFailed         Type = "playback.failed"

	BatchCompleted Type = "batch.completed"
)

// ErrClosed is returned when work is handed to a hub that has stopped
var ErrClosed = errors.New("event hub closed")

// Event is a notification delivered to subscribers
type Event struct {
	Type    Type      `json:"type"`
	Payload any       `json:"payload"`
	Time    time.Time `json:"timestamp"`
}

// Subscriber receives events on its channel until it is unsubscribed or the
// hub stops, at which point the channel is closed.
type Subscriber struct {
	ID       string
	SendChan chan Event
}

func (s *Subscriber) send(ev Event) bool {
	select {
	case s.SendChan <- ev:
		return true
	default:
		// Subscriber is not keeping up, drop the event
		return false
	}
}

// Hub owns the coordination loop
type Hub struct {
	tasks       chan func()
	done        chan struct{}
	stopped     chan struct{}
	subscribers map[string]*Subscriber // owned by the loop
	logger      *zap.Logger

	mu      sync.Mutex
	started bool
	closed  bool
}

// NewHub creates a hub. Call Start before posting work.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		tasks:       make(chan func(), 1024),
		done:        make(chan struct{}),
		stopped:     make(chan struct{}),
		subscribers: make(map[string]*Subscriber),
		logger:      monitoring.Component(logger, "events"),
	}
}

// Start launches the loop goroutine
func (h *Hub) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started {
		return
	}
	h.started = true
	go h.run()
}

// Stop finishes queued work, closes every subscriber channel and ends the loop
func (h *Hub) Stop() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		<-h.stopped
		return
	}
	h.closed = true
	started := h.started
	close(h.done)
	h.mu.Unlock()

	if !started {
		close(h.stopped)
		return
	}
	<-h.stopped
}

func (h *Hub) run() {
	defer close(h.stopped)

	for {
		select {
		case fn := <-h.tasks:
			h.execute(fn)

		case <-h.done:
			// Drain whatever was queued before the stop
			for {
				select {
				case fn := <-h.tasks:
					h.execute(fn)
				default:
					for id, sub := range h.subscribers {
						delete(h.subscribers, id)
						close(sub.SendChan)
					}
					return
				}
			}
		}
	}
}

func (h *Hub) execute(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("Coordination task panicked", zap.Any("panic", r))
		}
	}()
	fn()
}

// Post queues fn to run on the loop. It returns false if the hub is closed.
func (h *Hub) Post(fn func()) bool {
	select {
	case <-h.done:
		return false
	default:
	}

	select {
	case h.tasks <- fn:
		return true
	case <-h.done:
		return false
	}
}

// Invoke runs fn on the loop and waits for it to return. It must not be
// called from a task already running on the loop. Either fn runs and Invoke
// returns nil, or fn never runs and Invoke returns the reason.
func (h *Hub) Invoke(ctx context.Context, fn func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var claimed atomic.Bool
	finished := make(chan struct{})
	if !h.Post(func() {
		if ctx.Err() != nil || !claimed.CompareAndSwap(false, true) {
			return
		}
		defer close(finished)
		fn()
	}) {
		return ErrClosed
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		if claimed.CompareAndSwap(false, true) {
			return ctx.Err()
		}
	case <-h.stopped:
		if claimed.CompareAndSwap(false, true) {
			return ErrClosed
		}
	}
	// fn already started; its effects are visible to the caller
	<-finished
	return nil
}

// Emit delivers an event to every subscriber. It must be called on the loop.
func (h *Hub) Emit(eventType Type, payload any) {
	ev := Event{Type: eventType, Payload: payload, Time: time.Now()}
	for _, sub := range h.subscribers {
		if !sub.send(ev) {
			monitoring.RecordEventDropped()
			h.logger.Debug("Dropped event for slow subscriber",
				zap.String("subscriber", sub.ID),
				zap.String("type", string(eventType)))
		}
	}
}

// Publish emits an event from any goroutine by posting it to the loop
func (h *Hub) Publish(eventType Type, payload any) {
	h.Post(func() { h.Emit(eventType, payload) })
}

// Subscribe registers a subscriber with the given channel buffer. Events
// published after Subscribe returns are delivered to it.
func (h *Hub) Subscribe(buffer int) *Subscriber {
	if buffer <= 0 {
		buffer = 256
	}
	sub := &Subscriber{
		ID:       uuid.NewString(),
		SendChan: make(chan Event, buffer),
	}
	if !h.Post(func() { h.subscribers[sub.ID] = sub }) {
		close(sub.SendChan)
	}
	return sub
}

// Unsubscribe removes the subscriber and closes its channel
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.Post(func() {
		if _, ok := h.subscribers[sub.ID]; ok {
			delete(h.subscribers, sub.ID)
			close(sub.SendChan)
		}
	})
}

// SubscriberCount returns the number of registered subscribers
func (h *Hub) SubscriberCount(ctx context.Context) (int, error) {
	var n int
	err := h.Invoke(ctx, func() { n = len(h.subscribers) })
	return n, err
}
