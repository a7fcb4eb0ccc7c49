package playback

import "time"

// EngineState is the transport state reported by the media engine
type EngineState int

const (
	EngineStopped EngineState = iota
	EngineOpening
	EnginePlaying
	EnginePaused
)

// String returns the state name used in events and logs
func (s EngineState) String() string {
	switch s {
	case EngineOpening:
		return "opening"
	case EnginePlaying:
		return "playing"
	case EnginePaused:
		return "paused"
	default:
		return "stopped"
	}
}

// EngineEventType identifies an engine notification
type EngineEventType int

const (
	// EngineStateChanged carries the new State
	EngineStateChanged EngineEventType = iota
	// EngineCurrentItemChanged is sent once the engine has opened Item at
	// Index
	EngineCurrentItemChanged
	// EngineItemEnded is sent when the item at Index played to its end
	EngineItemEnded
	// EngineFailed carries an Err for the item at Index
	EngineFailed
)

// EngineEvent is a notification from the media engine. Events arrive on an
// engine goroutine.
type EngineEvent struct {
	Type  EngineEventType
	State EngineState
	Index int
	Item  Item
	Err   error
}

// Engine is the media engine the controller drives. It is the authority for
// what is audible. Its item list mirrors the controller's list: Insert and
// RemoveAt keep the current pointer on the same item, SetCurrent opens the
// item at index at position zero and reports EngineCurrentItemChanged when it
// is ready.
type Engine interface {
	Insert(index int, item Item) error
	RemoveAt(index int) error
	Clear() error
	SetCurrent(index int) error

	Play() error
	Pause() error
	Stop() error
	Seek(position time.Duration) error

	State() EngineState
	Position() time.Duration
	Duration() time.Duration

	SetVolume(volume float64)
	SetMuted(muted bool)

	// Events is closed when the engine shuts down
	Events() <-chan EngineEvent
}
