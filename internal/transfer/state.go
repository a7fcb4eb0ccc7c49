package transfer

// State is the lifecycle state of a transfer record
type State string

const (
	StateDownloading State = "downloading"
	StateTranscoding State = "transcoding"
	StateWritingTag  State = "writing_tag"
	StatePaused      State = "paused"
	StateDone        State = "done"
	StateError       State = "error"
	StateCanceled    State = "canceled"
	StateCancelling  State = "cancelling"
	StateSkipped     State = "skipped"
)

// validTransitions lists the states reachable from each non-terminal state.
// A completed download may leave Paused directly when a pause raced the end
// of the stream.
var validTransitions = map[State][]State{
	StateDownloading: {StateTranscoding, StateWritingTag, StateDone, StatePaused, StateError, StateCancelling},
	StatePaused:      {StateDownloading, StateTranscoding, StateWritingTag, StateDone, StateError, StateCancelling, StateCanceled},
	StateTranscoding: {StateWritingTag, StateDone, StateError, StateCancelling},
	StateWritingTag:  {StateDone, StateError, StateCancelling},
	StateCancelling:  {StateCanceled},
}

// IsTerminal reports whether no further transitions are possible
func (s State) IsTerminal() bool {
	switch s {
	case StateDone, StateError, StateCanceled, StateSkipped:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving from s to next is allowed
func (s State) CanTransitionTo(next State) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s State) String() string {
	return string(s)
}
