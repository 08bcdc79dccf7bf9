package stream

import "fmt"

// State is the Channel lifecycle state.
type State int

const (
	StateCreated State = iota + 1
	StateConnecting
	StateEmpty
	StateNewFrameAvailable
	StateOldFrameAvailable
	StateDisconnected
	StateBadStream
	StateBadState
)

// String maps every state to its display name.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateConnecting:
		return "CONNECTING"
	case StateEmpty:
		return "EMPTY"
	case StateNewFrameAvailable:
		return "NEW_FRAME_AVAILABLE"
	case StateOldFrameAvailable:
		return "OLD_FRAME_AVAILABLE"
	case StateDisconnected:
		return "DISCONNECTED"
	case StateBadStream:
		return "BAD_STREAM"
	case StateBadState:
		return "BAD_STATE"
	default:
		return fmt.Sprintf("INVALID(%d)", int(s))
	}
}

// IsError reports the two error states.
func (s State) IsError() bool {
	return s == StateBadStream || s == StateBadState
}

// Streaming reports whether both roles are attached and frames may flow.
func (s State) Streaming() bool {
	switch s {
	case StateEmpty, StateNewFrameAvailable, StateOldFrameAvailable:
		return true
	default:
		return false
	}
}

// AllStates lists the states in lifecycle order.
func AllStates() []State {
	return []State{
		StateCreated,
		StateConnecting,
		StateEmpty,
		StateNewFrameAvailable,
		StateOldFrameAvailable,
		StateDisconnected,
		StateBadStream,
		StateBadState,
	}
}
