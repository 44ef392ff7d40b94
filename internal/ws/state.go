package ws

import "sync/atomic"

// State is the lifecycle stage of a session.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticating
	StateJoined
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateJoined:
		return "joined"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type atomicState struct {
	v atomic.Int32
}

func (s *atomicState) Load() State {
	return State(s.v.Load())
}

func (s *atomicState) Store(state State) {
	s.v.Store(int32(state))
}

func (s *atomicState) CompareAndSwap(from, to State) bool {
	return s.v.CompareAndSwap(int32(from), int32(to))
}
