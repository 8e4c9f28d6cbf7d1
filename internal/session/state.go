package session

import "sync/atomic"

// State represents the session connection state.
type State uint32

// Session states.
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// stateManager handles atomic state transitions.
type stateManager struct {
	state uint32
}

func newStateManager() *stateManager {
	return &stateManager{state: uint32(StateDisconnected)}
}

func (sm *stateManager) get() State {
	return State(atomic.LoadUint32(&sm.state))
}

func (sm *stateManager) set(s State) {
	atomic.StoreUint32(&sm.state, uint32(s))
}

// swap sets the state and returns the previous one.
func (sm *stateManager) swap(s State) State {
	return State(atomic.SwapUint32(&sm.state, uint32(s)))
}

// transition moves from one state to another. Returns true if successful.
func (sm *stateManager) transition(from, to State) bool {
	return atomic.CompareAndSwapUint32(&sm.state, uint32(from), uint32(to))
}

// transitionFrom attempts to transition from any of the expected states.
// Returns the state it moved from and true on success.
func (sm *stateManager) transitionFrom(to State, from ...State) (State, bool) {
	for _, f := range from {
		if sm.transition(f, to) {
			return f, true
		}
	}
	return sm.get(), false
}
