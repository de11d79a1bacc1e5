package gobayeux

import (
	"sync/atomic"
)

// StateRepresentation represents the current state of a session as a
// string
type StateRepresentation string

const (
	unconnected int32 = iota
	handshaking
	active
	closed
)

var stateNames = []string{"unconnected", "handshaking", "active", "closed"}

func stateName(state int32) string {
	s := int(state)
	if s < 0 || s >= len(stateNames) {
		return "unknown"
	}

	return stateNames[s]
}

const (
	// StateUnconnected is the state of a session before a successful
	// handshake
	StateUnconnected StateRepresentation = "UNCONNECTED"
	// StateHandshaking is the state while a handshake is in flight
	StateHandshaking StateRepresentation = "HANDSHAKING"
	// StateActive is the state of a session holding a client id
	StateActive StateRepresentation = "ACTIVE"
	// StateClosed is the terminal state
	StateClosed StateRepresentation = "CLOSED"
)

// Event represents and event that can change the state of a state machine
type Event string

const (
	handshakeSent      Event = "handshake request sent"
	handshakeFailed    Event = "unsuccessful handshake response"
	handshakeSucceeded Event = "successful handshake response"
	disconnectSent     Event = "disconnect request sent"
	sessionClosed      Event = "session closed"
)

// SessionStateMachine tracks a Session's progress through
// unconnected -> handshaking -> active -> closed.
//
// See also: https://docs.cometd.org/current/reference/#_client_state_table
type SessionStateMachine struct {
	currentState int32
}

// NewSessionStateMachine creates a state machine in the unconnected state
func NewSessionStateMachine() *SessionStateMachine {
	return &SessionStateMachine{currentState: unconnected}
}

// IsActive reflects whether the session holds a client id
func (sm *SessionStateMachine) IsActive() bool {
	return atomic.LoadInt32(&sm.currentState) == active
}

// CurrentState provides a string representation of the current state of the
// state machine
func (sm *SessionStateMachine) CurrentState() StateRepresentation {
	switch atomic.LoadInt32(&sm.currentState) {
	case handshaking:
		return StateHandshaking
	case active:
		return StateActive
	case closed:
		return StateClosed
	default:
		return StateUnconnected
	}
}

// ProcessEvent handles an event
func (sm *SessionStateMachine) ProcessEvent(e Event) error {
	switch e {
	case handshakeSent:
		return sm.transition(unconnected, handshaking, "attempting to handshake but not in unconnected state")
	case handshakeFailed:
		return sm.transition(handshaking, unconnected, "handshake failure outside of handshake")
	case handshakeSucceeded:
		return sm.transition(handshaking, active, "invalid state for successful handshake response event")
	case disconnectSent:
		return sm.transition(active, unconnected, "attempting to disconnect but not active")
	case sessionClosed:
		atomic.StoreInt32(&sm.currentState, closed)
	default:
		return UnknownEventTypeError{e}
	}
	return nil
}

func (sm *SessionStateMachine) transition(from, to int32, msg string) error {
	if !atomic.CompareAndSwapInt32(&sm.currentState, from, to) {
		return &BadStateError{
			Message:      msg,
			CurrentState: atomic.LoadInt32(&sm.currentState),
			FromState:    from,
			ToState:      to,
		}
	}
	return nil
}
