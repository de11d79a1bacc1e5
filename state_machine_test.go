package gobayeux

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSessionStateMachineDefaults(t *testing.T) {
	sm := NewSessionStateMachine()
	assert.False(t, sm.IsActive())
	assert.Equal(t, StateUnconnected, sm.CurrentState())
	sm.currentState = active
	assert.True(t, sm.IsActive())
}

func TestProcessEvent(t *testing.T) {
	testCases := []struct {
		name          string
		startingState int32
		event         Event
		shouldErr     bool
		endingState   int32
	}{
		{"unconnected state machine gets handshake request sent event", unconnected, handshakeSent, false, handshaking},
		{"unconnected state machine gets successful handshake response", unconnected, handshakeSucceeded, true, unconnected},
		{"unconnected state machine gets disconnect request sent", unconnected, disconnectSent, true, unconnected},
		{"unconnected state machine gets unknown event", unconnected, "random", true, unconnected},
		{"handshaking state machine gets successful handshake response", handshaking, handshakeSucceeded, false, active},
		{"handshaking state machine gets unsuccessful handshake response", handshaking, handshakeFailed, false, unconnected},
		{"handshaking state machine gets handshake request sent", handshaking, handshakeSent, true, handshaking},
		{"active state machine gets handshake request sent", active, handshakeSent, true, active},
		{"active state machine gets disconnect request sent", active, disconnectSent, false, unconnected},
		{"active state machine gets unsuccessful handshake response", active, handshakeFailed, true, active},
		{"active state machine gets session closed", active, sessionClosed, false, closed},
		{"unconnected state machine gets session closed", unconnected, sessionClosed, false, closed},
		{"closed state machine gets handshake request sent", closed, handshakeSent, true, closed},
		{"closed state machine gets session closed", closed, sessionClosed, false, closed},
	}

	for _, testCase := range testCases {
		tc := testCase
		t.Run(tc.name, func(t *testing.T) {
			sm := &SessionStateMachine{currentState: tc.startingState}
			err := sm.ProcessEvent(tc.event)
			if tc.shouldErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, stateName(tc.endingState), stateName(sm.currentState))
		})
	}
}

func TestBadStateErrorNamesStates(t *testing.T) {
	sm := &SessionStateMachine{currentState: active}
	err := sm.ProcessEvent(handshakeSent)
	var stateErr *BadStateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, "attempting to handshake but not in unconnected state, (current: active, from: unconnected, to: handshaking)", err.Error())
}

func TestUnknownEvent(t *testing.T) {
	err := NewSessionStateMachine().ProcessEvent("random")
	assert.Equal(t, UnknownEventTypeError{"random"}, err)
}

func TestCurrentStateRepresentations(t *testing.T) {
	for state, want := range map[int32]StateRepresentation{
		unconnected: StateUnconnected,
		handshaking: StateHandshaking,
		active:      StateActive,
		closed:      StateClosed,
	} {
		sm := &SessionStateMachine{currentState: state}
		assert.Equal(t, want, sm.CurrentState())
	}
	assert.Equal(t, "unknown", stateName(42))
}
