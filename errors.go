package gobayeux

import (
	"fmt"
	"time"
)

const (
	// ErrConnectionClosed is returned when a request is made on, or was
	// pending on, a Connection that has been closed
	ErrConnectionClosed = sentinel("connection closed")

	// ErrUnexpectedResponse is returned when the server sends a response
	// for which no request is outstanding
	ErrUnexpectedResponse = sentinel("response received with no request outstanding")

	// ErrTooManyMessages is returned when there is more than one handshake message
	ErrTooManyMessages = sentinel("more messages than expected in handshake response")

	// ErrNoMessages is returned when a response that must carry exactly one
	// message is empty
	ErrNoMessages = sentinel("no messages in response")

	// ErrMissingAcknowledgement is returned when a response lacks the
	// acknowledgement for the request that produced it
	ErrMissingAcknowledgement = sentinel("no acknowledgement in response")

	// ErrMultipleAcknowledgements is returned when more than one
	// acknowledgement arrives for a single request
	ErrMultipleAcknowledgements = sentinel("multiple acknowledgements in response")

	// ErrBadChannel is returned when the handshake response is on the wrong channel
	ErrBadChannel = sentinel("handshake responses must come back via the /meta/handshake channel")

	// ErrNoSupportedConnectionTypes is returned when the client and server
	// aren't able to agree on a connection type
	ErrNoSupportedConnectionTypes = sentinel("no supported connection types provided")

	// ErrNoVersion is returned when a version is not provided
	ErrNoVersion = sentinel("no version specified")

	// ErrMissingConnectionType is returned when the connection type is unset
	ErrMissingConnectionType = sentinel("missing connectionType value")

	// ErrNoAddress is returned when a Session must dial its own Connection
	// but no address was configured
	ErrNoAddress = sentinel("no server address configured")
)

type sentinel string

func (s sentinel) Error() string {
	return string(s)
}

// TransportError is returned when the underlying connection fails. It is
// fatal to the Connection: every pending and future request on it fails.
type TransportError struct {
	Err error
}

func (e TransportError) Error() string {
	return fmt.Sprintf("transport failed (%s)", e.Err)
}

func (e TransportError) Unwrap() error {
	return e.Err
}

// ProtocolError is returned when a well-formed response violates the Bayeux
// protocol. The Connection remains usable.
type ProtocolError struct {
	Channel  Channel
	Response []Message
	Err      error
}

func (e ProtocolError) Error() string {
	if e.Channel == emptyChannel {
		return fmt.Sprintf("protocol error (%s)", e.Err)
	}
	return fmt.Sprintf("protocol error on %s (%s)", e.Channel, e.Err)
}

func (e ProtocolError) Unwrap() error {
	return e.Err
}

// ProtocolStateError is returned when an operation is invoked before its
// prerequisite state, e.g. a subscribe before a successful handshake
type ProtocolStateError struct {
	Operation string
	State     StateRepresentation
}

func (e ProtocolStateError) Error() string {
	return fmt.Sprintf("cannot %s while session is %s", e.Operation, e.State)
}

// TimeoutError is returned when a bounded wait passes its deadline without
// the expected acknowledgement
type TimeoutError struct {
	Channel Channel
	Timeout time.Duration
}

func (e TimeoutError) Error() string {
	return fmt.Sprintf("timeout after %s while waiting for subscription response %s", e.Timeout, e.Channel)
}

// ActionFailedError describes an unsuccessful acknowledgement from the
// server
type ActionFailedError struct {
	Action       string
	ErrorMessage string
}

func (e ActionFailedError) Error() string {
	if e.ErrorMessage == "" {
		return fmt.Sprintf("unable to %s", e.Action)
	}
	return fmt.Sprintf("unable to %s: %s", e.Action, e.ErrorMessage)
}

// AlreadyRegisteredError signifies that the given MessageExtender is already
// registered with the session
type AlreadyRegisteredError struct {
	MessageExtender
}

func (e AlreadyRegisteredError) Error() string {
	return fmt.Sprintf("extension already registered: %T", e.MessageExtender)
}

// BadResponseError is returned when we get an unexpected HTTP response from the server
type BadResponseError struct {
	StatusCode int
	Status     string
	Body       []byte
}

func (e BadResponseError) Error() string {
	return fmt.Sprintf(
		"expected 200 response from bayeux server, got %d with status '%s' and body '%s'",
		e.StatusCode,
		e.Status,
		e.Body,
	)
}

// BadConnectionTypeError is returned when we don't know how to handle the
// requested connection type
type BadConnectionTypeError struct {
	ConnectionType string
}

func (e BadConnectionTypeError) Error() string {
	return fmt.Sprintf("%q is not a valid connection type", e.ConnectionType)
}

// BadConnectionVersionError is returned when we can't support the requested
// version number
type BadConnectionVersionError struct {
	Version string
}

func (e BadConnectionVersionError) Error() string {
	return fmt.Sprintf("version %q is invalid for Bayeux protocol", e.Version)
}

// InvalidChannelError is the result of a failure to validate a channel name
type InvalidChannelError struct {
	Channel
}

func (e InvalidChannelError) Error() string {
	return fmt.Sprintf("channel %q appears to not be a valid channel", e.Channel)
}

// EmptySliceError is returned when an empty slice is unexpected
type EmptySliceError string

func (e EmptySliceError) Error() string {
	return fmt.Sprintf("no %s provided", string(e))
}

// ErrMessageUnparsable is returned when we fail to parse a message
type ErrMessageUnparsable string

func (e ErrMessageUnparsable) Error() string {
	return fmt.Sprintf("error message not parseable: %s", string(e))
}

// BadStateError is returned when the state machine transition is not valid
type BadStateError struct {
	CurrentState int32
	FromState    int32
	ToState      int32
	Message      string
}

func (e BadStateError) Error() string {
	return fmt.Sprintf("%s, (current: %s, from: %s, to: %s)", e.Message, stateName(e.CurrentState), stateName(e.FromState), stateName(e.ToState))
}

// UnknownEventTypeError is returned when the next state is unknown
type UnknownEventTypeError struct {
	Event
}

func (e UnknownEventTypeError) Error() string {
	return fmt.Sprintf("unknown event type (%q)", e.Event)
}
