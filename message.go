package gobayeux

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	timestampFmt = "2006-01-02T15:04:05.00"
)

// Message represents a single Bayeux message, either sent to or received
// from the server.
//
// See also: https://docs.cometd.org/current/reference/#_bayeux_message_fields
type Message struct {
	// Advice provides a way for servers to inform clients of their preferred
	// mode of client operation.
	Advice *Advice `json:"advice,omitempty"`
	// ID represents the identifier of the specific message
	ID string `json:"id,omitempty"`
	// Channel is the Channel on which the message was sent
	Channel Channel `json:"channel"`
	// ClientID is the session token issued by the server on handshake
	ClientID string `json:"clientId,omitempty"`
	// Data is the application payload of a published or delivered event
	Data json.RawMessage `json:"data,omitempty"`
	// Version MUST be included in messages to/from `/meta/handshake`.
	Version string `json:"version,omitempty"`
	// MinimumVersion indicates the oldest protocol version that can be handled
	// by the client/server.
	MinimumVersion string `json:"minimumVersion,omitempty"`
	// SupportedConnectionTypes is included in messages to/from the
	// `/meta/handshake` channel.
	SupportedConnectionTypes []string `json:"supportedConnectionTypes,omitempty"`
	// ConnectionType MUST be included in `/meta/connect` requests.
	ConnectionType string `json:"connectionType,omitempty"`
	// Timestamp, if present, uses the `YYYY-MM-DDThh:mm:ss.ss` profile of
	// ISO 8601.
	Timestamp string `json:"timestamp,omitempty"`
	// Successful indicates success or failure of a request and is included
	// in every response to a meta channel or publish.
	Successful bool `json:"successful,omitempty"`
	// AuthSuccessful MAY be included on a handshake response.
	AuthSuccessful bool `json:"authSuccessful,omitempty"`
	// Subscription names the channel being subscribed to or unsubscribed
	// from.
	Subscription Channel `json:"subscription,omitempty"`
	// Error MAY describe why a request was not successful.
	//
	// See also: https://docs.cometd.org/current/reference/#_error
	Error string `json:"error,omitempty"`
	// Ext carries extension data negotiated between client and server.
	Ext map[string]interface{} `json:"ext,omitempty"`
}

// TimestampAsTime returns the Timestamp in a message as a time.Time struct
func (m *Message) TimestampAsTime() (time.Time, error) {
	return time.Parse(timestampFmt, m.Timestamp)
}

// ParseError splits the Error field into its code, arguments and message.
//
// See also: https://docs.cometd.org/current/reference/#_error
func (m *Message) ParseError() (MessageError, error) {
	pieces := strings.SplitN(m.Error, ":", 3)
	if len(pieces) != 3 {
		return MessageError{}, ErrMessageUnparsable(m.Error)
	}
	errorCode, err := strconv.Atoi(pieces[0])
	if err != nil {
		return MessageError{}, err
	}
	return MessageError{
		ErrorCode:    errorCode,
		ErrorArgs:    strings.Split(pieces[1], ","),
		ErrorMessage: pieces[2],
	}, nil
}

// GetExt retrieves the Ext field map. If passed `true` it will instantiate it
// if the map is not instantiated, otherwise it will just return the value of
// Ext.
func (m *Message) GetExt(create bool) map[string]interface{} {
	if m.Ext == nil && create {
		m.Ext = make(map[string]interface{})
	}
	return m.Ext
}

// String renders the message for log output.
func (m Message) String() string {
	if len(m.Data) > 0 {
		return fmt.Sprintf("%s %s", m.Channel, m.Data)
	}
	return fmt.Sprintf("%s successful=%t", m.Channel, m.Successful)
}

// decodeMessages normalizes a response body into an ordered slice of
// messages. Servers answer with an array, but a bare object or null is
// accepted as well.
func decodeMessages(body json.RawMessage) ([]Message, error) {
	trimmed := bytes.TrimSpace(body)
	switch {
	case len(trimmed) == 0, bytes.Equal(trimmed, []byte("null")):
		return []Message{}, nil
	case trimmed[0] == '[':
		var raw []json.RawMessage
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return nil, err
		}
		ms := make([]Message, 0, len(raw))
		for _, r := range raw {
			nested, err := decodeMessages(r)
			if err != nil {
				return nil, err
			}
			ms = append(ms, nested...)
		}
		return ms, nil
	default:
		var m Message
		if err := json.Unmarshal(trimmed, &m); err != nil {
			return nil, err
		}
		return []Message{m}, nil
	}
}

// Advice represents the field from the server which is used to inform clients
// of their preferred mode of client operation.
//
// See also: https://docs.cometd.org/current/reference/#_bayeux_advice
type Advice struct {
	// Reconnect indicates how the client should act in the case of a failure
	// to connect.
	Reconnect string `json:"reconnect,omitempty"`
	// Timeout is how long, in milliseconds, the server may hold a
	// `/meta/connect` request.
	Timeout int `json:"timeout,omitempty"`
	// Interval is the minimum delay, in milliseconds, before the next
	// `/meta/connect` request.
	Interval int `json:"interval,omitempty"`
	// MultipleClients indicates that the server has detected multiple Bayeux
	// client instances running within the same web client
	MultipleClients bool `json:"multiple-clients,omitempty"`
	// Hosts lists alternate servers.
	Hosts []string `json:"hosts,omitempty"`
}

// MustNotRetryOrHandshake indicates whether neither a handshake or retry is
// allowed
func (a Advice) MustNotRetryOrHandshake() bool {
	return a.Reconnect == "none"
}

// ShouldRetry indicates whether a retry should occur
func (a Advice) ShouldRetry() bool {
	return a.Reconnect == "retry"
}

// ShouldHandshake indicates whether the advice is that a handshake should
// occur
func (a Advice) ShouldHandshake() bool {
	return a.Reconnect == "handshake"
}

// TimeoutAsDuration returns the Timeout field as a time.Duration
func (a Advice) TimeoutAsDuration() time.Duration {
	return time.Duration(a.Timeout) * time.Millisecond
}

// IntervalAsDuration returns the Interval field as a time.Duration for
// scheduling
func (a Advice) IntervalAsDuration() time.Duration {
	return time.Duration(a.Interval) * time.Millisecond
}

// MessageError represents a parsed Error field of a Message
type MessageError struct {
	ErrorCode    int
	ErrorArgs    []string
	ErrorMessage string
}

const (
	// ConnectionTypeLongPolling is a constant for the long-polling string
	ConnectionTypeLongPolling string = "long-polling"
	// ConnectionTypeCallbackPolling is a constant for the callback-polling string
	ConnectionTypeCallbackPolling = "callback-polling"
)
