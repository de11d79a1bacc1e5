package gobayeux

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Session speaks the Bayeux protocol over a Connection. Several Sessions
// may share one Connection.
type Session struct {
	conn         *Connection
	ownsConn     bool
	stateMachine *SessionStateMachine
	state        *clientState
	logger       Logger

	extsLock sync.RWMutex
	exts     []MessageExtender
}

// NewSession creates a Session on conn. When conn is nil the Session dials
// its own Connection to the configured address and closes it on Close;
// a Connection handed in is left open.
func NewSession(ctx context.Context, conn *Connection, opts ...Option) (*Session, error) {
	options, err := newOptions(opts...)
	if err != nil {
		return nil, err
	}

	ownsConn := false
	if conn == nil {
		if options.Address == "" {
			return nil, ErrNoAddress
		}
		conn, err = Dial(ctx, options.Address, opts...)
		if err != nil {
			return nil, err
		}
		ownsConn = true
	}

	s := &Session{
		conn:         conn,
		ownsConn:     ownsConn,
		stateMachine: NewSessionStateMachine(),
		state:        &clientState{},
		logger:       options.Logger,
	}
	for _, ext := range options.Extensions {
		if err := s.UseExtension(ext); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// WithSession creates a Session, handshakes, runs fn and closes the
// Session however fn returns.
func WithSession(ctx context.Context, conn *Connection, fn func(*Session) error, opts ...Option) error {
	s, err := NewSession(ctx, conn, opts...)
	if err != nil {
		return err
	}
	defer s.Close()

	if _, err := s.Handshake(ctx); err != nil {
		return err
	}
	return fn(s)
}

// ClientID returns the id issued by the server, or "" before handshake
func (s *Session) ClientID() string {
	return s.state.GetClientID()
}

// State returns the session's current state
func (s *Session) State() StateRepresentation {
	return s.stateMachine.CurrentState()
}

// Connection returns the Connection the session sends on
func (s *Session) Connection() *Connection {
	return s.conn
}

// Handshake sends the handshake request to the Bayeux Server. A session is
// assigned a client id at most once: a second Handshake fails with a
// ProtocolStateError.
func (s *Session) Handshake(ctx context.Context) ([]Message, error) {
	logger := s.logger.WithField("at", "handshake")
	start := time.Now()
	logger.Debug("starting")
	if err := s.stateMachine.ProcessEvent(handshakeSent); err != nil {
		logger.WithError(err).Debug("invalid action for current state")
		return nil, ProtocolStateError{"handshake", s.stateMachine.CurrentState()}
	}

	response, err := s.handshake(ctx)
	if err != nil {
		_ = s.stateMachine.ProcessEvent(handshakeFailed)
		logger.WithError(err).Debug("handshake failed")
		return response, err
	}
	_ = s.stateMachine.ProcessEvent(handshakeSucceeded)
	logger.WithField("duration", time.Since(start)).Debug("finishing")
	return response, nil
}

func (s *Session) handshake(ctx context.Context) ([]Message, error) {
	builder := NewHandshakeRequestBuilder()
	if err := builder.AddVersion("1.0"); err != nil {
		return nil, err
	}
	if err := builder.AddSupportedConnectionType(ConnectionTypeLongPolling); err != nil {
		return nil, err
	}
	if err := builder.AddSupportedConnectionType(ConnectionTypeCallbackPolling); err != nil {
		return nil, err
	}
	m, err := builder.Build()
	if err != nil {
		return nil, err
	}

	response, err := s.send(ctx, m)
	if err != nil {
		return response, err
	}
	switch {
	case len(response) == 0:
		return response, ProtocolError{MetaHandshake, response, ErrNoMessages}
	case len(response) > 1:
		return response, ProtocolError{MetaHandshake, response, ErrTooManyMessages}
	}

	message := response[0]
	if !message.Successful {
		reason := message.Error
		if reason == "" {
			reason = "handshake-error"
		}
		return response, ProtocolError{MetaHandshake, response, ActionFailedError{"handshake", reason}}
	}
	if message.Channel != MetaHandshake {
		return response, ProtocolError{MetaHandshake, response, ErrBadChannel}
	}
	s.state.SetClientID(message.ClientID)
	return response, nil
}

// Subscribe sends a /meta/subscribe request for ch and returns the raw
// response. Interpreting the acknowledgement is up to the caller.
func (s *Session) Subscribe(ctx context.Context, ch Channel) ([]Message, error) {
	if err := s.requireActive("subscribe"); err != nil {
		return nil, err
	}
	builder := NewSubscribeRequestBuilder()
	if err := builder.SetSubscription(ch); err != nil {
		return nil, err
	}
	m, err := builder.Build()
	if err != nil {
		return nil, err
	}
	return s.send(ctx, m)
}

// Unsubscribe sends a /meta/unsubscribe request for ch and returns the raw
// response.
func (s *Session) Unsubscribe(ctx context.Context, ch Channel) ([]Message, error) {
	if err := s.requireActive("unsubscribe"); err != nil {
		return nil, err
	}
	builder := NewUnsubscribeRequestBuilder()
	if err := builder.SetSubscription(ch); err != nil {
		return nil, err
	}
	m, err := builder.Build()
	if err != nil {
		return nil, err
	}
	return s.send(ctx, m)
}

// Publish sends data to ch and returns the raw response. data is encoded
// as JSON unless it already is a json.RawMessage.
func (s *Session) Publish(ctx context.Context, ch Channel, data interface{}) ([]Message, error) {
	if err := s.requireActive("publish"); err != nil {
		return nil, err
	}
	builder := NewPublishRequestBuilder()
	if err := builder.SetChannel(ch); err != nil {
		return nil, err
	}
	if err := builder.SetData(data); err != nil {
		return nil, err
	}
	m, err := builder.Build()
	if err != nil {
		return nil, err
	}
	return s.send(ctx, m)
}

// Connect performs one long-poll. The server may hold the request until it
// has events to deliver. The response must contain exactly one successful
// /meta/connect acknowledgement; the remaining messages are returned in the
// order received.
//
// See also: https://docs.cometd.org/current/reference/#_bayeux_meta_connect
func (s *Session) Connect(ctx context.Context) ([]Message, error) {
	logger := s.logger.WithField("at", "connect")
	start := time.Now()
	logger.Debug("starting")
	if err := s.requireActive("connect"); err != nil {
		return nil, err
	}
	builder := NewConnectRequestBuilder()
	if err := builder.AddConnectionType(ConnectionTypeLongPolling); err != nil {
		return nil, err
	}
	m, err := builder.Build()
	if err != nil {
		return nil, err
	}

	response, err := s.send(ctx, m)
	if err != nil {
		logger.WithError(err).Debug("error during request")
		return nil, err
	}

	var ack *Message
	events := make([]Message, 0, len(response))
	for i := range response {
		if response[i].Channel != MetaConnect {
			events = append(events, response[i])
			continue
		}
		if ack != nil {
			return nil, ProtocolError{MetaConnect, response, ErrMultipleAcknowledgements}
		}
		ack = &response[i]
	}
	if ack == nil {
		return nil, ProtocolError{MetaConnect, response, ErrMissingAcknowledgement}
	}
	if !ack.Successful {
		return nil, ProtocolError{MetaConnect, response, ActionFailedError{"connect", ack.Error}}
	}
	logger.WithField("duration", time.Since(start)).WithField("events", len(events)).Debug("finishing")
	return events, nil
}

// SubscribeAndWait subscribes to ch and keeps long-polling until the
// subscription is acknowledged or timeout elapses. Events that arrive in
// the meantime are returned alongside a nil error.
func (s *Session) SubscribeAndWait(ctx context.Context, ch Channel, timeout time.Duration) ([]Message, error) {
	logger := s.logger.WithField("at", "subscribe").WithField("channel", ch)
	start := time.Now()
	logger.Debug("starting")

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var acks, events []Message
	collect := func(ms []Message) {
		for _, m := range ms {
			if m.Channel == MetaSubscribe {
				acks = append(acks, m)
			} else {
				events = append(events, m)
			}
		}
	}

	response, err := s.Subscribe(waitCtx, ch)
	for err == nil {
		collect(response)
		if len(acks) > 0 {
			break
		}
		response, err = s.Connect(waitCtx)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			logger.WithField("duration", time.Since(start)).Debug("timed out")
			return events, TimeoutError{ch, timeout}
		}
		return events, err
	}

	if len(acks) > 1 {
		return events, ProtocolError{MetaSubscribe, acks, ErrMultipleAcknowledgements}
	}
	ack := acks[0]
	if ack.Subscription != emptyChannel && ack.Subscription != ch {
		return events, ProtocolError{MetaSubscribe, acks, fmt.Errorf("acknowledgement for %s while subscribing to %s", ack.Subscription, ch)}
	}
	if !ack.Successful {
		return events, ProtocolError{MetaSubscribe, acks, ActionFailedError{fmt.Sprintf("subscribe to %s", ch), ack.Error}}
	}
	logger.WithField("duration", time.Since(start)).Debug("finishing")
	return events, nil
}

// Disconnect sends a /meta/disconnect request to end the server-side
// session. The Connection stays open.
func (s *Session) Disconnect(ctx context.Context) ([]Message, error) {
	if err := s.requireActive("disconnect"); err != nil {
		return nil, err
	}
	response, err := s.send(ctx, NewDisconnectRequest())
	if err != nil {
		return response, err
	}
	_ = s.stateMachine.ProcessEvent(disconnectSent)
	s.state.SetClientID("")

	for _, m := range response {
		if m.Channel == MetaDisconnect && !m.Successful {
			return response, ProtocolError{MetaDisconnect, response, ActionFailedError{"disconnect", m.Error}}
		}
	}
	return response, nil
}

// Close ends the session. The underlying Connection is closed only if the
// session created it.
func (s *Session) Close() error {
	_ = s.stateMachine.ProcessEvent(sessionClosed)

	s.extsLock.Lock()
	for _, ext := range s.exts {
		ext.Unregistered()
	}
	s.exts = nil
	s.extsLock.Unlock()

	if s.ownsConn {
		return s.conn.Close()
	}
	return nil
}

// UseExtension adds the provided MessageExtender to the list of known
// extensions
func (s *Session) UseExtension(ext MessageExtender) error {
	s.extsLock.Lock()
	defer s.extsLock.Unlock()
	for _, registered := range s.exts {
		if ext == registered {
			return AlreadyRegisteredError{ext}
		}
	}
	s.exts = append(s.exts, ext)
	ext.Registered(fmt.Sprintf("%T", ext), s)
	return nil
}

func (s *Session) requireActive(operation string) error {
	if !s.stateMachine.IsActive() {
		return ProtocolStateError{operation, s.stateMachine.CurrentState()}
	}
	return nil
}

// send wraps m in a one-element request, attaching the client id once one
// has been assigned, and normalizes the response into messages.
func (s *Session) send(ctx context.Context, m Message) ([]Message, error) {
	if clientID := s.state.GetClientID(); clientID != "" {
		m.ClientID = clientID
	}

	s.extsLock.RLock()
	exts := s.exts
	s.extsLock.RUnlock()

	for _, ext := range exts {
		ext.Outgoing(&m)
	}

	payload, err := json.Marshal([]Message{m})
	if err != nil {
		return nil, err
	}
	body, err := s.conn.Send(ctx, payload)
	if err != nil {
		return nil, err
	}

	response, err := decodeMessages(body)
	if err != nil {
		return nil, ProtocolError{Channel: m.Channel, Err: err}
	}
	for _, ext := range exts {
		for i := range response {
			ext.Incoming(&response[i])
		}
	}
	return response, nil
}

type clientState struct {
	clientID string
	lock     sync.RWMutex
}

func (cs *clientState) GetClientID() string {
	cs.lock.RLock()
	defer cs.lock.RUnlock()
	return cs.clientID
}

func (cs *clientState) SetClientID(clientID string) {
	cs.lock.Lock()
	defer cs.lock.Unlock()
	cs.clientID = clientID
}
