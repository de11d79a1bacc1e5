// Package gobayeuxtest provides Bayeux servers for exercising the client
// in tests.
package gobayeuxtest

import (
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"time"

	"github.com/sioux-io/gobayeux"
)

var (
	chars    = []rune("ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmonpqrstuvwxyz0123456789")
	numChars = len(chars)
)

type Logger interface {
	Log(args ...any)
	Logf(format string, args ...any)
}

type client struct {
	subs   []gobayeux.Channel
	events []gobayeux.Message
	notify chan struct{}
}

// Server is an in-memory Bayeux server reachable over real HTTP/1.1. A
// /meta/connect is held until an event is queued for the client or the
// long-poll timeout passes.
type Server struct {
	log Logger

	mu      sync.Mutex
	clients map[string]*client
	http    *httptest.Server

	path            string
	longPoll        time.Duration
	silentSubscribe bool
	handshakeError  string
	subscribeHook   func(ch gobayeux.Channel)
	piggyback       bool
}

func NewServer(logger Logger, opts ...ServerOpts) *Server {
	server := &Server{
		log:      logger,
		clients:  make(map[string]*client),
		path:     "/",
		longPoll: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt.apply(server)
	}
	return server
}

// Start listens on a loopback port
func (s *Server) Start() {
	mux := http.NewServeMux()
	mux.Handle(s.path, s)
	s.http = httptest.NewServer(mux)
}

// Stop closes the listener and every open connection
func (s *Server) Stop() {
	s.http.CloseClientConnections()
	s.http.Close()
}

// Addr returns the host:port the server listens on
func (s *Server) Addr() string {
	u, err := url.Parse(s.http.URL)
	if err != nil {
		panic(err)
	}
	return u.Host
}

// Path returns the path the protocol is mounted at
func (s *Server) Path() string {
	return s.path
}

func (s *Server) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	defer func() {
		if err := req.Body.Close(); err != nil {
			s.log.Logf("could not close test server request body: %+v", err)
		}
	}()

	body, err := io.ReadAll(req.Body)
	if err != nil {
		http.Error(w, fmt.Sprintf("issue reading body (%s)", err), http.StatusBadRequest)
		return
	}

	var msgs []gobayeux.Message
	if err := json.Unmarshal(body, &msgs); err != nil {
		http.Error(w, "unparsable request", http.StatusUnprocessableEntity)
		return
	}

	replies := []gobayeux.Message{}
	polled := false
	for _, msg := range msgs {
		switch msg.Channel {
		case gobayeux.MetaHandshake:
			http.SetCookie(w, &http.Cookie{Name: "BAYEUX_BROWSER", Value: generateID(8)})
			replies = append(replies, s.handshake(msg))
		case gobayeux.MetaConnect:
			polled = true
			replies = append(replies, s.connect(req, msg)...)
		case gobayeux.MetaSubscribe:
			if reply, ok := s.subscribe(msg); ok {
				replies = append(replies, reply)
			}
		case gobayeux.MetaUnsubscribe:
			replies = append(replies, s.unsubscribe(msg))
		case gobayeux.MetaDisconnect:
			s.mu.Lock()
			delete(s.clients, msg.ClientID)
			s.mu.Unlock()
			replies = append(replies, gobayeux.Message{
				Channel:    gobayeux.MetaDisconnect,
				ClientID:   msg.ClientID,
				Successful: true,
			})
		default:
			replies = append(replies, s.publish(msg))
		}
	}

	if s.piggyback && !polled && len(msgs) > 0 {
		replies = append(replies, s.drain(msgs[0].ClientID)...)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(replies); err != nil {
		s.log.Logf("issue encoding replies: %+v", err)
	}
}

func (s *Server) handshake(msg gobayeux.Message) gobayeux.Message {
	if s.handshakeError != "" {
		return gobayeux.Message{Channel: gobayeux.MetaHandshake, Successful: false, Error: s.handshakeError}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	id := generateID(10)
	s.clients[id] = &client{notify: make(chan struct{}, 1)}
	return gobayeux.Message{
		Channel:                  gobayeux.MetaHandshake,
		Version:                  msg.Version,
		SupportedConnectionTypes: []string{gobayeux.ConnectionTypeLongPolling},
		ClientID:                 id,
		Successful:               true,
	}
}

func (s *Server) connect(req *http.Request, msg gobayeux.Message) []gobayeux.Message {
	ack := gobayeux.Message{Channel: gobayeux.MetaConnect, ClientID: msg.ClientID, Successful: true}

	s.mu.Lock()
	c, ok := s.clients[msg.ClientID]
	s.mu.Unlock()
	if !ok {
		ack.Successful = false
		ack.Error = "402::unknown client"
		ack.Advice = &gobayeux.Advice{Reconnect: "handshake"}
		return []gobayeux.Message{ack}
	}

	timer := time.NewTimer(s.longPoll)
	defer timer.Stop()
	for {
		s.mu.Lock()
		events := c.events
		c.events = nil
		s.mu.Unlock()
		if len(events) > 0 {
			return append([]gobayeux.Message{ack}, events...)
		}

		select {
		case <-c.notify:
		case <-timer.C:
			return []gobayeux.Message{ack}
		case <-req.Context().Done():
			return []gobayeux.Message{ack}
		}
	}
}

func (s *Server) drain(clientID string) []gobayeux.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[clientID]
	if !ok {
		return nil
	}
	events := c.events
	c.events = nil
	return events
}

func (s *Server) subscribe(msg gobayeux.Message) (gobayeux.Message, bool) {
	if s.subscribeHook != nil {
		s.subscribeHook(msg.Subscription)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	reply := gobayeux.Message{
		Channel:      gobayeux.MetaSubscribe,
		ClientID:     msg.ClientID,
		Successful:   true,
		Subscription: msg.Subscription,
	}
	c, ok := s.clients[msg.ClientID]
	if !ok {
		reply.Successful = false
		reply.Error = "402::unknown client"
		return reply, true
	}
	for _, ch := range c.subs {
		if ch == msg.Subscription {
			reply.Successful = false
			reply.Error = fmt.Sprintf("403:%s:already subscribed", msg.Subscription)
			return reply, !s.silentSubscribe
		}
	}
	c.subs = append(c.subs, msg.Subscription)
	return reply, !s.silentSubscribe
}

func (s *Server) unsubscribe(msg gobayeux.Message) gobayeux.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	reply := gobayeux.Message{
		Channel:      gobayeux.MetaUnsubscribe,
		ClientID:     msg.ClientID,
		Successful:   true,
		Subscription: msg.Subscription,
	}
	c, ok := s.clients[msg.ClientID]
	if !ok {
		reply.Successful = false
		reply.Error = "402::unknown client"
		return reply
	}

	found := false
	subs := []gobayeux.Channel{}
	for _, ch := range c.subs {
		if ch == msg.Subscription {
			found = true
			continue
		}
		subs = append(subs, ch)
	}
	c.subs = subs
	if !found {
		reply.Successful = false
		reply.Error = fmt.Sprintf("403:%s:not subscribed", msg.Subscription)
	}
	return reply
}

// Deliver queues an event for every client subscribed to a matching
// channel, as a publish from another client would.
func (s *Server) Deliver(ch gobayeux.Channel, data json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliverLocked(gobayeux.Message{Channel: ch, Data: data})
}

func (s *Server) publish(msg gobayeux.Message) gobayeux.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	reply := gobayeux.Message{Channel: msg.Channel, Successful: true}
	if _, ok := s.clients[msg.ClientID]; !ok {
		reply.Successful = false
		reply.Error = "402::unknown client"
		return reply
	}
	s.deliverLocked(gobayeux.Message{Channel: msg.Channel, Data: msg.Data})
	return reply
}

func (s *Server) deliverLocked(event gobayeux.Message) {
	for _, c := range s.clients {
		for _, sub := range c.subs {
			if !sub.Match(event.Channel) {
				continue
			}
			c.events = append(c.events, event)
			select {
			case c.notify <- struct{}{}:
			default:
			}
			break
		}
	}
}

func generateID(length int) string {
	ret := make([]rune, length)
	for i := range ret {
		ret[i] = chars[rand.Intn(numChars)]
	}
	return string(ret)
}
