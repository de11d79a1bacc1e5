package gobayeuxtest

import (
	"time"

	"github.com/sioux-io/gobayeux"
)

type ServerOpts interface {
	apply(s *Server)
}

type serverOptFn func(s *Server)

func (opt serverOptFn) apply(s *Server) {
	opt(s)
}

// WithHandshakeError makes every handshake fail with the given error
func WithHandshakeError(msg string) ServerOpts {
	return serverOptFn(func(s *Server) {
		s.handshakeError = msg
	})
}

// WithLongPoll sets how long a /meta/connect is held without events
func WithLongPoll(d time.Duration) ServerOpts {
	return serverOptFn(func(s *Server) {
		s.longPoll = d
	})
}

// WithSilentSubscribe records subscriptions but never acknowledges them
func WithSilentSubscribe() ServerOpts {
	return serverOptFn(func(s *Server) {
		s.silentSubscribe = true
	})
}

// WithPath mounts the protocol somewhere other than /
func WithPath(path string) ServerOpts {
	return serverOptFn(func(s *Server) {
		s.path = path
	})
}

// WithSubscribeHook calls hook with each requested subscription before it
// is recorded. The hook may call Deliver.
func WithSubscribeHook(hook func(ch gobayeux.Channel)) ServerOpts {
	return serverOptFn(func(s *Server) {
		s.subscribeHook = hook
	})
}

// WithPiggyback makes replies to requests without a /meta/connect carry
// the client's queued events too
func WithPiggyback() ServerOpts {
	return serverOptFn(func(s *Server) {
		s.piggyback = true
	})
}
