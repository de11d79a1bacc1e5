package gobayeux_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sioux-io/gobayeux"
	"github.com/sioux-io/gobayeux/internal/gobayeuxtest"
)

const handshakeOK = `[{"channel":"/meta/handshake","successful":true,"clientId":"abc123","version":"1.0"}]`

// script answers requests with replies in order and records what was sent
type script struct {
	mu       sync.Mutex
	replies  []string
	requests [][]gobayeux.Message
}

func (s *script) handle(body []byte) (int, []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ms []gobayeux.Message
	if err := json.Unmarshal(body, &ms); err != nil {
		return http.StatusBadRequest, []byte(`"unparsable"`)
	}
	s.requests = append(s.requests, ms)
	if len(s.replies) == 0 {
		return http.StatusOK, []byte(`[]`)
	}
	reply := s.replies[0]
	s.replies = s.replies[1:]
	return http.StatusOK, []byte(reply)
}

func (s *script) sent(i int) []gobayeux.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[i]
}

func newScriptedSession(t *testing.T, replies ...string) (*gobayeux.Session, *script) {
	t.Helper()
	s := &script{replies: replies}
	c, _ := newPipeConnection(t, s.handle)
	session, err := gobayeux.NewSession(context.Background(), c)
	require.NoError(t, err)
	return session, s
}

func TestSessionHandshake(t *testing.T) {
	session, s := newScriptedSession(t, handshakeOK)

	_, err := session.Handshake(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc123", session.ClientID())
	assert.Equal(t, gobayeux.StateActive, session.State())

	sent := s.sent(0)
	require.Len(t, sent, 1)
	assert.Equal(t, gobayeux.MetaHandshake, sent[0].Channel)
	assert.Equal(t, "1.0", sent[0].Version)
	assert.Equal(t, []string{"long-polling", "callback-polling"}, sent[0].SupportedConnectionTypes)
	assert.Empty(t, sent[0].ClientID)
}

func TestSessionSecondHandshakeFails(t *testing.T) {
	session, _ := newScriptedSession(t,
		handshakeOK,
		`[{"channel":"/meta/handshake","successful":true,"clientId":"other"}]`,
	)

	_, err := session.Handshake(context.Background())
	require.NoError(t, err)

	_, err = session.Handshake(context.Background())
	var stateErr gobayeux.ProtocolStateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, gobayeux.StateActive, stateErr.State)
	assert.Equal(t, "abc123", session.ClientID())
}

func TestSessionHandshakeFailures(t *testing.T) {
	testCases := []struct {
		name    string
		reply   string
		wantErr string
	}{
		{"unsuccessful with server error", `[{"channel":"/meta/handshake","successful":false,"error":"403::denied"}]`, "403::denied"},
		{"unsuccessful without server error", `[{"channel":"/meta/handshake"}]`, "handshake-error"},
		{"no messages", `[]`, "no messages in response"},
		{"too many messages", `[{"channel":"/meta/handshake","successful":true},{"channel":"/meta/handshake","successful":true}]`, "more messages than expected"},
		{"wrong channel", `[{"channel":"/meta/connect","successful":true}]`, "/meta/handshake channel"},
	}

	for _, testCase := range testCases {
		tc := testCase
		t.Run(tc.name, func(t *testing.T) {
			session, _ := newScriptedSession(t, tc.reply)
			_, err := session.Handshake(context.Background())
			var protocolErr gobayeux.ProtocolError
			require.ErrorAs(t, err, &protocolErr)
			assert.Contains(t, err.Error(), tc.wantErr)
			assert.Equal(t, gobayeux.StateUnconnected, session.State())
			assert.Empty(t, session.ClientID())
			assert.False(t, session.Connection().Closed())
		})
	}
}

func TestSessionRequiresHandshake(t *testing.T) {
	session, _ := newScriptedSession(t)
	ctx := context.Background()

	operations := map[string]func() error{
		"subscribe": func() error {
			_, err := session.Subscribe(ctx, "/foo/bar")
			return err
		},
		"unsubscribe": func() error {
			_, err := session.Unsubscribe(ctx, "/foo/bar")
			return err
		},
		"publish": func() error {
			_, err := session.Publish(ctx, "/foo/bar", "x")
			return err
		},
		"connect": func() error {
			_, err := session.Connect(ctx)
			return err
		},
		"subscribe and wait": func() error {
			_, err := session.SubscribeAndWait(ctx, "/foo/bar", time.Second)
			return err
		},
		"disconnect": func() error {
			_, err := session.Disconnect(ctx)
			return err
		},
	}

	for name, op := range operations {
		op := op
		t.Run(name, func(t *testing.T) {
			var stateErr gobayeux.ProtocolStateError
			require.ErrorAs(t, op(), &stateErr)
			assert.Equal(t, gobayeux.StateUnconnected, stateErr.State)
		})
	}
}

func TestSessionAttachesClientID(t *testing.T) {
	session, s := newScriptedSession(t,
		handshakeOK,
		`[{"channel":"/meta/subscribe","successful":true,"subscription":"/foo/bar"}]`,
		`[{"channel":"/foo/bar","successful":true}]`,
		`[{"channel":"/meta/unsubscribe","successful":true,"subscription":"/foo/bar"}]`,
	)
	ctx := context.Background()

	_, err := session.Handshake(ctx)
	require.NoError(t, err)

	response, err := session.Subscribe(ctx, "/foo/bar")
	require.NoError(t, err)
	require.Len(t, response, 1)
	assert.True(t, response[0].Successful)

	_, err = session.Publish(ctx, "/foo/bar", map[string]string{"text": "x"})
	require.NoError(t, err)

	_, err = session.Unsubscribe(ctx, "/foo/bar")
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		sent := s.sent(i)
		require.Len(t, sent, 1)
		assert.Equal(t, "abc123", sent[0].ClientID)
	}
	assert.Equal(t, gobayeux.Channel("/foo/bar"), s.sent(1)[0].Subscription)
	assert.JSONEq(t, `{"text":"x"}`, string(s.sent(2)[0].Data))
	assert.Equal(t, gobayeux.MetaUnsubscribe, s.sent(3)[0].Channel)
}

func TestSessionRejectsInvalidChannels(t *testing.T) {
	session, _ := newScriptedSession(t, handshakeOK)
	ctx := context.Background()
	_, err := session.Handshake(ctx)
	require.NoError(t, err)

	var channelErr gobayeux.InvalidChannelError
	_, err = session.Subscribe(ctx, "foo")
	assert.ErrorAs(t, err, &channelErr)
	_, err = session.Publish(ctx, "/meta/connect", "x")
	assert.ErrorAs(t, err, &channelErr)
	_, err = session.Publish(ctx, "/foo/*", "x")
	assert.ErrorAs(t, err, &channelErr)
}

func TestSessionConnectFiltersAcknowledgement(t *testing.T) {
	session, s := newScriptedSession(t,
		handshakeOK,
		`[{"channel":"/foo","data":1},{"channel":"/meta/connect","successful":true},{"channel":"/bar","data":2},{"channel":"/foo","data":3}]`,
	)
	ctx := context.Background()
	_, err := session.Handshake(ctx)
	require.NoError(t, err)

	events, err := session.Connect(ctx)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, gobayeux.Channel("/foo"), events[0].Channel)
	assert.Equal(t, gobayeux.Channel("/bar"), events[1].Channel)
	assert.JSONEq(t, `3`, string(events[2].Data))

	sent := s.sent(1)
	assert.Equal(t, gobayeux.MetaConnect, sent[0].Channel)
	assert.Equal(t, gobayeux.ConnectionTypeLongPolling, sent[0].ConnectionType)
}

func TestSessionConnectFailures(t *testing.T) {
	testCases := []struct {
		name    string
		reply   string
		wantErr error
	}{
		{"no acknowledgement", `[{"channel":"/foo","data":1}]`, gobayeux.ErrMissingAcknowledgement},
		{"two acknowledgements", `[{"channel":"/meta/connect","successful":true},{"channel":"/meta/connect","successful":true}]`, gobayeux.ErrMultipleAcknowledgements},
		{"unsuccessful acknowledgement", `[{"channel":"/meta/connect","successful":false,"error":"402::unknown client"}]`, gobayeux.ActionFailedError{Action: "connect", ErrorMessage: "402::unknown client"}},
	}

	for _, testCase := range testCases {
		tc := testCase
		t.Run(tc.name, func(t *testing.T) {
			session, _ := newScriptedSession(t, handshakeOK, tc.reply, `[{"channel":"/meta/connect","successful":true}]`)
			ctx := context.Background()
			_, err := session.Handshake(ctx)
			require.NoError(t, err)

			_, err = session.Connect(ctx)
			var protocolErr gobayeux.ProtocolError
			require.ErrorAs(t, err, &protocolErr)
			assert.ErrorIs(t, err, tc.wantErr)

			events, err := session.Connect(ctx)
			require.NoError(t, err)
			assert.Empty(t, events)
		})
	}
}

func TestSessionSubscribeAndWaitTimesOut(t *testing.T) {
	server := gobayeuxtest.NewServer(t, gobayeuxtest.WithSilentSubscribe(), gobayeuxtest.WithLongPoll(50*time.Millisecond))
	server.Start()
	defer server.Stop()

	ctx := context.Background()
	session, err := gobayeux.NewSession(ctx, nil, gobayeux.WithAddress(server.Addr()))
	require.NoError(t, err)
	defer session.Close()
	_, err = session.Handshake(ctx)
	require.NoError(t, err)

	start := time.Now()
	_, err = session.SubscribeAndWait(ctx, "/foo/bar", 200*time.Millisecond)
	elapsed := time.Since(start)

	var timeoutErr gobayeux.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, gobayeux.Channel("/foo/bar"), timeoutErr.Channel)
	assert.GreaterOrEqual(t, elapsed, 200*time.Millisecond)
	assert.Less(t, elapsed, 700*time.Millisecond)
}

func TestSessionSubscribeAndWaitAcknowledgementInConnect(t *testing.T) {
	session, _ := newScriptedSession(t,
		handshakeOK,
		`[]`,
		`[{"channel":"/meta/connect","successful":true}]`,
		`[{"channel":"/meta/connect","successful":true},{"channel":"/other","data":"y"},{"channel":"/meta/subscribe","successful":true,"subscription":"/foo/bar"}]`,
	)
	ctx := context.Background()
	_, err := session.Handshake(ctx)
	require.NoError(t, err)

	events, err := session.SubscribeAndWait(ctx, "/foo/bar", time.Second)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, gobayeux.Channel("/other"), events[0].Channel)
}

func TestSessionSubscribeAndWaitFailures(t *testing.T) {
	testCases := []struct {
		name    string
		reply   string
		wantErr string
	}{
		{"duplicate acknowledgements", `[{"channel":"/meta/subscribe","successful":true,"subscription":"/foo/bar"},{"channel":"/meta/subscribe","successful":true,"subscription":"/foo/bar"}]`, "multiple acknowledgements"},
		{"unsuccessful", `[{"channel":"/meta/subscribe","successful":false,"subscription":"/foo/bar","error":"403:/foo/bar:denied"}]`, "denied"},
		{"other channel", `[{"channel":"/meta/subscribe","successful":true,"subscription":"/baz"}]`, "acknowledgement for /baz"},
	}

	for _, testCase := range testCases {
		tc := testCase
		t.Run(tc.name, func(t *testing.T) {
			session, _ := newScriptedSession(t, handshakeOK, tc.reply)
			ctx := context.Background()
			_, err := session.Handshake(ctx)
			require.NoError(t, err)

			_, err = session.SubscribeAndWait(ctx, "/foo/bar", time.Second)
			var protocolErr gobayeux.ProtocolError
			require.ErrorAs(t, err, &protocolErr)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestSessionPublishAndConnect(t *testing.T) {
	server := gobayeuxtest.NewServer(t, gobayeuxtest.WithLongPoll(100*time.Millisecond))
	server.Start()
	defer server.Stop()

	ctx := context.Background()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	subscriber, err := gobayeux.NewSession(ctx, nil, gobayeux.WithAddress(server.Addr()), gobayeux.WithCookieJar(jar))
	require.NoError(t, err)
	defer subscriber.Close()
	_, err = subscriber.Handshake(ctx)
	require.NoError(t, err)

	cookies := jar.Cookies(&url.URL{Scheme: "http", Host: server.Addr(), Path: "/"})
	require.Len(t, cookies, 1)
	assert.Equal(t, "BAYEUX_BROWSER", cookies[0].Name)

	_, err = subscriber.SubscribeAndWait(ctx, "/foo/bar", 2*time.Second)
	require.NoError(t, err)

	events, err := subscriber.Connect(ctx)
	require.NoError(t, err)
	assert.Empty(t, events)

	publishErr := make(chan error, 1)
	go func() {
		publishErr <- gobayeux.WithSession(ctx, nil, func(publisher *gobayeux.Session) error {
			time.Sleep(20 * time.Millisecond)
			response, err := publisher.Publish(ctx, "/foo/bar", "x")
			if err == nil && (len(response) != 1 || !response[0].Successful) {
				t.Errorf("unexpected publish response %v", response)
			}
			return err
		}, gobayeux.WithAddress(server.Addr()))
	}()

	deadline := time.Now().Add(2 * time.Second)
	for len(events) == 0 && time.Now().Before(deadline) {
		events, err = subscriber.Connect(ctx)
		require.NoError(t, err)
	}
	require.NoError(t, <-publishErr)
	require.Len(t, events, 1)
	assert.Equal(t, gobayeux.Channel("/foo/bar"), events[0].Channel)
	assert.JSONEq(t, `"x"`, string(events[0].Data))

	_, err = subscriber.Disconnect(ctx)
	require.NoError(t, err)
	assert.Equal(t, gobayeux.StateUnconnected, subscriber.State())
}

func TestSessionSharedConnectionOutlivesSession(t *testing.T) {
	server := gobayeuxtest.NewServer(t)
	server.Start()
	defer server.Stop()

	ctx := context.Background()
	conn, err := gobayeux.Dial(ctx, server.Addr())
	require.NoError(t, err)
	defer conn.Close()

	var ids []string
	for i := 0; i < 2; i++ {
		err := gobayeux.WithSession(ctx, conn, func(s *gobayeux.Session) error {
			ids = append(ids, s.ClientID())
			_, err := s.Subscribe(ctx, "/foo/bar")
			return err
		})
		require.NoError(t, err)
		assert.False(t, conn.Closed())
	}
	require.Len(t, ids, 2)
	assert.NotEqual(t, ids[0], ids[1])
}

func TestSessionOwnedConnectionClosesWithSession(t *testing.T) {
	server := gobayeuxtest.NewServer(t)
	server.Start()
	defer server.Stop()

	ctx := context.Background()
	session, err := gobayeux.NewSession(ctx, nil, gobayeux.WithAddress(server.Addr()))
	require.NoError(t, err)
	_, err = session.Handshake(ctx)
	require.NoError(t, err)

	require.NoError(t, session.Close())
	assert.True(t, session.Connection().Closed())
	assert.Equal(t, gobayeux.StateClosed, session.State())

	_, err = session.Connect(ctx)
	var stateErr gobayeux.ProtocolStateError
	assert.ErrorAs(t, err, &stateErr)
}

func TestNewSessionWithoutAddress(t *testing.T) {
	_, err := gobayeux.NewSession(context.Background(), nil)
	assert.ErrorIs(t, err, gobayeux.ErrNoAddress)
}

func TestSessionHandshakeRejectedByServer(t *testing.T) {
	server := gobayeuxtest.NewServer(t, gobayeuxtest.WithHandshakeError("403::handshake denied"))
	server.Start()
	defer server.Stop()

	err := gobayeux.WithSession(context.Background(), nil, func(*gobayeux.Session) error {
		t.Fatal("callback should not run after a failed handshake")
		return nil
	}, gobayeux.WithAddress(server.Addr()))
	assert.ErrorContains(t, err, "handshake denied")
}
