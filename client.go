package gobayeux

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultSubscribeTimeout bounds how long Client.Subscribe waits for the
// server's acknowledgement
const DefaultSubscribeTimeout = 2 * time.Second

// Client is a high-level abstraction that keeps a long-poll running and
// delivers events to Go channels.
//
// Long-polls and publishes use separate connections: on a pipelined
// connection a publish would otherwise queue behind the outstanding
// /meta/connect.
//
// See also: https://docs.cometd.org/current/reference/#_two_connection_operation
type Client struct {
	options          []Option
	poller           *Session
	subscriptions    *subscriptionsMap
	subscribeTimeout atomic.Int64
	logger           Logger

	publishLock sync.Mutex
	publisher   *Session

	startOnce sync.Once
}

// NewClient dials address and handshakes the polling session
func NewClient(ctx context.Context, address string, opts ...Option) (*Client, error) {
	opts = append([]Option{WithAddress(address)}, opts...)
	options, err := newOptions(opts...)
	if err != nil {
		return nil, err
	}

	poller, err := NewSession(ctx, nil, opts...)
	if err != nil {
		return nil, err
	}
	if _, err := poller.Handshake(ctx); err != nil {
		_ = poller.Close()
		return nil, err
	}

	c := &Client{
		options:       opts,
		poller:        poller,
		subscriptions: newSubscriptionsMap(),
		logger:        options.Logger,
	}
	c.subscribeTimeout.Store(int64(DefaultSubscribeTimeout))
	return c, nil
}

// SetSubscribeTimeout changes how long Subscribe waits for an
// acknowledgement. It is safe to call while other goroutines subscribe.
func (c *Client) SetSubscribeTimeout(d time.Duration) {
	c.subscribeTimeout.Store(int64(d))
}

// Subscribe subscribes to ch and delivers its events to receiving. Call it
// before Start: SubscribeAndWait issues its own long-polls.
func (c *Client) Subscribe(ctx context.Context, ch Channel, receiving chan []Message) error {
	if err := c.subscriptions.Add(ch, receiving); err != nil {
		return err
	}
	events, err := c.poller.SubscribeAndWait(ctx, ch, time.Duration(c.subscribeTimeout.Load()))
	if err != nil {
		c.subscriptions.Remove(ch)
		return err
	}
	return c.dispatch(ctx, events)
}

// Unsubscribe stops delivery for ch. While Start is running the request
// is answered only after the outstanding long-poll returns.
func (c *Client) Unsubscribe(ctx context.Context, ch Channel) error {
	c.subscriptions.Remove(ch)
	ms, err := c.poller.Unsubscribe(ctx, ch)
	if err != nil {
		return err
	}
	return checkAcknowledgement(MetaUnsubscribe, "unsubscribe from "+string(ch), ms)
}

// Publish sends data to ch over the publishing connection
func (c *Client) Publish(ctx context.Context, ch Channel, data interface{}) error {
	publisher, err := c.publishSession(ctx)
	if err != nil {
		return err
	}
	ms, err := publisher.Publish(ctx, ch, data)
	if err != nil {
		return err
	}
	return checkAcknowledgement(ch, "publish to "+string(ch), ms)
}

// Start begins the background long-poll loop. The returned channel
// receives the error that stopped it and is then closed.
func (c *Client) Start(ctx context.Context) <-chan error {
	errs := make(chan error, 1)
	c.startOnce.Do(func() {
		go func() {
			defer close(errs)
			if err := c.poll(ctx); err != nil {
				errs <- err
			}
		}()
	})
	return errs
}

// Disconnect ends both sessions and closes their connections
func (c *Client) Disconnect(ctx context.Context) error {
	_, err := c.poller.Disconnect(ctx)
	_ = c.poller.Close()

	c.publishLock.Lock()
	defer c.publishLock.Unlock()
	if c.publisher != nil {
		_, _ = c.publisher.Disconnect(ctx)
		_ = c.publisher.Close()
		c.publisher = nil
	}
	return err
}

// Close closes both sessions and their connections without telling the
// server. Any running poll loop stops with a TransportError.
func (c *Client) Close() error {
	err := c.poller.Close()

	c.publishLock.Lock()
	defer c.publishLock.Unlock()
	if c.publisher != nil {
		_ = c.publisher.Close()
		c.publisher = nil
	}
	return err
}

func (c *Client) poll(ctx context.Context) error {
	logger := c.logger.WithField("at", "poll")
	for {
		events, err := c.poller.Connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.WithError(err).Debug("connect failed")
			return err
		}
		if err := c.dispatch(ctx, events); err != nil {
			return err
		}
	}
}

func (c *Client) dispatch(ctx context.Context, events []Message) error {
	for recv, batch := range c.subscriptions.Route(events) {
		select {
		case recv <- batch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (c *Client) publishSession(ctx context.Context) (*Session, error) {
	c.publishLock.Lock()
	defer c.publishLock.Unlock()
	if c.publisher != nil {
		return c.publisher, nil
	}
	publisher, err := NewSession(ctx, nil, c.options...)
	if err != nil {
		return nil, err
	}
	if _, err := publisher.Handshake(ctx); err != nil {
		_ = publisher.Close()
		return nil, err
	}
	c.publisher = publisher
	return publisher, nil
}

func checkAcknowledgement(ch Channel, action string, ms []Message) error {
	for _, m := range ms {
		if m.Channel == ch && !m.Successful && len(m.Data) == 0 {
			return ProtocolError{ch, ms, ActionFailedError{action, m.Error}}
		}
	}
	return nil
}
