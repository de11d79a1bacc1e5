package gobayeux

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/pkg/errors"
)

// frameStatus classifies the outcome of reading one response frame
type frameStatus int

const (
	// frameOK carries a decodable body for the oldest pending request
	frameOK frameStatus = iota
	// frameRejected is a complete non-2xx response; framing is intact
	frameRejected
	// frameClosed means the read failed because Close was requested
	frameClosed
	// frameTransportFailed means the socket failed or the peer went away
	frameTransportFailed
	// frameUndecodable is a complete response whose body is not JSON
	frameUndecodable
)

func (s frameStatus) String() string {
	switch s {
	case frameOK:
		return "ok"
	case frameRejected:
		return "rejected"
	case frameClosed:
		return "closed"
	case frameTransportFailed:
		return "transport failed"
	case frameUndecodable:
		return "undecodable"
	}
	return "unknown"
}

// Connection is a single pipelined HTTP/1.1 connection to a Bayeux server
// shared by any number of goroutines. Requests are written in the order
// they were sent and a background reader hands each response to the
// oldest outstanding request.
type Connection struct {
	conn    net.Conn
	br      *bufio.Reader
	bw      *bufio.Writer
	target  *url.URL
	options *Options
	logger  Logger

	// writeSem is held while a request is enqueued and written, so the
	// queue order always equals the order requests hit the wire. It is a
	// channel so that waiting for it honors the caller's ctx.
	writeSem chan struct{}

	// queueMu guards pending and err. It is never held across I/O, so the
	// reader can always hand over a response it has read.
	queueMu sync.Mutex
	pending *queue.Queue
	err     error

	closed         atomic.Bool
	closeRequested atomic.Bool
	closeOnce      sync.Once
	done           chan struct{}
}

// Dial connects to the Bayeux server at address (host:port) and starts the
// Connection's reader.
func Dial(ctx context.Context, address string, opts ...Option) (*Connection, error) {
	options, err := newOptions(opts...)
	if err != nil {
		return nil, err
	}
	dialer := &net.Dialer{Timeout: options.DialTimeout, KeepAlive: options.KeepAlive}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, TransportError{errors.Wrapf(err, "dialing %s", address)}
	}
	if options.Host == "" {
		options.Host = address
	}
	return newConnection(conn, options), nil
}

// NewConnection adopts an established transport. The Connection owns conn
// from here on and closes it on Close.
func NewConnection(conn net.Conn, opts ...Option) (*Connection, error) {
	options, err := newOptions(opts...)
	if err != nil {
		return nil, err
	}
	if options.Host == "" {
		options.Host = conn.RemoteAddr().String()
	}
	return newConnection(conn, options), nil
}

func newConnection(conn net.Conn, options *Options) *Connection {
	c := &Connection{
		conn:    conn,
		br:      bufio.NewReader(conn),
		bw:      bufio.NewWriter(conn),
		target:  &url.URL{Scheme: "http", Host: options.Host, Path: options.Path},
		options: options,
		logger:  options.Logger.WithField("remote", conn.RemoteAddr().String()),
		pending:  queue.New(),
		writeSem: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go c.receiveLoop()
	return c
}

// Send writes payload as the body of one POST request and blocks until the
// matching response arrives, ctx is done, or the connection fails.
//
// ctx also bounds waiting for earlier writers and the write itself. A
// write cut short leaves a partial frame on the wire, so it closes the
// connection. When ctx ends after the write the request stays
// outstanding; its response is read and discarded so later requests
// still line up.
func (c *Connection) Send(ctx context.Context, payload []byte) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	select {
	case c.writeSem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	p := newPendingRequest()
	c.queueMu.Lock()
	if c.closed.Load() {
		err := c.err
		c.queueMu.Unlock()
		<-c.writeSem
		if err == nil {
			err = ErrConnectionClosed
		}
		return nil, TransportError{err}
	}
	c.pending.Add(p)
	c.queueMu.Unlock()

	if err := c.writeRequest(ctx, payload); err != nil {
		cause := errors.Wrap(err, "writing request")
		if ctxErr := ctx.Err(); ctxErr != nil {
			cause = errors.Wrap(ctxErr, "writing request")
		}
		if c.closeRequested.Load() {
			cause = ErrConnectionClosed
		}
		c.logger.WithError(err).Warn("write failed")
		// nothing may follow a partial frame onto the wire
		c.shutdown(cause)
		<-c.writeSem
		return nil, TransportError{cause}
	}
	<-c.writeSem
	return p.wait(ctx)
}

// Close marks the connection closed, fails every outstanding request and
// releases the transport. It is safe to call more than once and from any
// goroutine.
func (c *Connection) Close() error {
	c.closeRequested.Store(true)
	c.closeTransport()
	c.shutdown(ErrConnectionClosed)
	<-c.done
	return nil
}

// Closed reports whether the connection can no longer be used
func (c *Connection) Closed() bool {
	return c.closed.Load()
}

// Err returns the reason the connection was closed, or nil while it is open
func (c *Connection) Err() error {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()
	return c.err
}

// Done is closed once the background reader has exited
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

func (c *Connection) writeRequest(ctx context.Context, payload []byte) error {
	req, err := http.NewRequest(http.MethodPost, c.target.String(), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	for key, values := range c.options.Header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for _, cookie := range c.options.Jar.Cookies(c.target) {
		req.AddCookie(cookie)
	}

	if err := c.conn.SetWriteDeadline(c.writeDeadline(ctx)); err != nil {
		return err
	}
	// a ctx without a deadline can still be cancelled mid-write
	interrupted := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(interrupted)
		_ = c.conn.SetWriteDeadline(time.Unix(1, 0))
	})
	defer func() {
		if !stop() {
			<-interrupted
		}
	}()

	if err := req.Write(c.bw); err != nil {
		return err
	}
	return c.bw.Flush()
}

// writeDeadline is the earlier of ctx's deadline and the configured
// WriteTimeout, or zero for none
func (c *Connection) writeDeadline(ctx context.Context) time.Time {
	var deadline time.Time
	if c.options.WriteTimeout > 0 {
		deadline = time.Now().Add(c.options.WriteTimeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	return deadline
}

func (c *Connection) receiveLoop() {
	defer close(c.done)
	logger := c.logger.WithField("at", "receive")

	for {
		body, status, err := c.receive()
		switch status {
		case frameOK:
			if !c.resolveNext(result{body: body}) {
				return
			}
		case frameRejected:
			logger.WithError(err).Debug("server rejected request")
			if !c.resolveNext(result{err: ProtocolError{Err: err}}) {
				return
			}
		case frameClosed:
			logger.Debug("connection closed")
			c.shutdown(ErrConnectionClosed)
			return
		default:
			logger.WithError(err).WithField("status", status).Warn("terminating connection")
			c.shutdown(err)
			return
		}
	}
}

// receive reads exactly one response frame
func (c *Connection) receive() (json.RawMessage, frameStatus, error) {
	resp, err := http.ReadResponse(c.br, nil)
	if err != nil {
		return nil, c.classifyReadError(), errors.Wrap(err, "reading response")
	}
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return nil, c.classifyReadError(), errors.Wrap(err, "reading response body")
	}

	if cookies := resp.Cookies(); len(cookies) > 0 {
		c.options.Jar.SetCookies(c.target, cookies)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, frameRejected, BadResponseError{resp.StatusCode, resp.Status, body}
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return json.RawMessage("[]"), frameOK, nil
	}
	if !json.Valid(body) {
		return nil, frameUndecodable, errors.Errorf("response body is not valid JSON: %q", body)
	}
	return body, frameOK, nil
}

func (c *Connection) classifyReadError() frameStatus {
	if c.closeRequested.Load() {
		return frameClosed
	}
	return frameTransportFailed
}

// resolveNext hands r to the oldest pending request. A response nobody
// asked for means the stream is out of step, which is fatal.
func (c *Connection) resolveNext(r result) bool {
	c.queueMu.Lock()
	if c.pending.Length() == 0 {
		c.queueMu.Unlock()
		c.logger.Warn("response received with no request outstanding")
		c.shutdown(ErrUnexpectedResponse)
		return false
	}
	p := c.pending.Remove().(*pendingRequest)
	c.queueMu.Unlock()

	p.resolve(r)
	return true
}

func (c *Connection) shutdown(cause error) {
	c.queueMu.Lock()
	c.failLocked(cause)
	c.queueMu.Unlock()
	c.closeTransport()
}

// failLocked marks the connection closed and wakes every waiter with a
// TransportError. c.queueMu must be held.
func (c *Connection) failLocked(cause error) {
	c.closed.Store(true)
	if c.err == nil {
		c.err = cause
	}
	err := TransportError{c.err}
	for c.pending.Length() > 0 {
		c.pending.Remove().(*pendingRequest).resolve(result{err: err})
	}
}

func (c *Connection) closeTransport() {
	c.closeOnce.Do(func() {
		if err := c.conn.Close(); err != nil {
			c.logger.WithError(err).Debug("error closing transport")
		}
	})
}
