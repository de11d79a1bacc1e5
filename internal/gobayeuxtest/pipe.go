package gobayeuxtest

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
)

// HandlerFunc answers one request body with a status code and a body
type HandlerFunc func(body []byte) (int, []byte)

// PipeServer answers HTTP requests on the far end of a net.Pipe strictly
// in the order they were received, the way a pipelining server does.
type PipeServer struct {
	conn    net.Conn
	handler HandlerFunc

	requests chan []byte
	received atomic.Int64
	once     sync.Once
	done     chan struct{}
}

// NewPipe returns the client end of a pipe whose server end is served by
// handler.
func NewPipe(handler HandlerFunc) (net.Conn, *PipeServer) {
	client, server := net.Pipe()
	p := &PipeServer{
		conn:     server,
		handler:  handler,
		requests: make(chan []byte, 128),
		done:     make(chan struct{}),
	}
	go p.readRequests()
	go p.respond()
	return client, p
}

// Close drops the server end, which the client sees as a transport failure
func (p *PipeServer) Close() {
	p.once.Do(func() {
		close(p.done)
		_ = p.conn.Close()
	})
}

// Received returns how many requests have been read so far
func (p *PipeServer) Received() int {
	return int(p.received.Load())
}

// Done is closed once Close has been called
func (p *PipeServer) Done() <-chan struct{} {
	return p.done
}

func (p *PipeServer) readRequests() {
	defer close(p.requests)
	br := bufio.NewReader(p.conn)
	for {
		req, err := http.ReadRequest(br)
		if err != nil {
			return
		}
		body, err := io.ReadAll(req.Body)
		_ = req.Body.Close()
		if err != nil {
			return
		}
		p.received.Add(1)
		select {
		case p.requests <- body:
		case <-p.done:
			return
		}
	}
}

func (p *PipeServer) respond() {
	for body := range p.requests {
		status, reply := p.handler(body)
		resp := &http.Response{
			StatusCode:    status,
			Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
			ProtoMajor:    1,
			ProtoMinor:    1,
			Header:        http.Header{"Content-Type": []string{"application/json"}},
			ContentLength: int64(len(reply)),
			Body:          io.NopCloser(bytes.NewReader(reply)),
		}
		if err := resp.Write(p.conn); err != nil {
			return
		}
	}
}
