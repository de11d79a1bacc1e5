package gobayeux

import (
	"context"
	"encoding/json"
)

type result struct {
	body json.RawMessage
	err  error
}

// pendingRequest is a one-shot future shared by exactly one waiter and one
// resolver. Whoever removes it from the Connection's queue resolves it.
type pendingRequest struct {
	done chan result
}

func newPendingRequest() *pendingRequest {
	return &pendingRequest{done: make(chan result, 1)}
}

// resolve never blocks, so the reader is not held up by a waiter that has
// given up.
func (p *pendingRequest) resolve(r result) {
	p.done <- r
}

func (p *pendingRequest) wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case r := <-p.done:
		return r.body, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
