// Package mockadapter provides a pipeline.Adapter that replays queued replies and
// records every config it receives. It holds state, so one instance serves one
// pipeline execution at a time.
package mockadapter

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dcshock/reqpipe/pipeline"
)

// ErrExhausted is returned by CreateRequest once every queued reply was consumed.
var ErrExhausted = errors.New("mockadapter: no replies left")

// Reply is one canned outcome of CreateRequest.
type Reply struct {
	Result interface{}
	Err    error
}

// Adapter returns queued replies in FIFO order.
type Adapter struct {
	mu      sync.Mutex
	replies []Reply
	calls   []interface{}
	view    func(raw interface{}) (interface{}, error)
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithResultView sets a GetResult post-processor applied to every raw reply.
func WithResultView(view func(raw interface{}) (interface{}, error)) Option {
	return func(a *Adapter) { a.view = view }
}

// New returns an adapter that will answer with replies in order.
func New(replies []Reply, opts ...Option) *Adapter {
	a := &Adapter{replies: append([]Reply(nil), replies...)}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Results returns an adapter answering with each result in order.
func Results(results ...interface{}) *Adapter {
	a := New(nil)
	for _, r := range results {
		a.Push(r)
	}
	return a
}

// Push queues a successful reply.
func (a *Adapter) Push(result interface{}) *Adapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.replies = append(a.replies, Reply{Result: result})
	return a
}

// PushError queues a failing reply.
func (a *Adapter) PushError(err error) *Adapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.replies = append(a.replies, Reply{Err: err})
	return a
}

// CreateRequest implements pipeline.Adapter. The config is recorded even when the
// reply is an error or the queue is empty.
func (a *Adapter) CreateRequest(ctx context.Context, config interface{}) (interface{}, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, config)
	if len(a.replies) == 0 {
		return nil, fmt.Errorf("call %d: %w", len(a.calls)-1, ErrExhausted)
	}
	next := a.replies[0]
	a.replies = a.replies[1:]
	if next.Err != nil {
		return nil, next.Err
	}
	return next.Result, nil
}

// GetResult implements pipeline.ResultGetter.
func (a *Adapter) GetResult(ctx context.Context, raw interface{}) (interface{}, error) {
	if a.view == nil {
		return raw, nil
	}
	return a.view(raw)
}

// Calls returns the configs received so far, in call order.
func (a *Adapter) Calls() []interface{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]interface{}(nil), a.calls...)
}

// Pending returns the number of replies not yet consumed.
func (a *Adapter) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.replies)
}

// Reset drops queued replies and the call log.
func (a *Adapter) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.replies = nil
	a.calls = nil
}

var (
	_ pipeline.Adapter      = (*Adapter)(nil)
	_ pipeline.ResultGetter = (*Adapter)(nil)
)
