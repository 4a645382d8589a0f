package klatch

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Call is a request running in the background, started by Client.Start.
type Call struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}
	result *Result
	err    error
}

// ID returns the identifier accepted by Client.Cancel.
func (c *Call) ID() string {
	return c.id
}

// Cancel cancels this call only. It is safe to call more than once.
func (c *Call) Cancel() {
	c.cancel()
}

// Done is closed when the call has finished.
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the call finishes and returns its outcome.
func (c *Call) Wait() (*Result, error) {
	<-c.done
	return c.result, c.err
}

type callTable struct {
	mu    sync.Mutex
	calls map[string]*Call
}

func newCallTable() *callTable {
	return &callTable{calls: make(map[string]*Call)}
}

func (t *callTable) add(c *Call) {
	t.mu.Lock()
	t.calls[c.id] = c
	t.mu.Unlock()
}

func (t *callTable) remove(id string) {
	t.mu.Lock()
	delete(t.calls, id)
	t.mu.Unlock()
}

func (t *callTable) get(id string) (*Call, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.calls[id]
	return c, ok
}

func (t *callTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

// Start runs a request in the background and returns its handle. When
// cfg.Stream is set the request streams and onChunk receives the deltas;
// otherwise onChunk is ignored. Cancelling the handle never affects other
// callers sharing the same in-flight request.
func (c *Client) Start(ctx context.Context, turns []Turn, cfg GenerationConfig, onChunk func(string)) *Call {
	callCtx, cancel := context.WithCancel(ctx)
	call := &Call{
		id:     uuid.NewString(),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	c.calls.add(call)

	go func() {
		defer close(call.done)
		defer c.calls.remove(call.id)
		defer cancel()

		if cfg.Stream {
			call.result, call.err = c.SendStreaming(callCtx, turns, cfg, onChunk)
		} else {
			call.result, call.err = c.Send(callCtx, turns, cfg)
		}
	}()
	return call
}

// Cancel cancels the running call with the given ID. It reports whether such
// a call was found.
func (c *Client) Cancel(id string) bool {
	call, ok := c.calls.get(id)
	if !ok {
		return false
	}
	call.Cancel()
	return true
}

// ActiveCalls reports the number of calls started with Start that have not
// finished.
func (c *Client) ActiveCalls() int {
	return c.calls.len()
}
