// Package singleflight tracks in-flight operations by key so that duplicate
// callers can wait on the owner's outcome instead of repeating the work.
//
// Unlike golang.org/x/sync/singleflight the owner and the work are decoupled:
// the owner registers a key, performs the work wherever it likes and releases
// the key with the outcome. Waiters block with their own context and may give
// up without affecting the owner.
package singleflight

import (
	"context"
	"sync"
	"sync/atomic"
)

// Call is a pending operation shared by its owner and any joiners.
type Call[T any] struct {
	done    chan struct{}
	val     T
	err     error
	waiters atomic.Int64
}

// Done is closed once the owner has released the call.
func (c *Call[T]) Done() <-chan struct{} {
	return c.done
}

// Waiters reports how many joiners attached to the call.
func (c *Call[T]) Waiters() int {
	return int(c.waiters.Load())
}

// Wait blocks until the call is released or ctx ends. A ctx error only ends
// this wait; the owner keeps running.
func (c *Call[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-c.done:
		return c.val, c.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Group holds the active calls keyed by an opaque string.
type Group[T any] struct {
	mu sync.Mutex
	m  map[string]*Call[T]
}

// New returns an empty Group.
func New[T any]() *Group[T] {
	return &Group[T]{m: make(map[string]*Call[T])}
}

// Join returns the active call for key, if any.
func (g *Group[T]) Join(key string) (*Call[T], bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	c, ok := g.m[key]
	if ok {
		c.waiters.Add(1)
	}
	return c, ok
}

// Register creates a call for key. It fails with ErrAlreadyRegistered when a
// call for the key is still active.
func (g *Group[T]) Register(key string) (*Call[T], error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.m[key]; ok {
		return nil, ErrAlreadyRegistered
	}
	c := &Call[T]{done: make(chan struct{})}
	g.m[key] = c
	return c, nil
}

// JoinOrRegister atomically joins the active call for key or registers a new
// one. owner is true when the caller registered the call and must Release it.
func (g *Group[T]) JoinOrRegister(key string) (c *Call[T], owner bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if c, ok := g.m[key]; ok {
		c.waiters.Add(1)
		return c, false
	}
	c = &Call[T]{done: make(chan struct{})}
	g.m[key] = c
	return c, true
}

// Release publishes the outcome of c, wakes every waiter and removes the key.
// Releasing a call twice returns ErrAlreadyReleased.
func (g *Group[T]) Release(key string, c *Call[T], val T, err error) error {
	g.mu.Lock()
	select {
	case <-c.done:
		g.mu.Unlock()
		return ErrAlreadyReleased
	default:
	}
	if g.m[key] == c {
		delete(g.m, key)
	}
	c.val = val
	c.err = err
	close(c.done)
	g.mu.Unlock()
	return nil
}

// Len reports the number of active calls.
func (g *Group[T]) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.m)
}
