// Package slot provides a one-shot rendezvous between the collector that
// produces a result and the caller waiting for it.
package slot

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrAlreadyResolved is returned when a producer is resolved a second time
var ErrAlreadyResolved = errors.New("slot already resolved")

// outcome is the single value carried across the channel
type outcome[T any] struct {
	value T
	ok    bool
}

// Producer is the write half of a slot. It must be resolved exactly once.
type Producer[T any] struct {
	resolved atomic.Bool
	ch       chan outcome[T]
	done     chan struct{}
}

// Future is the read half of a slot
type Future[T any] struct {
	ch   chan outcome[T]
	done chan struct{}

	once   sync.Once
	result outcome[T]
}

// New creates a connected Producer/Future pair
func New[T any]() (*Producer[T], *Future[T]) {
	ch := make(chan outcome[T], 1)
	done := make(chan struct{})
	return &Producer[T]{ch: ch, done: done}, &Future[T]{ch: ch, done: done}
}

// Resolve delivers a value to the waiting caller
func (p *Producer[T]) Resolve(v T) error {
	return p.deliver(outcome[T]{value: v, ok: true})
}

// Absent signals that no result exists for the request
func (p *Producer[T]) Absent() error {
	return p.deliver(outcome[T]{})
}

// Resolved reports whether the producer has already delivered
func (p *Producer[T]) Resolved() bool {
	return p.resolved.Load()
}

func (p *Producer[T]) deliver(o outcome[T]) error {
	if !p.resolved.CompareAndSwap(false, true) {
		return ErrAlreadyResolved
	}
	// The channel is buffered, so an abandoned future never blocks us.
	p.ch <- o
	close(p.done)
	return nil
}

// Done returns a channel closed once the slot has been resolved
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Await blocks until the slot is resolved or ctx is done.
// The boolean is false when the result is absent or the wait was abandoned.
func (f *Future[T]) Await(ctx context.Context) (T, bool) {
	select {
	case <-f.done:
		return f.take()
	case <-ctx.Done():
		var zero T
		return zero, false
	}
}

// TryValue returns the result without blocking. ready is false while the
// slot is still pending.
func (f *Future[T]) TryValue() (value T, ok bool, ready bool) {
	select {
	case <-f.done:
		value, ok = f.take()
		return value, ok, true
	default:
		var zero T
		return zero, false, false
	}
}

// take moves the outcome out of the channel on first use so that repeated
// reads keep returning the same value.
func (f *Future[T]) take() (T, bool) {
	f.once.Do(func() {
		f.result = <-f.ch
	})
	return f.result.value, f.result.ok
}
