// Package queue holds requests waiting to be coalesced into a batch.
//
// Many callers push concurrently; a single collector drains. Entries come out
// in the order they went in, and each one comes out exactly once, either
// through Drain or through Close.
package queue

import (
	"errors"
	"sync"
	"time"

	"bulkgetter/internal/slot"
)

// ErrClosed is returned by Push after the queue has been closed
var ErrClosed = errors.New("queue closed")

// Entry is a single pending request
type Entry[T any] struct {
	ID       string
	Slot     *slot.Producer[T]
	Enqueued time.Time
}

// Queue is a many-producer, single-consumer FIFO of pending requests
type Queue[T any] struct {
	threshold int
	ready     chan struct{}

	// All further fields are protected by mu
	mu     sync.Mutex
	items  []Entry[T]
	closed bool
}

// New creates a queue that fires Ready once threshold entries are waiting.
// A threshold <= 0 disables the signal.
func New[T any](threshold int) *Queue[T] {
	return &Queue[T]{
		threshold: threshold,
		ready:     make(chan struct{}, 1),
	}
}

// Push appends an entry without blocking
func (q *Queue[T]) Push(e Entry[T]) error {
	if e.Enqueued.IsZero() {
		e.Enqueued = time.Now()
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.items = append(q.items, e)
	full := q.threshold > 0 && len(q.items) >= q.threshold
	q.mu.Unlock()

	if full {
		q.signal()
	}
	return nil
}

// Drain removes up to max entries from the head of the queue.
// max <= 0 drains everything.
func (q *Queue[T]) Drain(max int) []Entry[T] {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.items)
	if n == 0 {
		return nil
	}
	if max > 0 && max < n {
		n = max
	}

	batch := make([]Entry[T], n)
	copy(batch, q.items[:n])

	// Zero the moved-out prefix so the producers can be collected.
	clear(q.items[:n])
	q.items = q.items[n:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return batch
}

// Len returns the number of entries waiting
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Ready returns a channel that receives when a full batch is waiting.
// Signals coalesce: several pushes may produce a single wake-up.
func (q *Queue[T]) Ready() <-chan struct{} {
	return q.ready
}

// Closed reports whether Close has been called
func (q *Queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close rejects further pushes and returns everything still queued
func (q *Queue[T]) Close() []Entry[T] {
	q.mu.Lock()
	q.closed = true
	rest := q.items
	q.items = nil
	q.mu.Unlock()

	q.signal()
	return rest
}

func (q *Queue[T]) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
