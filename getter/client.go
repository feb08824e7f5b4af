package getter

import (
	"context"
	"time"

	"bulkgetter/internal/failures"
	"bulkgetter/internal/metrics"
	"bulkgetter/internal/queue"
	"bulkgetter/internal/slot"
)

// Client submits single-identifier requests to a Getter
type Client[T any] struct {
	queue    *queue.Queue[T]
	metrics  *metrics.Metrics
	failures *failures.Ledger
	endpoint string
}

// Future is the pending result of one request
type Future[T any] struct {
	f *slot.Future[T]
}

// Get queues id and returns immediately. After the Getter is closed the
// returned Future is already resolved absent.
func (c *Client[T]) Get(id string) *Future[T] {
	producer, future := slot.New[T]()
	err := c.queue.Push(queue.Entry[T]{ID: id, Slot: producer})
	if err != nil {
		_ = producer.Absent()
		c.failures.Record(id, failures.KindShutdown, "", err)
		c.metrics.ObserveRequest(c.endpoint, metrics.ResultFailed)
	}
	return &Future[T]{f: future}
}

// Fetch queues id and waits for its result. ok is false when the service
// had no result, the request failed, or ctx ended first.
func (c *Client[T]) Fetch(ctx context.Context, id string) (T, bool) {
	return c.Get(id).Await(ctx)
}

// FetchAll queues every id at once and waits for all of them. Only present
// results are returned; duplicates share one entry.
func (c *Client[T]) FetchAll(ctx context.Context, ids []string) map[string]T {
	futures := make([]*Future[T], len(ids))
	for i, id := range ids {
		futures[i] = c.Get(id)
	}

	out := make(map[string]T, len(ids))
	for i, f := range futures {
		if v, ok := f.Await(ctx); ok {
			out[ids[i]] = v
		}
	}
	return out
}

// Await blocks until the result arrives or ctx ends. A cancelled wait
// returns false; the request is still sent and its result discarded.
func (f *Future[T]) Await(ctx context.Context) (T, bool) {
	return f.f.Await(ctx)
}

// AwaitTimeout is Await with a deadline d from now
func (f *Future[T]) AwaitTimeout(d time.Duration) (T, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return f.f.Await(ctx)
}

// Done is closed once the result is available
func (f *Future[T]) Done() <-chan struct{} {
	return f.f.Done()
}

// TryValue returns the result without blocking. ready is false while the
// request is still pending.
func (f *Future[T]) TryValue() (value T, ok bool, ready bool) {
	return f.f.TryValue()
}
