// Package collector runs the background loop that turns queued requests into
// bulk calls and hands each result back to the caller that asked for it.
package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"bulkgetter/endpoint"
	"bulkgetter/internal/failures"
	"bulkgetter/internal/metrics"
	"bulkgetter/internal/queue"
	"bulkgetter/internal/slot"
	"bulkgetter/internal/upstream"
)

const tracerName = "bulkgetter/collector"

// ErrShutdown is recorded for requests dropped because the collector stopped
var ErrShutdown = errors.New("collector shut down before request was sent")

// Config controls batching
type Config struct {
	MaxBatchSize int           // identifiers per bulk call
	PollInterval time.Duration // idle wait between queue checks
	BatchTimeout time.Duration // deadline for one bulk call, retries included; 0 means none
	FlushOnClose bool          // post queued requests on Stop instead of dropping them
}

// Deps are the collector's collaborators
type Deps struct {
	Metrics        *metrics.Metrics
	Failures       *failures.Ledger // optional
	TracerProvider trace.TracerProvider
	Logger         zerolog.Logger
}

// Collector drains a queue into bulk calls. It is the queue's only consumer.
type Collector[T any] struct {
	queue    *queue.Queue[T]
	adapter  endpoint.Adapter[T]
	poster   upstream.Poster
	cfg      Config
	endpoint string

	metrics  *metrics.Metrics
	failures *failures.Ledger
	tracer   trace.Tracer
	logger   zerolog.Logger

	// ctx stops the loop; batchCtx parents in-flight calls and is only
	// cancelled when Stop runs out of time
	ctx      context.Context
	cancel   context.CancelFunc
	batchCtx context.Context
	abort    context.CancelFunc

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
}

// New creates a collector. Call Start to begin draining.
func New[T any](q *queue.Queue[T], adapter endpoint.Adapter[T], poster upstream.Poster, cfg Config, deps Deps) *Collector[T] {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = adapter.MaxBatchSize()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}

	m := deps.Metrics
	if m == nil {
		m = metrics.New("", nil)
	}
	tp := deps.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	ctx, cancel := context.WithCancel(context.Background())
	batchCtx, abort := context.WithCancel(context.Background())

	return &Collector[T]{
		queue:    q,
		adapter:  adapter,
		poster:   poster,
		cfg:      cfg,
		endpoint: adapter.Path(),
		metrics:  m,
		failures: deps.Failures,
		tracer:   tp.Tracer(tracerName),
		logger:   deps.Logger.With().Str("component", "collector").Str("endpoint", adapter.Path()).Logger(),
		ctx:      ctx,
		cancel:   cancel,
		batchCtx: batchCtx,
		abort:    abort,
		done:     make(chan struct{}),
	}
}

// Start launches the collector goroutine. Later calls do nothing.
func (c *Collector[T]) Start() {
	c.startOnce.Do(func() {
		c.logger.Debug().
			Int("maxBatchSize", c.cfg.MaxBatchSize).
			Dur("pollInterval", c.cfg.PollInterval).
			Msg("collector started")
		go c.run()
	})
}

// Stop ends the loop after the in-flight batch and settles everything still
// queued. If ctx expires first, in-flight calls are cancelled, their callers
// receive no result, and ctx.Err() is returned.
func (c *Collector[T]) Stop(ctx context.Context) error {
	c.stopOnce.Do(func() {
		// Never started: nobody else will settle the queue
		c.startOnce.Do(func() {
			go func() {
				defer close(c.done)
				c.shutdown()
			}()
		})
		c.cancel()
	})

	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		c.abort()
		<-c.done
		return ctx.Err()
	}
}

// Done is closed once the collector has fully stopped
func (c *Collector[T]) Done() <-chan struct{} {
	return c.done
}

// MaxBatchSize returns the effective batch cap
func (c *Collector[T]) MaxBatchSize() int {
	return c.cfg.MaxBatchSize
}

func (c *Collector[T]) run() {
	defer close(c.done)

	timer := time.NewTimer(c.cfg.PollInterval)
	defer timer.Stop()

	for {
		if c.ctx.Err() != nil {
			c.shutdown()
			return
		}

		// Idle
		select {
		case <-c.ctx.Done():
			continue
		case <-timer.C:
		case <-c.queue.Ready():
		}

		// Batching
		c.drain()
		timer.Reset(c.cfg.PollInterval)
	}
}

// drain runs rounds back to back until the queue is empty or Stop is called
func (c *Collector[T]) drain() {
	for c.ctx.Err() == nil {
		batch := c.queue.Drain(c.cfg.MaxBatchSize)
		if len(batch) == 0 {
			return
		}
		c.process(batch)
	}
}

// shutdown settles whatever is left once the loop has stopped
func (c *Collector[T]) shutdown() {
	rest := c.queue.Close()
	if len(rest) == 0 {
		c.logger.Debug().Msg("collector stopped")
		return
	}

	if c.cfg.FlushOnClose {
		c.logger.Info().Int("pending", len(rest)).Msg("flushing queued requests before stopping")
		for len(rest) > 0 {
			n := min(len(rest), c.cfg.MaxBatchSize)
			c.process(rest[:n])
			rest = rest[n:]
		}
		c.logger.Debug().Msg("collector stopped")
		return
	}

	c.logger.Info().Int("pending", len(rest)).Msg("dropping queued requests on shutdown")
	batchID := uuid.NewString()
	c.failAll(rest, batchID, failures.KindShutdown, ErrShutdown)
	c.metrics.ObserveBatch(c.endpoint, metrics.OutcomeShutdown, len(rest), 0)
	c.logger.Debug().Msg("collector stopped")
}

// process performs one bulk call and resolves every slot in the batch
func (c *Collector[T]) process(batch []queue.Entry[T]) {
	batchID := uuid.NewString()
	start := time.Now()
	logger := c.logger.With().Str("batch", batchID).Int("size", len(batch)).Logger()

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic while processing batch: %v", r)
			logger.Error().Err(err).Msg("batch aborted")
			c.failUnresolved(batch, batchID, err)
			c.metrics.ObserveBatch(c.endpoint, metrics.OutcomeDecode, len(batch), time.Since(start))
		}
	}()

	ids := make([]string, len(batch))
	for i, e := range batch {
		ids[i] = e.ID
		c.metrics.ObserveQueueWait(c.endpoint, start.Sub(e.Enqueued))
	}

	ctx := c.batchCtx
	if c.cfg.BatchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.BatchTimeout)
		defer cancel()
	}
	ctx, span := c.tracer.Start(ctx, "batch "+c.endpoint,
		trace.WithAttributes(
			attribute.String("batch.id", batchID),
			attribute.Int("batch.size", len(batch)),
		),
	)
	defer span.End()

	logger.Debug().Msg("executing batch")

	resp, outcome, err := c.call(ctx, ids)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		logger.Error().Err(err).Str("outcome", outcome).Msg("batch failed")
		c.failAll(batch, batchID, failures.KindBatch, err)
		c.metrics.ObserveBatch(c.endpoint, outcome, len(batch), time.Since(start))
		return
	}

	found := c.distribute(batch, batchID, resp, logger)
	span.SetAttributes(attribute.Int("batch.found", found))
	c.metrics.ObserveBatch(c.endpoint, metrics.OutcomeSuccess, len(batch), time.Since(start))

	logger.Debug().
		Int("found", found).
		Dur("elapsed", time.Since(start)).
		Msg("batch completed")
}

// call encodes, posts and decodes. outcome is a metrics.Outcome* value.
func (c *Collector[T]) call(ctx context.Context, ids []string) (*endpoint.Response[T], string, error) {
	body, err := c.adapter.Encode(ids)
	if err != nil {
		return nil, metrics.OutcomeEncode, err
	}

	raw, err := c.poster.Post(ctx, c.adapter.Path(), body)
	if err != nil {
		return nil, metrics.OutcomeTransport, err
	}

	resp, err := c.adapter.Decode(raw)
	if err != nil {
		var remote *endpoint.RemoteError
		if errors.As(err, &remote) {
			return nil, metrics.OutcomeRemote, err
		}
		return nil, metrics.OutcomeDecode, err
	}
	if resp == nil {
		return nil, metrics.OutcomeDecode, &endpoint.DecodeError{Err: errors.New("adapter returned no response")}
	}
	return resp, metrics.OutcomeSuccess, nil
}

// distribute resolves each entry from the decoded response and returns how
// many received a value
func (c *Collector[T]) distribute(batch []queue.Entry[T], batchID string, resp *endpoint.Response[T], logger zerolog.Logger) int {
	found := 0
	for _, e := range batch {
		if v, ok := resp.Results[e.ID]; ok {
			c.deliver(e, batchID, v, true)
			c.metrics.ObserveRequest(c.endpoint, metrics.ResultFound)
			found++
			continue
		}

		if err, failed := resp.Failed[e.ID]; failed {
			logger.Warn().Err(err).Str("id", e.ID).Msg("result could not be decoded")
			c.record(e.ID, failures.KindElement, batchID, err)
			c.deliver(e, batchID, *new(T), false)
			c.metrics.ObserveRequest(c.endpoint, metrics.ResultFailed)
			continue
		}

		c.deliver(e, batchID, *new(T), false)
		c.metrics.ObserveRequest(c.endpoint, metrics.ResultAbsent)
	}

	if resp.Unmatched > 0 {
		logger.Warn().Int("unmatched", resp.Unmatched).Msg("response elements did not name a requested identifier")
	}
	return found
}

// failAll resolves every entry absent after a batch-wide failure
func (c *Collector[T]) failAll(batch []queue.Entry[T], batchID string, kind failures.Kind, err error) {
	for _, e := range batch {
		c.record(e.ID, kind, batchID, err)
		c.deliver(e, batchID, *new(T), false)
		c.metrics.ObserveRequest(c.endpoint, metrics.ResultFailed)
	}
}

// failUnresolved is failAll for a batch that may already be partly delivered
func (c *Collector[T]) failUnresolved(batch []queue.Entry[T], batchID string, err error) {
	for _, e := range batch {
		if e.Slot.Resolved() {
			continue
		}
		c.record(e.ID, failures.KindBatch, batchID, err)
		c.deliver(e, batchID, *new(T), false)
		c.metrics.ObserveRequest(c.endpoint, metrics.ResultFailed)
	}
}

func (c *Collector[T]) deliver(e queue.Entry[T], batchID string, v T, ok bool) {
	var err error
	if ok {
		err = e.Slot.Resolve(v)
	} else {
		err = e.Slot.Absent()
	}
	if errors.Is(err, slot.ErrAlreadyResolved) {
		c.metrics.DoubleResolution(c.endpoint)
		c.logger.Error().
			Str("id", e.ID).
			Str("batch", batchID).
			Msg("request already resolved, keeping first result")
	}
}

func (c *Collector[T]) record(id string, kind failures.Kind, batchID string, err error) {
	if c.failures != nil {
		c.failures.Record(id, kind, batchID, err)
	}
}
