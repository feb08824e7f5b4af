// Package getter coalesces single-identifier lookups into bulk requests.
//
// Many goroutines ask for one result each through a Client. A background
// collector gathers the pending identifiers, sends them to the bulk endpoint
// in one POST, and hands every caller its own result, or absence when the
// service had nothing for it or the call failed.
package getter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"bulkgetter/endpoint"
	"bulkgetter/internal/collector"
	"bulkgetter/internal/failures"
	"bulkgetter/internal/metrics"
	"bulkgetter/internal/queue"
	"bulkgetter/internal/upstream"
)

// Getter owns the queue and collector for one bulk endpoint
type Getter[T any] struct {
	queue     *queue.Queue[T]
	collector *collector.Collector[T]
	upstream  *upstream.Upstream // nil when a custom Poster is used
	failures  *failures.Ledger
	metrics   *metrics.Metrics
	client    *Client[T]
	logger    zerolog.Logger

	closeOnce sync.Once
	closeErr  error
}

// Stats is a point-in-time view of a Getter
type Stats struct {
	Pending      int
	MaxBatchSize int
	Requests     uint64 // HTTP attempts
	Failures     uint64
	Retries      uint64
	Rejected     uint64 // refused by the circuit breaker
	BreakerState string
}

// Failure describes the latest failure recorded for one identifier
type Failure struct {
	ID      string
	Kind    string
	BatchID string
	Err     string
	At      time.Time
	Count   int
}

// New validates cfg and starts a collector for adapter's endpoint
func New[T any](adapter endpoint.Adapter[T], cfg Config, opts ...Option) (*Getter[T], error) {
	if adapter == nil {
		return nil, fmt.Errorf("adapter is required")
	}

	o := options{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := o.logger.With().Str("component", "getter").Str("endpoint", adapter.Path()).Logger()

	batchSize := adapter.MaxBatchSize()
	if cfg.MaxBatchSize > 0 {
		if batchSize > 0 && cfg.MaxBatchSize > batchSize {
			logger.Warn().
				Int("requested", cfg.MaxBatchSize).
				Int("limit", batchSize).
				Msg("maxBatchSize exceeds endpoint limit, clamping")
		} else {
			batchSize = cfg.MaxBatchSize
		}
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("adapter for %s reports no batch size", adapter.Path())
	}

	ledger, err := failures.NewLedger(cfg.FailureLedgerSize, cfg.GetFailureLedgerTTLDuration())
	if err != nil {
		return nil, fmt.Errorf("failed to create failure ledger: %w", err)
	}

	m := metrics.New(cfg.MetricsNamespace, o.registerer)

	g := &Getter[T]{
		failures: ledger,
		metrics:  m,
		logger:   logger,
	}

	var poster upstream.Poster = o.poster
	if poster == nil {
		g.upstream = upstream.NewUpstream(upstream.Config{
			Name:              adapter.Path(),
			BaseURL:           cfg.BaseURL,
			RequestsPerSecond: cfg.RequestsPerSecond,
			Retry: upstream.RetryConfig{
				MaxAttempts: cfg.RetryMaxAttempts,
				BaseDelay:   cfg.GetRetryBaseDelayDuration(),
				MaxDelay:    cfg.GetRetryMaxDelayDuration(),
			},
			CircuitBreaker: breakerConfig(&cfg),
			HTTPClient:     o.httpClient,
			TracerProvider: o.tracerProvider,
			Logger:         o.logger,
		})
		poster = g.upstream
	}

	g.queue = queue.New[T](batchSize)
	g.collector = collector.New(g.queue, adapter, poster, collector.Config{
		MaxBatchSize: batchSize,
		PollInterval: cfg.GetPollIntervalDuration(),
		BatchTimeout: cfg.GetBatchTimeoutDuration(),
		FlushOnClose: cfg.FlushOnClose,
	}, collector.Deps{
		Metrics:        m,
		Failures:       ledger,
		TracerProvider: o.tracerProvider,
		Logger:         o.logger,
	})
	g.client = &Client[T]{
		queue:    g.queue,
		metrics:  m,
		failures: ledger,
		endpoint: adapter.Path(),
	}

	g.collector.Start()
	logger.Info().
		Str("baseUrl", cfg.BaseURL).
		Int("maxBatchSize", batchSize).
		Dur("pollInterval", cfg.GetPollIntervalDuration()).
		Msg("getter started")

	return g, nil
}

func breakerConfig(cfg *Config) upstream.CircuitBreakerConfig {
	if !cfg.IsCircuitBreakerEnabled() {
		return upstream.CircuitBreakerConfig{}
	}
	return upstream.CircuitBreakerConfig{
		Enabled:          true,
		FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
		RecoveryTimeout:  cfg.CircuitBreaker.GetRecoveryTimeoutDuration(),
	}
}

// Client returns a handle for submitting requests. Clients are cheap and
// safe for concurrent use.
func (g *Getter[T]) Client() *Client[T] {
	return g.client
}

// Close stops accepting requests and shuts the collector down. Queued
// requests resolve absent, or are sent first when FlushOnClose is set.
// If ctx expires, in-flight calls are abandoned and ctx.Err() is returned.
// Later calls return the first call's result.
func (g *Getter[T]) Close(ctx context.Context) error {
	g.closeOnce.Do(func() {
		g.logger.Info().Int("pending", g.queue.Len()).Msg("closing getter")
		g.closeErr = g.collector.Stop(ctx)
		if g.upstream != nil {
			g.upstream.Close()
		}
		if g.closeErr != nil {
			g.logger.Warn().Err(g.closeErr).Msg("getter closed before in-flight batches finished")
			return
		}
		g.logger.Info().Msg("getter closed")
	})
	return g.closeErr
}

// Pending returns the number of queued requests not yet taken by a batch
func (g *Getter[T]) Pending() int {
	return g.queue.Len()
}

// RecentFailures returns failed identifiers, newest first
func (g *Getter[T]) RecentFailures() []Failure {
	recs := g.failures.Recent()
	out := make([]Failure, 0, len(recs))
	for _, r := range recs {
		out = append(out, Failure{
			ID:      r.ID,
			Kind:    string(r.Kind),
			BatchID: r.BatchID,
			Err:     r.Err,
			At:      r.At,
			Count:   r.Count,
		})
	}
	return out
}

// Stats returns queue and transport counters
func (g *Getter[T]) Stats() Stats {
	s := Stats{
		Pending:      g.queue.Len(),
		MaxBatchSize: g.collector.MaxBatchSize(),
	}
	if g.upstream != nil {
		us := g.upstream.Stats()
		s.Requests = us.Requests
		s.Failures = us.Failures
		s.Retries = us.Retries
		s.Rejected = us.Rejected
		s.BreakerState = g.upstream.BreakerState()
	}
	return s
}
