package upstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const (
	tracerName = "bulkgetter/upstream"

	// maxErrorBody bounds how much of a failed response is kept in StatusError
	maxErrorBody = 4 << 10
)

// Upstream posts bulk requests to a single HTTP service
type Upstream struct {
	name    string
	baseURL string

	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *CircuitBreaker
	retry      RetryConfig
	tracer     trace.Tracer
	status     *Status
	logger     zerolog.Logger
}

// Config for creating a new Upstream
type Config struct {
	Name              string
	BaseURL           string
	RequestsPerSecond float64 // <= 0 disables rate limiting
	Retry             RetryConfig
	CircuitBreaker    CircuitBreakerConfig
	HTTPClient        *http.Client // nil builds a pooled client
	TracerProvider    trace.TracerProvider
	Logger            zerolog.Logger
}

// NewUpstream creates a new Upstream instance
func NewUpstream(cfg Config) *Upstream {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		transport := &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
			IdleConnTimeout:     90 * time.Second,
		}
		// Per-call deadlines come from the batch context
		httpClient = &http.Client{Transport: transport}
	}

	limit := rate.Inf
	burst := 1
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
		burst = max(1, int(cfg.RequestsPerSecond))
	}

	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	name := cfg.Name
	if name == "" {
		name = cfg.BaseURL
	}
	logger := cfg.Logger.With().Str("upstream", name).Logger()

	u := &Upstream{
		name:       name,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
		limiter:    rate.NewLimiter(limit, burst),
		retry:      cfg.Retry,
		tracer:     tp.Tracer(tracerName),
		status:     NewStatus(),
		logger:     logger,
	}
	u.breaker = NewCircuitBreaker(cfg.CircuitBreaker, func(from, to string) {
		u.logger.Warn().Str("from", from).Str("to", to).Msg("circuit breaker state changed")
	})
	return u
}

// Name returns the upstream name
func (u *Upstream) Name() string {
	return u.name
}

// BaseURL returns the service root all paths are appended to
func (u *Upstream) BaseURL() string {
	return u.baseURL
}

// Stats returns a snapshot of the request counters
func (u *Upstream) Stats() Stats {
	return u.status.Snapshot()
}

// BreakerState returns the circuit breaker state
func (u *Upstream) BreakerState() string {
	return u.breaker.State()
}

// Post sends body to path, retrying transient failures, and returns the
// response body of the first successful attempt
func (u *Upstream) Post(ctx context.Context, path string, body []byte) ([]byte, error) {
	url := u.baseURL + path

	ctx, span := u.tracer.Start(ctx, "POST "+path,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", http.MethodPost),
			attribute.String("url.full", url),
			attribute.Int("http.request.body.size", len(body)),
		),
	)
	defer span.End()

	respBody, attempts, err := u.executeWithRetry(ctx, url, body)
	span.SetAttributes(attribute.Int("bulk.attempts", attempts))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("http.response.body.size", len(respBody)))
	return respBody, nil
}

func (u *Upstream) executeWithRetry(ctx context.Context, url string, body []byte) ([]byte, int, error) {
	maxAttempts := u.retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := u.retry.backoff(attempt-1, lastErr)
			u.status.IncrementRetryCount()
			u.logger.Warn().
				Int("attempt", attempt+1).
				Int("maxAttempts", maxAttempts).
				Dur("delay", delay).
				Err(lastErr).
				Str("url", url).
				Msg("bulk request failed, retrying")

			if err := sleepContext(ctx, delay); err != nil {
				return nil, attempt, fmt.Errorf("retry aborted: %w", errors.Join(lastErr, err))
			}
		}

		if !u.breaker.AllowRequest() {
			u.status.IncrementRejectedCount()
			return nil, attempt, ErrCircuitOpen
		}

		if err := u.limiter.Wait(ctx); err != nil {
			return nil, attempt, fmt.Errorf("rate limiter: %w", err)
		}

		respBody, err := u.executeOnce(ctx, url, body)
		if err == nil {
			u.breaker.RecordSuccess()
			return respBody, attempt + 1, nil
		}

		u.status.IncrementFailureCount()
		lastErr = err

		if !IsRetryable(err) {
			// A client error still proves the endpoint is reachable
			var statusErr *StatusError
			if errors.As(err, &statusErr) {
				u.breaker.RecordSuccess()
			}
			return nil, attempt + 1, err
		}
		u.breaker.RecordFailure()
	}

	if maxAttempts > 1 {
		return nil, maxAttempts, fmt.Errorf("after %d attempts: %w", maxAttempts, lastErr)
	}
	return nil, maxAttempts, lastErr
}

// executeOnce performs a single HTTP POST
func (u *Upstream) executeOnce(ctx context.Context, url string, body []byte) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := u.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	u.status.IncrementRequestCount()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{
			Code:       resp.StatusCode,
			Body:       strings.TrimSpace(string(errBody)),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return respBody, nil
}

// Close releases idle connections
func (u *Upstream) Close() {
	u.httpClient.CloseIdleConnections()
}
