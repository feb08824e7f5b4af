package upstream

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// ErrCircuitOpen is returned while the circuit breaker rejects calls
var ErrCircuitOpen = errors.New("circuit breaker open")

// Poster sends one bulk request body and returns the response body
type Poster interface {
	Post(ctx context.Context, path string, body []byte) ([]byte, error)
}

// PosterFunc adapts a function to Poster
type PosterFunc func(ctx context.Context, path string, body []byte) ([]byte, error)

// Post implements Poster
func (f PosterFunc) Post(ctx context.Context, path string, body []byte) ([]byte, error) {
	return f(ctx, path, body)
}

// StatusError is returned for non-2xx responses
type StatusError struct {
	Code       int
	Body       string
	RetryAfter time.Duration // zero when the server did not say
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP error %d: %s", e.Code, e.Body)
}

// Status holds the request counters of an upstream
type Status struct {
	requests atomic.Uint64
	failures atomic.Uint64
	retries  atomic.Uint64
	rejected atomic.Uint64
}

// Stats is a point-in-time copy of Status
type Stats struct {
	Requests uint64 // HTTP calls made
	Failures uint64 // calls that ended in an error
	Retries  uint64 // calls repeated after a retryable error
	Rejected uint64 // calls refused by the circuit breaker
}

// NewStatus creates a new Status
func NewStatus() *Status {
	return &Status{}
}

// IncrementRequestCount increments the request counter
func (s *Status) IncrementRequestCount() {
	s.requests.Add(1)
}

// IncrementFailureCount increments the failure counter
func (s *Status) IncrementFailureCount() {
	s.failures.Add(1)
}

// IncrementRetryCount increments the retry counter
func (s *Status) IncrementRetryCount() {
	s.retries.Add(1)
}

// IncrementRejectedCount increments the circuit breaker rejection counter
func (s *Status) IncrementRejectedCount() {
	s.rejected.Add(1)
}

// Snapshot returns the current counters
func (s *Status) Snapshot() Stats {
	return Stats{
		Requests: s.requests.Load(),
		Failures: s.failures.Load(),
		Retries:  s.retries.Load(),
		Rejected: s.rejected.Load(),
	}
}
