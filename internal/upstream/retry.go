package upstream

import (
	"context"
	"errors"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RetryConfig holds retry configuration
type RetryConfig struct {
	MaxAttempts int // total attempts, including the first
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// IsRetryable reports whether a failed bulk call is worth repeating.
// Rate limiting, server errors and network failures are; client errors,
// cancellation and an open circuit are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code == http.StatusTooManyRequests || statusErr.Code >= 500
	}
	return true
}

// backoff returns the wait before retry number attempt (0-based).
// A Retry-After from the server wins over the exponential schedule.
func (r RetryConfig) backoff(attempt int, err error) time.Duration {
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.RetryAfter > 0 {
		return statusErr.RetryAfter
	}

	base := r.BaseDelay
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	d := base << attempt
	if r.MaxDelay > 0 && (d > r.MaxDelay || d <= 0) {
		d = r.MaxDelay
	}

	// Full jitter on the upper half
	half := d / 2
	if half > 0 {
		d = half + rand.N(half)
	}
	return d
}

// parseRetryAfter accepts delta-seconds (fractions allowed) or an HTTP date
func parseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
