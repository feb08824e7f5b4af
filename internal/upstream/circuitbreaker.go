package upstream

import (
	"sync"
	"time"
)

type cbState int

const (
	cbClosed cbState = iota
	cbOpen
	cbHalfOpen
)

func (s cbState) String() string {
	switch s {
	case cbOpen:
		return "open"
	case cbHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	Enabled             bool
	FailureThreshold    int
	RecoveryTimeout     time.Duration
	HalfOpenMaxRequests int
}

// CircuitBreaker fails bulk calls fast after consecutive endpoint failures
type CircuitBreaker struct {
	cfg             CircuitBreakerConfig
	state           cbState
	failures        int
	halfOpenSuccess int
	lastFailureAt   time.Time
	onChange        func(from, to string)
	now             func() time.Time
	mu              sync.Mutex
}

// NewCircuitBreaker creates a new CircuitBreaker.
// onChange, if set, is called outside the lock after every state transition.
func NewCircuitBreaker(cfg CircuitBreakerConfig, onChange func(from, to string)) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMaxRequests <= 0 {
		cfg.HalfOpenMaxRequests = 1
	}
	return &CircuitBreaker{
		cfg:      cfg,
		state:    cbClosed,
		onChange: onChange,
		now:      time.Now,
	}
}

// AllowRequest returns true if a bulk call may be sent
func (cb *CircuitBreaker) AllowRequest() bool {
	if !cb.cfg.Enabled {
		return true
	}
	cb.mu.Lock()
	from := cb.state
	allowed := true
	switch cb.state {
	case cbHalfOpen:
		allowed = cb.halfOpenSuccess < cb.cfg.HalfOpenMaxRequests
	case cbOpen:
		if cb.now().Sub(cb.lastFailureAt) >= cb.cfg.RecoveryTimeout {
			cb.state = cbHalfOpen
			cb.halfOpenSuccess = 0
		} else {
			allowed = false
		}
	}
	to := cb.state
	cb.mu.Unlock()

	cb.notify(from, to)
	return allowed
}

// RecordSuccess records a successful bulk call
func (cb *CircuitBreaker) RecordSuccess() {
	if !cb.cfg.Enabled {
		return
	}
	cb.mu.Lock()
	from := cb.state
	switch cb.state {
	case cbHalfOpen:
		cb.halfOpenSuccess++
		if cb.halfOpenSuccess >= cb.cfg.HalfOpenMaxRequests {
			cb.state = cbClosed
			cb.failures = 0
		}
	case cbClosed:
		cb.failures = 0
	}
	to := cb.state
	cb.mu.Unlock()

	cb.notify(from, to)
}

// RecordFailure records a failed bulk call
func (cb *CircuitBreaker) RecordFailure() {
	if !cb.cfg.Enabled {
		return
	}
	cb.mu.Lock()
	from := cb.state
	cb.lastFailureAt = cb.now()
	switch cb.state {
	case cbClosed:
		cb.failures++
		if cb.failures >= cb.cfg.FailureThreshold {
			cb.state = cbOpen
		}
	case cbHalfOpen:
		cb.state = cbOpen
		cb.halfOpenSuccess = 0
	}
	to := cb.state
	cb.mu.Unlock()

	cb.notify(from, to)
}

// State returns "closed", "open" or "half-open"
func (cb *CircuitBreaker) State() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state.String()
}

func (cb *CircuitBreaker) notify(from, to cbState) {
	if from != to && cb.onChange != nil {
		cb.onChange(from.String(), to.String())
	}
}
