package getter

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Config controls how requests are coalesced and sent.
// Durations are integers in milliseconds unless noted, as in config files.
type Config struct {
	BaseURL           string                `json:"baseUrl" yaml:"baseUrl"`
	MaxBatchSize      int                   `json:"maxBatchSize" yaml:"maxBatchSize"`           // 0 uses the endpoint's limit
	PollInterval      int                   `json:"pollInterval" yaml:"pollInterval"`           // ms
	BatchTimeout      int                   `json:"batchTimeout" yaml:"batchTimeout"`           // ms, per bulk call including retries
	RequestsPerSecond float64               `json:"requestsPerSecond" yaml:"requestsPerSecond"` // negative disables
	RetryMaxAttempts  int                   `json:"retryMaxAttempts" yaml:"retryMaxAttempts"`
	RetryBaseDelay    int                   `json:"retryBaseDelay" yaml:"retryBaseDelay"` // ms
	RetryMaxDelay     int                   `json:"retryMaxDelay" yaml:"retryMaxDelay"`   // ms
	CircuitBreaker    *CircuitBreakerConfig `json:"circuitBreaker,omitempty" yaml:"circuitBreaker,omitempty"`
	FlushOnClose      bool                  `json:"flushOnClose" yaml:"flushOnClose"`
	FailureLedgerSize int                   `json:"failureLedgerSize" yaml:"failureLedgerSize"`
	FailureLedgerTTL  int                   `json:"failureLedgerTtl" yaml:"failureLedgerTtl"` // seconds
	MetricsNamespace  string                `json:"metricsNamespace" yaml:"metricsNamespace"`
}

// CircuitBreakerConfig represents circuit breaker configuration
type CircuitBreakerConfig struct {
	Enabled          bool `json:"enabled" yaml:"enabled"`
	FailureThreshold int  `json:"failureThreshold" yaml:"failureThreshold"`
	RecoveryTimeout  int  `json:"recoveryTimeout" yaml:"recoveryTimeout"` // ms
}

// Default values
const (
	DefaultBaseURL           = "https://rest.ensembl.org"
	DefaultPollInterval      = 500   // ms
	DefaultBatchTimeout      = 30000 // ms
	DefaultRequestsPerSecond = 15.0  // Ensembl's published limit
	DefaultRetryMaxAttempts  = 3
	DefaultRetryBaseDelay    = 500   // ms
	DefaultRetryMaxDelay     = 10000 // ms
	DefaultFailureThreshold  = 5
	DefaultRecoveryTimeout   = 30000 // ms
	DefaultFailureLedgerSize = 256
	DefaultFailureLedgerTTL  = 600 // s
)

// DefaultConfig returns a Config with every default applied
func DefaultConfig() Config {
	var cfg Config
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults sets default values for unset fields
func (c *Config) ApplyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.PollInterval == 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.BatchTimeout == 0 {
		c.BatchTimeout = DefaultBatchTimeout
	}
	if c.RequestsPerSecond == 0 {
		c.RequestsPerSecond = DefaultRequestsPerSecond
	}
	if c.RetryMaxAttempts == 0 {
		c.RetryMaxAttempts = DefaultRetryMaxAttempts
	}
	if c.RetryBaseDelay == 0 {
		c.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if c.RetryMaxDelay == 0 {
		c.RetryMaxDelay = DefaultRetryMaxDelay
	}
	if c.CircuitBreaker != nil {
		if c.CircuitBreaker.FailureThreshold == 0 {
			c.CircuitBreaker.FailureThreshold = DefaultFailureThreshold
		}
		if c.CircuitBreaker.RecoveryTimeout == 0 {
			c.CircuitBreaker.RecoveryTimeout = DefaultRecoveryTimeout
		}
	}
	if c.FailureLedgerSize == 0 {
		c.FailureLedgerSize = DefaultFailureLedgerSize
	}
	if c.FailureLedgerTTL == 0 {
		c.FailureLedgerTTL = DefaultFailureLedgerTTL
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return errors.New("baseUrl is required")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("baseUrl: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("baseUrl must be http or https, got %q", c.BaseURL)
	}
	if c.MaxBatchSize < 0 {
		return fmt.Errorf("maxBatchSize must be non-negative")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("pollInterval must be positive")
	}
	if c.BatchTimeout < 0 {
		return fmt.Errorf("batchTimeout must be non-negative")
	}
	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("retryMaxAttempts must be at least 1")
	}
	if c.RetryBaseDelay < 0 || c.RetryMaxDelay < 0 {
		return fmt.Errorf("retry delays must be non-negative")
	}
	if c.CircuitBreaker != nil && c.CircuitBreaker.Enabled {
		if c.CircuitBreaker.FailureThreshold < 1 {
			return fmt.Errorf("circuitBreaker.failureThreshold must be positive")
		}
		if c.CircuitBreaker.RecoveryTimeout < 0 {
			return fmt.Errorf("circuitBreaker.recoveryTimeout must be non-negative")
		}
	}
	if c.FailureLedgerSize < 0 {
		return fmt.Errorf("failureLedgerSize must be non-negative")
	}
	return nil
}

// GetPollIntervalDuration returns poll interval as time.Duration
func (c *Config) GetPollIntervalDuration() time.Duration {
	return time.Duration(c.PollInterval) * time.Millisecond
}

// GetBatchTimeoutDuration returns batch timeout as time.Duration
func (c *Config) GetBatchTimeoutDuration() time.Duration {
	return time.Duration(c.BatchTimeout) * time.Millisecond
}

// GetRetryBaseDelayDuration returns the first retry delay as time.Duration
func (c *Config) GetRetryBaseDelayDuration() time.Duration {
	return time.Duration(c.RetryBaseDelay) * time.Millisecond
}

// GetRetryMaxDelayDuration returns the retry delay cap as time.Duration
func (c *Config) GetRetryMaxDelayDuration() time.Duration {
	return time.Duration(c.RetryMaxDelay) * time.Millisecond
}

// GetFailureLedgerTTLDuration returns failure ledger TTL as time.Duration
func (c *Config) GetFailureLedgerTTLDuration() time.Duration {
	return time.Duration(c.FailureLedgerTTL) * time.Second
}

// IsCircuitBreakerEnabled returns true if the circuit breaker is configured and enabled
func (c *Config) IsCircuitBreakerEnabled() bool {
	return c.CircuitBreaker != nil && c.CircuitBreaker.Enabled
}

// GetRecoveryTimeoutDuration returns the breaker recovery timeout as time.Duration
func (c *CircuitBreakerConfig) GetRecoveryTimeoutDuration() time.Duration {
	return time.Duration(c.RecoveryTimeout) * time.Millisecond
}
