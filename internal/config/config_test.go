package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bulkgetter/getter"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_JSON(t *testing.T) {
	path := writeFile(t, "config.json", `{
		"logLevel": "debug",
		"endpoint": "lookup",
		"baseUrl": "http://localhost:8080",
		"maxBatchSize": 200,
		"pollInterval": 250,
		"circuitBreaker": {"enabled": true},
		"flushOnClose": true
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, EndpointLookup, cfg.Endpoint)
	assert.Equal(t, "http://localhost:8080", cfg.BaseURL)
	assert.Equal(t, 200, cfg.MaxBatchSize)
	assert.Equal(t, 250, cfg.PollInterval)
	assert.True(t, cfg.FlushOnClose)
	require.NotNil(t, cfg.CircuitBreaker)
	assert.True(t, cfg.IsCircuitBreakerEnabled())
	assert.Equal(t, getter.DefaultFailureThreshold, cfg.CircuitBreaker.FailureThreshold)

	// untouched fields get defaults
	assert.Equal(t, getter.DefaultBatchTimeout, cfg.BatchTimeout)
	assert.Equal(t, DefaultOutput, cfg.Output)
	assert.Zero(t, cfg.Concurrency)
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
logLevel: warn
endpoint: cds
output: yaml
requestsPerSecond: 5
retryMaxAttempts: 1
statsLogInterval: 10000
failureLedgerTtl: 60
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, EndpointCDS, cfg.Endpoint)
	assert.Equal(t, OutputYAML, cfg.Output)
	assert.Equal(t, 5.0, cfg.RequestsPerSecond)
	assert.Equal(t, 1, cfg.RetryMaxAttempts)
	assert.Equal(t, "10s", cfg.GetStatsLogIntervalDuration().String())
	assert.Equal(t, "1m0s", cfg.GetFailureLedgerTTLDuration().String())
	assert.Equal(t, getter.DefaultBaseURL, cfg.BaseURL)
	assert.Equal(t, getter.DefaultPollInterval, cfg.PollInterval)
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, DefaultLogLevel, cfg.LogLevel)
	assert.Equal(t, EndpointVEP, cfg.Endpoint)
	assert.Equal(t, getter.DefaultBaseURL, cfg.BaseURL)
	assert.NoError(t, Validate(cfg))
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{"log level", `{"logLevel": "trace"}`, "logLevel"},
		{"endpoint", `{"endpoint": "overlap"}`, "endpoint"},
		{"output", `{"output": "csv"}`, "output"},
		{"concurrency", `{"concurrency": -1}`, "concurrency"},
		{"getter setting", `{"baseUrl": "ftp://example.org"}`, "baseUrl"},
		{"batch size", `{"maxBatchSize": -3}`, "maxBatchSize"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, "config.json", tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid config")
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")

	_, err = Load(writeFile(t, "config.json", `{not json`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config")

	_, err = Load(writeFile(t, "config.yml", "logLevel: [unterminated"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config")
}
