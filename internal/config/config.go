package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads and parses the configuration file. Files ending in .yaml or
// .yml are read as YAML, anything else as JSON.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Default returns the configuration used when no file is given
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults sets default values for unset fields
func applyDefaults(cfg *Config) {
	cfg.Config.ApplyDefaults()
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Output == "" {
		cfg.Output = DefaultOutput
	}
}

// Validate checks the configuration for errors
func Validate(cfg *Config) error {
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[cfg.LogLevel] {
		return fmt.Errorf("logLevel must be one of: debug, info, warn, error")
	}

	switch cfg.Endpoint {
	case EndpointVEP, EndpointLookup, EndpointCDS, EndpointCDNA, EndpointGenomic:
	default:
		return fmt.Errorf("endpoint must be one of: vep, lookup, cds, cdna, genomic")
	}

	if cfg.Output != OutputJSON && cfg.Output != OutputYAML {
		return fmt.Errorf("output must be json or yaml")
	}

	if cfg.Concurrency < 0 {
		return fmt.Errorf("concurrency must be non-negative")
	}

	if cfg.StatsLogInterval < 0 {
		return fmt.Errorf("statsLogInterval must be non-negative")
	}

	return cfg.Config.Validate()
}

// GetStatsLogIntervalDuration returns stats log interval as time.Duration
func (c *Config) GetStatsLogIntervalDuration() time.Duration {
	return time.Duration(c.StatsLogInterval) * time.Millisecond
}
