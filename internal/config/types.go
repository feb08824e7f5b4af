package config

import "bulkgetter/getter"

// Endpoint names one of the ready-made Ensembl adapters
type Endpoint string

const (
	EndpointVEP     Endpoint = "vep"
	EndpointLookup  Endpoint = "lookup"
	EndpointCDS     Endpoint = "cds"
	EndpointCDNA    Endpoint = "cdna"
	EndpointGenomic Endpoint = "genomic"
)

// Output formats for fetched results
const (
	OutputJSON = "json"
	OutputYAML = "yaml"
)

// Config represents the ensemblfetch configuration. Getter settings sit at
// the top level of the file next to the command's own.
type Config struct {
	getter.Config `yaml:",inline"`

	LogLevel         string   `json:"logLevel" yaml:"logLevel"`
	Endpoint         Endpoint `json:"endpoint" yaml:"endpoint"`
	Output           string   `json:"output" yaml:"output"`
	Concurrency      int      `json:"concurrency" yaml:"concurrency"`           // goroutines issuing Fetch calls, 0 is unlimited
	StatsLogInterval int      `json:"statsLogInterval" yaml:"statsLogInterval"` // ms, 0 disables
	MetricsAddr      string   `json:"metricsAddr" yaml:"metricsAddr"`           // serve /metrics here when set
}

// Default values
const (
	DefaultLogLevel = "info"
	DefaultEndpoint = EndpointVEP
	DefaultOutput   = OutputJSON
)
