// Package metrics exposes prometheus instruments for the batching engine
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Batch outcomes
const (
	OutcomeSuccess   = "success"
	OutcomeEncode    = "encode_error"
	OutcomeTransport = "transport_error"
	OutcomeDecode    = "decode_error"
	OutcomeRemote    = "remote_error"
	OutcomeShutdown  = "shutdown"
)

// Request results
const (
	ResultFound  = "found"
	ResultAbsent = "absent"
	ResultFailed = "failed"
)

// DefaultNamespace is used when none is given
const DefaultNamespace = "bulkgetter"

// Metrics holds the engine's counters and histograms
type Metrics struct {
	batchesTotal      *prometheus.CounterVec
	batchSize         *prometheus.HistogramVec
	batchDuration     *prometheus.HistogramVec
	requestsTotal     *prometheus.CounterVec
	queueWait         *prometheus.HistogramVec
	doubleResolutions *prometheus.CounterVec
}

// New creates the instruments and registers them with reg.
// A nil reg leaves them unregistered; they still count.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	m := &Metrics{
		batchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batches_total",
				Help:      "Bulk calls issued, by outcome",
			},
			[]string{"endpoint", "outcome"},
		),
		batchSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "batch_size",
				Help:      "Identifiers per bulk call",
				Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 200, 500, 1000},
			},
			[]string{"endpoint"},
		),
		batchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "batch_duration_seconds",
				Help:      "Time from drain to resolution of a batch",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Individual requests resolved, by result",
			},
			[]string{"endpoint", "result"},
		),
		queueWait: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "queue_wait_seconds",
				Help:      "Time a request spent queued before its batch was drained",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"endpoint"},
		),
		doubleResolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "double_resolutions_total",
				Help:      "Attempts to resolve an already resolved request",
			},
			[]string{"endpoint"},
		),
	}

	if reg == nil {
		return m
	}

	m.batchesTotal = register(reg, m.batchesTotal)
	m.batchSize = register(reg, m.batchSize)
	m.batchDuration = register(reg, m.batchDuration)
	m.requestsTotal = register(reg, m.requestsTotal)
	m.queueWait = register(reg, m.queueWait)
	m.doubleResolutions = register(reg, m.doubleResolutions)
	return m
}

// register adds c to reg, reusing an identical collector registered earlier
// by another getter on the same registry
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

// ObserveBatch records one finished bulk call
func (m *Metrics) ObserveBatch(endpoint, outcome string, size int, elapsed time.Duration) {
	m.batchesTotal.WithLabelValues(endpoint, outcome).Inc()
	m.batchSize.WithLabelValues(endpoint).Observe(float64(size))
	m.batchDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

// ObserveRequest records the result delivered to one caller
func (m *Metrics) ObserveRequest(endpoint, result string) {
	m.requestsTotal.WithLabelValues(endpoint, result).Inc()
}

// ObserveQueueWait records how long a request waited before being drained
func (m *Metrics) ObserveQueueWait(endpoint string, wait time.Duration) {
	m.queueWait.WithLabelValues(endpoint).Observe(wait.Seconds())
}

// DoubleResolution records an invariant violation on a request slot
func (m *Metrics) DoubleResolution(endpoint string) {
	m.doubleResolutions.WithLabelValues(endpoint).Inc()
}

// BatchCount returns the counter for endpoint/outcome, used by tests and status logs
func (m *Metrics) BatchCount(endpoint, outcome string) prometheus.Counter {
	return m.batchesTotal.WithLabelValues(endpoint, outcome)
}

// RequestCount returns the counter for endpoint/result
func (m *Metrics) RequestCount(endpoint, result string) prometheus.Counter {
	return m.requestsTotal.WithLabelValues(endpoint, result)
}

// DoubleResolutionCount returns the double resolution counter for endpoint
func (m *Metrics) DoubleResolutionCount(endpoint string) prometheus.Counter {
	return m.doubleResolutions.WithLabelValues(endpoint)
}
