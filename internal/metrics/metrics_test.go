package metrics

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var namespaceSeq uint64

func nextNamespace() string {
	return fmt.Sprintf("test_%d", atomic.AddUint64(&namespaceSeq, 1))
}

func TestMetrics_ObserveBatch(t *testing.T) {
	m := New(nextNamespace(), nil)

	m.ObserveBatch("/vep", OutcomeSuccess, 10, 50*time.Millisecond)
	m.ObserveBatch("/vep", OutcomeSuccess, 5, 20*time.Millisecond)
	m.ObserveBatch("/vep", OutcomeTransport, 3, time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.BatchCount("/vep", OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BatchCount("/vep", OutcomeTransport)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.BatchCount("/lookup", OutcomeSuccess)))
}

func TestMetrics_Requests(t *testing.T) {
	m := New(nextNamespace(), nil)

	m.ObserveRequest("/vep", ResultFound)
	m.ObserveRequest("/vep", ResultAbsent)
	m.ObserveRequest("/vep", ResultAbsent)
	m.DoubleResolution("/vep")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestCount("/vep", ResultFound)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RequestCount("/vep", ResultAbsent)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DoubleResolutionCount("/vep")))
}

func TestMetrics_SharedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	ns := nextNamespace()

	first := New(ns, reg)
	second := New(ns, reg)

	first.ObserveBatch("/vep", OutcomeSuccess, 1, time.Millisecond)
	second.ObserveBatch("/vep", OutcomeSuccess, 1, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(first.BatchCount("/vep", OutcomeSuccess)))

	count, err := testutil.GatherAndCount(reg, ns+"_batches_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
