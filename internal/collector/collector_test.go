package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bulkgetter/endpoint"
	"bulkgetter/internal/failures"
	"bulkgetter/internal/metrics"
	"bulkgetter/internal/queue"
	"bulkgetter/internal/slot"
	"bulkgetter/internal/upstream"
)

type valueResult struct {
	Value any `json:"value"`
}

func testAdapter() *endpoint.JSON[valueResult] {
	return &endpoint.JSON[valueResult]{Endpoint: "/test", IDsKey: "ids", MaxBatch: 10}
}

// recordingPoster answers each call with respond and remembers the batches it saw
type recordingPoster struct {
	mu      sync.Mutex
	batches [][]string
	respond func(ctx context.Context, ids []string) ([]byte, error)
}

func (p *recordingPoster) Post(ctx context.Context, path string, body []byte) ([]byte, error) {
	var req struct {
		IDs []string `json:"ids"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.batches = append(p.batches, req.IDs)
	p.mu.Unlock()
	return p.respond(ctx, req.IDs)
}

func (p *recordingPoster) Batches() [][]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]string, len(p.batches))
	copy(out, p.batches)
	return out
}

// echo returns {"id": {"value": "id"}} for every identifier
func echo(_ context.Context, ids []string) ([]byte, error) {
	out := make(map[string]valueResult, len(ids))
	for _, id := range ids {
		out[id] = valueResult{Value: id}
	}
	return json.Marshal(out)
}

type harness struct {
	queue     *queue.Queue[valueResult]
	collector *Collector[valueResult]
	poster    *recordingPoster
	metrics   *metrics.Metrics
	ledger    *failures.Ledger
}

func newHarness(t *testing.T, cfg Config, respond func(context.Context, []string) ([]byte, error)) *harness {
	t.Helper()
	return newHarnessWithAdapter(t, cfg, testAdapter(), respond)
}

func newHarnessWithAdapter(t *testing.T, cfg Config, adapter endpoint.Adapter[valueResult], respond func(context.Context, []string) ([]byte, error)) *harness {
	t.Helper()
	ledger, err := failures.NewLedger(100, time.Minute)
	require.NoError(t, err)

	if cfg.MaxBatchSize == 0 {
		cfg.MaxBatchSize = adapter.MaxBatchSize()
	}
	h := &harness{
		queue:   queue.New[valueResult](cfg.MaxBatchSize),
		poster:  &recordingPoster{respond: respond},
		metrics: metrics.New("", nil),
		ledger:  ledger,
	}
	h.collector = New[valueResult](h.queue, adapter, h.poster, cfg, Deps{
		Metrics:  h.metrics,
		Failures: ledger,
		Logger:   zerolog.Nop(),
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = h.collector.Stop(ctx)
	})
	return h
}

func (h *harness) push(t *testing.T, id string) *slot.Future[valueResult] {
	t.Helper()
	p, f := slot.New[valueResult]()
	require.NoError(t, h.queue.Push(queue.Entry[valueResult]{ID: id, Slot: p}))
	return f
}

func await(t *testing.T, f *slot.Future[valueResult]) (valueResult, bool) {
	t.Helper()
	select {
	case <-f.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("request never resolved")
	}
	return f.Await(context.Background())
}

func TestCollector_SingleCallForConcurrentRequests(t *testing.T) {
	h := newHarness(t, Config{PollInterval: 50 * time.Millisecond}, func(context.Context, []string) ([]byte, error) {
		return []byte(`{"X1": {"value": 1}, "X2": null}`), nil
	})

	f1 := h.push(t, "X1")
	f2 := h.push(t, "X2")
	h.collector.Start()

	v, ok := await(t, f1)
	assert.True(t, ok)
	assert.EqualValues(t, 1, v.Value)

	_, ok = await(t, f2)
	assert.False(t, ok)

	assert.Equal(t, [][]string{{"X1", "X2"}}, h.poster.Batches())
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(h.metrics.BatchCount("/test", metrics.OutcomeSuccess)) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestCollector_BacklogSplitsIntoMaxSizedBatches(t *testing.T) {
	h := newHarness(t, Config{PollInterval: time.Hour}, echo)

	futures := make(map[string]*slot.Future[valueResult])
	for i := 0; i < 25; i++ {
		id := fmt.Sprintf("id%02d", i)
		futures[id] = h.push(t, id)
	}
	h.collector.Start()

	for id, f := range futures {
		v, ok := await(t, f)
		require.True(t, ok)
		assert.Equal(t, id, v.Value)
	}

	batches := h.poster.Batches()
	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 10)
	assert.Len(t, batches[1], 10)
	assert.Len(t, batches[2], 5)
	assert.Equal(t, "id00", batches[0][0])
	assert.Equal(t, "id24", batches[2][4])
}

func TestCollector_Correlation(t *testing.T) {
	h := newHarness(t, Config{PollInterval: 5 * time.Millisecond}, echo)
	h.collector.Start()

	const callers = 300
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("variant-%d", i)
			p, f := slot.New[valueResult]()
			if err := h.queue.Push(queue.Entry[valueResult]{ID: id, Slot: p}); err != nil {
				t.Error(err)
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			v, ok := f.Await(ctx)
			if !ok || v.Value != id {
				t.Errorf("caller %s got (%v, %v)", id, v.Value, ok)
			}
		}(i)
	}
	wg.Wait()

	for _, b := range h.poster.Batches() {
		assert.LessOrEqual(t, len(b), 10)
	}
}

func TestCollector_TransportFailureResolvesEveryone(t *testing.T) {
	h := newHarness(t, Config{PollInterval: 10 * time.Millisecond}, func(context.Context, []string) ([]byte, error) {
		return nil, &upstream.StatusError{Code: 503, Body: "down"}
	})

	futures := []*slot.Future[valueResult]{h.push(t, "A"), h.push(t, "B"), h.push(t, "C")}
	h.collector.Start()

	for _, f := range futures {
		_, ok := await(t, f)
		assert.False(t, ok)
	}

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(h.metrics.BatchCount("/test", metrics.OutcomeTransport)) == 1
	}, time.Second, 5*time.Millisecond)
	rec, ok := h.ledger.Get("B")
	require.True(t, ok)
	assert.Equal(t, failures.KindBatch, rec.Kind)
	assert.Contains(t, rec.Err, "503")
}

func TestCollector_FailureIsNotFatal(t *testing.T) {
	var calls int
	var mu sync.Mutex
	h := newHarness(t, Config{PollInterval: 5 * time.Millisecond}, func(ctx context.Context, ids []string) ([]byte, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			return []byte(`not json`), nil
		}
		return echo(ctx, ids)
	})
	h.collector.Start()

	_, ok := await(t, h.push(t, "first"))
	assert.False(t, ok)

	v, ok := await(t, h.push(t, "second"))
	assert.True(t, ok)
	assert.Equal(t, "second", v.Value)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.BatchCount("/test", metrics.OutcomeDecode)))
}

func TestCollector_RemoteErrorPayload(t *testing.T) {
	h := newHarness(t, Config{PollInterval: 5 * time.Millisecond}, func(context.Context, []string) ([]byte, error) {
		return []byte(`{"error": "Too many requests"}`), nil
	})
	f := h.push(t, "A")
	h.collector.Start()

	_, ok := await(t, f)
	assert.False(t, ok)
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(h.metrics.BatchCount("/test", metrics.OutcomeRemote)) == 1
	}, time.Second, 5*time.Millisecond)
}

type strictResult struct {
	Value int `json:"value"`
}

func TestCollector_ElementIsolation(t *testing.T) {
	adapter := &endpoint.JSON[strictResult]{Endpoint: "/strict", IDsKey: "ids"}
	ledger, err := failures.NewLedger(10, time.Minute)
	require.NoError(t, err)

	q := queue.New[strictResult](10)
	poster := upstream.PosterFunc(func(context.Context, string, []byte) ([]byte, error) {
		return []byte(`{"A": {"value": 1}, "B": {"value": "broken"}, "C": {"value": 3}}`), nil
	})
	c := New[strictResult](q, adapter, poster, Config{PollInterval: 5 * time.Millisecond}, Deps{Failures: ledger, Logger: zerolog.Nop()})
	defer func() { _ = c.Stop(context.Background()) }()

	futures := make(map[string]*slot.Future[strictResult])
	for _, id := range []string{"A", "B", "C"} {
		p, f := slot.New[strictResult]()
		require.NoError(t, q.Push(queue.Entry[strictResult]{ID: id, Slot: p}))
		futures[id] = f
	}
	c.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	a, ok := futures["A"].Await(ctx)
	assert.True(t, ok)
	assert.Equal(t, 1, a.Value)

	_, ok = futures["B"].Await(ctx)
	assert.False(t, ok)
	require.NoError(t, ctx.Err())

	cv, ok := futures["C"].Await(ctx)
	assert.True(t, ok)
	assert.Equal(t, 3, cv.Value)

	rec, ok := ledger.Get("B")
	require.True(t, ok)
	assert.Equal(t, failures.KindElement, rec.Kind)
}

func TestCollector_DuplicateIdentifiersShareResult(t *testing.T) {
	h := newHarness(t, Config{PollInterval: 10 * time.Millisecond}, echo)
	f1 := h.push(t, "same")
	f2 := h.push(t, "same")
	h.collector.Start()

	v1, ok1 := await(t, f1)
	v2, ok2 := await(t, f2)
	assert.True(t, ok1 && ok2)
	assert.Equal(t, v1, v2)
}

func TestCollector_DoubleResolutionDetected(t *testing.T) {
	h := newHarness(t, Config{PollInterval: 10 * time.Millisecond}, echo)

	p, f := slot.New[valueResult]()
	entry := queue.Entry[valueResult]{ID: "dup", Slot: p}
	require.NoError(t, h.queue.Push(entry))
	require.NoError(t, h.queue.Push(entry))
	h.collector.Start()

	v, ok := await(t, f)
	assert.True(t, ok)
	assert.Equal(t, "dup", v.Value)

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(h.metrics.DoubleResolutionCount("/test")) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestCollector_BatchTimeout(t *testing.T) {
	var mu sync.Mutex
	first := true
	h := newHarness(t, Config{PollInterval: 5 * time.Millisecond, BatchTimeout: 20 * time.Millisecond},
		func(ctx context.Context, ids []string) ([]byte, error) {
			mu.Lock()
			stall := first
			first = false
			mu.Unlock()
			if stall {
				<-ctx.Done()
				return nil, ctx.Err()
			}
			return echo(ctx, ids)
		})
	h.collector.Start()

	_, ok := await(t, h.push(t, "stalled"))
	assert.False(t, ok)

	v, ok := await(t, h.push(t, "next"))
	assert.True(t, ok)
	assert.Equal(t, "next", v.Value)
}

type panickyAdapter struct {
	*endpoint.JSON[valueResult]
}

func (panickyAdapter) Decode([]byte) (*endpoint.Response[valueResult], error) {
	panic("boom")
}

func TestCollector_RecoversFromAdapterPanic(t *testing.T) {
	h := newHarnessWithAdapter(t, Config{PollInterval: 5 * time.Millisecond}, panickyAdapter{testAdapter()}, echo)
	f := h.push(t, "A")
	h.collector.Start()

	_, ok := await(t, f)
	assert.False(t, ok)

	// Still alive
	g := h.push(t, "B")
	_, ok = await(t, g)
	assert.False(t, ok)
	assert.Len(t, h.poster.Batches(), 2)
}

func TestCollector_StopDropsQueued(t *testing.T) {
	h := newHarness(t, Config{PollInterval: time.Hour}, echo)
	h.collector.Start()

	futures := []*slot.Future[valueResult]{h.push(t, "A"), h.push(t, "B")}
	require.NoError(t, h.collector.Stop(context.Background()))

	for _, f := range futures {
		_, ok := await(t, f)
		assert.False(t, ok)
	}
	assert.Empty(t, h.poster.Batches())

	rec, ok := h.ledger.Get("A")
	require.True(t, ok)
	assert.Equal(t, failures.KindShutdown, rec.Kind)
	assert.ErrorIs(t, h.queue.Push(queue.Entry[valueResult]{ID: "late"}), queue.ErrClosed)
}

func TestCollector_StopWithoutStart(t *testing.T) {
	h := newHarness(t, Config{PollInterval: time.Hour}, echo)
	f := h.push(t, "A")
	require.NoError(t, h.collector.Stop(context.Background()))

	_, ok := await(t, f)
	assert.False(t, ok)
}

func TestCollector_FlushOnClose(t *testing.T) {
	h := newHarness(t, Config{PollInterval: time.Hour, FlushOnClose: true, MaxBatchSize: 2}, echo)
	h.collector.Start()

	a, b, c := h.push(t, "A"), h.push(t, "B"), h.push(t, "C")
	require.NoError(t, h.collector.Stop(context.Background()))

	for id, f := range map[string]*slot.Future[valueResult]{"A": a, "B": b, "C": c} {
		v, ok := await(t, f)
		assert.True(t, ok)
		assert.Equal(t, id, v.Value)
	}
	// A and B filled a batch and may have been sent by the loop; C went out on shutdown
	total := 0
	for _, batch := range h.poster.Batches() {
		total += len(batch)
	}
	assert.Equal(t, 3, total)
}

func TestCollector_StopDeadlineAbortsInFlight(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	h := newHarness(t, Config{PollInterval: 5 * time.Millisecond}, func(ctx context.Context, ids []string) ([]byte, error) {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return nil, ctx.Err()
	})
	f := h.push(t, "A")
	h.collector.Start()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := h.collector.Stop(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	_, ok := await(t, f)
	assert.False(t, ok)

	select {
	case <-h.collector.Done():
	default:
		t.Fatal("collector still running after Stop returned")
	}
}
