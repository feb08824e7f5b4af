package failures

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func newTestLedger(t *testing.T, size int, ttl time.Duration) (*Ledger, *fakeClock) {
	t.Helper()
	l, err := NewLedger(size, ttl)
	require.NoError(t, err)
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	l.now = clock.now
	return l, clock
}

func TestLedger_RecordAndGet(t *testing.T) {
	l, _ := newTestLedger(t, 10, time.Minute)
	l.Record("X1", KindElement, "b1", errors.New("bad value"))

	rec, ok := l.Get("X1")
	require.True(t, ok)
	assert.Equal(t, KindElement, rec.Kind)
	assert.Equal(t, "b1", rec.BatchID)
	assert.Equal(t, "bad value", rec.Err)
	assert.Equal(t, 1, rec.Count)

	_, ok = l.Get("X2")
	assert.False(t, ok)
}

func TestLedger_CountsRepeats(t *testing.T) {
	l, clock := newTestLedger(t, 10, time.Minute)
	l.Record("X1", KindBatch, "b1", errors.New("timeout"))
	clock.t = clock.t.Add(time.Second)
	l.Record("X1", KindBatch, "b2", errors.New("timeout"))

	rec, ok := l.Get("X1")
	require.True(t, ok)
	assert.Equal(t, 2, rec.Count)
	assert.Equal(t, "b2", rec.BatchID)
}

func TestLedger_Expiry(t *testing.T) {
	l, clock := newTestLedger(t, 10, time.Minute)
	l.Record("X1", KindBatch, "b1", nil)

	clock.t = clock.t.Add(2 * time.Minute)
	_, ok := l.Get("X1")
	assert.False(t, ok)
	assert.Empty(t, l.Recent())

	// An expired record does not carry its count forward
	l.Record("X1", KindBatch, "b2", nil)
	rec, _ := l.Get("X1")
	assert.Equal(t, 1, rec.Count)
}

func TestLedger_EvictsOldest(t *testing.T) {
	l, clock := newTestLedger(t, 3, 0)
	for i := 0; i < 5; i++ {
		clock.t = clock.t.Add(time.Second)
		l.Record(fmt.Sprintf("id%d", i), KindElement, "b", nil)
	}

	assert.Equal(t, 3, l.Len())
	recent := l.Recent()
	require.Len(t, recent, 3)
	assert.Equal(t, "id4", recent[0].ID)
	assert.Equal(t, "id2", recent[2].ID)
}

func TestLedger_InvalidSize(t *testing.T) {
	_, err := NewLedger(0, time.Minute)
	assert.Error(t, err)
}
