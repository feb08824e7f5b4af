// Package failures keeps a bounded, expiring record of identifiers whose
// lookups failed, so operators can see what went wrong without scraping logs.
package failures

import (
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Kind classifies a failure
type Kind string

const (
	KindElement  Kind = "element"  // one result in an otherwise valid response
	KindBatch    Kind = "batch"    // the whole bulk call failed
	KindShutdown Kind = "shutdown" // dropped when the getter closed
)

// Record describes the most recent failure for one identifier
type Record struct {
	ID      string
	Kind    Kind
	BatchID string
	Err     string
	At      time.Time
	Count   int // failures seen for this identifier while it stayed in the ledger
}

// Ledger is an LRU of failure records with a TTL
type Ledger struct {
	cache *lru.Cache[string, *Record]
	ttl   time.Duration
	now   func() time.Time
	mu    sync.Mutex
}

// NewLedger creates a ledger holding up to size identifiers for ttl.
// A ttl <= 0 keeps records until they are evicted by size.
func NewLedger(size int, ttl time.Duration) (*Ledger, error) {
	cache, err := lru.New[string, *Record](size)
	if err != nil {
		return nil, err
	}
	return &Ledger{
		cache: cache,
		ttl:   ttl,
		now:   time.Now,
	}, nil
}

// Record stores a failure for id
func (l *Ledger) Record(id string, kind Kind, batchID string, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	count := 1
	if prev, ok := l.cache.Peek(id); ok && !l.expired(prev, now) {
		count = prev.Count + 1
	}
	l.cache.Add(id, &Record{
		ID:      id,
		Kind:    kind,
		BatchID: batchID,
		Err:     msg,
		At:      now,
		Count:   count,
	})
}

// Get returns the record for id if one is present and fresh
func (l *Ledger) Get(id string) (Record, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.cache.Get(id)
	if !ok {
		return Record{}, false
	}
	if l.expired(rec, l.now()) {
		l.cache.Remove(id)
		return Record{}, false
	}
	return *rec, true
}

// Recent returns all fresh records, newest first, dropping expired ones
func (l *Ledger) Recent() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	out := make([]Record, 0, l.cache.Len())
	for _, id := range l.cache.Keys() {
		rec, ok := l.cache.Peek(id)
		if !ok {
			continue
		}
		if l.expired(rec, now) {
			l.cache.Remove(id)
			continue
		}
		out = append(out, *rec)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].At.After(out[j].At)
	})
	return out
}

// Len returns the number of records, including expired ones not yet swept
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cache.Len()
}

func (l *Ledger) expired(rec *Record, now time.Time) bool {
	return l.ttl > 0 && now.Sub(rec.At) > l.ttl
}
