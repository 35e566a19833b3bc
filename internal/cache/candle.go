package cache

import (
	"sync"
	"time"

	"alertengine/pkg/market"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Lookup classifies a cache read.
type Lookup int

const (
	Miss Lookup = iota
	Hit
	Stale
)

func (l Lookup) String() string {
	switch l {
	case Hit:
		return "hit"
	case Stale:
		return "stale"
	default:
		return "miss"
	}
}

// Key identifies one candle series.
type Key struct {
	Instrument string
	Interval   market.Interval
}

// Entry is a cached series. Coverage starts at CoverageFrom; Candles are ascending.
type Entry struct {
	Candles      []market.Candle
	CoverageFrom time.Time
	FetchedAt    time.Time
	LastDataAt   time.Time // latest bar time in Candles
	Stale        bool      // forced stale, e.g. after a failed refresh
}

// StalePolicy returns the age after which an entry of the interval is stale.
type StalePolicy func(market.Interval) time.Duration

// DefaultStalePolicy uses the interval table, with per-interval overrides.
func DefaultStalePolicy(overrides map[string]time.Duration) StalePolicy {
	return func(iv market.Interval) time.Duration {
		if d, ok := overrides[string(iv)]; ok && d > 0 {
			return d
		}
		return iv.Meta().Stale
	}
}

// CandleCache is an LRU of candle series with a staleness policy. Capacity eviction and
// staleness are independent: a stale entry stays until evicted or replaced.
type CandleCache struct {
	lru   *lru.Cache[Key, Entry]
	stale StalePolicy

	// mu serializes writers so MarkStale cannot overwrite a concurrent Put.
	mu sync.Mutex
}

func NewCandleCache(capacity int, policy StalePolicy) *CandleCache {
	if policy == nil {
		policy = DefaultStalePolicy(nil)
	}
	return &CandleCache{lru: NewLRU[Key, Entry](capacity), stale: policy}
}

// Get returns the entry for the series filtered to r. It is a Hit only when the entry
// is younger than the staleness threshold and its coverage includes r.From.
func (c *CandleCache) Get(instrument string, interval market.Interval, r market.TimeRange, now time.Time) (Entry, Lookup) {
	e, ok := c.lru.Get(Key{instrument, interval})
	if !ok {
		return Entry{}, Miss
	}
	e.Candles = market.Filter(e.Candles, r)

	covered := r.From.IsZero() || !r.From.Before(e.CoverageFrom)
	if !covered {
		if len(e.Candles) == 0 {
			return Entry{}, Miss
		}
		return e, Stale
	}
	if e.Stale || now.Sub(e.FetchedAt) >= c.stale(interval) {
		return e, Stale
	}
	return e, Hit
}

// Put stores candles as the series' content. Candles must be ascending.
func (c *CandleCache) Put(instrument string, interval market.Interval, candles []market.Candle, coverageFrom, now time.Time) {
	cp := make([]market.Candle, len(candles))
	copy(cp, candles)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(Key{instrument, interval}, Entry{
		Candles:      cp,
		CoverageFrom: coverageFrom.UTC(),
		FetchedAt:    now,
		LastDataAt:   market.Latest(cp),
	})
}

// MarkStale forces the series to be served as stale until the next Put.
func (c *CandleCache) MarkStale(instrument string, interval market.Interval) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := Key{instrument, interval}
	if e, ok := c.lru.Peek(key); ok && !e.Stale {
		e.Stale = true
		c.lru.Add(key, e)
	}
}

func (c *CandleCache) Invalidate(instrument string, interval market.Interval) {
	c.lru.Remove(Key{instrument, interval})
}

func (c *CandleCache) Len() int { return c.lru.Len() }
