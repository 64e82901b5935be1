package marketdata

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// cacheEntry wraps a cached value with its storage time
type cacheEntry struct {
	value    interface{}
	storedAt time.Time
}

// QuoteCache is a TTL'd cache for quote batches and candle histories.
// Each key class carries its own TTL: live quotes a few seconds, index
// snapshots slightly longer, candle histories hours.
type QuoteCache struct {
	entries sync.Map // key -> *cacheEntry

	hits   atomic.Int64
	misses atomic.Int64

	now func() time.Time
}

// NewQuoteCache creates an empty cache
func NewQuoteCache() *QuoteCache {
	return &QuoteCache{now: time.Now}
}

// SetNowFunc replaces the time source, for deterministic tests
func (c *QuoteCache) SetNowFunc(now func() time.Time) {
	c.now = now
}

// QuoteKey builds the cache key for a symbol batch. The symbol set is
// sorted so the same set always hits the same entry regardless of
// request order.
func QuoteKey(symbols []string) string {
	sorted := make([]string, len(symbols))
	copy(sorted, symbols)
	sort.Strings(sorted)
	return "quotes:" + strings.Join(sorted, ",")
}

// CandleKey builds the cache key for one symbol's candle history
func CandleKey(symbol, timeframe string) string {
	return "candles:" + symbol + ":" + timeframe
}

// Get returns the cached value if present and younger than ttl
func (c *QuoteCache) Get(key string, ttl time.Duration) (interface{}, bool) {
	v, ok := c.entries.Load(key)
	if !ok {
		c.misses.Add(1)
		return nil, false
	}

	entry := v.(*cacheEntry)
	if c.now().Sub(entry.storedAt) > ttl {
		c.entries.Delete(key)
		c.misses.Add(1)
		return nil, false
	}

	c.hits.Add(1)
	return entry.value, true
}

// Set stores a value under key with the current time
func (c *QuoteCache) Set(key string, value interface{}) {
	c.entries.Store(key, &cacheEntry{value: value, storedAt: c.now()})
}

// Invalidate removes one entry
func (c *QuoteCache) Invalidate(key string) {
	c.entries.Delete(key)
}

// Clear removes every entry
func (c *QuoteCache) Clear() {
	c.entries.Range(func(key, _ interface{}) bool {
		c.entries.Delete(key)
		return true
	})
}

// Stats returns hit/miss counters for the admin API
func (c *QuoteCache) Stats() map[string]interface{} {
	hits := c.hits.Load()
	misses := c.misses.Load()
	total := hits + misses

	hitRate := 0.0
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	size := 0
	c.entries.Range(func(_, _ interface{}) bool {
		size++
		return true
	})

	return map[string]interface{}{
		"hits":     hits,
		"misses":   misses,
		"hit_rate": hitRate,
		"entries":  size,
	}
}
