package scanner

import (
	"fmt"
	"hash/fnv"
	"sync"
)

// ExpressionCache memoizes per-symbol expression results across scans.
// Keys are composite fingerprints of symbol, evaluation mode and an
// expression hash. Logically single-threaded, but guarded by a mutex so a
// scan may fan out across workers.
type ExpressionCache struct {
	mu      sync.Mutex
	entries map[string]interface{}
	hits    int
	misses  int
	enabled bool
}

// CacheStats is a snapshot of cache performance counters
type CacheStats struct {
	Enabled        bool    `json:"cache_enabled"`
	Hits           int     `json:"cache_hits"`
	Misses         int     `json:"cache_misses"`
	HitRatePercent float64 `json:"hit_rate_percent"`
	Entries        int     `json:"cached_expressions"`
}

// NewExpressionCache creates a cache, enabled or not
func NewExpressionCache(enabled bool) *ExpressionCache {
	return &ExpressionCache{entries: make(map[string]interface{}), enabled: enabled}
}

// Fingerprint builds the composite cache key
func Fingerprint(symbol, mode, expression string) string {
	h := fnv.New64a()
	h.Write([]byte(expression))
	return fmt.Sprintf("%s_%s_%d", symbol, mode, h.Sum64())
}

// Get returns the cached value for the key. A disabled cache always misses.
func (c *ExpressionCache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		c.misses++
		return nil, false
	}
	v, ok := c.entries[key]
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return v, ok
}

// Set stores a value when the cache is enabled
func (c *ExpressionCache) Set(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enabled {
		c.entries[key] = value
	}
}

// Clear drops all entries and resets the counters
func (c *ExpressionCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]interface{})
	c.hits = 0
	c.misses = 0
}

// Enable turns caching on
func (c *ExpressionCache) Enable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = true
}

// Disable turns caching off and drops existing entries
func (c *ExpressionCache) Disable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = false
	c.entries = make(map[string]interface{})
}

// Enabled reports whether caching is on
func (c *ExpressionCache) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// Stats returns a snapshot of the counters
func (c *ExpressionCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := c.hits + c.misses
	rate := 0.0
	if total > 0 {
		rate = float64(c.hits) / float64(total) * 100
	}
	return CacheStats{
		Enabled:        c.enabled,
		Hits:           c.hits,
		Misses:         c.misses,
		HitRatePercent: rate,
		Entries:        len(c.entries),
	}
}
