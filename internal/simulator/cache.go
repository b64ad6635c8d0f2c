package simulator

import (
	"sync"
	"time"

	"github.com/alanyoungcy/costsim/internal/domain"
)

// resultCache holds one result per (params, book sequence) key with a short
// TTL, so unchanged ticks do not recompute. Expired slots are reclaimed on
// access and by Cleanup; keys change with every book update, so the map
// never grows past a handful of live entries between cleanups.
type resultCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cacheEntry
}

type cacheEntry struct {
	result  domain.CostResult
	expires time.Time
}

func newResultCache(ttl time.Duration) *resultCache {
	if ttl <= 0 {
		ttl = 300 * time.Millisecond
	}
	return &resultCache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
	}
}

// Get returns the cached result for key if it has not expired.
func (c *resultCache) Get(key string) (domain.CostResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return domain.CostResult{}, false
	}
	if time.Now().After(e.expires) {
		delete(c.entries, key)
		return domain.CostResult{}, false
	}
	return e.result, true
}

// Put stores a result under key, replacing any previous slot.
func (c *resultCache) Put(key string, res domain.CostResult) {
	c.mu.Lock()
	c.entries[key] = cacheEntry{result: res, expires: time.Now().Add(c.ttl)}
	c.mu.Unlock()
}

// Cleanup drops all expired entries.
func (c *resultCache) Cleanup() {
	now := time.Now()
	c.mu.Lock()
	for k, e := range c.entries {
		if now.After(e.expires) {
			delete(c.entries, k)
		}
	}
	c.mu.Unlock()
}
