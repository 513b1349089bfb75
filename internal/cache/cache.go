// Package cache is a TTL key/value store with hit/miss accounting.
// Callers use it to skip repeating work that already passed admission
// control: check the cache first, spend the quota only on a miss.
//
// Entries are evicted lazily, on an expired Get. There is no capacity
// bound and no background sweeper, so the entry count reported by
// Stats can include entries that are expired but never touched again.
// Bounded/LRU eviction is a known gap, not part of this store's
// contract.
package cache

import (
	"sync"
	"time"
)

// DefaultTTL matches the conservative default of the hosting service.
const DefaultTTL = 15 * time.Minute

type entry struct {
	value     any
	expiresAt time.Time
}

// Stats is a snapshot of cache effectiveness.
type Stats struct {
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	HitRate float64 `json:"hit_rate"` // 0 when no lookups yet
	Entries int     `json:"entries"`  // raw count, may include untouched expired entries
}

// Cache is a mutex-guarded TTL map. Its lock domain is independent of
// the rate limiter's: cache traffic never contends with admission
// decisions. Safe for concurrent use.
type Cache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]entry
	hits    uint64
	misses  uint64
}

// Option adjusts a Cache at construction.
type Option func(*Cache)

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New builds a cache with the given TTL; ttl <= 0 means DefaultTTL.
func New(ttl time.Duration, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the value for key if present and unexpired. An expired
// entry is deleted on the spot and counted as a miss, so any value
// returned here is live at the instant of return.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if ok && c.now().Before(e.expiresAt) {
		c.hits++
		return e.value, true
	}
	if ok {
		delete(c.entries, key)
	}
	c.misses++
	return nil, false
}

// Set stores value under key with a fresh TTL, overwriting any prior
// entry. Last write wins.
func (c *Cache) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{value: value, expiresAt: c.now().Add(c.ttl)}
}

// Delete removes key if present.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Clear drops every entry. Hit/miss counters are kept.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
}

// Stats reports hits, misses, the hit rate and the raw entry count.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{Hits: c.hits, Misses: c.misses, Entries: len(c.entries)}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}
