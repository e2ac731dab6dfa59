// Package gateway is the single path to the venue. It layers a TTL
// cache, a sliding-window request budget, request deduplication and
// bounded retry on top of a raw venue client, so the rest of the system
// never talks to the exchange directly.
package gateway

import (
	"sync"
	"sync/atomic"
	"time"
)

type atomicCounter struct {
	v atomic.Uint64
}

func (c *atomicCounter) inc()         { c.v.Add(1) }
func (c *atomicCounter) load() uint64 { return c.v.Load() }

type cacheEntry[V any] struct {
	value   V
	expires time.Time
}

// ttlCache is a small expiring cache. Values past their deadline are
// treated as absent and dropped lazily on access. The clock is
// injectable so expiry is testable without sleeping.
type ttlCache[V any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]cacheEntry[V]

	hits   uint64
	misses uint64
}

func newTTLCache[V any](ttl time.Duration, now func() time.Time) *ttlCache[V] {
	if now == nil {
		now = time.Now
	}
	return &ttlCache[V]{
		ttl:     ttl,
		now:     now,
		entries: make(map[string]cacheEntry[V]),
	}
}

func (c *ttlCache[V]) get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || c.now().After(e.expires) {
		if ok {
			delete(c.entries, key)
		}
		c.misses++
		var zero V
		return zero, false
	}

	c.hits++
	return e.value, true
}

func (c *ttlCache[V]) set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = cacheEntry[V]{value: value, expires: c.now().Add(c.ttl)}
}

func (c *ttlCache[V]) invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key)
}

func (c *ttlCache[V]) invalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]cacheEntry[V])
}

func (c *ttlCache[V]) stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.hits, c.misses
}
