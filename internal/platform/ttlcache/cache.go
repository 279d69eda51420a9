// Package ttlcache provides a small concurrency-safe key/value cache whose
// entries expire after a per-entry time to live.
package ttlcache

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Cache stores values until their TTL elapses. The zero value is not usable;
// construct with New.
type Cache[V any] struct {
	mu      sync.RWMutex
	entries map[string]entry[V]
	now     func() time.Time
}

// Option customises a Cache.
type Option[V any] func(*Cache[V])

// WithClock injects the time source, primarily for tests.
func WithClock[V any](now func() time.Time) Option[V] {
	return func(c *Cache[V]) {
		if now != nil {
			c.now = now
		}
	}
}

// New constructs an empty cache.
func New[V any](opts ...Option[V]) *Cache[V] {
	c := &Cache[V]{
		entries: make(map[string]entry[V]),
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Get returns the cached value when present and unexpired.
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V
	if c == nil {
		return zero, false
	}
	c.mu.RLock()
	item, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return zero, false
	}
	if !c.now().Before(item.expiresAt) {
		c.mu.Lock()
		if current, still := c.entries[key]; still && current.expiresAt.Equal(item.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return zero, false
	}
	return item.value, true
}

// Set stores value under key for ttl. A non-positive ttl removes the key.
func (c *Cache[V]) Set(key string, value V, ttl time.Duration) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if ttl <= 0 {
		delete(c.entries, key)
		return
	}
	c.entries[key] = entry[V]{value: value, expiresAt: c.now().Add(ttl)}
}

// Delete removes key.
func (c *Cache[V]) Delete(key string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Len reports the number of stored entries, including expired ones not yet evicted.
func (c *Cache[V]) Len() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
