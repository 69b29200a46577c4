// Package cache implements the process-local read-through cache with
// per-entry TTL and explicit key or pattern invalidation. Invalidation,
// not expiry, is the primary consistency mechanism; TTL only bounds
// staleness when an invalidation call is missed.
package cache

import (
	"context"
	"path"
	"sync"
	"time"

	"github.com/printhaus/editions/internal/metrics"
)

type entry struct {
	value     any
	expiresAt time.Time
}

// Cache is a thread-safe in-memory key/value map with per-entry expiry.
// There is no cross-process coherence; each server process owns one.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	done    chan struct{}
	closed  sync.Once
}

// New creates a cache and starts a background sweep that drops expired
// entries every cleanupInterval.
func New(cleanupInterval time.Duration) *Cache {
	c := &Cache{
		entries: make(map[string]entry),
		done:    make(chan struct{}),
	}
	go c.cleanupLoop(cleanupInterval)
	return c
}

// Get returns the unexpired value for key.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		metrics.CacheMisses.Inc()
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		c.mu.Lock()
		// Re-check under the write lock; the entry may have been
		// replaced since the read lock was dropped.
		if cur, ok := c.entries[key]; ok && time.Now().After(cur.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		metrics.CacheMisses.Inc()
		return nil, false
	}

	metrics.CacheHits.Inc()
	return e.value, true
}

// Set stores value under key with the given TTL, overwriting any entry.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	c.entries[key] = entry{value: value, expiresAt: time.Now().Add(ttl)}
	c.mu.Unlock()
}

// GetOrLoad returns the cached value for key, or invokes producer, stores
// the result with the given TTL, and returns it. Concurrent misses for the
// same key may each invoke producer; the last store wins, which is safe
// because producers read committed state.
func (c *Cache) GetOrLoad(ctx context.Context, key string, ttl time.Duration, producer func(ctx context.Context) (any, error)) (any, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	v, err := producer(ctx)
	if err != nil {
		return nil, err
	}
	c.Set(key, v, ttl)
	return v, nil
}

// Invalidate removes the entry for one exact key.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	if _, ok := c.entries[key]; ok {
		delete(c.entries, key)
		metrics.CacheInvalidations.Inc()
	}
	c.mu.Unlock()
}

// InvalidatePattern removes every entry whose key matches the glob
// pattern, e.g. "artifact:42:*".
func (c *Cache) InvalidatePattern(pattern string) {
	c.mu.Lock()
	for key := range c.entries {
		if ok, err := path.Match(pattern, key); err == nil && ok {
			delete(c.entries, key)
			metrics.CacheInvalidations.Inc()
		}
	}
	c.mu.Unlock()
}

// Len reports the number of entries, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close stops the background sweep.
func (c *Cache) Close() {
	c.closed.Do(func() { close(c.done) })
}

func (c *Cache) cleanupLoop(interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for key, e := range c.entries {
				if now.After(e.expiresAt) {
					delete(c.entries, key)
				}
			}
			c.mu.Unlock()
		case <-c.done:
			return
		}
	}
}
