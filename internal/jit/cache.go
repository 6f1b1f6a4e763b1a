// Package jit provides the compute-once cache behind just-in-time bindings.
package jit

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// Cache maps keys to values created on first request. Concurrent requests for the
// same missing key share one creation; a failed creation is not stored, so the next
// request runs it again.
type Cache[K comparable, V any] struct {
	mu     sync.RWMutex
	items  map[K]V
	group  singleflight.Group
	flight func(K) string

	hits   atomic.Uint64
	misses atomic.Uint64
}

// New creates a cache. flight must return a string unique to each key; it names
// the in-flight creation.
func New[K comparable, V any](flight func(K) string) *Cache[K, V] {
	return &Cache[K, V]{
		items:  make(map[K]V),
		flight: flight,
	}
}

// Get returns the cached value for k.
func (c *Cache[K, V]) Get(k K) (V, bool) {
	c.mu.RLock()
	v, ok := c.items[k]
	c.mu.RUnlock()
	return v, ok
}

// GetOrCreate returns the cached value for k, creating it with create when absent.
// created reports whether this call stored the value.
func (c *Cache[K, V]) GetOrCreate(k K, create func() (V, error)) (v V, created bool, err error) {
	if v, ok := c.Get(k); ok {
		c.hits.Add(1)
		return v, false, nil
	}

	var mine bool
	result, err, _ := c.group.Do(c.flight(k), func() (any, error) {
		// Double-check after winning the flight.
		if v, ok := c.Get(k); ok {
			return v, nil
		}

		mine = true
		c.misses.Add(1)

		v, err := create()
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.items[k] = v
		c.mu.Unlock()

		return v, nil
	})
	if err != nil {
		var zero V
		return zero, false, err
	}

	if !mine {
		c.hits.Add(1)
	}
	return result.(V), mine, nil
}

// Len returns the number of cached values.
func (c *Cache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Stats returns the hit and miss counters.
func (c *Cache[K, V]) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}
