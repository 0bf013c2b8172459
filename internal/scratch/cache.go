// Package scratch provides a small keyed scratch space for operational
// counters and flags, kept separate from order records. Each owning component
// constructs its own cache at startup and is the only writer; other
// components see values through read-only snapshots.
package scratch

import "sync"

// Cache is a concurrency-safe key/value scratch space.
type Cache[V any] struct {
	mu    sync.RWMutex
	items map[string]V
}

func New[V any]() *Cache[V] {
	return &Cache[V]{
		items: make(map[string]V),
	}
}

// Set stores the value under key, replacing any previous value.
func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = value
}

// Get returns the value under key and whether it was present.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.items[key]
	return v, ok
}

// Update applies fn to the current value under key (the zero value when
// absent) and stores the result. Useful for counters.
func (c *Cache[V]) Update(key string, fn func(V) V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = fn(c.items[key])
}

// Delete removes the value under key and reports whether it was present.
func (c *Cache[V]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[key]
	delete(c.items, key)
	return ok
}

// Len returns the number of held entries.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Snapshot returns a copy of the current contents.
func (c *Cache[V]) Snapshot() map[string]V {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]V, len(c.items))
	for k, v := range c.items {
		out[k] = v
	}
	return out
}

// Flush empties the cache and returns what it held, for components that want
// to drain their scratch state on shutdown.
func (c *Cache[V]) Flush() map[string]V {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.items
	c.items = make(map[string]V)
	return out
}
