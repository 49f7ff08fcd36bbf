package embeddings

import (
	"slices"
	"sync"
	"time"
)

// Cache is a concurrency-safe in-memory vector cache with TTL expiry and
// LRU eviction. Concurrent writes to one key are last-write-wins.
type Cache struct {
	mu         sync.RWMutex
	entries    map[string]*cacheEntry
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

type cacheEntry struct {
	vector       []float32
	expiresAt    time.Time
	lastAccessed time.Time
}

// NewCache creates a cache. A non-positive maxEntries means unbounded.
func NewCache(ttl time.Duration, maxEntries int) *Cache {
	return &Cache{
		entries:    make(map[string]*cacheEntry),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Get returns a copy of the cached vector. Expired entries are removed.
func (c *Cache) Get(key string) ([]float32, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}

	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if now.After(entry.expiresAt) {
		if c.entries[key] == entry {
			delete(c.entries, key)
		}
		return nil, false
	}
	entry.lastAccessed = now
	return slices.Clone(entry.vector), true
}

// Set stores a copy of vector under key.
func (c *Cache) Set(key string, vector []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if _, exists := c.entries[key]; !exists && c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		c.evictLRU()
	}
	c.entries[key] = &cacheEntry{
		vector:       slices.Clone(vector),
		expiresAt:    now.Add(c.ttl),
		lastAccessed: now,
	}
}

// Delete removes key.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Len returns the number of entries, including expired ones not yet evicted.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// evictLRU removes the least recently used entry. Caller holds the lock.
func (c *Cache) evictLRU() {
	var (
		oldestKey  string
		oldestTime time.Time
		first      = true
	)
	for key, entry := range c.entries {
		if first || entry.lastAccessed.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.lastAccessed
			first = false
		}
	}
	if !first {
		delete(c.entries, oldestKey)
	}
}
