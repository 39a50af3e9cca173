package storage

import (
	"container/list"
	"sync"
	"time"
)

type cacheEntry struct {
	key       string
	value     interface{}
	expiresAt time.Time
}

// LRUCache is a thread-safe LRU cache with per-entry TTL. It fronts the
// performance tables so hot snapshot reads skip the database.
type LRUCache struct {
	mu       sync.RWMutex
	capacity int
	ttl      time.Duration
	items    map[string]*list.Element
	eviction *list.List
}

// NewLRUCache creates a cache holding at most capacity entries, each valid
// for ttl after it was set.
func NewLRUCache(capacity int, ttl time.Duration) *LRUCache {
	return &LRUCache{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*list.Element, capacity),
		eviction: list.New(),
	}
}

// Get returns the cached value when present and not expired.
func (c *LRUCache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, found := c.items[key]
	if !found {
		return nil, false
	}

	entry := elem.Value.(*cacheEntry)
	if time.Now().After(entry.expiresAt) {
		c.removeElement(elem)
		return nil, false
	}

	c.eviction.MoveToFront(elem)
	return entry.value, true
}

// Set stores or refreshes a value, evicting the least recently used entry
// when the cache is full.
func (c *LRUCache) Set(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := time.Now().Add(c.ttl)

	if elem, found := c.items[key]; found {
		c.eviction.MoveToFront(elem)
		entry := elem.Value.(*cacheEntry)
		entry.value = value
		entry.expiresAt = expiresAt
		return
	}

	elem := c.eviction.PushFront(&cacheEntry{key: key, value: value, expiresAt: expiresAt})
	c.items[key] = elem

	if c.eviction.Len() > c.capacity {
		if oldest := c.eviction.Back(); oldest != nil {
			c.removeElement(oldest)
		}
	}
}

// Delete removes a key.
func (c *LRUCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, found := c.items[key]; found {
		c.removeElement(elem)
	}
}

// Clear drops every entry.
func (c *LRUCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element, c.capacity)
	c.eviction.Init()
}

// Len returns the number of entries, expired ones included.
func (c *LRUCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.eviction.Len()
}

// CleanupExpired removes every expired entry and returns how many it dropped.
func (c *LRUCache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0

	var prev *list.Element
	for elem := c.eviction.Back(); elem != nil; elem = prev {
		prev = elem.Prev()
		if now.After(elem.Value.(*cacheEntry).expiresAt) {
			c.removeElement(elem)
			removed++
		}
	}
	return removed
}

// caller holds the lock
func (c *LRUCache) removeElement(elem *list.Element) {
	c.eviction.Remove(elem)
	delete(c.items, elem.Value.(*cacheEntry).key)
}

// CacheStats describes the cache's current shape.
type CacheStats struct {
	Capacity int
	Size     int
	TTL      time.Duration
}

// GetStats returns current cache statistics.
func (c *LRUCache) GetStats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return CacheStats{
		Capacity: c.capacity,
		Size:     c.eviction.Len(),
		TTL:      c.ttl,
	}
}
