package tts

import (
	"container/list"
	"sync"
	"time"
)

// Cache is a bounded LRU cache of audio artifacts with per-entry TTL.
// Reads take the read lock; writes and evictions are serialized.
type Cache struct {
	mu       sync.RWMutex
	entries  map[string]*list.Element
	order    *list.List // front = most recently used
	capacity int
}

type cacheEntry struct {
	key      string
	artifact *Artifact
}

// NewCache creates a cache holding at most capacity artifacts.
func NewCache(capacity int) *Cache {
	return &Cache{
		entries:  make(map[string]*list.Element, capacity),
		order:    list.New(),
		capacity: capacity,
	}
}

// Get returns the cached artifact for key, or nil on miss or expiry.
func (c *Cache) Get(key string) *Artifact {
	// The artifact pointer must be captured under the read lock; Put's
	// replace path overwrites the entry's field under the write lock.
	c.mu.RLock()
	var artifact *Artifact
	if el, ok := c.entries[key]; ok {
		artifact = el.Value.(*cacheEntry).artifact
	}
	c.mu.RUnlock()
	if artifact == nil {
		return nil
	}

	if artifact.Expired(time.Now()) {
		c.Remove(key)
		return nil
	}

	c.mu.Lock()
	// Re-check under the write lock; a concurrent Remove may have won.
	if el, ok := c.entries[key]; ok {
		c.order.MoveToFront(el)
	}
	c.mu.Unlock()

	return artifact
}

// Put stores an artifact, evicting the least recently used entry when
// the cache is full.
func (c *Cache) Put(artifact *Artifact) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[artifact.Key]; ok {
		el.Value.(*cacheEntry).artifact = artifact
		c.order.MoveToFront(el)
		return
	}

	el := c.order.PushFront(&cacheEntry{key: artifact.Key, artifact: artifact})
	c.entries[artifact.Key] = el

	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
}

// Remove deletes the artifact for key, if present.
func (c *Cache) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		c.order.Remove(el)
		delete(c.entries, key)
	}
}

// Len returns the number of cached artifacts.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.order.Len()
}

// sweep removes expired artifacts and returns how many were dropped.
func (c *Cache) sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var dropped int
	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		entry := el.Value.(*cacheEntry)
		if entry.artifact.Expired(now) {
			c.order.Remove(el)
			delete(c.entries, entry.key)
			dropped++
		}
		el = prev
	}
	return dropped
}
