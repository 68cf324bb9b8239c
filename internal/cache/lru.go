package cache

import (
	"sync"
	"time"
)

type lruEntry struct {
	key        string
	value      interface{}
	sizeBytes  int64
	lastAccess time.Time
}

// LRU is a byte-budgeted cache evicting the entry with the oldest
// last-access time first. All operations run under a single mutex with
// short critical sections.
type LRU struct {
	maxSize   int64
	entries   map[string]*lruEntry
	totalSize int64
	hits      int64
	misses    int64
	mu        sync.Mutex

	// injectable clock so eviction order is testable
	now func() time.Time
}

// NewLRU creates a cache with a byte budget.
func NewLRU(maxSizeBytes int64) *LRU {
	return &LRU{
		maxSize: maxSizeBytes,
		entries: make(map[string]*lruEntry),
		now:     time.Now,
	}
}

// Get returns the cached value and refreshes its access time.
func (c *LRU) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	entry.lastAccess = c.now()
	c.hits++
	return entry.value, true
}

// Put inserts or replaces a value. An existing entry's size is released
// first, then least-recently-used entries are evicted until the new
// value fits within the byte budget.
func (c *LRU) Put(key string, value interface{}, sizeBytes int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries[key]; ok {
		c.totalSize -= existing.sizeBytes
		delete(c.entries, key)
	}

	if sizeBytes > c.maxSize {
		// Value can never fit; dropping it keeps the budget invariant
		// without evicting anything on its behalf.
		return
	}

	for c.totalSize+sizeBytes > c.maxSize && len(c.entries) > 0 {
		c.evictOldest()
	}

	c.entries[key] = &lruEntry{
		key:        key,
		value:      value,
		sizeBytes:  sizeBytes,
		lastAccess: c.now(),
	}
	c.totalSize += sizeBytes
}

// Remove deletes a single entry.
func (c *LRU) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[key]; ok {
		c.totalSize -= entry.sizeBytes
		delete(c.entries, key)
	}
}

func (c *LRU) evictOldest() {
	var oldest *lruEntry
	for _, entry := range c.entries {
		if oldest == nil || entry.lastAccess.Before(oldest.lastAccess) {
			oldest = entry
		}
	}
	if oldest != nil {
		c.totalSize -= oldest.sizeBytes
		delete(c.entries, oldest.key)
	}
}

// Clear drops all entries.
func (c *LRU) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*lruEntry)
	c.totalSize = 0
}

// Stats returns a snapshot of cache state.
func (c *LRU) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Items:     len(c.entries),
		TotalSize: c.totalSize,
		MaxSize:   c.maxSize,
		Hits:      c.hits,
		Misses:    c.misses,
		HitRate:   hitRate(c.hits, c.misses),
	}
}
