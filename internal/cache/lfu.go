package cache

import "sync"

type lfuEntry struct {
	key         string
	value       interface{}
	sizeBytes   int64
	accessCount int64
}

// LFU is an entry-count-capped cache evicting the entry with the lowest
// access count first. It backs the scheduler's hot-path memoization,
// where a handful of keys dominate and recency matters less than
// frequency.
type LFU struct {
	maxItems  int
	entries   map[string]*lfuEntry
	totalSize int64
	hits      int64
	misses    int64
	mu        sync.Mutex
}

// NewLFU creates a cache capped at maxItems entries.
func NewLFU(maxItems int) *LFU {
	return &LFU{
		maxItems: maxItems,
		entries:  make(map[string]*lfuEntry),
	}
}

// Get returns the cached value and increments its access count.
func (c *LFU) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	entry.accessCount++
	c.hits++
	return entry.value, true
}

// Put inserts or replaces a value, evicting the least frequently used
// entry when at capacity. A fresh entry starts with a zero access count.
func (c *LFU) Put(key string, value interface{}, sizeBytes int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries[key]; ok {
		c.totalSize -= existing.sizeBytes
		existing.value = value
		existing.sizeBytes = sizeBytes
		c.totalSize += sizeBytes
		return
	}

	if len(c.entries) >= c.maxItems {
		c.evictColdest()
	}

	c.entries[key] = &lfuEntry{key: key, value: value, sizeBytes: sizeBytes}
	c.totalSize += sizeBytes
}

func (c *LFU) evictColdest() {
	var coldest *lfuEntry
	for _, entry := range c.entries {
		if coldest == nil || entry.accessCount < coldest.accessCount {
			coldest = entry
		}
	}
	if coldest != nil {
		c.totalSize -= coldest.sizeBytes
		delete(c.entries, coldest.key)
	}
}

// Clear drops all entries.
func (c *LFU) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*lfuEntry)
	c.totalSize = 0
}

// Stats returns a snapshot of cache state.
func (c *LFU) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Items:     len(c.entries),
		TotalSize: c.totalSize,
		MaxSize:   int64(c.maxItems),
		Hits:      c.hits,
		Misses:    c.misses,
		HitRate:   hitRate(c.hits, c.misses),
	}
}
