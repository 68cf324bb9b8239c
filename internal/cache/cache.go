// Package cache provides the content-addressable result caches shared
// across the perception pipeline. Two eviction policies coexist: a
// byte-budgeted LRU used for frame and detection memoization, and a
// count-capped LFU used for scheduler hot-path memoization. They are
// deliberately distinct, swappable policies.
package cache

// Store is the capability shared by both cache variants.
type Store interface {
	Get(key string) (interface{}, bool)
	Put(key string, value interface{}, sizeBytes int64)
	Clear()
	Stats() Stats
}

// Stats describes observable cache state.
type Stats struct {
	Items     int     `json:"items"`
	TotalSize int64   `json:"total_size"`
	MaxSize   int64   `json:"max_size"`
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	HitRate   float64 `json:"hit_rate"`
}

func hitRate(hits, misses int64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}
