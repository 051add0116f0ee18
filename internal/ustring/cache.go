package ustring

import (
	"sync/atomic"

	"github.com/bluele/gcache"
)

// DefaultCacheSize is the capacity of the shared pattern cache.
const DefaultCacheSize = 100

type cacheKey struct {
	pattern string
	anchor  Anchor
}

// Cache is a bounded LRU of compiled patterns keyed by pattern text and
// anchor mode. It is safe for concurrent use. Compile errors are not cached.
type Cache struct {
	lru    gcache.Cache
	hits   atomic.Int64
	misses atomic.Int64
}

// NewCache returns a cache holding at most size patterns.
func NewCache(size int) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	return &Cache{lru: gcache.New(size).LRU().Build()}
}

// Shared is the process-wide pattern cache.
var Shared = NewCache(DefaultCacheSize)

// Compile returns the compiled form of pattern, compiling it on a miss.
func (c *Cache) Compile(pattern string, anchor Anchor) (*Pattern, error) {
	key := cacheKey{pattern: pattern, anchor: anchor}
	if v, err := c.lru.Get(key); err == nil {
		c.hits.Add(1)
		cacheLookups.WithLabelValues("hit").Inc()
		return v.(*Pattern), nil
	}
	c.misses.Add(1)
	cacheLookups.WithLabelValues("miss").Inc()

	p, err := Compile(pattern, anchor)
	if err != nil {
		return nil, err
	}
	_ = c.lru.Set(key, p)
	return p, nil
}

// CacheStats reports cache effectiveness.
type CacheStats struct {
	Hits   int64
	Misses int64
	Len    int
}

// Stats returns the current hit and miss counts and the number of entries.
func (c *Cache) Stats() CacheStats {
	return CacheStats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Len:    c.lru.Len(false),
	}
}

// Purge drops every entry. Counters are kept.
func (c *Cache) Purge() {
	c.lru.Purge()
}
