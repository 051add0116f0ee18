package engine

import (
	"crypto/sha256"
	"encoding/binary"
)

// DefaultExpandCacheSize bounds the expansion cache of one execution.
const DefaultExpandCacheSize = 100

type cacheKey [sha256.Size]byte

// expandCache memoizes expansions within one execution. It is bounded and
// evicts the oldest inserted entry first.
type expandCache struct {
	size    int
	entries map[cacheKey]string
	order   []cacheKey
}

func newExpandCache(size int) *expandCache {
	if size <= 0 {
		size = DefaultExpandCacheSize
	}
	return &expandCache{size: size, entries: make(map[cacheKey]string, size)}
}

// keyOf hashes parts with a length prefix on each so that no two distinct
// part lists share a key.
func keyOf(parts ...string) cacheKey {
	h := sha256.New()
	var n [8]byte
	for _, p := range parts {
		binary.BigEndian.PutUint64(n[:], uint64(len(p)))
		h.Write(n[:])
		h.Write([]byte(p))
	}
	var k cacheKey
	copy(k[:], h.Sum(nil))
	return k
}

func (c *expandCache) get(k cacheKey) (string, bool) {
	v, ok := c.entries[k]
	return v, ok
}

func (c *expandCache) put(k cacheKey, v string) {
	if _, ok := c.entries[k]; ok {
		c.entries[k] = v
		return
	}
	if len(c.order) >= c.size {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	c.entries[k] = v
	c.order = append(c.order, k)
}

func (c *expandCache) len() int { return len(c.entries) }
