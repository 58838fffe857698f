package identity

import (
	"sync"
	"time"
)

// Cache memoizes address lookups. An empty uid is a remembered miss.
type Cache interface {
	Get(addr string) (uid string, ok bool)
	Set(addr, uid string)
}

type cacheEntry struct {
	uid      string
	storedAt time.Time
}

// MemoryCache is a process-local Cache. A zero TTL keeps entries for the
// lifetime of the process.
type MemoryCache struct {
	entries sync.Map
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryCache creates a new MemoryCache.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{ttl: ttl, now: time.Now}
}

func (c *MemoryCache) Get(addr string) (string, bool) {
	v, ok := c.entries.Load(addr)
	if !ok {
		return "", false
	}
	entry := v.(cacheEntry)
	if c.ttl > 0 && c.now().Sub(entry.storedAt) > c.ttl {
		c.entries.CompareAndDelete(addr, v)
		return "", false
	}
	return entry.uid, true
}

func (c *MemoryCache) Set(addr, uid string) {
	c.entries.Store(addr, cacheEntry{uid: uid, storedAt: c.now()})
}
