package geolocation

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultCacheSize = 50000

// Cache stores resolved locations for a limited time. Implementations must
// never return an entry whose TTL has passed.
type Cache interface {
	Get(ctx context.Context, ip string) (Location, bool)
	Set(ctx context.Context, ip string, loc Location, ttl time.Duration)
}

type cacheRecord struct {
	Location
	ExpiresAt time.Time `json:"expires_at"`
}

// MemoryCache is a bounded in-process cache. Expiry is evaluated against
// the cache clock on read; the LRU bound keeps memory flat when many
// distinct addresses show up.
type MemoryCache struct {
	entries *lru.Cache[string, cacheRecord]
	now     func() time.Time
}

type MemoryCacheOption func(*MemoryCache)

func WithClock(now func() time.Time) MemoryCacheOption {
	return func(c *MemoryCache) {
		if now != nil {
			c.now = now
		}
	}
}

func NewMemoryCache(size int, opts ...MemoryCacheOption) *MemoryCache {
	if size <= 0 {
		size = defaultCacheSize
	}
	entries, err := lru.New[string, cacheRecord](size)
	if err != nil {
		// only returned for a non-positive size
		panic(err)
	}

	c := &MemoryCache{entries: entries, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *MemoryCache) Get(_ context.Context, ip string) (Location, bool) {
	record, ok := c.entries.Get(ip)
	if !ok {
		return Location{}, false
	}
	if !c.now().Before(record.ExpiresAt) {
		c.entries.Remove(ip)
		return Location{}, false
	}
	return record.Location, true
}

func (c *MemoryCache) Set(_ context.Context, ip string, loc Location, ttl time.Duration) {
	c.entries.Add(ip, cacheRecord{Location: loc, ExpiresAt: c.now().Add(ttl)})
}

func (c *MemoryCache) Len() int {
	return c.entries.Len()
}
