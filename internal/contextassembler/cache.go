package contextassembler

import (
	"container/list"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type cacheKey struct {
	ChatID int64
	ThreadID int64 // 0 when the message has no thread
}

// lruCache is the L1 in-process cache: size-capped at
// L1CacheSize entries (default 100), adaptive TTL in [CacheTTLMinSeconds,
// CacheTTLMaxSeconds] that widens as the hit ratio improves, exposing hit
// statistics, the same in-process TTL-cache pattern already used for the
// ingest album cache.
type lruCache struct {
	mu sync.Mutex
	ll *list.List
	items map[cacheKey]*list.Element
	capacity int
	ttlMin time.Duration
	ttlMax time.Duration
	now func() time.Time

	hits int64
	misses int64
}

type lruEntry struct {
	key cacheKey
	value LayeredContext
	expiresAt time.Time
}

func newLRUCache(capacity int, ttlMin, ttlMax time.Duration) *lruCache {
	if capacity <= 0 {
 capacity = 100
	}
	if ttlMax < ttlMin {
 ttlMax = ttlMin
	}
	return &lruCache{
 ll: list.New(), items: map[cacheKey]*list.Element{},
 capacity: capacity, ttlMin: ttlMin, ttlMax: ttlMax, now: time.Now,
	}
}

func (c *lruCache) ttl() time.Duration {
	total := c.hits + c.misses
	if total == 0 {
 return c.ttlMin
	}
	ratio := float64(c.hits) / float64(total)
	return c.ttlMin + time.Duration(ratio*float64(c.ttlMax-c.ttlMin))
}

func (c *lruCache) Get(key cacheKey) (LayeredContext, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
 c.misses++
 return LayeredContext{}, false
	}
	entry := el.Value.(*lruEntry)
	if c.now().After(entry.expiresAt) {
 c.ll.Remove(el)
 delete(c.items, key)
 c.misses++
 return LayeredContext{}, false
	}
	c.ll.MoveToFront(el)
	c.hits++
	return entry.value, true
}

func (c *lruCache) Set(key cacheKey, value LayeredContext) {
	c.mu.Lock()
	defer c.mu.Unlock()
	expiresAt := c.now().Add(c.ttl())
	if el, ok := c.items[key]; ok {
 el.Value.(*lruEntry).value = value
 el.Value.(*lruEntry).expiresAt = expiresAt
 c.ll.MoveToFront(el)
 return
	}
	el := c.ll.PushFront(&lruEntry{key: key, value: value, expiresAt: expiresAt})
	c.items[key] = el
	if c.ll.Len() > c.capacity {
 oldest := c.ll.Back()
 if oldest != nil {
 c.ll.Remove(oldest)
 delete(c.items, oldest.Value.(*lruEntry).key)
 }
	}
}

// HitRatio reports the cache's lifetime hit ratio for monitoring.
func (c *lruCache) HitRatio() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := c.hits + c.misses
	if total == 0 {
 return 0
	}
	return float64(c.hits) / float64(total)
}

// l2Cache is the Redis-backed second-tier cache, tolerant of
// a nil client the same way internal/ratelimit.Limiter is, so Redis is an
// optional accelerator rather than a hard dependency.
type l2Cache struct {
	redis redis.UniversalClient
	ttl time.Duration
}

func newL2Cache(client redis.UniversalClient, ttl time.Duration) *l2Cache {
	return &l2Cache{redis: client, ttl: ttl}
}

func redisKey(key cacheKey) string {
	return "ctx:" + itoa(key.ChatID) + ":" + itoa(key.ThreadID)
}

func itoa(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func (c *l2Cache) Get(ctx context.Context, key cacheKey) (LayeredContext, bool) {
	if c.redis == nil {
 return LayeredContext{}, false
	}
	s, err := c.redis.Get(ctx, redisKey(key)).Result()
	if err != nil {
 return LayeredContext{}, false
	}
	var lc LayeredContext
	if err := json.Unmarshal([]byte(s), &lc); err != nil {
 return LayeredContext{}, false
	}
	return lc, true
}

func (c *l2Cache) Set(ctx context.Context, key cacheKey, value LayeredContext) {
	if c.redis == nil {
 return
	}
	b, err := json.Marshal(value)
	if err != nil {
 return
	}
	c.redis.Set(ctx, redisKey(key), b, c.ttl)
}
