package retrieval

import (
	"sync"
	"time"
)

// weightCache holds per-chat sender-importance weights for 5 minutes,
// using the same TTL-map idiom as the in-process album cache.
type weightCache struct {
	mu sync.Mutex
	entries map[int64]weightEntry
	ttl time.Duration
	now func() time.Time
}

type weightEntry struct {
	weights map[int64]float64
	expiresAt time.Time
}

func newWeightCache(ttl time.Duration) *weightCache {
	if ttl <= 0 {
 ttl = 5 * time.Minute
	}
	return &weightCache{entries: map[int64]weightEntry{}, ttl: ttl, now: time.Now}
}

func (c *weightCache) get(chatID int64) (map[int64]float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[chatID]
	if !ok || c.now().After(e.expiresAt) {
 return nil, false
	}
	return e.weights, true
}

func (c *weightCache) set(chatID int64, weights map[int64]float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[chatID] = weightEntry{weights: weights, expiresAt: c.now().Add(c.ttl)}
}

// importanceWeights turns raw sender message counts into the
// importance_f factor: 1 + count/max in [1,2].
func importanceWeights(counts map[int64]int64) map[int64]float64 {
	var max int64
	for _, n := range counts {
 if n > max {
 max = n
 }
	}
	out := make(map[int64]float64, len(counts))
	if max <= 0 {
 return out
	}
	for uid, n := range counts {
 out[uid] = 1 + float64(n)/float64(max)
	}
	return out
}
