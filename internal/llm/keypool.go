package llm

import (
	"sync"
	"time"
)

// keyPool is the ordered pool of API keys with per-key block-until
// timestamps. Keys are blocked only when free_tier_mode is enabled; in paid
// tier the Gateway only calls Next to pick a key.
type keyPool struct {
	mu sync.Mutex
	keys []string
	blockedTil map[string]time.Time
	blockFor time.Duration
	now func() time.Time
	lastPicked int
}

func newKeyPool(keys []string, blockFor time.Duration) *keyPool {
	if blockFor <= 0 {
 blockFor = 60 * time.Second
	}
	return &keyPool{keys: keys, blockedTil: map[string]time.Time{}, blockFor: blockFor, now: time.Now, lastPicked: -1}
}

// Next returns the next available (non-blocked) key starting just after
// the last one picked, wrapping around. ok is false when every key is
// blocked.
func (p *keyPool) Next() (key string, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.keys) == 0 {
 return "", false
	}
	now := p.now()
	for i := 0; i < len(p.keys); i++ {
 idx := (p.lastPicked + 1 + i) % len(p.keys)
 k := p.keys[idx]
 if until, blocked := p.blockedTil[k]; !blocked || now.After(until) {
 p.lastPicked = idx
 return k, true
 }
	}
	return "", false
}

// Block marks key as unusable until blockFor elapses.
func (p *keyPool) Block(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.blockedTil[key] = p.now().Add(p.blockFor)
}

func (p *keyPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.keys)
}
