// Package prompts wraps the persisted system_prompts table with the
// scope-precedence resolution and local TTL cache the admin-configurable
// persona needs.
package prompts

import (
	"context"
	"sync"
	"time"

	"github.com/thathunky/gryag/internal/model"
)

// Store is the subset of persistence.PromptStore the manager needs.
type Store interface {
	Active(ctx context.Context, scope model.PromptScope, chatID *int64) (model.SystemPrompt, bool, error)
	History(ctx context.Context, scope model.PromptScope, chatID *int64, limit int) ([]model.SystemPrompt, error)
	SetActive(ctx context.Context, scope model.PromptScope, chatID, userID *int64, text string, nowTS int64) (model.SystemPrompt, error)
	ActivateVersion(ctx context.Context, scope model.PromptScope, chatID *int64, version int) error
	Deactivate(ctx context.Context, scope model.PromptScope, chatID *int64) (bool, error)
}

type cacheEntry struct {
	prompt model.SystemPrompt
	found bool
	cachedAt time.Time
}

// Manager resolves the effective system prompt for a chat, preferring a
// chat-specific override over the global one over the hardcoded default,
// and caches lookups for cacheTTL to keep the hot path off the database.
type Manager struct {
	store Store
	defaultText string
	cacheTTL time.Duration
	now func() time.Time
	mu sync.Mutex
	cache map[int64]cacheEntry
	lastCacheHit bool
}

const globalCacheKey = 0

func NewManager(store Store, defaultText string, cacheTTLSeconds int) *Manager {
	ttl := time.Duration(cacheTTLSeconds) * time.Second
	if ttl <= 0 {
 ttl = time.Hour
	}
	return &Manager{
 store: store,
 defaultText: defaultText,
 cacheTTL: ttl,
 now: time.Now,
 cache: make(map[int64]cacheEntry),
	}
}

func cacheKey(chatID *int64) int64 {
	if chatID == nil {
 return globalCacheKey
	}
	return *chatID
}

// Effective resolves (text, source) for chatID: a chat-scoped prompt if
// active, else the active global prompt, else the hardcoded default.
// source is "chat", "global", or "default".
func (m *Manager) Effective(ctx context.Context, chatID *int64) (string, string, error) {
	if chatID != nil {
 if p, ok, err := m.activeCached(ctx, model.PromptScopeChat, chatID); err != nil {
 return "", "", err
 } else if ok {
 return p.Text, "chat", nil
 }
	}
	if p, ok, err := m.activeCached(ctx, model.PromptScopeGlobal, nil); err != nil {
 return "", "", err
	} else if ok {
 return p.Text, "global", nil
	}
	return m.defaultText, "default", nil
}

// activeCached looks up the active prompt for scope/chatID, consulting
// (and populating) the TTL cache keyed by chatID; scope is always implied
// by whether chatID is nil, matching the one scope-per-key invariant the
// cache actually needs.
func (m *Manager) activeCached(ctx context.Context, scope model.PromptScope, chatID *int64) (model.SystemPrompt, bool, error) {
	key := cacheKey(chatID)
	now := m.now()

	m.mu.Lock()
	if entry, ok := m.cache[key]; ok && now.Sub(entry.cachedAt) < m.cacheTTL {
 m.lastCacheHit = true
 m.mu.Unlock()
 return entry.prompt, entry.found, nil
	}
	m.mu.Unlock()

	p, found, err := m.store.Active(ctx, scope, chatID)
	if err != nil {
 return model.SystemPrompt{}, false, err
	}

	m.mu.Lock()
	m.cache[key] = cacheEntry{prompt: p, found: found, cachedAt: now}
	m.lastCacheHit = false
	m.mu.Unlock()
	return p, found, nil
}

// LastCacheHit reports whether the most recent Effective/ActivePrompt call
// was served from cache, for admin diagnostics.
func (m *Manager) LastCacheHit() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastCacheHit
}

// ActivePrompt returns the raw active row for a scope (no default
// fallback), for admin "view active" commands.
func (m *Manager) ActivePrompt(ctx context.Context, scope model.PromptScope, chatID *int64) (model.SystemPrompt, bool, error) {
	if scope == model.PromptScopeGlobal {
 chatID = nil
	}
	return m.activeCached(ctx, scope, chatID)
}

// Set installs a new active version for scope/chatID and invalidates the
// cache entry it affects.
func (m *Manager) Set(ctx context.Context, scope model.PromptScope, chatID, userID *int64, text string) (model.SystemPrompt, error) {
	if scope == model.PromptScopeGlobal {
 chatID = nil
	}
	p, err := m.store.SetActive(ctx, scope, chatID, userID, text, m.now().Unix())
	if err != nil {
 return model.SystemPrompt{}, err
	}
	m.invalidate(scope, chatID)
	return p, nil
}

// Reset deactivates the custom prompt for scope/chatID, reverting
// resolution to the next scope down.
func (m *Manager) Reset(ctx context.Context, scope model.PromptScope, chatID *int64) (bool, error) {
	if scope == model.PromptScopeGlobal {
 chatID = nil
	}
	deactivated, err := m.store.Deactivate(ctx, scope, chatID)
	if err != nil {
 return false, err
	}
	m.invalidate(scope, chatID)
	return deactivated, nil
}

// History returns the version history for a scope/chat, newest first.
func (m *Manager) History(ctx context.Context, scope model.PromptScope, chatID *int64, limit int) ([]model.SystemPrompt, error) {
	if scope == model.PromptScopeGlobal {
 chatID = nil
	}
	return m.store.History(ctx, scope, chatID, limit)
}

// ActivateVersion rolls back to a prior version (rollback via history).
func (m *Manager) ActivateVersion(ctx context.Context, scope model.PromptScope, chatID *int64, version int) error {
	if scope == model.PromptScopeGlobal {
 chatID = nil
	}
	if err := m.store.ActivateVersion(ctx, scope, chatID, version); err != nil {
 return err
	}
	m.invalidate(scope, chatID)
	return nil
}

func (m *Manager) invalidate(scope model.PromptScope, chatID *int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if scope == model.PromptScopeGlobal {
 m.cache = make(map[int64]cacheEntry)
 return
	}
	delete(m.cache, cacheKey(chatID))
}

// ClearCache drops every cached entry (manual refresh, tests).
func (m *Manager) ClearCache() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache = make(map[int64]cacheEntry)
	m.lastCacheHit = false
}
