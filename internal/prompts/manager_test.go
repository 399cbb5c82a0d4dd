package prompts

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thathunky/gryag/internal/model"
)

type fakeStore struct {
	active      map[string]model.SystemPrompt
	activeCalls int
	deactivated []string
	setCalls    []model.SystemPrompt
}

func scopeKey(scope model.PromptScope, chatID *int64) string {
	if chatID == nil {
		return string(scope) + ":global"
	}
	return string(scope) + ":chat"
}

func (f *fakeStore) Active(ctx context.Context, scope model.PromptScope, chatID *int64) (model.SystemPrompt, bool, error) {
	f.activeCalls++
	p, ok := f.active[scopeKey(scope, chatID)]
	return p, ok, nil
}

func (f *fakeStore) History(ctx context.Context, scope model.PromptScope, chatID *int64, limit int) ([]model.SystemPrompt, error) {
	return nil, nil
}

func (f *fakeStore) SetActive(ctx context.Context, scope model.PromptScope, chatID, userID *int64, text string, nowTS int64) (model.SystemPrompt, error) {
	p := model.SystemPrompt{Scope: scope, ChatID: chatID, UserID: userID, Text: text, IsActive: true, Version: 1, CreatedAt: nowTS}
	f.setCalls = append(f.setCalls, p)
	if f.active == nil {
		f.active = make(map[string]model.SystemPrompt)
	}
	f.active[scopeKey(scope, chatID)] = p
	return p, nil
}

func (f *fakeStore) ActivateVersion(ctx context.Context, scope model.PromptScope, chatID *int64, version int) error {
	return nil
}

func (f *fakeStore) Deactivate(ctx context.Context, scope model.PromptScope, chatID *int64) (bool, error) {
	key := scopeKey(scope, chatID)
	f.deactivated = append(f.deactivated, key)
	_, existed := f.active[key]
	delete(f.active, key)
	return existed, nil
}

func newTestManager() (*Manager, *fakeStore) {
	store := &fakeStore{active: make(map[string]model.SystemPrompt)}
	m := NewManager(store, "default persona text", 3600)
	m.now = func() time.Time { return time.Unix(100_000, 0) }
	return m, store
}

func TestEffective_NoCustomPromptsReturnsDefault(t *testing.T) {
	m, _ := newTestManager()
	chatID := int64(42)
	text, source, err := m.Effective(context.Background(), &chatID)
	require.NoError(t, err)
	assert.Equal(t, "default persona text", text)
	assert.Equal(t, "default", source)
}

func TestEffective_ChatScopeBeatsGlobalScope(t *testing.T) {
	m, store := newTestManager()
	chatID := int64(42)
	store.active[scopeKey(model.PromptScopeGlobal, nil)] = model.SystemPrompt{Text: "global persona"}
	store.active[scopeKey(model.PromptScopeChat, &chatID)] = model.SystemPrompt{Text: "chat persona"}

	text, source, err := m.Effective(context.Background(), &chatID)
	require.NoError(t, err)
	assert.Equal(t, "chat persona", text)
	assert.Equal(t, "chat", source)
}

func TestEffective_FallsBackToGlobalWhenNoChatPrompt(t *testing.T) {
	m, store := newTestManager()
	chatID := int64(42)
	store.active[scopeKey(model.PromptScopeGlobal, nil)] = model.SystemPrompt{Text: "global persona"}

	text, source, err := m.Effective(context.Background(), &chatID)
	require.NoError(t, err)
	assert.Equal(t, "global persona", text)
	assert.Equal(t, "global", source)
}

func TestEffective_SecondLookupWithinTTLUsesCache(t *testing.T) {
	m, store := newTestManager()
	chatID := int64(42)
	store.active[scopeKey(model.PromptScopeChat, &chatID)] = model.SystemPrompt{Text: "chat persona"}

	_, _, err := m.Effective(context.Background(), &chatID)
	require.NoError(t, err)
	callsAfterFirst := store.activeCalls

	_, _, err = m.Effective(context.Background(), &chatID)
	require.NoError(t, err)
	assert.Equal(t, callsAfterFirst, store.activeCalls)
	assert.True(t, m.LastCacheHit())
}

func TestEffective_CacheExpiresAfterTTL(t *testing.T) {
	m, store := newTestManager()
	chatID := int64(42)
	store.active[scopeKey(model.PromptScopeChat, &chatID)] = model.SystemPrompt{Text: "chat persona"}

	_, _, err := m.Effective(context.Background(), &chatID)
	require.NoError(t, err)
	callsAfterFirst := store.activeCalls

	m.now = func() time.Time { return time.Unix(100_000+3601, 0) }
	_, _, err = m.Effective(context.Background(), &chatID)
	require.NoError(t, err)
	assert.Greater(t, store.activeCalls, callsAfterFirst)
}

func TestSet_InvalidatesOnlyAffectedChatCache(t *testing.T) {
	m, store := newTestManager()
	chatA, chatB := int64(1), int64(2)
	store.active[scopeKey(model.PromptScopeChat, &chatA)] = model.SystemPrompt{Text: "a persona"}
	store.active[scopeKey(model.PromptScopeChat, &chatB)] = model.SystemPrompt{Text: "b persona"}
	_, _, _ = m.Effective(context.Background(), &chatA)
	_, _, _ = m.Effective(context.Background(), &chatB)

	_, err := m.Set(context.Background(), model.PromptScopeChat, &chatA, nil, "updated a persona")
	require.NoError(t, err)

	text, _, err := m.Effective(context.Background(), &chatB)
	require.NoError(t, err)
	assert.Equal(t, "b persona", text)
	assert.True(t, m.LastCacheHit())
}

func TestSet_GlobalScopeInvalidatesEntireCache(t *testing.T) {
	m, store := newTestManager()
	chatID := int64(1)
	store.active[scopeKey(model.PromptScopeGlobal, nil)] = model.SystemPrompt{Text: "global persona"}
	_, _, _ = m.Effective(context.Background(), &chatID)

	_, err := m.Set(context.Background(), model.PromptScopeGlobal, nil, nil, "new global persona")
	require.NoError(t, err)

	callsBefore := store.activeCalls
	_, _, err = m.Effective(context.Background(), &chatID)
	require.NoError(t, err)
	assert.Greater(t, store.activeCalls, callsBefore)
}

func TestReset_FallsBackAfterDeactivation(t *testing.T) {
	m, store := newTestManager()
	chatID := int64(1)
	store.active[scopeKey(model.PromptScopeChat, &chatID)] = model.SystemPrompt{Text: "chat persona"}
	_, _, _ = m.Effective(context.Background(), &chatID)

	ok, err := m.Reset(context.Background(), model.PromptScopeChat, &chatID)
	require.NoError(t, err)
	assert.True(t, ok)

	text, source, err := m.Effective(context.Background(), &chatID)
	require.NoError(t, err)
	assert.Equal(t, "default persona text", text)
	assert.Equal(t, "default", source)
}
