package commands

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thathunky/gryag/internal/botlearning"
	"github.com/thathunky/gryag/internal/model"
	"github.com/thathunky/gryag/internal/profile"
)

type fakeFacts struct {
	facts    []model.Fact
	deleted  []int64
	cleared  []int64
}

func (f *fakeFacts) GetFacts(ctx context.Context, in profile.GetFactsInput) ([]model.Fact, error) {
	return f.facts, nil
}
func (f *fakeFacts) DeleteFact(ctx context.Context, id int64) error {
	f.deleted = append(f.deleted, id)
	return nil
}
func (f *fakeFacts) ClearUserFacts(ctx context.Context, userID int64) error {
	f.cleared = append(f.cleared, userID)
	return nil
}

type fakeProfiles struct {
	profile     model.UserProfile
	found       bool
	memberships map[int64]model.MembershipStatus
}

func (p *fakeProfiles) GetProfile(ctx context.Context, userID, chatID int64) (model.UserProfile, bool, error) {
	return p.profile, p.found, nil
}
func (p *fakeProfiles) SetMembership(ctx context.Context, userID, chatID int64, status model.MembershipStatus) error {
	if p.memberships == nil {
		p.memberships = map[int64]model.MembershipStatus{}
	}
	p.memberships[userID] = status
	return nil
}

type fakeMessages struct {
	total   int64
	counts  map[int64]int64
	deleted bool
}

func (m *fakeMessages) CountByChat(ctx context.Context, chatID int64) (int64, error) { return m.total, nil }
func (m *fakeMessages) DeleteByChat(ctx context.Context, chatID int64) (int64, error) {
	m.deleted = true
	return m.total, nil
}
func (m *fakeMessages) SenderMessageCounts(ctx context.Context, chatID int64) (map[int64]int64, error) {
	return m.counts, nil
}

type fakeLimiter struct {
	resets []string
}

func (l *fakeLimiter) ResetUser(ctx context.Context, userID int64, feature string) error {
	l.resets = append(l.resets, feature)
	return nil
}

type fakePrompts struct {
	effectiveText string
	effectiveSrc  string
	cacheHit      bool
}

func (p *fakePrompts) Effective(ctx context.Context, chatID *int64) (string, string, error) {
	return p.effectiveText, p.effectiveSrc, nil
}
func (p *fakePrompts) ActivePrompt(ctx context.Context, scope model.PromptScope, chatID *int64) (model.SystemPrompt, bool, error) {
	return model.SystemPrompt{}, false, nil
}
func (p *fakePrompts) Set(ctx context.Context, scope model.PromptScope, chatID, userID *int64, text string) (model.SystemPrompt, error) {
	return model.SystemPrompt{Scope: scope, Text: text, Version: 1}, nil
}
func (p *fakePrompts) Reset(ctx context.Context, scope model.PromptScope, chatID *int64) (bool, error) {
	return true, nil
}
func (p *fakePrompts) History(ctx context.Context, scope model.PromptScope, chatID *int64, limit int) ([]model.SystemPrompt, error) {
	return nil, nil
}
func (p *fakePrompts) ActivateVersion(ctx context.Context, scope model.PromptScope, chatID *int64, version int) error {
	return nil
}
func (p *fakePrompts) LastCacheHit() bool { return p.cacheHit }

type fakeLearning struct{}

func (fakeLearning) EffectivenessSummary(ctx context.Context, chatID int64, days int) (botlearning.Summary, error) {
	return botlearning.Summary{}, nil
}
func (fakeLearning) GenerateInsights(ctx context.Context, chatID *int64) ([]model.Insight, error) {
	return nil, nil
}

func newTestDispatcher() *Dispatcher {
	return NewDispatcher(
		&fakeFacts{}, &fakeProfiles{}, &fakeMessages{counts: map[int64]int64{}},
		&fakeLimiter{}, &fakePrompts{}, fakeLearning{}, "gryagbot",
	)
}

func TestDispatch_NonCommandFallsThrough(t *testing.T) {
	d := newTestDispatcher()
	_, ok := d.Dispatch(context.Background(), Request{Text: "hello there"})
	assert.False(t, ok)
}

func TestDispatch_PingWorksForNonAdmin(t *testing.T) {
	d := newTestDispatcher()
	resp, ok := d.Dispatch(context.Background(), Request{Text: "/ping", IsAdmin: false})
	require.True(t, ok)
	assert.Equal(t, "🏓 pong", resp.Text)
}

func TestDispatch_AdminOnlyRefusesNonAdmin(t *testing.T) {
	d := newTestDispatcher()
	resp, ok := d.Dispatch(context.Background(), Request{Text: "/gryagban", IsAdmin: false})
	require.True(t, ok)
	assert.Equal(t, adminOnlyText, resp.Text)
}

func TestDispatch_UnknownCommandFallsThrough(t *testing.T) {
	d := newTestDispatcher()
	_, ok := d.Dispatch(context.Background(), Request{Text: "/notarealcommand", IsAdmin: true})
	assert.False(t, ok)
}

func TestDispatch_BotUsernameSuffixMismatchIgnored(t *testing.T) {
	d := newTestDispatcher()
	_, ok := d.Dispatch(context.Background(), Request{Text: "/ping@otherbot", IsAdmin: true})
	assert.False(t, ok)
}

func TestDispatch_BotUsernameSuffixMatchResolves(t *testing.T) {
	d := newTestDispatcher()
	resp, ok := d.Dispatch(context.Background(), Request{Text: "/ping@gryagbot", IsAdmin: true})
	require.True(t, ok)
	assert.Equal(t, "🏓 pong", resp.Text)
}

func TestHandleBan_RequiresTarget(t *testing.T) {
	d := newTestDispatcher()
	resp, ok := d.Dispatch(context.Background(), Request{Text: "/gryagban", IsAdmin: true})
	require.True(t, ok)
	assert.Contains(t, resp.Text, "Reply to")
}

func TestHandleBan_UsesReplyTarget(t *testing.T) {
	d := newTestDispatcher()
	target := int64(42)
	resp, ok := d.Dispatch(context.Background(), Request{
		Text: "/gryagban", IsAdmin: true, ReplyToUserID: &target, ReplyToDisplayName: "Alice",
	})
	require.True(t, ok)
	assert.Contains(t, resp.Text, "Alice")
}

func TestHandleForgetUser_RequiresTwoInvocations(t *testing.T) {
	d := newTestDispatcher()
	target := int64(7)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	req := Request{Text: "/gryagforget", IsAdmin: true, ChatID: 1, UserID: 99, Now: now, ReplyToUserID: &target}

	resp1, ok := d.Dispatch(context.Background(), req)
	require.True(t, ok)
	assert.Contains(t, resp1.Text, "Repeat the command")

	req.Now = now.Add(5 * time.Second)
	resp2, ok := d.Dispatch(context.Background(), req)
	require.True(t, ok)
	assert.Contains(t, resp2.Text, "Forgot all facts")
}

func TestHandleForgetUser_ConfirmExpiresAfterTTL(t *testing.T) {
	d := newTestDispatcher()
	target := int64(7)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	req := Request{Text: "/gryagforget", IsAdmin: true, ChatID: 1, UserID: 99, Now: now, ReplyToUserID: &target}

	_, ok := d.Dispatch(context.Background(), req)
	require.True(t, ok)

	req.Now = now.Add(31 * time.Second)
	resp, ok := d.Dispatch(context.Background(), req)
	require.True(t, ok)
	assert.Contains(t, resp.Text, "Repeat the command")
}

func TestHandleChatMemoryReset_RequiresTwoInvocations(t *testing.T) {
	d := newTestDispatcher()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	req := Request{Text: "/gryagchatreset", IsAdmin: true, ChatID: 5, UserID: 9, Now: now}

	resp1, ok := d.Dispatch(context.Background(), req)
	require.True(t, ok)
	assert.Contains(t, resp1.Text, "Repeat the command")

	req.Now = now.Add(10 * time.Second)
	resp2, ok := d.Dispatch(context.Background(), req)
	require.True(t, ok)
	assert.Contains(t, resp2.Text, "Wiped")
}

func TestHandlePromptSet_RejectsShortText(t *testing.T) {
	d := newTestDispatcher()
	resp, ok := d.Dispatch(context.Background(), Request{Text: "/gryagsetprompt too short", IsAdmin: true, ChatID: 1})
	require.True(t, ok)
	assert.Contains(t, resp.Text, "at least")
}

func TestHandlePromptSet_AcceptsReplyText(t *testing.T) {
	d := newTestDispatcher()
	longText := "You are a helpful assistant that always answers questions with great care and precision for every user."
	resp, ok := d.Dispatch(context.Background(), Request{
		Text: "/gryagsetprompt", IsAdmin: true, ChatID: 1, ReplyToText: longText,
	})
	require.True(t, ok)
	assert.Contains(t, resp.Text, "Set chat prompt")
}

func TestHandlePromptEffective(t *testing.T) {
	d := newTestDispatcher()
	d.prompts = &fakePrompts{effectiveText: "hi", effectiveSrc: "default", cacheHit: true}
	resp, ok := d.Dispatch(context.Background(), Request{Text: "/gryagshowprompt", IsAdmin: true, ChatID: 1})
	require.True(t, ok)
	assert.Contains(t, resp.Text, "hi")
	assert.Contains(t, resp.Text, "default")
	assert.Contains(t, resp.Text, "hit")
}

func TestHandleResetQuotas(t *testing.T) {
	d := newTestDispatcher()
	target := int64(3)
	resp, ok := d.Dispatch(context.Background(), Request{Text: "/gryagreset", IsAdmin: true, ReplyToUserID: &target})
	require.True(t, ok)
	assert.Contains(t, resp.Text, "Reset quotas")
}
