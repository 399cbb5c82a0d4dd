package orchestrator

import (
	"context"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thathunky/gryag/internal/botlearning"
	"github.com/thathunky/gryag/internal/commands"
	"github.com/thathunky/gryag/internal/config"
	"github.com/thathunky/gryag/internal/contextassembler"
	"github.com/thathunky/gryag/internal/ingest"
	"github.com/thathunky/gryag/internal/llm"
	"github.com/thathunky/gryag/internal/model"
	"github.com/thathunky/gryag/internal/profile"
	"github.com/thathunky/gryag/internal/ratelimit"
)

type fakeMessages struct {
	appended []model.Message
	nextID   int64
}

func (f *fakeMessages) Append(ctx context.Context, msg model.Message) (int64, error) {
	f.nextID++
	msg.ID = f.nextID
	f.appended = append(f.appended, msg)
	return f.nextID, nil
}
func (f *fakeMessages) BackfillEmbedding(ctx context.Context, id int64, vec []float32) error {
	return nil
}

type fakeEpisodes struct {
	episodes []model.Episode
}

func (f *fakeEpisodes) ByChat(ctx context.Context, chatID int64, minImportance float64, limit int) ([]model.Episode, error) {
	return f.episodes, nil
}

type fakeProfiles struct {
	found        bool
	touched      int
	ensured      int
	addedFacts   []profile.AddFactInput
	facts        []model.Fact
	summaryCalls []int64
}

func (p *fakeProfiles) GetProfile(ctx context.Context, userID, chatID int64) (model.UserProfile, bool, error) {
	return model.UserProfile{UserID: userID, ChatID: chatID}, p.found, nil
}
func (p *fakeProfiles) EnsureProfile(ctx context.Context, userID, chatID int64, displayName, username string) (model.UserProfile, error) {
	p.ensured++
	return model.UserProfile{UserID: userID, ChatID: chatID}, nil
}
func (p *fakeProfiles) TouchProfile(ctx context.Context, userID, chatID int64, displayName, username string) error {
	p.touched++
	return nil
}
func (p *fakeProfiles) AddFact(ctx context.Context, in profile.AddFactInput) (model.Fact, bool, error) {
	p.addedFacts = append(p.addedFacts, in)
	return model.Fact{ID: 1}, false, nil
}
func (p *fakeProfiles) GetFacts(ctx context.Context, in profile.GetFactsInput) ([]model.Fact, error) {
	return p.facts, nil
}
func (p *fakeProfiles) GetProfilesNeedingSummarization(ctx context.Context, staleAfter time.Duration, limit int) ([]model.UserProfile, error) {
	return nil, nil
}
func (p *fakeProfiles) UpdateProfileSummary(ctx context.Context, profileID int64, summary string) error {
	p.summaryCalls = append(p.summaryCalls, profileID)
	return nil
}

type fakeMonitor struct {
	tracked      int
	created      int64
	closeOnTrack bool
}

func (m *fakeMonitor) TrackMessage(ctx context.Context, chatID int64, threadID *int64, msg model.Message) {
	m.tracked++
	if m.closeOnTrack {
		m.created++
	}
}
func (m *fakeMonitor) CreatedCount() int64        { return m.created }
func (m *fakeMonitor) Run(ctx context.Context)     {}

type toolUsageCall struct {
	toolName, userReaction string
	chatID                 int64
	success                bool
}

type fakeLearning struct {
	responses  []botlearning.ResponseInput
	reactions  []botlearning.ReactionInput
	toolUsages []toolUsageCall
	episodes   []string
}

func (l *fakeLearning) RecordResponse(ctx context.Context, in botlearning.ResponseInput) (int64, error) {
	l.responses = append(l.responses, in)
	return 1, nil
}
func (l *fakeLearning) RecordUserReaction(ctx context.Context, in botlearning.ReactionInput) (model.Outcome, error) {
	l.reactions = append(l.reactions, in)
	return model.OutcomePositive, nil
}
func (l *fakeLearning) LearnFromToolUsage(ctx context.Context, toolName, userReaction string, chatID int64, success bool, tags []string) error {
	l.toolUsages = append(l.toolUsages, toolUsageCall{toolName, userReaction, chatID, success})
	return nil
}
func (l *fakeLearning) LearnFromEpisode(ctx context.Context, chatID int64, summary string, importance float64, valence model.EmotionalValence) error {
	l.episodes = append(l.episodes, summary)
	return nil
}

type fakeGateway struct {
	text    string
	err     error
	lastReq llm.GenerateRequest
}

func (g *fakeGateway) Generate(ctx context.Context, req llm.GenerateRequest, callbacks map[string]llm.ToolCallback) (llm.GenerateResult, error) {
	g.lastReq = req
	if g.err != nil {
		return llm.GenerateResult{}, g.err
	}
	return llm.GenerateResult{Text: g.text}, nil
}
func (g *fakeGateway) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.1, 0.2}, nil
}

type fakeAssembler struct{}

func (fakeAssembler) Assemble(ctx context.Context, req contextassembler.AssembleRequest) (contextassembler.LayeredContext, error) {
	return contextassembler.LayeredContext{SystemContext: "background facts"}, nil
}

type fakePrompts struct{ text string }

func (p fakePrompts) Effective(ctx context.Context, chatID *int64) (string, string, error) {
	return p.text, "default", nil
}

type fakeLimiter struct {
	allowed bool
	notify  bool
}

func (l *fakeLimiter) CheckAndIncrement(ctx context.Context, userID int64, feature string, limit int) (ratelimit.Decision, error) {
	return ratelimit.Decision{Allowed: l.allowed}, nil
}
func (l *fakeLimiter) ShouldNotify(ctx context.Context, userID int64, feature string) (bool, error) {
	return l.notify, nil
}

type fakeMemTools struct{}

func (fakeMemTools) Callbacks(userID int64) map[string]llm.ToolCallback {
	return map[string]llm.ToolCallback{
		"remember_memory": func(ctx context.Context, args map[string]any) (string, error) {
			return `{"ok":true}`, nil
		},
	}
}

type fakeDispatcher struct {
	handled bool
	resp    commands.Response
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, req commands.Request) (commands.Response, bool) {
	if !commands.IsCommand(req.Text) {
		return commands.Response{}, false
	}
	return d.resp, d.handled
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *fakeMessages, *fakeProfiles, *fakeMonitor, *fakeLearning, *fakeGateway, *fakeEpisodes) {
	t.Helper()
	cfg := config.Config{
		Auth:     config.AuthConfig{NameVariants: []string{"gryag"}},
		Limits:   config.LimitsConfig{PerUserPerHour: 100, ReactionTimeoutSec: 300},
		Context:  config.ContextConfig{TokenBudget: 4000},
		Profiles: config.ProfilesConfig{EnableChatProfiling: true},
	}
	pipeline := ingest.NewPipeline(cfg, 999, nil)
	messages := &fakeMessages{}
	episodes := &fakeEpisodes{}
	profiles := &fakeProfiles{found: true}
	monitor := &fakeMonitor{}
	learning := &fakeLearning{}
	gateway := &fakeGateway{text: "hello there"}

	o := New(pipeline, messages, episodes, profiles, monitor, learning, gateway,
		fakeAssembler{}, &fakeLimiter{allowed: true}, fakePrompts{text: "be nice"},
		fakeMemTools{}, &fakeDispatcher{}, cfg, nil)
	return o, messages, profiles, monitor, learning, gateway, episodes
}

func addressedMessage(chatID, userID int64, text string) *tgbotapi.Message {
	return &tgbotapi.Message{
		MessageID: 1,
		From:      &tgbotapi.User{ID: userID, FirstName: "Ada"},
		Chat:      &tgbotapi.Chat{ID: chatID},
		Text:      text + " gryag",
		Date:      int(time.Now().Unix()),
	}
}

func plainMessage(chatID, userID int64, text string) *tgbotapi.Message {
	return &tgbotapi.Message{
		MessageID: 2,
		From:      &tgbotapi.User{ID: userID, FirstName: "Ada"},
		Chat:      &tgbotapi.Chat{ID: chatID},
		Text:      text,
		Date:      int(time.Now().Unix()),
	}
}

func TestHandle_NonAddressedMessageIsStoredOnly(t *testing.T) {
	o, messages, profiles, monitor, _, _, _ := newTestOrchestrator(t)
	reply, err := o.Handle(context.Background(), plainMessage(1, 2, "just chatting"), false, false, false)
	require.NoError(t, err)
	assert.Nil(t, reply)
	assert.Len(t, messages.appended, 1)
	assert.Equal(t, 1, profiles.touched)
	assert.Equal(t, 1, monitor.tracked)
}

func TestHandle_AddressedMessageGeneratesReply(t *testing.T) {
	o, messages, _, _, learning, gateway, _ := newTestOrchestrator(t)
	reply, err := o.Handle(context.Background(), addressedMessage(1, 2, "how are you"), false, false, false)
	require.NoError(t, err)
	require.NotNil(t, reply)
	assert.Equal(t, "hello there", reply.Text)
	assert.Contains(t, gateway.lastReq.SystemPrompt, "background facts")
	assert.Len(t, learning.responses, 1)
	assert.Len(t, messages.appended, 2) // the inbound message + the bot's reply
}

func TestHandle_GenerateFailureReturnsLocalizedReply(t *testing.T) {
	o, _, _, _, learning, gateway, _ := newTestOrchestrator(t)
	gateway.err = assert.AnError
	reply, err := o.Handle(context.Background(), addressedMessage(1, 2, "hi"), false, false, false)
	require.NoError(t, err)
	require.NotNil(t, reply)
	assert.Equal(t, failureReplyText, reply.Text)
	assert.Len(t, learning.responses, 1) // still recorded, neutral
}

func TestHandle_RateLimitedAddressedMessageNotifiesOnce(t *testing.T) {
	o, _, _, _, _, _, _ := newTestOrchestrator(t)
	o.limiter = &fakeLimiter{allowed: false, notify: true}
	reply, err := o.Handle(context.Background(), addressedMessage(1, 2, "hi"), false, false, false)
	require.NoError(t, err)
	require.NotNil(t, reply)
	assert.Contains(t, reply.Text, "fast")
}

func TestHandle_RateLimitedWithoutNotifyIsSilent(t *testing.T) {
	o, _, _, _, _, _, _ := newTestOrchestrator(t)
	o.limiter = &fakeLimiter{allowed: false, notify: false}
	reply, err := o.Handle(context.Background(), addressedMessage(1, 2, "hi"), false, false, false)
	require.NoError(t, err)
	assert.Nil(t, reply)
}

func TestHandle_CommandDispatchShortCircuitsGeneration(t *testing.T) {
	o, _, _, _, _, gateway, _ := newTestOrchestrator(t)
	o.dispatch = &fakeDispatcher{handled: true, resp: commands.Response{Text: "pong"}}
	msg := addressedMessage(1, 2, "")
	msg.Text = "/gryagping"
	reply, err := o.Handle(context.Background(), msg, false, true, false)
	require.NoError(t, err)
	require.NotNil(t, reply)
	assert.Equal(t, "pong", reply.Text)
	assert.Empty(t, gateway.lastReq.SystemPrompt) // Generate never invoked
}

func TestHandle_NewEpisodeFeedsLearning(t *testing.T) {
	o, _, _, monitor, learning, _, episodes := newTestOrchestrator(t)
	episodes.episodes = []model.Episode{{ID: 9, Summary: "a long chat", Importance: 0.9, Valence: model.ValencePositive}}
	monitor.closeOnTrack = true // TrackMessage closes an episode, so CreatedCount() rises past createdBefore (0)
	_, err := o.Handle(context.Background(), addressedMessage(1, 2, "hi"), false, false, false)
	require.NoError(t, err)
	require.Len(t, learning.episodes, 1)
	assert.Equal(t, "a long chat", learning.episodes[0])
}

func TestDetectReaction_WithinWindowRecordsReaction(t *testing.T) {
	o, _, _, _, learning, _, _ := newTestOrchestrator(t)
	fixed := time.Unix(10_000, 0)
	o.now = func() time.Time { return fixed }
	o.rememberPendingReply(1, 2, "previous reply", []string{"search_memory"})
	o.now = func() time.Time { return fixed.Add(5 * time.Second) }

	o.detectReaction(context.Background(), 1, 2, "thanks, that helped!")
	require.Len(t, learning.reactions, 1)
	assert.Equal(t, "previous reply", learning.reactions[0].PreviousResponseText)
	require.Len(t, learning.toolUsages, 1)
	assert.Equal(t, "search_memory", learning.toolUsages[0].toolName)
	assert.Equal(t, "thanks, that helped!", learning.toolUsages[0].userReaction)
	assert.True(t, learning.toolUsages[0].success)
}

func TestDetectReaction_OutsideWindowIsIgnored(t *testing.T) {
	o, _, _, _, learning, _, _ := newTestOrchestrator(t)
	fixed := time.Unix(10_000, 0)
	o.now = func() time.Time { return fixed }
	o.rememberPendingReply(1, 2, "previous reply", []string{"search_memory"})
	o.now = func() time.Time { return fixed.Add(10 * time.Minute) }

	o.detectReaction(context.Background(), 1, 2, "thanks!")
	assert.Empty(t, learning.reactions)
	assert.Empty(t, learning.toolUsages)
}

func TestMaybeExtractChatFacts_RecordsMatchingHeuristic(t *testing.T) {
	o, _, profiles, _, _, _, _ := newTestOrchestrator(t)
	o.maybeExtractChatFacts(context.Background(), 1, "hey let's talk about retro games tonight")
	require.Len(t, profiles.addedFacts, 1)
	assert.Equal(t, "topic", profiles.addedFacts[0].Category)
	assert.Equal(t, "retro games tonight", profiles.addedFacts[0].Value)
}

func TestMaybeExtractChatFacts_DisabledSkipsExtraction(t *testing.T) {
	o, _, profiles, _, _, _, _ := newTestOrchestrator(t)
	o.cfg.Profiles.EnableChatProfiling = false
	o.maybeExtractChatFacts(context.Background(), 1, "let's talk about retro games")
	assert.Empty(t, profiles.addedFacts)
}

func TestWrappedCallbacks_RecordsInvokedToolNames(t *testing.T) {
	o, _, _, _, _, _, _ := newTestOrchestrator(t)
	var used []string
	callbacks := o.wrappedCallbacks(2, &used)
	cb, ok := callbacks["remember_memory"]
	require.True(t, ok)
	out, err := cb(context.Background(), map[string]any{"key": "v"})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, out)
	assert.Equal(t, []string{"remember_memory"}, used)
}

func TestSummarizeProfile_WritesSummaryFromFacts(t *testing.T) {
	o, _, profiles, _, _, gateway, _ := newTestOrchestrator(t)
	profiles.facts = []model.Fact{{Category: "preference", Key: "favorite_color", Value: "blue"}}
	gateway.text = "Ada likes blue."
	err := o.summarizeProfile(context.Background(), model.UserProfile{ID: 7, UserID: 2, DisplayName: "Ada"})
	require.NoError(t, err)
	assert.Equal(t, []int64{7}, profiles.summaryCalls)
}
