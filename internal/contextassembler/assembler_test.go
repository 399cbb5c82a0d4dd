package contextassembler

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thathunky/gryag/internal/config"
	"github.com/thathunky/gryag/internal/model"
)

type fakeMessageSource struct {
	calls  int32
	msgs   []model.Message
	byTgID map[int64]model.Message
}

func (f *fakeMessageSource) Recent(ctx context.Context, chatID int64, threadID *int64, n int) ([]model.Message, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.msgs, nil
}

func (f *fakeMessageSource) GetByID(ctx context.Context, chatID, telegramMsgID int64) (model.Message, bool, error) {
	m, ok := f.byTgID[telegramMsgID]
	return m, ok, nil
}

type fakeEpisodeSource struct {
	episodes []model.Episode
}

func (f *fakeEpisodeSource) ByChat(ctx context.Context, chatID int64, minImportance float64, limit int) ([]model.Episode, error) {
	return f.episodes, nil
}

func baseContextCfg() config.ContextConfig {
	return config.ContextConfig{
		CharsPerToken:      4,
		L1CacheSize:        100,
		CacheTTLMinSeconds: 60,
		CacheTTLMaxSeconds: 90,
	}
}

func TestAssemble_ImmediateNeverOmittedWithoutOtherLayers(t *testing.T) {
	msgs := []model.Message{
		{ID: 1, Role: model.RoleUser, Text: "hi"},
		{ID: 2, Role: model.RoleModel, Text: "hello"},
	}
	a := NewAssembler(&fakeMessageSource{msgs: msgs}, nil, nil, nil, baseContextCfg(), config.EpisodesConfig{}, nil)

	lc, err := a.Assemble(context.Background(), AssembleRequest{ChatID: 1, MaxTokens: 1000})
	require.NoError(t, err)
	assert.NotEmpty(t, lc.Turns)
	assert.Empty(t, lc.SystemContext)
}

func TestAssemble_InjectsReplyToMessageWhenAbsentFromRecent(t *testing.T) {
	replyID := int64(777)
	msgs := []model.Message{
		{ID: 1, Role: model.RoleUser, Text: "unrelated"},
	}
	src := &fakeMessageSource{
		msgs: msgs,
		byTgID: map[int64]model.Message{
			replyID: {ID: 9, TelegramMsgID: replyID, Role: model.RoleUser, Text: "the replied-to message"},
		},
	}
	a := NewAssembler(src, nil, nil, nil, baseContextCfg(), config.EpisodesConfig{}, nil)

	lc, err := a.Assemble(context.Background(), AssembleRequest{ChatID: 1, MaxTokens: 1000, ReplyToMsgID: &replyID})
	require.NoError(t, err)
	require.NotEmpty(t, lc.Turns)
	assert.Equal(t, "the replied-to message", lc.Turns[0].Parts[0].Text)
}

func TestAssemble_ReplyToMessageAlreadyInRecentIsNotDuplicated(t *testing.T) {
	replyID := int64(777)
	msgs := []model.Message{
		{ID: 9, TelegramMsgID: replyID, Role: model.RoleUser, Text: "already present"},
	}
	src := &fakeMessageSource{
		msgs: msgs,
		byTgID: map[int64]model.Message{
			replyID: {ID: 9, TelegramMsgID: replyID, Role: model.RoleUser, Text: "already present"},
		},
	}
	a := NewAssembler(src, nil, nil, nil, baseContextCfg(), config.EpisodesConfig{}, nil)

	lc, err := a.Assemble(context.Background(), AssembleRequest{ChatID: 1, MaxTokens: 1000, ReplyToMsgID: &replyID})
	require.NoError(t, err)
	assert.Len(t, lc.Turns, 1)
}

func TestAssemble_CachesResultSoMessageSourceIsNotCalledTwice(t *testing.T) {
	src := &fakeMessageSource{msgs: []model.Message{{ID: 1, Role: model.RoleUser, Text: "hi"}}}
	a := NewAssembler(src, nil, nil, nil, baseContextCfg(), config.EpisodesConfig{}, nil)

	_, err := a.Assemble(context.Background(), AssembleRequest{ChatID: 1, MaxTokens: 1000})
	require.NoError(t, err)
	_, err = a.Assemble(context.Background(), AssembleRequest{ChatID: 1, MaxTokens: 1000})
	require.NoError(t, err)

	assert.EqualValues(t, 1, src.calls)
}

func TestAssemble_DifferentThreadsGetIndependentCacheEntries(t *testing.T) {
	src := &fakeMessageSource{msgs: []model.Message{{ID: 1, Role: model.RoleUser, Text: "hi"}}}
	a := NewAssembler(src, nil, nil, nil, baseContextCfg(), config.EpisodesConfig{}, nil)

	thread1, thread2 := int64(1), int64(2)
	_, err := a.Assemble(context.Background(), AssembleRequest{ChatID: 1, ThreadID: &thread1, MaxTokens: 1000})
	require.NoError(t, err)
	_, err = a.Assemble(context.Background(), AssembleRequest{ChatID: 1, ThreadID: &thread2, MaxTokens: 1000})
	require.NoError(t, err)

	assert.EqualValues(t, 2, src.calls)
}

func TestAssemble_IncludesEpisodesForParticipatingUserOnly(t *testing.T) {
	episodes := []model.Episode{
		{ID: 1, Topic: "topic-a", Summary: "summary-a", ParticipantIDs: []int64{42}},
		{ID: 2, Topic: "topic-b", Summary: "summary-b", ParticipantIDs: []int64{99}},
	}
	src := &fakeMessageSource{msgs: []model.Message{{ID: 1, Role: model.RoleUser, Text: "hi"}}}
	a := NewAssembler(src, &fakeEpisodeSource{episodes: episodes}, nil, nil, baseContextCfg(), config.EpisodesConfig{Enabled: true}, nil)

	lc, err := a.Assemble(context.Background(), AssembleRequest{ChatID: 1, UserID: 42, MaxTokens: 1000})
	require.NoError(t, err)
	assert.Contains(t, lc.SystemContext, "topic-a")
	assert.NotContains(t, lc.SystemContext, "topic-b")
}

func TestBuildSystemContext_AggregatesFactsSummaryAndEpisodes(t *testing.T) {
	facts := []model.Fact{{Category: "preference", Key: "color", Value: "blue"}}
	episodes := []model.Episode{{Topic: "trip", Summary: "went hiking"}}

	got := buildSystemContext(facts, "likes hiking", episodes)
	assert.Contains(t, got, "likes hiking")
	assert.Contains(t, got, "color: blue")
	assert.Contains(t, got, "trip: went hiking")
}

func TestTruncateToBudget_FromEndKeepsMostRecentWithinBudget(t *testing.T) {
	msgs := []model.Message{
		{ID: 1, Text: "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"},
		{ID: 2, Text: "b"},
	}
	kept, tokens := truncateToBudget(msgs, 1, 4, true)
	require.Len(t, kept, 1)
	assert.Equal(t, int64(2), kept[0].ID)
	assert.Greater(t, tokens, 0)
}

func TestTruncateToBudget_NeverOmitsFirstItemEvenOverBudget(t *testing.T) {
	msgs := []model.Message{{ID: 1, Text: "way more characters than the budget allows here"}}
	kept, _ := truncateToBudget(msgs, 1, 4, true)
	require.Len(t, kept, 1)
}
