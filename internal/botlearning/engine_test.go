package botlearning

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thathunky/gryag/internal/config"
	"github.com/thathunky/gryag/internal/model"
	"github.com/thathunky/gryag/internal/profile"
)

type fakeFacts struct {
	added []profile.AddFactInput
	get   []model.Fact
}

func (f *fakeFacts) AddFact(ctx context.Context, in profile.AddFactInput) (model.Fact, bool, error) {
	f.added = append(f.added, in)
	return model.Fact{Category: in.Category, Key: in.Key, Value: in.Value, Confidence: in.Confidence}, false, nil
}

func (f *fakeFacts) GetFacts(ctx context.Context, in profile.GetFactsInput) ([]model.Fact, error) {
	return f.get, nil
}

type fakeOutcomes struct {
	inserted []model.InteractionOutcome
	recent   []model.InteractionOutcome
}

func (f *fakeOutcomes) Insert(ctx context.Context, o model.InteractionOutcome) (int64, error) {
	f.inserted = append(f.inserted, o)
	return int64(len(f.inserted)), nil
}

func (f *fakeOutcomes) Recent(ctx context.Context, chatID int64, sinceTS int64, limit int) ([]model.InteractionOutcome, error) {
	return f.recent, nil
}

func newTestEngine() (*Engine, *fakeFacts, *fakeOutcomes) {
	facts := &fakeFacts{}
	outcomes := &fakeOutcomes{}
	e := NewEngine(facts, outcomes, config.BotLearningConfig{InsightWindowDays: 7, MaxFactsInPrompt: 30})
	e.now = func() time.Time { return time.Unix(10_000, 0) }
	return e, facts, outcomes
}

func TestRecordResponse_InsertsNeutralBaselineOutcome(t *testing.T) {
	e, _, outcomes := newTestEngine()
	_, err := e.RecordResponse(context.Background(), ResponseInput{
		ChatID: 1, MessageID: 5, ResponseTimeMs: 200, TokenCount: 80, ToolsUsed: []string{"weather"},
	})
	require.NoError(t, err)
	require.Len(t, outcomes.inserted, 1)
	o := outcomes.inserted[0]
	assert.Equal(t, model.InteractionResponse, o.InteractionType)
	assert.Equal(t, model.OutcomeNeutral, o.Outcome)
	require.NotNil(t, o.ResponseTimeMs)
	assert.EqualValues(t, 200, *o.ResponseTimeMs)
}

func TestRecordUserReaction_PositiveReinforcesCommunicationStyleFacts(t *testing.T) {
	e, facts, outcomes := newTestEngine()
	sentiment, err := e.RecordUserReaction(context.Background(), ReactionInput{
		ChatID: 1, UserMessageText: "thanks, that's perfect",
		PreviousResponseText: "Here is a short reply.",
	})
	require.NoError(t, err)
	assert.Equal(t, model.OutcomePositive, sentiment)

	require.Len(t, outcomes.inserted, 1)
	assert.Equal(t, model.InteractionUserReaction, outcomes.inserted[0].InteractionType)

	require.Len(t, facts.added, 2)
	assert.Equal(t, "communication_style", facts.added[0].Category)
	assert.Equal(t, "communication_style", facts.added[1].Category)
	assert.Equal(t, "preferred_length", facts.added[1].Key)
}

func TestRecordUserReaction_CorrectionAddsMistakePatternAndKnowledgeGap(t *testing.T) {
	e, facts, _ := newTestEngine()
	_, err := e.RecordUserReaction(context.Background(), ReactionInput{
		ChatID: 1, UserMessageText: "actually, that's not right, the weather today is different",
		PreviousResponseText: "It's sunny today.",
	})
	require.NoError(t, err)

	require.Len(t, facts.added, 2)
	assert.Equal(t, "mistake_pattern", facts.added[0].Category)
	assert.Equal(t, 0.1, facts.added[0].DecayRate)
	assert.Equal(t, "knowledge_domain", facts.added[1].Category)
	assert.Equal(t, "knowledge_gap_weather", facts.added[1].Key)
}

func TestRecordUserReaction_QuickPositiveAddsTemporalPatternFact(t *testing.T) {
	e, facts, _ := newTestEngine()
	_, err := e.RecordUserReaction(context.Background(), ReactionInput{
		ChatID: 1, UserMessageText: "great, thanks!", ReactionDelaySeconds: 5,
	})
	require.NoError(t, err)

	var found bool
	for _, f := range facts.added {
		if f.Category == "temporal_pattern" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestRecordUserReaction_NeutralWithoutPreviousResponseAddsNoFacts(t *testing.T) {
	e, facts, _ := newTestEngine()
	_, err := e.RecordUserReaction(context.Background(), ReactionInput{
		ChatID: 1, UserMessageText: "what time is it",
	})
	require.NoError(t, err)
	assert.Empty(t, facts.added)
}

func TestLearnFromToolUsage_SuccessfulToolWithPositiveReactionRecordsSuccess(t *testing.T) {
	e, facts, _ := newTestEngine()
	err := e.LearnFromToolUsage(context.Background(), "weather", "thanks, great!", 1, true, nil)
	require.NoError(t, err)
	require.Len(t, facts.added, 1)
	assert.Equal(t, "tool_weather_success", facts.added[0].Key)
}

func TestLearnFromToolUsage_FailedCallSkipsLearning(t *testing.T) {
	e, facts, _ := newTestEngine()
	err := e.LearnFromToolUsage(context.Background(), "weather", "thanks!", 1, false, nil)
	require.NoError(t, err)
	assert.Empty(t, facts.added)
}

func TestLearnFromEpisode_HighImportanceAddsPattern(t *testing.T) {
	e, facts, _ := newTestEngine()
	err := e.LearnFromEpisode(context.Background(), 1, "summary", 0.9, model.ValencePositive)
	require.NoError(t, err)
	require.Len(t, facts.added, 2)
	assert.Equal(t, "high_value_episode_pattern", facts.added[0].Key)
	assert.Equal(t, "positive_conversation_success", facts.added[1].Key)
}

func TestLearnFromEpisode_LowImportanceNeutralAddsNothing(t *testing.T) {
	e, facts, _ := newTestEngine()
	err := e.LearnFromEpisode(context.Background(), 1, "summary", 0.2, model.ValenceNeutral)
	require.NoError(t, err)
	assert.Empty(t, facts.added)
}

func TestLearnFromPerformance_FastPositiveAddsSuccessFact(t *testing.T) {
	e, facts, _ := newTestEngine()
	err := e.LearnFromPerformance(context.Background(), 1, 500, model.OutcomePositive, nil)
	require.NoError(t, err)
	require.Len(t, facts.added, 1)
	assert.Equal(t, "fast_response_success", facts.added[0].Key)
}

func TestLearnFromPerformance_SlowNegativeAddsProblemFactWithDecay(t *testing.T) {
	e, facts, _ := newTestEngine()
	err := e.LearnFromPerformance(context.Background(), 1, 15000, model.OutcomeNegative, nil)
	require.NoError(t, err)
	require.Len(t, facts.added, 1)
	assert.Equal(t, "slow_response_problem", facts.added[0].Key)
	assert.Equal(t, 0.05, facts.added[0].DecayRate)
}

func TestEffectivenessSummary_ComputesWeightedMixAndAverages(t *testing.T) {
	e, _, outcomes := newTestEngine()
	rt1, rt2 := int64(100), int64(300)
	s1, s2 := 1.0, -0.7
	outcomes.recent = []model.InteractionOutcome{
		{InteractionType: model.InteractionResponse, Outcome: model.OutcomeNeutral, ResponseTimeMs: &rt1},
		{InteractionType: model.InteractionResponse, Outcome: model.OutcomeNeutral, ResponseTimeMs: &rt2},
		{InteractionType: model.InteractionUserReaction, Outcome: model.OutcomePraised, SentimentScore: &s1},
		{InteractionType: model.InteractionUserReaction, Outcome: model.OutcomeNegative, SentimentScore: &s2},
	}

	summary, err := e.EffectivenessSummary(context.Background(), 1, 7)
	require.NoError(t, err)
	assert.Equal(t, 4, summary.TotalInteractions)
	assert.Equal(t, 1, summary.PositiveInteractions)
	assert.Equal(t, 1, summary.NegativeInteractions)
	assert.InDelta(t, 200, summary.AvgResponseTimeMs, 0.001)
	assert.InDelta(t, 0.15, summary.AvgSentiment, 0.001)
	// weighted: neutral(0.5)+neutral(0.5)+praised(1.0)+negative(0.2) / 4
	assert.InDelta(t, 2.2/4, summary.RecentEffectiveness, 0.001)
}

func TestEffectivenessSummary_EmptyWindowReturnsZeroValues(t *testing.T) {
	e, _, _ := newTestEngine()
	summary, err := e.EffectivenessSummary(context.Background(), 1, 7)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.TotalInteractions)
	assert.Equal(t, 0.0, summary.RecentEffectiveness)
}
