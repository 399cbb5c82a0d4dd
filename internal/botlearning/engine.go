package botlearning

import (
	"context"
	"fmt"
	"time"

	"github.com/thathunky/gryag/internal/config"
	"github.com/thathunky/gryag/internal/model"
	"github.com/thathunky/gryag/internal/profile"
)

// Facts is the subset of profile.Store the engine needs: adding/
// reinforcing bot facts and reading them back for the insight prompt.
type Facts interface {
	AddFact(ctx context.Context, in profile.AddFactInput) (model.Fact, bool, error)
	GetFacts(ctx context.Context, in profile.GetFactsInput) ([]model.Fact, error)
}

// Outcomes is the subset of persistence.OutcomeStore the engine needs.
type Outcomes interface {
	Insert(ctx context.Context, o model.InteractionOutcome) (int64, error)
	Recent(ctx context.Context, chatID int64, sinceTS int64, limit int) ([]model.InteractionOutcome, error)
}

// Engine ties bot-fact reinforcement to observed interaction outcomes.
type Engine struct {
	facts Facts
	outcomes Outcomes
	generator Generator
	insights InsightStore
	cfg config.BotLearningConfig
	now func() time.Time
}

func NewEngine(facts Facts, outcomes Outcomes, cfg config.BotLearningConfig) *Engine {
	return &Engine{facts: facts, outcomes: outcomes, cfg: cfg, now: time.Now}
}

// WithInsights wires the optional self-reflection generator and its
// storage; both may be left nil to disable insight generation.
func (e *Engine) WithInsights(generator Generator, store InsightStore) *Engine {
	e.generator = generator
	e.insights = store
	return e
}

// ResponseInput describes one bot reply to record as a neutral baseline
// outcome.
type ResponseInput struct {
	BotProfileID int64
	ChatID int64
	ThreadID *int64
	MessageID int64
	ResponseTimeMs int64
	TokenCount int64
	ToolsUsed []string
	ContextSnapshot string
	EpisodeID *int64
}

// RecordResponse inserts the baseline `response` outcome row for a bot
// reply, timing/tokens/tools included, always labeled neutral until a
// user reaction (if any) supersedes it.
func (e *Engine) RecordResponse(ctx context.Context, in ResponseInput) (int64, error) {
	respTime := in.ResponseTimeMs
	tokens := in.TokenCount
	o := model.InteractionOutcome{
 BotProfileID: in.BotProfileID,
 ChatID: in.ChatID,
 ThreadID: in.ThreadID,
 MessageID: in.MessageID,
 InteractionType: model.InteractionResponse,
 Outcome: model.OutcomeNeutral,
 ResponseTimeMs: &respTime,
 TokenCount: &tokens,
 ToolsUsed: in.ToolsUsed,
 ContextSnapshot: in.ContextSnapshot,
 EpisodeID: in.EpisodeID,
 CreatedAt: e.now().Unix(),
	}
	return e.outcomes.Insert(ctx, o)
}

// ReactionInput describes a user message arriving within the reaction
// window after a bot reply.
type ReactionInput struct {
	BotProfileID int64
	ChatID int64
	ThreadID *int64
	MessageID int64
	UserMessageText string
	PreviousResponseText string
	ReactionDelaySeconds int64
	ContextTags []string
}

// RecordUserReaction detects sentiment in a user's reply to the bot,
// records a second `user_reaction` outcome row, and reinforces bot facts
// about what worked or didn't.
func (e *Engine) RecordUserReaction(ctx context.Context, in ReactionInput) (model.Outcome, error) {
	sentiment, confidence := DetectSentiment(in.UserMessageText)
	score := SentimentScore(sentiment)
	delay := in.ReactionDelaySeconds

	o := model.InteractionOutcome{
 BotProfileID: in.BotProfileID,
 ChatID: in.ChatID,
 ThreadID: in.ThreadID,
 MessageID: in.MessageID,
 InteractionType: model.InteractionUserReaction,
 Outcome: sentiment,
 SentimentScore: &score,
 UserReaction: in.UserMessageText,
 ReactionDelaySeconds: &delay,
 CreatedAt: e.now().Unix(),
	}
	if _, err := e.outcomes.Insert(ctx, o); err != nil {
 return sentiment, err
	}
	if err := e.learnFromReaction(ctx, sentiment, confidence, in); err != nil {
 return sentiment, err
	}
	return sentiment, nil
}

func (e *Engine) addBotFact(ctx context.Context, chatID int64, category, key, value string, confidence float64, source string, tags []string, decayRate float64) error {
	_, _, err := e.facts.AddFact(ctx, profile.AddFactInput{
 Owner: model.FactOwnerBot,
 ProfileID: chatID,
 Category: category,
 Key: key,
 Value: value,
 Confidence: confidence,
 Source: source,
 Tags: tags,
 DecayRate: decayRate,
	})
	return err
}

func (e *Engine) learnFromReaction(ctx context.Context, sentiment model.Outcome, confidence float64, in ReactionInput) error {
	switch {
	case (sentiment == model.OutcomePraised || sentiment == model.OutcomePositive) && in.PreviousResponseText != "":
 responseType := classifyResponseType(in.PreviousResponseText)
 if err := e.addBotFact(ctx, in.ChatID, "communication_style", "effective_"+responseType+"_response",
 fmt.Sprintf("Response type '%s' received %s feedback", responseType, sentiment),
 confidence*0.8, "reaction_analysis", in.ContextTags, 0); err != nil {
 return err
 }
 lengthCat := lengthCategory(len(in.PreviousResponseText))
 if err := e.addBotFact(ctx, in.ChatID, "communication_style", "preferred_length", lengthCat,
 confidence*0.6, "reaction_analysis", in.ContextTags, 0); err != nil {
 return err
 }

	case sentiment == model.OutcomeCorrected && in.PreviousResponseText != "":
 if err := e.addBotFact(ctx, in.ChatID, "mistake_pattern", "requires_correction",
 "User corrected response: "+truncate(in.PreviousResponseText, 100)+"...",
 confidence, "user_feedback", in.ContextTags, 0.1); err != nil {
 return err
 }
 if topic := extractTopic(in.UserMessageText); topic != "" {
 if err := e.addBotFact(ctx, in.ChatID, "knowledge_domain", "knowledge_gap_"+topic,
 "Struggled with topic: "+topic, 0.7, "error_pattern", in.ContextTags, 0); err != nil {
 return err
 }
 }
	}

	if in.ReactionDelaySeconds > 0 {
 delayCat := delayCategory(in.ReactionDelaySeconds)
 if (sentiment == model.OutcomePraised || sentiment == model.OutcomePositive) &&
 (delayCat == "immediate" || delayCat == "quick") {
 if err := e.addBotFact(ctx, in.ChatID, "temporal_pattern", "quick_engagement_indicator",
 delayCat+" positive reaction", 0.6, "reaction_analysis", in.ContextTags, 0); err != nil {
 return err
 }
 }
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
 return s
	}
	return string(r[:n])
}

// LearnFromToolUsage reinforces tool_effectiveness facts from a user's
// reaction to a tool-backed reply.
func (e *Engine) LearnFromToolUsage(ctx context.Context, toolName, userReaction string, chatID int64, success bool, tags []string) error {
	if !success || userReaction == "" {
 return nil
	}
	sentiment, confidence := DetectSentiment(userReaction)
	switch sentiment {
	case model.OutcomePraised, model.OutcomePositive:
 return e.addBotFact(ctx, chatID, "tool_effectiveness", "tool_"+toolName+"_success",
 fmt.Sprintf("Tool %s received %s feedback", toolName, sentiment), confidence*0.8, "success_metric", tags, 0)
	case model.OutcomeNegative, model.OutcomeCorrected:
 return e.addBotFact(ctx, chatID, "tool_effectiveness", "tool_"+toolName+"_failure",
 fmt.Sprintf("Tool %s received %s feedback", toolName, sentiment), confidence*0.7, "error_pattern", tags, 0.05)
	}
	return nil
}

// LearnFromEpisode reinforces user_interaction facts from a just-closed
// conversation episode.
func (e *Engine) LearnFromEpisode(ctx context.Context, chatID int64, summary string, importance float64, valence model.EmotionalValence) error {
	if importance >= 0.8 {
 if err := e.addBotFact(ctx, chatID, "user_interaction", "high_value_episode_pattern",
 fmt.Sprintf("Participated in %s high-importance episode", valence), importance, "episode_learning",
 []string{string(valence), "high_importance"}, 0); err != nil {
 return err
 }
	}
	if valence == model.ValencePositive || valence == model.ValenceMixed {
 if err := e.addBotFact(ctx, chatID, "user_interaction", string(valence)+"_conversation_success",
 fmt.Sprintf("Successfully navigated %s conversation", valence), 0.7, "episode_learning",
 []string{string(valence)}, 0); err != nil {
 return err
 }
	}
	return nil
}

// LearnFromPerformance reinforces performance_metric facts from response
// timing correlated with outcome.
func (e *Engine) LearnFromPerformance(ctx context.Context, chatID int64, responseTimeMs int64, outcome model.Outcome, tags []string) error {
	if responseTimeMs < 1000 && (outcome == model.OutcomePraised || outcome == model.OutcomePositive) {
 if err := e.addBotFact(ctx, chatID, "performance_metric", "fast_response_success",
 "Fast responses (<1s) correlate with positive feedback", 0.6, "success_metric", tags, 0); err != nil {
 return err
 }
	}
	if responseTimeMs > 10000 && (outcome == model.OutcomeNegative || outcome == model.OutcomeIgnored) {
 if err := e.addBotFact(ctx, chatID, "performance_metric", "slow_response_problem",
 "Slow responses (>10s) correlate with negative outcomes", 0.7, "error_pattern", tags, 0.05); err != nil {
 return err
 }
	}
	return nil
}

// Summary is the effectiveness rollup over a trailing window of outcomes.
type Summary struct {
	TotalInteractions int
	PositiveInteractions int
	NegativeInteractions int
	RecentEffectiveness float64
	AvgResponseTimeMs float64
	AvgSentiment float64
}

// EffectivenessSummary aggregates outcomes from the last `days` days into
// a weighted effectiveness score.
func (e *Engine) EffectivenessSummary(ctx context.Context, chatID int64, days int) (Summary, error) {
	if days <= 0 {
 days = e.cfg.InsightWindowDays
	}
	if days <= 0 {
 days = 7
	}
	since := e.now().Add(-time.Duration(days) * 24 * time.Hour).Unix()
	outcomes, err := e.outcomes.Recent(ctx, chatID, since, 0)
	if err != nil {
 return Summary{}, err
	}

	var s Summary
	var weightedSum float64
	var respTimeSum float64
	var respTimeN int
	var sentimentSum float64
	var sentimentN int

	for _, o := range outcomes {
 s.TotalInteractions++
 switch o.Outcome {
 case model.OutcomePraised, model.OutcomePositive:
 s.PositiveInteractions++
 case model.OutcomeNegative, model.OutcomeCorrected, model.OutcomeIgnored:
 s.NegativeInteractions++
 }
 weightedSum += effectivenessWeights[o.Outcome]

 if o.InteractionType == model.InteractionResponse && o.ResponseTimeMs != nil {
 respTimeSum += float64(*o.ResponseTimeMs)
 respTimeN++
 }
 if o.InteractionType == model.InteractionUserReaction && o.SentimentScore != nil {
 sentimentSum += *o.SentimentScore
 sentimentN++
 }
	}

	if s.TotalInteractions > 0 {
 s.RecentEffectiveness = weightedSum / float64(s.TotalInteractions)
	}
	if respTimeN > 0 {
 s.AvgResponseTimeMs = respTimeSum / float64(respTimeN)
	}
	if sentimentN > 0 {
 s.AvgSentiment = sentimentSum / float64(sentimentN)
	}
	return s, nil
}
