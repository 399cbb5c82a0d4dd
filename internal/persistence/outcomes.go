package persistence

import (
	"strings"

	"context"

	"github.com/thathunky/gryag/internal/model"
)

// OutcomeStore owns the bot_interaction_outcomes table.
type OutcomeStore struct {
	pool DBPool
}

func NewOutcomeStore(pool DBPool) *OutcomeStore {
	return &OutcomeStore{pool: pool}
}

func (s *OutcomeStore) Insert(ctx context.Context, o model.InteractionOutcome) (int64, error) {
	var id int64
	err := withRetry(ctx, func() error {
 row := s.pool.QueryRow(ctx, `
 INSERT INTO bot_interaction_outcomes (bot_profile_id, chat_id, thread_id, message_id,
 interaction_type, outcome, sentiment_score, response_time_ms, token_count,
 tools_used, user_reaction, reaction_delay_seconds, context_snapshot, episode_id, created_at)
 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
 RETURNING id`,
 o.BotProfileID, o.ChatID, o.ThreadID, o.MessageID, string(o.InteractionType), string(o.Outcome),
 o.SentimentScore, o.ResponseTimeMs, o.TokenCount, strings.Join(o.ToolsUsed, ","),
 o.UserReaction, o.ReactionDelaySeconds, o.ContextSnapshot, o.EpisodeID, o.CreatedAt)
 return row.Scan(&id)
	})
	return id, err
}

// Recent returns outcomes for a chat within [sinceTS, now], newest first,
// for the effectiveness-summary window.
func (s *OutcomeStore) Recent(ctx context.Context, chatID int64, sinceTS int64, limit int) ([]model.InteractionOutcome, error) {
	if limit <= 0 {
 limit = 500
	}
	rows, err := s.pool.Query(ctx, `
 SELECT id, bot_profile_id, chat_id, thread_id, message_id, interaction_type, outcome,
 sentiment_score, response_time_ms, token_count, tools_used, user_reaction,
 reaction_delay_seconds, context_snapshot, episode_id, created_at
 FROM bot_interaction_outcomes
 WHERE chat_id=$1 AND created_at >= $2
 ORDER BY created_at DESC
 LIMIT $3`, chatID, sinceTS, limit)
	if err != nil {
 return nil, err
	}
	defer rows.Close()

	var out []model.InteractionOutcome
	for rows.Next() {
 var o model.InteractionOutcome
 var itype, outcome, tools string
 if err := rows.Scan(&o.ID, &o.BotProfileID, &o.ChatID, &o.ThreadID, &o.MessageID, &itype, &outcome,
 &o.SentimentScore, &o.ResponseTimeMs, &o.TokenCount, &tools, &o.UserReaction,
 &o.ReactionDelaySeconds, &o.ContextSnapshot, &o.EpisodeID, &o.CreatedAt); err != nil {
 return nil, err
 }
 o.InteractionType = model.InteractionType(itype)
 o.Outcome = model.Outcome(outcome)
 if tools != "" {
 o.ToolsUsed = strings.Split(tools, ",")
 }
 out = append(out, o)
	}
	return out, rows.Err()
}

// LastResponseFor finds the most recent `response` outcome for a chat
// within the reaction-detection lookback window, used to attach a
// user_reaction outcome to the right bot reply.
func (s *OutcomeStore) LastResponseFor(ctx context.Context, chatID int64, threadID *int64, sinceTS int64) (model.InteractionOutcome, bool, error) {
	row := s.pool.QueryRow(ctx, `
 SELECT id, bot_profile_id, chat_id, thread_id, message_id, interaction_type, outcome,
 sentiment_score, response_time_ms, token_count, tools_used, user_reaction,
 reaction_delay_seconds, context_snapshot, episode_id, created_at
 FROM bot_interaction_outcomes
 WHERE chat_id=$1 AND thread_id IS NOT DISTINCT FROM $2 AND interaction_type='response'
 AND created_at >= $3
 ORDER BY created_at DESC
 LIMIT 1`, chatID, threadID, sinceTS)
	var o model.InteractionOutcome
	var itype, outcome, tools string
	err := row.Scan(&o.ID, &o.BotProfileID, &o.ChatID, &o.ThreadID, &o.MessageID, &itype, &outcome,
 &o.SentimentScore, &o.ResponseTimeMs, &o.TokenCount, &tools, &o.UserReaction,
 &o.ReactionDelaySeconds, &o.ContextSnapshot, &o.EpisodeID, &o.CreatedAt)
	if err != nil {
 return model.InteractionOutcome{}, false, nil //nolint:nilerr
	}
	o.InteractionType = model.InteractionType(itype)
	o.Outcome = model.Outcome(outcome)
	if tools != "" {
 o.ToolsUsed = strings.Split(tools, ",")
	}
	return o, true, nil
}
