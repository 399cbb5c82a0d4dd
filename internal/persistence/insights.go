package persistence

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/thathunky/gryag/internal/model"
)

// InsightStore owns the bot_insights table, the stored output of the
// self-reflection generation step.
type InsightStore struct {
	pool DBPool
}

func NewInsightStore(pool DBPool) *InsightStore {
	return &InsightStore{pool: pool}
}

func (s *InsightStore) Insert(ctx context.Context, in model.Insight) (int64, error) {
	var id int64
	err := withRetry(ctx, func() error {
		row := s.pool.QueryRow(ctx, `
			INSERT INTO bot_insights (chat_id, insight_type, text, confidence, actionable, supporting_facts, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
			RETURNING id`,
			in.ChatID, string(in.Type), in.Text, in.Confidence, in.Actionable,
			strings.Join(in.SupportingFact, ","), in.CreatedAt)
		return row.Scan(&id)
	})
	return id, err
}

// Recent returns the most recently generated insights, optionally scoped
// to a single chat (nil chatID means global).
func (s *InsightStore) Recent(ctx context.Context, chatID *int64, limit int) ([]model.Insight, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows pgx.Rows
	var err error
	if chatID != nil {
		rows, err = s.pool.Query(ctx, `
			SELECT id, chat_id, insight_type, text, confidence, actionable, supporting_facts, created_at
			FROM bot_insights WHERE chat_id=$1 ORDER BY created_at DESC LIMIT $2`, *chatID, limit)
	} else {
		rows, err = s.pool.Query(ctx, `
			SELECT id, chat_id, insight_type, text, confidence, actionable, supporting_facts, created_at
			FROM bot_insights ORDER BY created_at DESC LIMIT $1`, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Insight
	for rows.Next() {
		var in model.Insight
		var itype, facts string
		if err := rows.Scan(&in.ID, &in.ChatID, &itype, &in.Text, &in.Confidence, &in.Actionable, &facts, &in.CreatedAt); err != nil {
			return nil, err
		}
		in.Type = model.InsightType(itype)
		if facts != "" {
			in.SupportingFact = strings.Split(facts, ",")
		}
		out = append(out, in)
	}
	return out, rows.Err()
}
