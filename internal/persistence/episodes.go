package persistence

import (
	"context"
	"strconv"
	"strings"

	"github.com/thathunky/gryag/internal/model"
)

// EpisodeStore owns the episodes table. Episodes are immutable after
// insert except for access tracking.
type EpisodeStore struct {
	pool DBPool
}

func NewEpisodeStore(pool DBPool) *EpisodeStore {
	return &EpisodeStore{pool: pool}
}

func (s *EpisodeStore) Insert(ctx context.Context, e model.Episode) (int64, error) {
	var id int64
	err := withRetry(ctx, func() error {
 row := s.pool.QueryRow(ctx, `
 INSERT INTO episodes (chat_id, thread_id, topic, summary, summary_embedding,
 importance, valence, message_ids, participant_ids, tags, created_at, access_count)
 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,0)
 RETURNING id`,
 e.ChatID, e.ThreadID, e.Topic, e.Summary, e.SummaryEmbedding, e.Importance,
 string(e.Valence), joinInts(e.MessageIDs), joinInts(e.ParticipantIDs), joinTags(e.Tags), e.CreatedAt)
 return row.Scan(&id)
	})
	return id, err
}

// ByChat returns episodes for a chat with importance >= minImportance,
// newest first.
func (s *EpisodeStore) ByChat(ctx context.Context, chatID int64, minImportance float64, limit int) ([]model.Episode, error) {
	if limit <= 0 {
 limit = 50
	}
	rows, err := s.pool.Query(ctx, `
 SELECT id, chat_id, thread_id, topic, summary, summary_embedding, importance, valence,
 message_ids, participant_ids, tags, created_at, last_accessed, access_count
 FROM episodes
 WHERE chat_id=$1 AND importance >= $2
 ORDER BY created_at DESC
 LIMIT $3`, chatID, minImportance, limit)
	if err != nil {
 return nil, err
	}
	defer rows.Close()

	var out []model.Episode
	for rows.Next() {
 var e model.Episode
 var valence, msgIDs, partIDs, tags string
 if err := rows.Scan(&e.ID, &e.ChatID, &e.ThreadID, &e.Topic, &e.Summary, &e.SummaryEmbedding,
 &e.Importance, &valence, &msgIDs, &partIDs, &tags, &e.CreatedAt, &e.LastAccessed, &e.AccessCount); err != nil {
 return nil, err
 }
 e.Valence = model.EmotionalValence(valence)
 e.MessageIDs = splitInts(msgIDs)
 e.ParticipantIDs = splitInts(partIDs)
 e.Tags = splitTags(tags)
 out = append(out, e)
	}
	return out, rows.Err()
}

// RecordAccess increments access_count and sets last_accessed.
func (s *EpisodeStore) RecordAccess(ctx context.Context, id int64, nowTS int64) error {
	_, err := s.pool.Exec(ctx, `
 UPDATE episodes SET access_count = access_count + 1, last_accessed=$2 WHERE id=$1`, id, nowTS)
	return err
}

func joinInts(ids []int64) string {
	parts := make([]string, len(ids))
	for i, v := range ids {
 parts[i] = strconv.FormatInt(v, 10)
	}
	return strings.Join(parts, ",")
}

func splitInts(s string) []int64 {
	if s == "" {
 return nil
	}
	parts := strings.Split(s, ",")
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
 if n, err := strconv.ParseInt(p, 10, 64); err == nil {
 out = append(out, n)
 }
	}
	return out
}
