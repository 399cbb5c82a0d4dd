package persistence

import (
	"context"
	"strings"

	"github.com/thathunky/gryag/internal/model"
)

// FactStore owns the facts table. Semantic dedup/reinforce decision logic
// lives in internal/profile; this layer only stores and queries rows.
type FactStore struct {
	pool DBPool
}

func NewFactStore(pool DBPool) *FactStore {
	return &FactStore{pool: pool}
}

// ActiveByCategory returns every active fact for (ownerKind, profileID,
// category), used by the dedup check before inserting a new one.
func (s *FactStore) ActiveByCategory(ctx context.Context, owner model.FactOwnerKind, profileID int64, category string) ([]model.Fact, error) {
	rows, err := s.pool.Query(ctx, `
 SELECT id, owner_kind, profile_id, category, key, value, confidence, evidence_count,
 source_type, context_tags, embedding_json, decay_rate, last_reinforced, is_active,
 created_at, updated_at
 FROM facts
 WHERE owner_kind=$1 AND profile_id=$2 AND category=$3 AND is_active`,
 string(owner), profileID, category)
	if err != nil {
 return nil, err
	}
	defer rows.Close()
	return scanFacts(rows)
}

// Query returns active facts for one profile (profile_id is matched
// exactly, 0 included), optionally filtered by category, used by get_facts.
func (s *FactStore) Query(ctx context.Context, owner model.FactOwnerKind, profileID int64, category string) ([]model.Fact, error) {
	if category != "" {
 rows, err := s.pool.Query(ctx, `
 SELECT id, owner_kind, profile_id, category, key, value, confidence, evidence_count,
 source_type, context_tags, embedding_json, decay_rate, last_reinforced, is_active,
 created_at, updated_at
 FROM facts WHERE owner_kind=$1 AND profile_id=$2 AND category=$3 AND is_active`,
 string(owner), profileID, category)
 if err != nil {
 return nil, err
 }
 defer rows.Close()
 return scanFacts(rows)
	}
	rows, err := s.pool.Query(ctx, `
 SELECT id, owner_kind, profile_id, category, key, value, confidence, evidence_count,
 source_type, context_tags, embedding_json, decay_rate, last_reinforced, is_active,
 created_at, updated_at
 FROM facts WHERE owner_kind=$1 AND profile_id=$2 AND is_active`, string(owner), profileID)
	if err != nil {
 return nil, err
	}
	defer rows.Close()
	return scanFacts(rows)
}

func scanFacts(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}) ([]model.Fact, error) {
	var out []model.Fact
	for rows.Next() {
 var f model.Fact
 var owner, tags string
 if err := rows.Scan(&f.ID, &owner, &f.ProfileID, &f.Category, &f.Key, &f.Value, &f.Confidence,
 &f.EvidenceCount, &f.SourceType, &tags, &f.EmbeddingJSON, &f.DecayRate, &f.LastReinforced,
 &f.IsActive, &f.CreatedAt, &f.UpdatedAt); err != nil {
 return nil, err
 }
 f.OwnerKind = model.FactOwnerKind(owner)
 f.ContextTags = splitTags(tags)
 out = append(out, f)
	}
	return out, rows.Err()
}

// Insert stores a brand new fact row.
func (s *FactStore) Insert(ctx context.Context, f model.Fact) (int64, error) {
	var id int64
	err := withRetry(ctx, func() error {
 row := s.pool.QueryRow(ctx, `
 INSERT INTO facts (owner_kind, profile_id, category, key, value, confidence,
 evidence_count, source_type, context_tags, embedding_json, decay_rate,
 last_reinforced, is_active, created_at, updated_at)
 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,TRUE,$13,$13)
 RETURNING id`,
 string(f.OwnerKind), f.ProfileID, f.Category, f.Key, f.Value, f.Confidence,
 f.EvidenceCount, f.SourceType, joinTags(f.ContextTags), f.EmbeddingJSON, f.DecayRate,
 f.LastReinforced, f.CreatedAt)
 return row.Scan(&id)
	})
	return id, err
}

// Reinforce applies the dedup-hit update: new confidence, evidence_count++,
// value replaced only if the caller decided newConfidence > old.
func (s *FactStore) Reinforce(ctx context.Context, id int64, newConfidence float64, value string, replaceValue bool, nowTS int64) error {
	return withRetry(ctx, func() error {
 var err error
 if replaceValue {
 _, err = s.pool.Exec(ctx, `
 UPDATE facts SET confidence=$2, evidence_count = evidence_count + 1, value=$3,
 last_reinforced=$4, updated_at=$4 WHERE id=$1`, id, newConfidence, value, nowTS)
 } else {
 _, err = s.pool.Exec(ctx, `
 UPDATE facts SET confidence=$2, evidence_count = evidence_count + 1,
 last_reinforced=$3, updated_at=$3 WHERE id=$1`, id, newConfidence, nowTS)
 }
 return err
	})
}

func (s *FactStore) Delete(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE facts SET is_active=FALSE WHERE id=$1`, id)
	return err
}

func (s *FactStore) ClearOwner(ctx context.Context, owner model.FactOwnerKind, profileID int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE facts SET is_active=FALSE WHERE owner_kind=$1 AND profile_id=$2`,
 string(owner), profileID)
	return err
}

func joinTags(tags []string) string { return strings.Join(tags, "\x1f") }

func splitTags(s string) []string {
	if s == "" {
 return nil
	}
	return strings.Split(s, "\x1f")
}
