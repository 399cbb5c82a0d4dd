package persistence

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/thathunky/gryag/internal/model"
)

// ProfileStore owns the user_profiles table.
type ProfileStore struct {
	pool DBPool
}

func NewProfileStore(pool DBPool) *ProfileStore {
	return &ProfileStore{pool: pool}
}

// GetOrCreate fetches the (user_id, chat_id) profile, creating it lazily on
// first observed message.
func (s *ProfileStore) GetOrCreate(ctx context.Context, userID, chatID int64, displayName, username string, nowTS int64) (model.UserProfile, error) {
	p, ok, err := s.Get(ctx, userID, chatID)
	if err != nil {
 return model.UserProfile{}, err
	}
	if ok {
 return p, nil
	}
	var id int64
	err = withRetry(ctx, func() error {
 row := s.pool.QueryRow(ctx, `
 INSERT INTO user_profiles (user_id, chat_id, display_name, username, interaction_count,
 last_seen, version, membership, created_at, updated_at)
 VALUES ($1,$2,$3,$4,1,$5,1,'active',$5,$5)
 ON CONFLICT (user_id, chat_id) DO UPDATE SET display_name=EXCLUDED.display_name
 RETURNING id`, userID, chatID, displayName, username, nowTS)
 return row.Scan(&id)
	})
	if err != nil {
 return model.UserProfile{}, err
	}
	return model.UserProfile{
 ID: id, UserID: userID, ChatID: chatID, DisplayName: displayName, Username: username,
 InteractionCount: 1, LastSeen: nowTS, Version: 1, Membership: model.MembershipActive,
 CreatedAt: nowTS, UpdatedAt: nowTS,
	}, nil
}

func (s *ProfileStore) Get(ctx context.Context, userID, chatID int64) (model.UserProfile, bool, error) {
	row := s.pool.QueryRow(ctx, `
 SELECT id, user_id, chat_id, display_name, username, interaction_count, last_seen,
 summary, version, membership, created_at, updated_at
 FROM user_profiles WHERE user_id=$1 AND chat_id=$2`, userID, chatID)
	var p model.UserProfile
	var membership string
	err := row.Scan(&p.ID, &p.UserID, &p.ChatID, &p.DisplayName, &p.Username, &p.InteractionCount,
 &p.LastSeen, &p.Summary, &p.Version, &membership, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
 return model.UserProfile{}, false, nil
	}
	if err != nil {
 return model.UserProfile{}, false, err
	}
	p.Membership = model.MembershipStatus(membership)
	return p, true, nil
}

// Touch updates last_seen, increments interaction_count, and refreshes
// display name/username on every observed turn.
func (s *ProfileStore) Touch(ctx context.Context, userID, chatID int64, displayName, username string, nowTS int64) error {
	return withRetry(ctx, func() error {
 _, err := s.pool.Exec(ctx, `
 UPDATE user_profiles
 SET interaction_count = interaction_count + 1, last_seen=$3,
 display_name=$4, username=$5, updated_at=$3
 WHERE user_id=$1 AND chat_id=$2`, userID, chatID, nowTS, displayName, username)
 return err
	})
}

// UpdateSummary stores a refreshed profile summary and bumps the version.
func (s *ProfileStore) UpdateSummary(ctx context.Context, profileID int64, summary string, nowTS int64) error {
	return withRetry(ctx, func() error {
 _, err := s.pool.Exec(ctx, `
 UPDATE user_profiles SET summary=$2, version = version + 1, updated_at=$3 WHERE id=$1`,
 profileID, summary, nowTS)
 return err
	})
}

// GetProfilesNeedingSummarization returns up to limit profiles whose
// summary is stale relative to staleAfterUpdatedBefore, for the background
// summarizer.
func (s *ProfileStore) GetProfilesNeedingSummarization(ctx context.Context, staleAfterUpdatedBefore int64, limit int) ([]model.UserProfile, error) {
	if limit <= 0 {
 limit = 50
	}
	rows, err := s.pool.Query(ctx, `
 SELECT id, user_id, chat_id, display_name, username, interaction_count, last_seen,
 summary, version, membership, created_at, updated_at
 FROM user_profiles
 WHERE updated_at < $1 AND interaction_count > 0
 ORDER BY updated_at ASC
 LIMIT $2`, staleAfterUpdatedBefore, limit)
	if err != nil {
 return nil, err
	}
	defer rows.Close()
	var out []model.UserProfile
	for rows.Next() {
 var p model.UserProfile
 var membership string
 if err := rows.Scan(&p.ID, &p.UserID, &p.ChatID, &p.DisplayName, &p.Username, &p.InteractionCount,
 &p.LastSeen, &p.Summary, &p.Version, &membership, &p.CreatedAt, &p.UpdatedAt); err != nil {
 return nil, err
 }
 p.Membership = model.MembershipStatus(membership)
 out = append(out, p)
	}
	return out, rows.Err()
}

func (s *ProfileStore) SetMembership(ctx context.Context, userID, chatID int64, status model.MembershipStatus, nowTS int64) error {
	_, err := s.pool.Exec(ctx, `
 UPDATE user_profiles SET membership=$3, updated_at=$4 WHERE user_id=$1 AND chat_id=$2`,
 userID, chatID, string(status), nowTS)
	return err
}
