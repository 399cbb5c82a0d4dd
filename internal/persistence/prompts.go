package persistence

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/thathunky/gryag/internal/model"
)

// PromptStore owns the system_prompts table. At most one version per
// (scope, chat_id) has IsActive = true; Activate flips the prior active
// row in the same transaction.
type PromptStore struct {
	pool DBPool
}

func NewPromptStore(pool DBPool) *PromptStore {
	return &PromptStore{pool: pool}
}

func (s *PromptStore) Active(ctx context.Context, scope model.PromptScope, chatID *int64) (model.SystemPrompt, bool, error) {
	row := s.pool.QueryRow(ctx, `
 SELECT id, scope, chat_id, user_id, version, text, is_active, created_at
 FROM system_prompts
 WHERE scope=$1 AND chat_id IS NOT DISTINCT FROM $2 AND is_active
 LIMIT 1`, string(scope), chatID)
	return scanPrompt(row)
}

func (s *PromptStore) History(ctx context.Context, scope model.PromptScope, chatID *int64, limit int) ([]model.SystemPrompt, error) {
	if limit <= 0 {
 limit = 20
	}
	rows, err := s.pool.Query(ctx, `
 SELECT id, scope, chat_id, user_id, version, text, is_active, created_at
 FROM system_prompts
 WHERE scope=$1 AND chat_id IS NOT DISTINCT FROM $2
 ORDER BY version DESC
 LIMIT $3`, string(scope), chatID, limit)
	if err != nil {
 return nil, err
	}
	defer rows.Close()
	var out []model.SystemPrompt
	for rows.Next() {
 p, _, err := scanPrompt(rows)
 if err != nil {
 return nil, err
 }
 out = append(out, p)
	}
	return out, rows.Err()
}

// SetActive inserts a new version and deactivates the prior active row for
// the same scope in a single transaction.
func (s *PromptStore) SetActive(ctx context.Context, scope model.PromptScope, chatID, userID *int64, text string, nowTS int64) (model.SystemPrompt, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
 return model.SystemPrompt{}, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var maxVersion int
	row := tx.QueryRow(ctx, `
 SELECT COALESCE(MAX(version), 0) FROM system_prompts
 WHERE scope=$1 AND chat_id IS NOT DISTINCT FROM $2`, string(scope), chatID)
	if err := row.Scan(&maxVersion); err != nil {
 return model.SystemPrompt{}, err
	}

	if _, err := tx.Exec(ctx, `
 UPDATE system_prompts SET is_active=FALSE
 WHERE scope=$1 AND chat_id IS NOT DISTINCT FROM $2 AND is_active`, string(scope), chatID); err != nil {
 return model.SystemPrompt{}, err
	}

	var id int64
	newVersion := maxVersion + 1
	insertRow := tx.QueryRow(ctx, `
 INSERT INTO system_prompts (scope, chat_id, user_id, version, text, is_active, created_at)
 VALUES ($1,$2,$3,$4,$5,TRUE,$6)
 RETURNING id`, string(scope), chatID, userID, newVersion, text, nowTS)
	if err := insertRow.Scan(&id); err != nil {
 return model.SystemPrompt{}, err
	}

	if err := tx.Commit(ctx); err != nil {
 return model.SystemPrompt{}, err
	}
	return model.SystemPrompt{
 ID: id, Scope: scope, ChatID: chatID, UserID: userID, Version: newVersion, Text: text,
 IsActive: true, CreatedAt: nowTS,
	}, nil
}

// ActivateVersion reactivates a prior version (rollback), deactivating
// whichever is currently active.
func (s *PromptStore) ActivateVersion(ctx context.Context, scope model.PromptScope, chatID *int64, version int) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
 return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `
 UPDATE system_prompts SET is_active=FALSE
 WHERE scope=$1 AND chat_id IS NOT DISTINCT FROM $2 AND is_active`, string(scope), chatID); err != nil {
 return err
	}
	if _, err := tx.Exec(ctx, `
 UPDATE system_prompts SET is_active=TRUE
 WHERE scope=$1 AND chat_id IS NOT DISTINCT FROM $2 AND version=$3`, string(scope), chatID, version); err != nil {
 return err
	}
	return tx.Commit(ctx)
}

// Deactivate clears the active row for a scope/chat without replacing it,
// reverting resolution to the next scope down (or the hardcoded default).
// Returns whether a row was actually deactivated.
func (s *PromptStore) Deactivate(ctx context.Context, scope model.PromptScope, chatID *int64) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
 UPDATE system_prompts SET is_active=FALSE
 WHERE scope=$1 AND chat_id IS NOT DISTINCT FROM $2 AND is_active`, string(scope), chatID)
	if err != nil {
 return false, err
	}
	return tag.RowsAffected() > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPrompt(row rowScanner) (model.SystemPrompt, bool, error) {
	var p model.SystemPrompt
	var scope string
	err := row.Scan(&p.ID, &scope, &p.ChatID, &p.UserID, &p.Version, &p.Text, &p.IsActive, &p.CreatedAt)
	if err == pgx.ErrNoRows {
 return model.SystemPrompt{}, false, nil
	}
	if err != nil {
 return model.SystemPrompt{}, false, err
	}
	p.Scope = model.PromptScope(scope)
	return p, true, nil
}
