package persistence

import "context"

// schemaStatements is applied in order inside a single transaction at
// startup. Statements are idempotent (IF NOT EXISTS) so re-running them on
// every boot is safe.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS messages (
 id BIGSERIAL PRIMARY KEY,
 chat_id BIGINT NOT NULL,
 thread_id BIGINT,
 user_id BIGINT,
 role TEXT NOT NULL,
 text TEXT NOT NULL DEFAULT '',
 media_json TEXT NOT NULL DEFAULT '',
 embedding_json TEXT NOT NULL DEFAULT '',
 ts BIGINT NOT NULL,
 telegram_msg_id BIGINT NOT NULL DEFAULT 0,
 addressed BOOLEAN NOT NULL DEFAULT FALSE,
 reply_to_msg_id BIGINT,
 tsv TSVECTOR GENERATED ALWAYS AS (to_tsvector('simple', coalesce(text, ''))) STORED
	)`,
	`CREATE INDEX IF NOT EXISTS messages_chat_thread_ts_idx ON messages (chat_id, thread_id, ts)`,
	`CREATE INDEX IF NOT EXISTS messages_tsv_idx ON messages USING GIN (tsv)`,
	`CREATE INDEX IF NOT EXISTS messages_embedding_not_null_idx ON messages (chat_id) WHERE embedding_json <> ''`,

	`CREATE TABLE IF NOT EXISTS user_profiles (
 id BIGSERIAL PRIMARY KEY,
 user_id BIGINT NOT NULL,
 chat_id BIGINT NOT NULL,
 display_name TEXT NOT NULL DEFAULT '',
 username TEXT NOT NULL DEFAULT '',
 interaction_count BIGINT NOT NULL DEFAULT 0,
 last_seen BIGINT NOT NULL DEFAULT 0,
 summary TEXT NOT NULL DEFAULT '',
 version INT NOT NULL DEFAULT 1,
 membership TEXT NOT NULL DEFAULT 'active',
 created_at BIGINT NOT NULL,
 updated_at BIGINT NOT NULL,
 UNIQUE (user_id, chat_id)
	)`,

	`CREATE TABLE IF NOT EXISTS facts (
 id BIGSERIAL PRIMARY KEY,
 owner_kind TEXT NOT NULL,
 profile_id BIGINT NOT NULL,
 category TEXT NOT NULL,
 key TEXT NOT NULL,
 value TEXT NOT NULL,
 confidence DOUBLE PRECISION NOT NULL,
 evidence_count INT NOT NULL DEFAULT 1,
 source_type TEXT NOT NULL DEFAULT '',
 context_tags TEXT NOT NULL DEFAULT '',
 embedding_json TEXT NOT NULL DEFAULT '',
 decay_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
 last_reinforced BIGINT NOT NULL,
 is_active BOOLEAN NOT NULL DEFAULT TRUE,
 created_at BIGINT NOT NULL,
 updated_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS facts_owner_category_idx ON facts (owner_kind, profile_id, category) WHERE is_active`,

	`CREATE TABLE IF NOT EXISTS episodes (
 id BIGSERIAL PRIMARY KEY,
 chat_id BIGINT NOT NULL,
 thread_id BIGINT,
 topic TEXT NOT NULL DEFAULT '',
 summary TEXT NOT NULL DEFAULT '',
 summary_embedding TEXT NOT NULL DEFAULT '',
 importance DOUBLE PRECISION NOT NULL DEFAULT 0,
 valence TEXT NOT NULL DEFAULT 'neutral',
 message_ids TEXT NOT NULL DEFAULT '',
 participant_ids TEXT NOT NULL DEFAULT '',
 tags TEXT NOT NULL DEFAULT '',
 created_at BIGINT NOT NULL,
 last_accessed BIGINT,
 access_count BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS episodes_chat_idx ON episodes (chat_id, importance)`,

	`CREATE TABLE IF NOT EXISTS system_prompts (
 id BIGSERIAL PRIMARY KEY,
 scope TEXT NOT NULL,
 chat_id BIGINT,
 user_id BIGINT,
 version INT NOT NULL,
 text TEXT NOT NULL,
 is_active BOOLEAN NOT NULL DEFAULT FALSE,
 created_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS system_prompts_scope_idx ON system_prompts (scope, chat_id, is_active)`,

	`CREATE TABLE IF NOT EXISTS rate_limits (
 user_id BIGINT NOT NULL,
 feature TEXT NOT NULL,
 window_start BIGINT NOT NULL,
 count BIGINT NOT NULL DEFAULT 0,
 PRIMARY KEY (user_id, feature, window_start)
	)`,

	`CREATE TABLE IF NOT EXISTS feature_cooldowns (
 user_id BIGINT NOT NULL,
 feature TEXT NOT NULL,
 last_used BIGINT NOT NULL,
 PRIMARY KEY (user_id, feature)
	)`,

	`CREATE TABLE IF NOT EXISTS image_quotas (
 user_id BIGINT NOT NULL,
 chat_id BIGINT NOT NULL,
 day TEXT NOT NULL,
 count BIGINT NOT NULL DEFAULT 0,
 PRIMARY KEY (user_id, chat_id, day)
	)`,

	`CREATE TABLE IF NOT EXISTS bot_interaction_outcomes (
 id BIGSERIAL PRIMARY KEY,
 bot_profile_id BIGINT NOT NULL,
 chat_id BIGINT NOT NULL,
 thread_id BIGINT,
 message_id BIGINT NOT NULL,
 interaction_type TEXT NOT NULL,
 outcome TEXT NOT NULL,
 sentiment_score DOUBLE PRECISION,
 response_time_ms BIGINT,
 token_count BIGINT,
 tools_used TEXT NOT NULL DEFAULT '',
 user_reaction TEXT NOT NULL DEFAULT '',
 reaction_delay_seconds BIGINT,
 context_snapshot TEXT NOT NULL DEFAULT '',
 episode_id BIGINT,
 created_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS outcomes_chat_created_idx ON bot_interaction_outcomes (chat_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS bot_insights (
 id BIGSERIAL PRIMARY KEY,
 chat_id BIGINT,
 insight_type TEXT NOT NULL,
 text TEXT NOT NULL,
 confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
 actionable BOOLEAN NOT NULL DEFAULT FALSE,
 supporting_facts TEXT NOT NULL DEFAULT '',
 created_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS bot_insights_chat_idx ON bot_insights (chat_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS message_metadata (
 message_id BIGINT PRIMARY KEY REFERENCES messages(id),
 key TEXT NOT NULL DEFAULT '',
 value TEXT NOT NULL DEFAULT ''
	)`,
}

// ApplySchema runs every statement in schemaStatements inside one
// transaction, rolling back entirely on the first failure.
func ApplySchema(ctx context.Context, pool DBPool) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
 return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, stmt := range schemaStatements {
 if _, err := tx.Exec(ctx, stmt); err != nil {
 return err
 }
	}
	return tx.Commit(ctx)
}
