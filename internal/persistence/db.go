// Package persistence is the relational store for messages, embeddings,
// profiles, facts, episodes, prompts, quotas, and interaction outcomes.
// All writes go through repository methods; there are no cross-component
// transactions.
package persistence

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBPool is the minimal surface this package needs from a Postgres
// connection pool, so repository tests can swap in a pgxmock pool without
// a real database.
type DBPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// Open creates a Postgres connection pool and applies the schema
// idempotently.
func Open(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
 return nil, fmt.Errorf("persistence: open pool: %w", err)
	}
	if err := ApplySchema(ctx, pool); err != nil {
 pool.Close()
 return nil, fmt.Errorf("persistence: apply schema: %w", err)
	}
	return pool, nil
}
