package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// KeyValueStore is the persistence collaborator used to carry the principal
// and credential across sessions. The record cache never touches it.
type KeyValueStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// PGKV implements KeyValueStore backed by PostgreSQL.
type PGKV struct {
	pool *pgxpool.Pool
}

// NewPGKV creates a PostgreSQL-backed key-value store. Call EnsureSchema once
// before first use.
func NewPGKV(pool *pgxpool.Pool) *PGKV {
	return &PGKV{pool: pool}
}

const pgKVSchema = `
	CREATE TABLE IF NOT EXISTS kv_store (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)
`

func (r *PGKV) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, pgKVSchema); err != nil {
		return fmt.Errorf("auth: create kv_store: %w", err)
	}
	return nil
}

func (r *PGKV) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.pool.QueryRow(ctx, `SELECT value FROM kv_store WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("auth: get %s: %w", key, err)
	}
	return value, true, nil
}

func (r *PGKV) Set(ctx context.Context, key, value string) error {
	const upsertSQL = `
		INSERT INTO kv_store (key, value)
		VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`
	if _, err := r.pool.Exec(ctx, upsertSQL, key, value); err != nil {
		return fmt.Errorf("auth: set %s: %w", key, err)
	}
	return nil
}

func (r *PGKV) Delete(ctx context.Context, key string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM kv_store WHERE key = $1`, key); err != nil {
		return fmt.Errorf("auth: delete %s: %w", key, err)
	}
	return nil
}
