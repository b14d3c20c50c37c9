package main

import (
	"context"
	"fmt"

	"quoteflow/auth"
	"quoteflow/config"
	"quoteflow/db"
)

const redisKeyPrefix = "quoteflow:"

// openSessionStore opens the configured key-value backend for the session and
// returns a function releasing it.
func openSessionStore(ctx context.Context, cfg config.Config) (auth.KeyValueStore, func() error, error) {
	noop := func() error { return nil }

	switch cfg.SessionBackend {
	case config.BackendMemory:
		return auth.NewMemoryKV(), noop, nil

	case config.BackendSQLite:
		conn, err := db.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		kv := auth.NewSQLiteKV(conn)
		if err := kv.EnsureSchema(ctx); err != nil {
			conn.Close()
			return nil, nil, err
		}
		return kv, conn.Close, nil

	case config.BackendPostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		kv := auth.NewPGKV(pool)
		if err := kv.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return kv, func() error { pool.Close(); return nil }, nil

	case config.BackendRedis:
		rdb, err := db.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return auth.NewRedisKV(rdb, redisKeyPrefix), rdb.Close, nil
	}
	return nil, nil, fmt.Errorf("quotectl: unknown session backend %q", cfg.SessionBackend)
}
