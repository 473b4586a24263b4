package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq" // Postgres driver
	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"

	"github.com/Mindburn-Labs/mplp-conform/pkg/config"
)

// Open builds the verdict store selected by cfg.VerdictStore.
func Open(ctx context.Context, cfg *config.Config) (VerdictStore, error) {
	switch cfg.VerdictStore {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		db, err := sql.Open("sqlite", cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("store: open sqlite: %w", err)
		}
		db.SetMaxOpenConns(1)
		s, err := NewSQLiteStore(db)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		return s, nil
	case "postgres":
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("store: open postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("store: ping postgres: %w", err)
		}
		s := NewPostgresStore(db)
		if err := s.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		return s, nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("store: ping redis: %w", err)
		}
		return NewRedisStore(client, 0), nil
	}
	return nil, fmt.Errorf("store: unknown verdict store %q (memory, sqlite, postgres, redis)", cfg.VerdictStore)
}
