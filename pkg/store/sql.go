package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Mindburn-Labs/mplp-conform/pkg/verdict"
)

const createVerdictsTable = `
CREATE TABLE IF NOT EXISTS verdicts (
	pack_digest     TEXT NOT NULL,
	ruleset_version TEXT NOT NULL,
	verdict_id      TEXT NOT NULL,
	verdict_hash    TEXT NOT NULL,
	body            TEXT NOT NULL,
	created_at      TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (pack_digest, ruleset_version)
);`

// SQLStore persists verdicts in a relational table. The same schema serves
// SQLite and Postgres; only placeholders differ.
type SQLStore struct {
	db       *sql.DB
	getQuery string
	putQuery string
}

// NewSQLiteStore wraps a modernc.org/sqlite handle and creates the table.
func NewSQLiteStore(db *sql.DB) (*SQLStore, error) {
	s := &SQLStore{
		db:       db,
		getQuery: `SELECT body FROM verdicts WHERE pack_digest = ? AND ruleset_version = ?`,
		putQuery: `INSERT INTO verdicts (pack_digest, ruleset_version, verdict_id, verdict_hash, body) VALUES (?, ?, ?, ?, ?)
ON CONFLICT (pack_digest, ruleset_version) DO UPDATE SET verdict_id = excluded.verdict_id, verdict_hash = excluded.verdict_hash, body = excluded.body`,
	}
	if err := s.Migrate(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

// NewPostgresStore wraps a lib/pq handle. Call Migrate to create the table.
func NewPostgresStore(db *sql.DB) *SQLStore {
	return &SQLStore{
		db:       db,
		getQuery: `SELECT body FROM verdicts WHERE pack_digest = $1 AND ruleset_version = $2`,
		putQuery: `INSERT INTO verdicts (pack_digest, ruleset_version, verdict_id, verdict_hash, body) VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (pack_digest, ruleset_version) DO UPDATE SET verdict_id = EXCLUDED.verdict_id, verdict_hash = EXCLUDED.verdict_hash, body = EXCLUDED.body`,
	}
}

// Migrate creates the verdicts table if needed.
func (s *SQLStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createVerdictsTable); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, key Key) (*verdict.Verdict, error) {
	var body string
	err := s.db.QueryRowContext(ctx, s.getQuery, key.PackDigest, key.RulesetVersion).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get %s: %w", key, err)
	}
	return decode([]byte(body))
}

func (s *SQLStore) Put(ctx context.Context, v *verdict.Verdict) error {
	b, err := encode(v)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.putQuery, v.PackDigest, v.RulesetVersion, v.VerdictID, v.VerdictHash, string(b))
	if err != nil {
		return fmt.Errorf("failed to insert verdict: %w", err)
	}
	return nil
}

func (s *SQLStore) Close() error { return s.db.Close() }
