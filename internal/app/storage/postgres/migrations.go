package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS fetch_sources (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		url TEXT NOT NULL,
		method TEXT NOT NULL DEFAULT 'GET',
		headers JSONB,
		json_path TEXT,
		refresh_interval TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS fetch_snapshots (
		id TEXT PRIMARY KEY,
		source_id TEXT NOT NULL REFERENCES fetch_sources(id) ON DELETE CASCADE,
		payload JSONB,
		error TEXT,
		status_code INTEGER NOT NULL DEFAULT 0,
		duration_ms BIGINT NOT NULL DEFAULT 0,
		collected_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_fetch_snapshots_source_collected
		ON fetch_snapshots (source_id, collected_at DESC)`,
}

// Migrate applies the schema statements in order. Statements are idempotent
// so repeated runs are safe.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	for i, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}
