package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS media_assets (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	display_url TEXT NOT NULL,
	backend TEXT NOT NULL,
	primary_ref TEXT,
	preview_ref TEXT,
	square_preview_ref TEXT,
	source_url TEXT NOT NULL DEFAULT '',
	content_type TEXT NOT NULL DEFAULT '',
	size_bytes BIGINT NOT NULL DEFAULT 0,
	width INT NOT NULL DEFAULT 0,
	height INT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	removed_at TIMESTAMPTZ,
	purged_at TIMESTAMPTZ
)`,
	`CREATE INDEX IF NOT EXISTS media_assets_purgeable_idx
	ON media_assets (backend, removed_at)
	WHERE removed_at IS NOT NULL AND purged_at IS NULL`,
}

// EnsureSchema creates the media tables when they are missing.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	return WithTx(ctx, pool, func(ctx context.Context, tx pgx.Tx) error {
		for _, stmt := range schemaStatements {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("apply media schema: %w", err)
			}
		}
		return nil
	})
}
