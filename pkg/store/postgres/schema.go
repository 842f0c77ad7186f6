package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlContent = `
CREATE TABLE IF NOT EXISTS content (
    id          UUID         PRIMARY KEY,
    type        TEXT         NOT NULL CHECK (type IN ('word', 'sentence')),
    text        TEXT         NOT NULL,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_content_type_created
    ON content (type, created_at DESC);
`

const ddlProgress = `
CREATE TABLE IF NOT EXISTS progress (
    id            UUID         PRIMARY KEY,
    user_id       TEXT         NOT NULL,
    content_id    TEXT         NOT NULL,
    content_type  TEXT         NOT NULL CHECK (content_type IN ('word', 'sentence')),
    accuracy      SMALLINT     NOT NULL CHECK (accuracy BETWEEN 0 AND 100),
    created_at    TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_progress_user_created
    ON progress (user_id, created_at DESC);
`

// Migrate creates the content and progress tables if they do not exist. It is
// idempotent and safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range []string{ddlContent, ddlProgress} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
