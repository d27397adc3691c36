package journal

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Execer runs a single statement. *pgxpool.Pool satisfies it.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS feed_events (
	event_id    UUID PRIMARY KEY,
	kind        TEXT NOT NULL,
	match_id    BIGINT NOT NULL,
	payload     JSONB NOT NULL,
	received_at TIMESTAMPTZ NOT NULL
)`

const createIndexSQL = `
CREATE INDEX IF NOT EXISTS feed_events_match_idx
	ON feed_events (match_id, received_at)`

const insertSQL = `
	INSERT INTO feed_events (event_id, kind, match_id, payload, received_at)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (event_id) DO NOTHING
`

// EnsureSchema creates the feed_events table and its index if missing.
func EnsureSchema(ctx context.Context, db Execer) error {
	for _, stmt := range []string{createTableSQL, createIndexSQL} {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure journal schema: %w", err)
		}
	}
	return nil
}
