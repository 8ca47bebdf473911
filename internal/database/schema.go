package database

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS crawl_runs (
		id               TEXT PRIMARY KEY,
		start_url        TEXT NOT NULL,
		terminal         TEXT NOT NULL,
		pages            INTEGER NOT NULL,
		total_listings   INTEGER NOT NULL,
		total_sold_count BIGINT NOT NULL,
		total_revenue    BIGINT NOT NULL,
		error_kind       TEXT,
		cause            TEXT,
		started_at       TIMESTAMPTZ NOT NULL,
		finished_at      TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS catalog_listings (
		run_id        TEXT NOT NULL REFERENCES crawl_runs(id) ON DELETE CASCADE,
		link          TEXT NOT NULL,
		name          TEXT NOT NULL,
		price_raw     TEXT NOT NULL,
		price         BIGINT NOT NULL,
		seller_name   TEXT NOT NULL,
		sold_raw      TEXT NOT NULL,
		sold_count    BIGINT NOT NULL,
		revenue       BIGINT NOT NULL,
		page          INTEGER NOT NULL,
		first_seen_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (run_id, link)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_catalog_listings_revenue ON catalog_listings (run_id, revenue DESC)`,
	`CREATE TABLE IF NOT EXISTS outbox_event (
		id             UUID PRIMARY KEY,
		aggregate_type TEXT NOT NULL,
		aggregate_id   TEXT NOT NULL,
		event_type     TEXT NOT NULL,
		payload        JSONB NOT NULL,
		target_stream  TEXT NOT NULL,
		status         TEXT NOT NULL,
		retry_count    INTEGER NOT NULL DEFAULT 0,
		error_message  TEXT,
		created_at     TIMESTAMPTZ NOT NULL,
		processed_at   TIMESTAMPTZ,
		next_retry_at  TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_event_pending ON outbox_event (status, next_retry_at)`,
}

// EnsureSchema creates the tables used by the crawler if they do not exist.
func (db *DB) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
