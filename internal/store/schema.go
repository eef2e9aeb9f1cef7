package store

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS credentials (
		user_id      TEXT PRIMARY KEY,
		access_token TEXT NOT NULL,
		updated_at   BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS snapshots (
		snapshot_id   TEXT PRIMARY KEY,
		user_id       TEXT NOT NULL,
		taken_at      BIGINT NOT NULL,
		primary_path  TEXT NOT NULL,
		manifest_path TEXT NOT NULL,
		item_count    INTEGER NOT NULL DEFAULT 0,
		size_bytes    BIGINT NOT NULL DEFAULT 0,
		status        TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_snapshots_user ON snapshots (user_id, taken_at)`,
	`CREATE TABLE IF NOT EXISTS snapshot_runs (
		run_id      TEXT PRIMARY KEY,
		user_id     TEXT NOT NULL,
		snapshot_id TEXT NOT NULL DEFAULT '',
		status      TEXT NOT NULL,
		percentage  INTEGER NOT NULL DEFAULT 0,
		message     TEXT NOT NULL DEFAULT '',
		updated_at  BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS diffs (
		job_id        TEXT PRIMARY KEY,
		user_id       TEXT NOT NULL,
		snapshot_from TEXT NOT NULL,
		snapshot_to   TEXT NOT NULL,
		status        TEXT NOT NULL,
		result        TEXT NOT NULL DEFAULT '{}',
		error         TEXT NOT NULL DEFAULT '',
		created_at    BIGINT NOT NULL,
		completed_at  BIGINT
	)`,
	`CREATE TABLE IF NOT EXISTS restore_jobs (
		restore_id            TEXT PRIMARY KEY,
		user_id               TEXT NOT NULL,
		snapshot_id           TEXT NOT NULL,
		targets               TEXT NOT NULL DEFAULT 'null',
		target_parent_page_id TEXT NOT NULL DEFAULT '',
		status                TEXT NOT NULL,
		percentage            INTEGER NOT NULL DEFAULT 0,
		message               TEXT NOT NULL DEFAULT '',
		items_total           INTEGER NOT NULL DEFAULT 0,
		items_restored        INTEGER NOT NULL DEFAULT 0,
		items_failed          INTEGER NOT NULL DEFAULT 0,
		created_at            BIGINT NOT NULL,
		updated_at            BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS destinations (
		id                     TEXT PRIMARY KEY,
		user_id                TEXT NOT NULL,
		type                   TEXT NOT NULL,
		bucket                 TEXT NOT NULL,
		region                 TEXT NOT NULL DEFAULT '',
		endpoint               TEXT NOT NULL DEFAULT '',
		access_key_id          TEXT NOT NULL DEFAULT '',
		secret_access_key      TEXT NOT NULL DEFAULT '',
		force_path_style       INTEGER NOT NULL DEFAULT 0,
		is_enabled             INTEGER NOT NULL DEFAULT 1,
		replication_mode       TEXT NOT NULL DEFAULT 'mirror',
		last_validation_status TEXT NOT NULL DEFAULT '',
		last_validated_at      BIGINT,
		last_error             TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_destinations_user ON destinations (user_id)`,
	`CREATE TABLE IF NOT EXISTS embeddings (
		snapshot_id  TEXT NOT NULL,
		item_id      TEXT NOT NULL,
		field        TEXT NOT NULL,
		chunk_index  INTEGER NOT NULL,
		total_chunks INTEGER NOT NULL,
		vector       TEXT NOT NULL,
		PRIMARY KEY (snapshot_id, item_id, field, chunk_index)
	)`,
	`CREATE TABLE IF NOT EXISTS jobs (
		id         TEXT PRIMARY KEY,
		queue      TEXT NOT NULL DEFAULT '',
		payload    TEXT NOT NULL,
		visible_at BIGINT NOT NULL DEFAULT 0,
		created_at BIGINT NOT NULL,
		attempts   INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_visible ON jobs (queue, visible_at)`,
}

// Migrate creates every table and index that does not exist yet
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
