package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/takak2166/notionsnap/internal/models"
)

// PutDiff creates or replaces a diff record. The full result is kept as JSON.
func (s *Store) PutDiff(ctx context.Context, d models.DiffResult) error {
	doc, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to encode diff: %w", err)
	}
	_, err = s.exec(ctx, `
		INSERT INTO diffs (job_id, user_id, snapshot_from, snapshot_to, status, result, error, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (job_id) DO UPDATE SET
			status = excluded.status,
			result = excluded.result,
			error = excluded.error,
			completed_at = excluded.completed_at`,
		d.JobID, d.UserID, d.SnapshotIDFrom, d.SnapshotIDTo, string(d.Status), string(doc), d.Error,
		millis(d.CreatedAt), nullMillis(d.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save diff: %w", err)
	}
	return nil
}

// GetDiff returns a diff record
func (s *Store) GetDiff(ctx context.Context, jobID string) (models.DiffResult, error) {
	var doc string
	err := s.queryRow(ctx, `SELECT result FROM diffs WHERE job_id = ?`, jobID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return models.DiffResult{}, ErrNotFound
	}
	if err != nil {
		return models.DiffResult{}, fmt.Errorf("failed to read diff: %w", err)
	}
	var d models.DiffResult
	if err := json.Unmarshal([]byte(doc), &d); err != nil {
		return models.DiffResult{}, fmt.Errorf("failed to decode diff: %w", err)
	}
	return d, nil
}
