package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/takak2166/notionsnap/internal/models"
)

const snapshotColumns = `snapshot_id, user_id, taken_at, primary_path, manifest_path, item_count, size_bytes, status`

// SaveSnapshot records a completed snapshot. Snapshots are immutable, so
// saving an existing id fails.
func (s *Store) SaveSnapshot(ctx context.Context, snap models.Snapshot) error {
	_, err := s.exec(ctx, `INSERT INTO snapshots (`+snapshotColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.SnapshotID, snap.UserID, millis(snap.Timestamp), snap.PrimaryPath, snap.ManifestPath,
		snap.ItemCount, snap.SizeBytes, string(snap.Status),
	)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

func scanSnapshot(row interface{ Scan(...interface{}) error }) (models.Snapshot, error) {
	var snap models.Snapshot
	var takenAt int64
	var status string
	err := row.Scan(&snap.SnapshotID, &snap.UserID, &takenAt, &snap.PrimaryPath, &snap.ManifestPath,
		&snap.ItemCount, &snap.SizeBytes, &status)
	snap.Timestamp = fromMillis(takenAt)
	snap.Status = models.SnapshotStatus(status)
	return snap, err
}

// GetSnapshot returns one snapshot
func (s *Store) GetSnapshot(ctx context.Context, snapshotID string) (models.Snapshot, error) {
	snap, err := scanSnapshot(s.queryRow(ctx, `SELECT `+snapshotColumns+` FROM snapshots WHERE snapshot_id = ?`, snapshotID))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Snapshot{}, ErrNotFound
	}
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return snap, nil
}

// ListSnapshots returns a user's snapshots, newest first
func (s *Store) ListSnapshots(ctx context.Context, userID string) ([]models.Snapshot, error) {
	rows, err := s.query(ctx, `SELECT `+snapshotColumns+` FROM snapshots WHERE user_id = ? ORDER BY taken_at DESC, snapshot_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var out []models.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// SnapshotUsers returns every user that owns at least one snapshot
func (s *Store) SnapshotUsers(ctx context.Context) ([]string, error) {
	rows, err := s.query(ctx, `SELECT DISTINCT user_id FROM snapshots ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshot users: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// PutSnapshotRun creates or replaces the progress record of a snapshot job
func (s *Store) PutSnapshotRun(ctx context.Context, run models.SnapshotRun) error {
	if run.UpdatedAt.IsZero() {
		run.UpdatedAt = time.Now()
	}
	_, err := s.exec(ctx, `
		INSERT INTO snapshot_runs (run_id, user_id, snapshot_id, status, percentage, message, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id) DO UPDATE SET
			snapshot_id = excluded.snapshot_id,
			status = excluded.status,
			percentage = excluded.percentage,
			message = excluded.message,
			updated_at = excluded.updated_at`,
		run.RunID, run.UserID, run.SnapshotID, string(run.Status), run.Percentage, run.Message, millis(run.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save snapshot run: %w", err)
	}
	return nil
}

// GetSnapshotRun returns the progress record of a snapshot job
func (s *Store) GetSnapshotRun(ctx context.Context, runID string) (models.SnapshotRun, error) {
	var run models.SnapshotRun
	var status string
	var updatedAt int64
	err := s.queryRow(ctx, `
		SELECT run_id, user_id, snapshot_id, status, percentage, message, updated_at
		FROM snapshot_runs WHERE run_id = ?`, runID,
	).Scan(&run.RunID, &run.UserID, &run.SnapshotID, &status, &run.Percentage, &run.Message, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.SnapshotRun{}, ErrNotFound
	}
	if err != nil {
		return models.SnapshotRun{}, fmt.Errorf("failed to read snapshot run: %w", err)
	}
	run.Status = models.SnapshotStatus(status)
	run.UpdatedAt = fromMillis(updatedAt)
	return run, nil
}
