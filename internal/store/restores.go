package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/takak2166/notionsnap/internal/models"
)

// ErrInvalidTransition is returned when a progress update would move a
// restore backwards or out of a terminal state
var ErrInvalidTransition = errors.New("invalid restore status transition")

// CreateRestore inserts a pending restore record
func (s *Store) CreateRestore(ctx context.Context, job models.RestoreJob) error {
	targets, err := json.Marshal(job.Targets)
	if err != nil {
		return fmt.Errorf("failed to encode targets: %w", err)
	}
	now := time.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.Status == "" {
		job.Status = models.RestorePending
	}
	_, err = s.exec(ctx, `
		INSERT INTO restore_jobs (restore_id, user_id, snapshot_id, targets, target_parent_page_id,
			status, percentage, message, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.RestoreID, job.UserID, job.SnapshotID, string(targets), job.TargetParentPageID,
		string(job.Status), job.Percentage, job.Message, millis(job.CreatedAt), millis(now),
	)
	if err != nil {
		return fmt.Errorf("failed to create restore: %w", err)
	}
	return nil
}

// GetRestore returns a restore record
func (s *Store) GetRestore(ctx context.Context, restoreID string) (models.RestoreJob, error) {
	var job models.RestoreJob
	var targets, status string
	var createdAt, updatedAt int64
	err := s.queryRow(ctx, `
		SELECT restore_id, user_id, snapshot_id, targets, target_parent_page_id, status, percentage, message,
			items_total, items_restored, items_failed, created_at, updated_at
		FROM restore_jobs WHERE restore_id = ?`, restoreID,
	).Scan(&job.RestoreID, &job.UserID, &job.SnapshotID, &targets, &job.TargetParentPageID, &status,
		&job.Percentage, &job.Message, &job.ItemsTotal, &job.ItemsRestored, &job.ItemsFailed, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.RestoreJob{}, ErrNotFound
	}
	if err != nil {
		return models.RestoreJob{}, fmt.Errorf("failed to read restore: %w", err)
	}
	if err := json.Unmarshal([]byte(targets), &job.Targets); err != nil {
		return models.RestoreJob{}, fmt.Errorf("failed to decode targets: %w", err)
	}
	job.Status = models.RestoreStatus(status)
	job.CreatedAt = fromMillis(createdAt)
	job.UpdatedAt = fromMillis(updatedAt)
	return job, nil
}

// ReportRestore applies a progress event to a restore record. Updates that
// would move the state machine backwards are rejected. Events without a
// total keep the item counts already recorded.
func (s *Store) ReportRestore(ctx context.Context, ev models.ProgressEvent) error {
	var current string
	err := s.queryRow(ctx, `SELECT status FROM restore_jobs WHERE restore_id = ?`, ev.JobID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read restore status: %w", err)
	}

	from := models.RestoreStatus(current)
	next := models.RestoreStatus(ev.Status)
	if !from.CanAdvanceTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, next)
	}

	res, err := s.exec(ctx, `
		UPDATE restore_jobs SET status = ?, percentage = ?, message = ?,
			items_total = CASE WHEN ? > 0 THEN ? ELSE items_total END,
			items_restored = CASE WHEN ? > 0 THEN ? ELSE items_restored END,
			items_failed = CASE WHEN ? > 0 THEN ? ELSE items_failed END,
			updated_at = ?
		WHERE restore_id = ? AND status = ?`,
		ev.Status, ev.Percentage, ev.Message,
		ev.Total, ev.Total, ev.Total, ev.Done, ev.Total, ev.Failed,
		millis(time.Now()), ev.JobID, current,
	)
	if err != nil {
		return fmt.Errorf("failed to update restore: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s changed concurrently", ErrInvalidTransition, ev.JobID)
	}
	return nil
}

// RestoreSink reports restore progress into the store
type RestoreSink struct {
	Store *Store
}

// Report implements the restore progress sink
func (r RestoreSink) Report(ctx context.Context, ev models.ProgressEvent) error {
	return r.Store.ReportRestore(ctx, ev)
}

// SnapshotSink reports snapshot job progress into the store
type SnapshotSink struct {
	Store  *Store
	UserID string
}

// Report implements the snapshot progress sink
func (r SnapshotSink) Report(ctx context.Context, ev models.ProgressEvent) error {
	return r.Store.PutSnapshotRun(ctx, models.SnapshotRun{
		RunID:      ev.JobID,
		UserID:     r.UserID,
		SnapshotID: ev.JobID,
		Status:     models.SnapshotStatus(ev.Status),
		Percentage: ev.Percentage,
		Message:    ev.Message,
	})
}
