package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/takak2166/notionsnap/internal/models"
)

// Validation statuses written after each replication attempt
const (
	ValidationOK     = "ok"
	ValidationFailed = "failed"
)

// PutDestination creates or replaces a destination config
func (s *Store) PutDestination(ctx context.Context, d models.StorageDestinationConfig) error {
	if d.ReplicationMode == "" {
		d.ReplicationMode = models.ReplicationMirror
	}
	_, err := s.exec(ctx, `
		INSERT INTO destinations (id, user_id, type, bucket, region, endpoint, access_key_id, secret_access_key,
			force_path_style, is_enabled, replication_mode)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			user_id = excluded.user_id,
			type = excluded.type,
			bucket = excluded.bucket,
			region = excluded.region,
			endpoint = excluded.endpoint,
			access_key_id = excluded.access_key_id,
			secret_access_key = excluded.secret_access_key,
			force_path_style = excluded.force_path_style,
			is_enabled = excluded.is_enabled,
			replication_mode = excluded.replication_mode`,
		d.ID, d.UserID, string(d.Type), d.Bucket, d.Region, d.Endpoint,
		d.Credentials.AccessKeyID, d.Credentials.SecretAccessKey,
		boolInt(d.ForcePathStyle), boolInt(d.IsEnabled), string(d.ReplicationMode),
	)
	if err != nil {
		return fmt.Errorf("failed to save destination: %w", err)
	}
	return nil
}

// ListDestinations returns a user's destinations. With enabledOnly, disabled
// destinations are left out.
func (s *Store) ListDestinations(ctx context.Context, userID string, enabledOnly bool) ([]models.StorageDestinationConfig, error) {
	q := `
		SELECT id, user_id, type, bucket, region, endpoint, access_key_id, secret_access_key,
			force_path_style, is_enabled, replication_mode, last_validation_status, last_validated_at, last_error
		FROM destinations WHERE user_id = ?`
	if enabledOnly {
		q += ` AND is_enabled = 1`
	}
	q += ` ORDER BY id`

	rows, err := s.query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list destinations: %w", err)
	}
	defer rows.Close()

	var out []models.StorageDestinationConfig
	for rows.Next() {
		var d models.StorageDestinationConfig
		var typ, mode string
		var pathStyle, enabled int
		var validatedAt sql.NullInt64
		if err := rows.Scan(&d.ID, &d.UserID, &typ, &d.Bucket, &d.Region, &d.Endpoint,
			&d.Credentials.AccessKeyID, &d.Credentials.SecretAccessKey, &pathStyle, &enabled, &mode,
			&d.LastValidationStatus, &validatedAt, &d.LastError); err != nil {
			return nil, fmt.Errorf("failed to scan destination: %w", err)
		}
		d.Type = models.DestinationType(typ)
		d.ReplicationMode = models.ReplicationMode(mode)
		d.ForcePathStyle = pathStyle != 0
		d.IsEnabled = enabled != 0
		d.LastValidatedAt = fromNullMillis(validatedAt)
		out = append(out, d)
	}
	return out, rows.Err()
}

// RecordValidation stores the outcome of the latest write to a destination
func (s *Store) RecordValidation(ctx context.Context, destinationID string, ok bool, lastError string, at time.Time) error {
	status := ValidationOK
	if !ok {
		status = ValidationFailed
	}
	_, err := s.exec(ctx, `
		UPDATE destinations SET last_validation_status = ?, last_validated_at = ?, last_error = ?
		WHERE id = ?`,
		status, millis(at), lastError, destinationID,
	)
	if err != nil {
		return fmt.Errorf("failed to record destination validation: %w", err)
	}
	return nil
}
