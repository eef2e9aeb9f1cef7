package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PutAccessToken stores the Notion token of a user
func (s *Store) PutAccessToken(ctx context.Context, userID, token string) error {
	_, err := s.exec(ctx, `
		INSERT INTO credentials (user_id, access_token, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET access_token = excluded.access_token, updated_at = excluded.updated_at`,
		userID, token, millis(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("failed to store access token: %w", err)
	}
	return nil
}

// AccessToken returns the Notion token of a user, or ErrNotFound
func (s *Store) AccessToken(ctx context.Context, userID string) (string, error) {
	var token string
	err := s.queryRow(ctx, `SELECT access_token FROM credentials WHERE user_id = ?`, userID).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read access token: %w", err)
	}
	return token, nil
}
