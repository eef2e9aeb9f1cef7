package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/takak2166/notionsnap/internal/models"
)

// SaveEmbeddings stores embedding records in one transaction
func (s *Store) SaveEmbeddings(ctx context.Context, records []models.EmbeddingRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.Rebind(`
		INSERT INTO embeddings (snapshot_id, item_id, field, chunk_index, total_chunks, vector)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (snapshot_id, item_id, field, chunk_index) DO UPDATE SET
			total_chunks = excluded.total_chunks,
			vector = excluded.vector`))
	if err != nil {
		return fmt.Errorf("failed to prepare embedding insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		vec, err := json.Marshal(r.Vector)
		if err != nil {
			return fmt.Errorf("failed to encode vector: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, r.SnapshotID, r.ItemID, string(r.Field), r.ChunkIndex, r.TotalChunks, string(vec)); err != nil {
			return fmt.Errorf("failed to insert embedding: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit embeddings: %w", err)
	}
	return nil
}

// Embeddings returns every stored vector of one item in one snapshot,
// ordered by field and chunk index
func (s *Store) Embeddings(ctx context.Context, snapshotID, itemID string) ([]models.EmbeddingRecord, error) {
	rows, err := s.query(ctx, `
		SELECT field, chunk_index, total_chunks, vector FROM embeddings
		WHERE snapshot_id = ? AND item_id = ?
		ORDER BY field, chunk_index`, snapshotID, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer rows.Close()

	var out []models.EmbeddingRecord
	for rows.Next() {
		r := models.EmbeddingRecord{SnapshotID: snapshotID, ItemID: itemID}
		var field, vec string
		if err := rows.Scan(&field, &r.ChunkIndex, &r.TotalChunks, &vec); err != nil {
			return nil, fmt.Errorf("failed to scan embedding: %w", err)
		}
		if err := json.Unmarshal([]byte(vec), &r.Vector); err != nil {
			return nil, fmt.Errorf("failed to decode vector: %w", err)
		}
		r.Field = models.EmbeddingField(field)
		out = append(out, r)
	}
	return out, rows.Err()
}
