package models

import "time"

// SnapshotStatus is the lifecycle state of a snapshot run
type SnapshotStatus string

const (
	SnapshotPending     SnapshotStatus = "pending"
	SnapshotWalking     SnapshotStatus = "walking"
	SnapshotPackaging   SnapshotStatus = "packaging"
	SnapshotReplicating SnapshotStatus = "replicating"
	SnapshotCompleted   SnapshotStatus = "completed"
	SnapshotError       SnapshotStatus = "error"
)

// Snapshot is a completed capture of a workspace
type Snapshot struct {
	SnapshotID   string         `json:"snapshotId"`
	UserID       string         `json:"userId"`
	Timestamp    time.Time      `json:"timestamp"`
	PrimaryPath  string         `json:"primaryPath"`
	ManifestPath string         `json:"manifestPath"`
	ItemCount    int            `json:"itemCount"`
	SizeBytes    int64          `json:"sizeBytes"`
	Status       SnapshotStatus `json:"status"`
}

// SnapshotRun is the pollable progress record of a snapshot job
type SnapshotRun struct {
	RunID      string         `json:"runId"`
	UserID     string         `json:"userId"`
	SnapshotID string         `json:"snapshotId,omitempty"`
	Status     SnapshotStatus `json:"status"`
	Percentage int            `json:"percentage"`
	Message    string         `json:"message"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

// EmbeddingField names which part of an item a vector was computed from
type EmbeddingField string

const (
	FieldTitle       EmbeddingField = "title"
	FieldDescription EmbeddingField = "description"
	FieldContent     EmbeddingField = "content"
)

// EmbeddingRecord is one stored vector for one chunk of one item
type EmbeddingRecord struct {
	SnapshotID  string         `json:"snapshotId"`
	ItemID      string         `json:"itemId"`
	Field       EmbeddingField `json:"field"`
	ChunkIndex  int            `json:"chunkIndex"`
	TotalChunks int            `json:"totalChunks"`
	Vector      []float32      `json:"vector"`
}
