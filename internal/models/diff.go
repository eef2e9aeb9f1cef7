package models

import "time"

// DiffStatus is the state of a diff job: processing -> completed | error
type DiffStatus string

const (
	DiffProcessing DiffStatus = "processing"
	DiffCompleted  DiffStatus = "completed"
	DiffError      DiffStatus = "error"
)

// Classification of a hash-changed item after semantic comparison
type Classification string

const (
	HashOnlySimilar    Classification = "hash-only-similar"
	SemanticDivergence Classification = "semantic-divergence"
	NoEmbeddingsFound  Classification = "no-embeddings-found"
	StructuralChange   Classification = "structural-change"
)

// DiffSummary holds the headline counts of a diff
type DiffSummary struct {
	Added               int `json:"added"`
	Deleted             int `json:"deleted"`
	ContentHashChanged  int `json:"contentHashChanged"`
	SemanticallySimilar int `json:"semanticallySimilar"`
	SemanticallyChanged int `json:"semanticallyChanged"`
}

// DiffItem describes an added or deleted item
type DiffItem struct {
	ID        string   `json:"id"`
	Kind      ItemKind `json:"kind"`
	BlockType string   `json:"blockType,omitempty"`
	Name      string   `json:"name,omitempty"`
}

// ChangedItem describes an item whose hash differs between snapshots
type ChangedItem struct {
	DiffItem
	OldHash        string         `json:"oldHash"`
	NewHash        string         `json:"newHash"`
	Classification Classification `json:"classification"`
	Similarity     *float64       `json:"similarity,omitempty"`
}

// DiffDetails lists the items behind the summary counts
type DiffDetails struct {
	AddedItems   []DiffItem    `json:"addedItems"`
	DeletedItems []DiffItem    `json:"deletedItems"`
	ChangedItems []ChangedItem `json:"changedItems"`
}

// DiffResult is the stored outcome of a diff job
type DiffResult struct {
	JobID          string      `json:"jobId"`
	UserID         string      `json:"userId"`
	SnapshotIDFrom string      `json:"snapshotIdFrom"`
	SnapshotIDTo   string      `json:"snapshotIdTo"`
	Status         DiffStatus  `json:"status"`
	Summary        DiffSummary `json:"summary"`
	Details        DiffDetails `json:"details"`
	LLMSummary     string      `json:"llmSummary,omitempty"`
	Error          string      `json:"error,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
	CompletedAt    *time.Time  `json:"completedAt,omitempty"`
}
