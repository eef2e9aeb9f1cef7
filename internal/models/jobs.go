package models

import "time"

// JobKind names a trigger queue
type JobKind string

const (
	JobSnapshot JobKind = "snapshot"
	JobDiff     JobKind = "diff"
	JobRestore  JobKind = "restore"
)

// SnapshotJobPayload triggers a workspace capture
type SnapshotJobPayload struct {
	UserID      string    `json:"userId"`
	RequestedAt time.Time `json:"requestedAt"`
}

// DiffJobPayload triggers a comparison of two snapshots
type DiffJobPayload struct {
	UserID         string    `json:"userId"`
	SnapshotIDFrom string    `json:"snapshotIdFrom"`
	SnapshotIDTo   string    `json:"snapshotIdTo"`
	DiffJobID      string    `json:"diffJobId"`
	RequestedAt    time.Time `json:"requestedAt"`
}

// RestoreJobPayload triggers a restore. A nil Targets restores everything;
// an empty non-nil Targets restores nothing.
type RestoreJobPayload struct {
	RestoreID          string    `json:"restoreId"`
	UserID             string    `json:"userId"`
	SnapshotID         string    `json:"snapshotId"`
	Targets            []string  `json:"targets"`
	TargetParentPageID *string   `json:"targetParentPageId,omitempty"`
	RequestedAt        time.Time `json:"requestedAt"`
}

// ProgressEvent is emitted by long-running jobs at each phase boundary
type ProgressEvent struct {
	JobID      string `json:"jobId"`
	Status     string `json:"status"`
	Percentage int    `json:"percentage"`
	Message    string `json:"message"`
	Total      int    `json:"total,omitempty"`
	Done       int    `json:"done,omitempty"`
	Failed     int    `json:"failed,omitempty"`
}
