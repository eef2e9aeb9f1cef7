package models

import "time"

// RestoreStatus is the state of a restore job.
// pending -> downloading -> decompressing -> parsing -> restoring -> completed,
// with error reachable from any non-terminal state.
type RestoreStatus string

const (
	RestorePending       RestoreStatus = "pending"
	RestoreDownloading   RestoreStatus = "downloading"
	RestoreDecompressing RestoreStatus = "decompressing"
	RestoreParsing       RestoreStatus = "parsing"
	RestoreRestoring     RestoreStatus = "restoring"
	RestoreCompleted     RestoreStatus = "completed"
	RestoreError         RestoreStatus = "error"
)

// ErrorPercentage marks a failed job's progress
const ErrorPercentage = -1

var restoreOrder = map[RestoreStatus]int{
	RestorePending:       0,
	RestoreDownloading:   1,
	RestoreDecompressing: 2,
	RestoreParsing:       3,
	RestoreRestoring:     4,
	RestoreCompleted:     5,
}

// Terminal reports whether no further transitions are allowed
func (s RestoreStatus) Terminal() bool {
	return s == RestoreCompleted || s == RestoreError
}

// CanAdvanceTo reports whether moving from s to next keeps the state machine monotonic
func (s RestoreStatus) CanAdvanceTo(next RestoreStatus) bool {
	if s.Terminal() {
		return false
	}
	if next == RestoreError {
		return true
	}
	from, ok := restoreOrder[s]
	if !ok {
		return false
	}
	to, ok := restoreOrder[next]
	if !ok {
		return false
	}
	return to >= from
}

// RestoreJob is the durable record of a restore request
type RestoreJob struct {
	RestoreID          string        `json:"restoreId"`
	UserID             string        `json:"userId"`
	SnapshotID         string        `json:"snapshotId"`
	Targets            []string      `json:"targets"`
	TargetParentPageID string        `json:"targetParentPageId,omitempty"`
	Status             RestoreStatus `json:"status"`
	Percentage         int           `json:"percentage"`
	Message            string        `json:"message"`
	ItemsTotal         int           `json:"itemsTotal"`
	ItemsRestored      int           `json:"itemsRestored"`
	ItemsFailed        int           `json:"itemsFailed"`
	CreatedAt          time.Time     `json:"createdAt"`
	UpdatedAt          time.Time     `json:"updatedAt"`
}
