package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/takak2166/notionsnap/internal/logger"
	"github.com/takak2166/notionsnap/internal/models"
	"github.com/takak2166/notionsnap/internal/store"
)

// Kinds lists every queue in dispatch order
var Kinds = []models.JobKind{models.JobSnapshot, models.JobDiff, models.JobRestore}

// Queues opens one queue per job kind
func Queues(s *store.Store, opts QueueOptions) map[models.JobKind]*Queue {
	out := make(map[models.JobKind]*Queue, len(Kinds))
	for _, kind := range Kinds {
		out[kind] = NewQueue(s, string(kind), opts)
	}
	return out
}

// Enqueuer publishes validated triggers. Diff and restore triggers also get
// their pollable record created up front.
type Enqueuer struct {
	store     *store.Store
	queues    map[models.JobKind]*Queue
	validator *Validator
}

// NewEnqueuer creates an Enqueuer
func NewEnqueuer(s *store.Store, queues map[models.JobKind]*Queue, validator *Validator) *Enqueuer {
	return &Enqueuer{store: s, queues: queues, validator: validator}
}

// EnqueueJSON validates a raw trigger and publishes it. It returns the id
// the caller polls: the snapshot id, diff job id or restore id.
func (e *Enqueuer) EnqueueJSON(ctx context.Context, kind models.JobKind, body []byte) (string, error) {
	if err := e.validator.Validate(kind, body); err != nil {
		return "", err
	}
	switch kind {
	case models.JobSnapshot:
		var p models.SnapshotJobPayload
		if err := json.Unmarshal(body, &p); err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		return e.EnqueueSnapshot(ctx, p)
	case models.JobDiff:
		var p models.DiffJobPayload
		if err := json.Unmarshal(body, &p); err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		return e.EnqueueDiff(ctx, p)
	case models.JobRestore:
		var p models.RestoreJobPayload
		if err := json.Unmarshal(body, &p); err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		return e.EnqueueRestore(ctx, p)
	}
	return "", fmt.Errorf("%w: unknown job kind %q", ErrInvalidPayload, kind)
}

// EnqueueSnapshot publishes a snapshot trigger. The job id becomes the snapshot id.
func (e *Enqueuer) EnqueueSnapshot(ctx context.Context, p models.SnapshotJobPayload) (string, error) {
	if p.RequestedAt.IsZero() {
		p.RequestedAt = time.Now().UTC()
	}
	id := uuid.NewString()
	if err := e.store.PutSnapshotRun(ctx, models.SnapshotRun{
		RunID:      id,
		UserID:     p.UserID,
		SnapshotID: id,
		Status:     models.SnapshotPending,
		Message:    "Queued",
	}); err != nil {
		return "", err
	}
	return id, e.publish(ctx, models.JobSnapshot, id, p)
}

// EnqueueDiff publishes a diff trigger
func (e *Enqueuer) EnqueueDiff(ctx context.Context, p models.DiffJobPayload) (string, error) {
	if p.RequestedAt.IsZero() {
		p.RequestedAt = time.Now().UTC()
	}
	if p.DiffJobID == "" {
		p.DiffJobID = uuid.NewString()
	}
	if err := e.store.PutDiff(ctx, models.DiffResult{
		JobID:          p.DiffJobID,
		UserID:         p.UserID,
		SnapshotIDFrom: p.SnapshotIDFrom,
		SnapshotIDTo:   p.SnapshotIDTo,
		Status:         models.DiffProcessing,
		CreatedAt:      p.RequestedAt,
	}); err != nil {
		return "", err
	}
	return p.DiffJobID, e.publish(ctx, models.JobDiff, p.DiffJobID, p)
}

// EnqueueRestore publishes a restore trigger and creates its pending record
func (e *Enqueuer) EnqueueRestore(ctx context.Context, p models.RestoreJobPayload) (string, error) {
	if p.RequestedAt.IsZero() {
		p.RequestedAt = time.Now().UTC()
	}
	if p.RestoreID == "" {
		p.RestoreID = uuid.NewString()
	}
	if err := e.store.CreateRestore(ctx, restoreJob(p)); err != nil {
		return "", err
	}
	return p.RestoreID, e.publish(ctx, models.JobRestore, p.RestoreID, p)
}

func (e *Enqueuer) publish(ctx context.Context, kind models.JobKind, id string, payload interface{}) error {
	q, ok := e.queues[kind]
	if !ok {
		return fmt.Errorf("no queue for %s jobs", kind)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", kind, err)
	}
	if err := q.Publish(ctx, id, body); err != nil {
		return err
	}
	logger.Info("Job enqueued", map[string]interface{}{
		"kind":   kind,
		"job_id": id,
	})
	return nil
}

func restoreJob(p models.RestoreJobPayload) models.RestoreJob {
	job := models.RestoreJob{
		RestoreID:  p.RestoreID,
		UserID:     p.UserID,
		SnapshotID: p.SnapshotID,
		Targets:    p.Targets,
		Status:     models.RestorePending,
		CreatedAt:  p.RequestedAt,
	}
	if p.TargetParentPageID != nil {
		job.TargetParentPageID = *p.TargetParentPageID
	}
	return job
}
