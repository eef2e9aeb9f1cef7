package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/takak2166/notionsnap/internal/archive"
	"github.com/takak2166/notionsnap/internal/diff"
	"github.com/takak2166/notionsnap/internal/logger"
	"github.com/takak2166/notionsnap/internal/metrics"
	"github.com/takak2166/notionsnap/internal/models"
	"github.com/takak2166/notionsnap/internal/restore"
	"github.com/takak2166/notionsnap/internal/storage"
	"github.com/takak2166/notionsnap/internal/store"
	"github.com/takak2166/notionsnap/internal/walker"
	"golang.org/x/sync/errgroup"
)

// Progress percentages of a snapshot job
const (
	snapshotWalking     = 10
	snapshotPackaging   = 60
	snapshotReplicating = 75
	snapshotCompleted   = 100
)

// Deps are the collaborators the pipelines run on
type Deps struct {
	Store    *store.Store
	Primary  storage.BlobStore
	Open     storage.Opener
	Walker   *walker.Walker
	Differ   *diff.Engine
	Restorer *restore.Engine
	// Metrics is optional
	Metrics *metrics.Metrics
	// FallbackToken is used for users without a stored credential
	FallbackToken string
}

// Worker consumes every job queue and runs the matching pipeline
type Worker struct {
	deps      Deps
	queues    map[models.JobKind]*Queue
	validator *Validator
}

// NewWorker creates a Worker
func NewWorker(deps Deps, queues map[models.JobKind]*Queue, validator *Validator) *Worker {
	if deps.Open == nil {
		deps.Open = storage.OpenS3
	}
	return &Worker{deps: deps, queues: queues, validator: validator}
}

// Run consumes every queue until ctx is done
func (w *Worker) Run(ctx context.Context) error {
	var g errgroup.Group
	for _, kind := range Kinds {
		q, ok := w.queues[kind]
		if !ok {
			continue
		}
		handler := w.Handler(kind)
		g.Go(func() error {
			q.Run(ctx, handler)
			return nil
		})
	}
	if w.deps.Metrics != nil {
		g.Go(func() error {
			w.trackDepth(ctx)
			return nil
		})
	}
	return g.Wait()
}

func (w *Worker) trackDepth(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		for kind, q := range w.queues {
			if n, err := q.Len(ctx); err == nil {
				w.deps.Metrics.QueueDepth.WithLabelValues(string(kind)).Set(float64(n))
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Handler validates and dispatches jobs of one kind. Malformed payloads are
// dropped because redelivery cannot fix them.
func (w *Worker) Handler(kind models.JobKind) Handler {
	return func(ctx context.Context, job *Job) error {
		if err := w.validator.Validate(kind, job.Payload); err != nil {
			logger.Error("Dropping invalid job", err, map[string]interface{}{
				"kind":   kind,
				"job_id": job.ID,
			})
			return nil
		}

		start := time.Now()
		if m := w.deps.Metrics; m != nil {
			m.JobsInFlight.WithLabelValues(string(kind)).Inc()
			defer m.JobsInFlight.WithLabelValues(string(kind)).Dec()
		}
		logger.Info("Job started", map[string]interface{}{
			"kind":     kind,
			"job_id":   job.ID,
			"attempts": job.Attempts,
		})

		err := w.dispatch(ctx, kind, job)

		if m := w.deps.Metrics; m != nil {
			m.ObserveJob(string(kind), err, time.Since(start))
		}
		logger.Info("Job finished", map[string]interface{}{
			"kind":     kind,
			"job_id":   job.ID,
			"duration": time.Since(start).String(),
			"retry":    err != nil,
		})
		return err
	}
}

func (w *Worker) dispatch(ctx context.Context, kind models.JobKind, job *Job) error {
	switch kind {
	case models.JobSnapshot:
		var p models.SnapshotJobPayload
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return dropUndecodable(job, err)
		}
		return w.Snapshot(ctx, job.ID, p)
	case models.JobDiff:
		var p models.DiffJobPayload
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return dropUndecodable(job, err)
		}
		if p.DiffJobID == "" {
			p.DiffJobID = job.ID
		}
		return w.Diff(ctx, p)
	case models.JobRestore:
		var p models.RestoreJobPayload
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return dropUndecodable(job, err)
		}
		if p.RestoreID == "" {
			p.RestoreID = job.ID
		}
		return w.Restore(ctx, p)
	}
	return fmt.Errorf("unknown job kind %q", kind)
}

func dropUndecodable(job *Job, err error) error {
	logger.Error("Dropping undecodable job", err, map[string]interface{}{"job_id": job.ID})
	return nil
}

// permanent reports whether retrying err cannot succeed
func permanent(err error) bool {
	return errors.Is(err, walker.ErrMissingCredential) ||
		errors.Is(err, archive.ErrArchiveNotFound) ||
		errors.Is(err, archive.ErrManifestParse) ||
		errors.Is(err, archive.ErrArchiveParse) ||
		errors.Is(err, restore.ErrNoDestination) ||
		errors.Is(err, restore.ErrAuth)
}

func (w *Worker) token(ctx context.Context, userID string) (string, error) {
	token, err := w.deps.Store.AccessToken(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return w.deps.FallbackToken, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up credential: %w", err)
	}
	return token, nil
}

// Snapshot walks the user's workspace, packages it and replicates it to the
// primary store and every enabled destination
func (w *Worker) Snapshot(ctx context.Context, snapshotID string, p models.SnapshotJobPayload) error {
	fields := map[string]interface{}{"user_id": p.UserID, "snapshot_id": snapshotID}
	sink := store.SnapshotSink{Store: w.deps.Store, UserID: p.UserID}
	report := func(status models.SnapshotStatus, pct int, msg string) {
		ev := models.ProgressEvent{JobID: snapshotID, Status: string(status), Percentage: pct, Message: msg}
		if err := sink.Report(ctx, ev); err != nil {
			logger.Error("Failed to report snapshot progress", err, fields)
		}
	}
	fail := func(err error) error {
		logger.Error("Snapshot failed", err, fields)
		report(models.SnapshotError, models.ErrorPercentage, err.Error())
		if permanent(err) {
			return nil
		}
		return err
	}

	token, err := w.token(ctx, p.UserID)
	if err != nil {
		return fail(err)
	}

	report(models.SnapshotWalking, snapshotWalking, "Walking workspace")
	res, err := w.deps.Walker.Walk(ctx, snapshotID, token)
	if err != nil {
		return fail(err)
	}
	if len(res.Embeddings) > 0 {
		if err := w.deps.Store.SaveEmbeddings(ctx, res.Embeddings); err != nil {
			// diffs fall back to hash-only comparison
			logger.Error("Failed to save embeddings", err, fields)
		} else if w.deps.Metrics != nil {
			w.deps.Metrics.EmbeddingsTotal.Add(float64(len(res.Embeddings)))
		}
	}

	report(models.SnapshotPackaging, snapshotPackaging, fmt.Sprintf("Packaging %d items", len(res.Manifest)))
	createdAt := time.Now().UTC()
	pkg, err := archive.Pack(p.UserID, snapshotID, createdAt, res.Items, res.Manifest)
	if err != nil {
		return fail(err)
	}

	report(models.SnapshotReplicating, snapshotReplicating, "Replicating archive")
	configs, err := w.deps.Store.ListDestinations(ctx, p.UserID, true)
	if err != nil {
		logger.Error("Failed to list destinations, writing primary only", err, fields)
	}
	secondaries := storage.Destinations(configs, w.deps.Open)
	metadata := map[string]string{
		"user-id":     p.UserID,
		"snapshot-id": snapshotID,
		"item-count":  strconv.Itoa(pkg.ItemCount),
	}
	results := storage.Replicate(ctx, storage.Destination{Name: "primary", Store: w.deps.Primary}, secondaries, pkg.Objects(metadata))
	if w.deps.Metrics != nil {
		w.deps.Metrics.ObserveReplication(results)
	}
	w.recordValidation(ctx, secondaries, results, createdAt)
	if !storage.PrimaryOK(results) {
		return fail(fmt.Errorf("failed to write primary archive: %s", results[0].Error))
	}

	snap := models.Snapshot{
		SnapshotID:   snapshotID,
		UserID:       p.UserID,
		Timestamp:    createdAt,
		PrimaryPath:  pkg.ArchivePath,
		ManifestPath: pkg.ManifestPath,
		ItemCount:    pkg.ItemCount,
		SizeBytes:    pkg.SizeBytes(),
		Status:       models.SnapshotCompleted,
	}
	if err := w.deps.Store.SaveSnapshot(ctx, snap); err != nil {
		return fail(err)
	}
	if w.deps.Metrics != nil {
		w.deps.Metrics.SnapshotItems.Observe(float64(pkg.ItemCount))
	}

	msg := fmt.Sprintf("Captured %d items", pkg.ItemCount)
	if res.Failures > 0 {
		msg += fmt.Sprintf(", %d subtrees incomplete", res.Failures)
	}
	report(models.SnapshotCompleted, snapshotCompleted, msg)
	return nil
}

// recordValidation stores each secondary's write outcome. results[0] is the primary.
func (w *Worker) recordValidation(ctx context.Context, secondaries []storage.Destination, results []storage.Result, at time.Time) {
	for i, d := range secondaries {
		if d.Config == nil || d.Config.ID == "" || i+1 >= len(results) {
			continue
		}
		r := results[i+1]
		if err := w.deps.Store.RecordValidation(ctx, d.Config.ID, r.OK, r.Error, at); err != nil {
			logger.Error("Failed to record destination status", err, map[string]interface{}{"destination": d.Name})
		}
	}
}

// Diff compares two stored snapshots and saves the result
func (w *Worker) Diff(ctx context.Context, p models.DiffJobPayload) error {
	base := models.DiffResult{
		JobID:          p.DiffJobID,
		UserID:         p.UserID,
		SnapshotIDFrom: p.SnapshotIDFrom,
		SnapshotIDTo:   p.SnapshotIDTo,
		Status:         models.DiffProcessing,
		CreatedAt:      p.RequestedAt,
	}
	if base.CreatedAt.IsZero() {
		base.CreatedAt = time.Now().UTC()
	}
	fields := map[string]interface{}{"job_id": p.DiffJobID, "from": p.SnapshotIDFrom, "to": p.SnapshotIDTo}
	if err := w.deps.Store.PutDiff(ctx, base); err != nil {
		logger.Error("Failed to save diff status", err, fields)
	}

	fail := func(err error) error {
		logger.Error("Diff failed", err, fields)
		now := time.Now().UTC()
		base.Status = models.DiffError
		base.Error = err.Error()
		base.CompletedAt = &now
		if err := w.deps.Store.PutDiff(ctx, base); err != nil {
			logger.Error("Failed to save diff status", err, fields)
		}
		if permanent(err) {
			return nil
		}
		return err
	}

	from, err := archive.LoadManifest(ctx, w.deps.Primary, p.UserID, p.SnapshotIDFrom)
	if err != nil {
		return fail(err)
	}
	to, err := archive.LoadManifest(ctx, w.deps.Primary, p.UserID, p.SnapshotIDTo)
	if err != nil {
		return fail(err)
	}

	res := w.deps.Differ.Diff(ctx, diff.Request{
		JobID:          p.DiffJobID,
		UserID:         p.UserID,
		SnapshotIDFrom: p.SnapshotIDFrom,
		SnapshotIDTo:   p.SnapshotIDTo,
	}, from, to)
	res.CreatedAt = base.CreatedAt
	if err := w.deps.Store.PutDiff(ctx, *res); err != nil {
		return fmt.Errorf("failed to save diff result: %w", err)
	}
	logger.Info("Diff saved", map[string]interface{}{
		"job_id":  p.DiffJobID,
		"added":   res.Summary.Added,
		"deleted": res.Summary.Deleted,
		"changed": res.Summary.ContentHashChanged,
	})
	return nil
}

// Restore runs a restore job. The engine records every outcome on the job,
// so restores are never redelivered.
func (w *Worker) Restore(ctx context.Context, p models.RestoreJobPayload) error {
	fields := map[string]interface{}{"restore_id": p.RestoreID}
	job, err := w.deps.Store.GetRestore(ctx, p.RestoreID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		job = restoreJob(p)
		if err := w.deps.Store.CreateRestore(ctx, job); err != nil {
			return err
		}
	case err != nil:
		return err
	}

	if job.Status != models.RestorePending {
		if !job.Status.Terminal() {
			logger.Warn("Restore was interrupted, marking it failed", fields)
			if err := w.deps.Store.ReportRestore(ctx, models.ProgressEvent{
				JobID:      job.RestoreID,
				Status:     string(models.RestoreError),
				Percentage: models.ErrorPercentage,
				Message:    "Restore was interrupted",
				Total:      job.ItemsTotal,
				Done:       job.ItemsRestored,
				Failed:     job.ItemsFailed,
			}); err != nil {
				logger.Error("Failed to mark restore failed", err, fields)
			}
			return nil
		}
		logger.Warn("Skipping restore that already finished", fields)
		return nil
	}

	token, err := w.token(ctx, p.UserID)
	if err != nil {
		return err
	}
	out, err := w.deps.Restorer.Restore(ctx, job, token)
	if w.deps.Metrics != nil && out != nil {
		w.deps.Metrics.RestoreItemsTotal.WithLabelValues("restored").Add(float64(out.Restored))
		w.deps.Metrics.RestoreItemsTotal.WithLabelValues("failed").Add(float64(out.Failed))
	}
	if err != nil {
		logger.Error("Restore ended with error", err, fields)
	}
	return nil
}
