// Package jobs consumes pipeline triggers from a visibility-timeout queue
// kept in the document database and dispatches them to the pipelines.
package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/takak2166/notionsnap/internal/logger"
	"github.com/takak2166/notionsnap/internal/store"
)

// Job is a row in the queue
type Job struct {
	ID        string
	Queue     string
	Payload   []byte
	VisibleAt time.Time
	CreatedAt time.Time
	Attempts  int
}

// QueueOptions configures queue behaviour
type QueueOptions struct {
	// Visibility is how long a claimed job stays invisible. Default: 15m.
	Visibility time.Duration
	// PollInterval is the delay between claim attempts in Run. Default: 1s.
	PollInterval time.Duration
	// MaxAttempts limits redeliveries before a job is discarded. 0 means unlimited.
	MaxAttempts int
}

func (o *QueueOptions) defaults() {
	if o.Visibility <= 0 {
		o.Visibility = 15 * time.Minute
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
}

// Queue is one named queue in the jobs table. Rows claimed by a consumer
// stay invisible until acked, nacked or the visibility timeout passes.
type Queue struct {
	store *store.Store
	name  string
	opts  QueueOptions
}

// NewQueue returns a handle on the queue called name. The table is created
// by store migrations.
func NewQueue(s *store.Store, name string, opts QueueOptions) *Queue {
	opts.defaults()
	return &Queue{store: s, name: name, opts: opts}
}

// Name returns the queue name
func (q *Queue) Name() string {
	return q.name
}

func (q *Queue) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return q.store.DB().ExecContext(ctx, q.store.Rebind(query), args...)
}

// Publish inserts a job that is immediately visible
func (q *Queue) Publish(ctx context.Context, id string, payload []byte) error {
	now := time.Now().UnixMilli()
	_, err := q.exec(ctx,
		`INSERT INTO jobs (id, queue, payload, visible_at, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, q.name, string(payload), now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to publish job: %w", err)
	}
	return nil
}

// Claim atomically picks the oldest visible job, hides it for the visibility
// timeout and returns it. It returns nil, nil when nothing is visible.
func (q *Queue) Claim(ctx context.Context) (*Job, error) {
	now := time.Now()
	hideUntil := now.Add(q.opts.Visibility).UnixMilli()

	lock := ""
	if q.store.Driver() == store.DriverPostgres {
		lock = " FOR UPDATE SKIP LOCKED"
	}
	row := q.store.DB().QueryRowContext(ctx, q.store.Rebind(`
		UPDATE jobs
		SET visible_at = ?, attempts = attempts + 1
		WHERE id = (
			SELECT id FROM jobs
			WHERE queue = ? AND visible_at <= ?
			ORDER BY visible_at ASC, created_at ASC
			LIMIT 1`+lock+`
		)
		RETURNING id, queue, payload, visible_at, created_at, attempts`),
		hideUntil, q.name, now.UnixMilli(),
	)

	var j Job
	var payload string
	var visAt, creAt int64
	err := row.Scan(&j.ID, &j.Queue, &payload, &visAt, &creAt, &j.Attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	j.Payload = []byte(payload)
	j.VisibleAt = time.UnixMilli(visAt)
	j.CreatedAt = time.UnixMilli(creAt)
	return &j, nil
}

// Ack deletes a processed job
func (q *Queue) Ack(ctx context.Context, id string) error {
	if _, err := q.exec(ctx, `DELETE FROM jobs WHERE id = ? AND queue = ?`, id, q.name); err != nil {
		return fmt.Errorf("failed to ack job: %w", err)
	}
	return nil
}

// Nack makes a job visible again immediately
func (q *Queue) Nack(ctx context.Context, id string) error {
	if _, err := q.exec(ctx, `UPDATE jobs SET visible_at = 0 WHERE id = ? AND queue = ?`, id, q.name); err != nil {
		return fmt.Errorf("failed to nack job: %w", err)
	}
	return nil
}

// Extend pushes the visibility timeout of a claimed job forward. Poll calls
// it periodically while a handler runs.
func (q *Queue) Extend(ctx context.Context, id string, extra time.Duration) error {
	hideUntil := time.Now().Add(extra).UnixMilli()
	if _, err := q.exec(ctx, `UPDATE jobs SET visible_at = ? WHERE id = ? AND queue = ?`, hideUntil, id, q.name); err != nil {
		return fmt.Errorf("failed to extend job: %w", err)
	}
	return nil
}

// Len returns the number of jobs in the queue, claimed ones included
func (q *Queue) Len(ctx context.Context) (int, error) {
	var n int
	err := q.store.DB().QueryRowContext(ctx, q.store.Rebind(`SELECT COUNT(*) FROM jobs WHERE queue = ?`), q.name).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}
	return n, nil
}

// Handler processes a claimed job. Return nil to ack, non-nil to nack.
type Handler func(ctx context.Context, job *Job) error

// Run polls for visible jobs and hands each to handler until ctx is done
func (q *Queue) Run(ctx context.Context, handler Handler) {
	logger.Info("Queue consumer started", map[string]interface{}{
		"queue":      q.name,
		"visibility": q.opts.Visibility.String(),
		"poll":       q.opts.PollInterval.String(),
	})

	ticker := time.NewTicker(q.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Queue consumer stopped", map[string]interface{}{"queue": q.name})
			return
		case <-ticker.C:
			q.Poll(ctx, handler)
		}
	}
}

// Poll drains every currently visible job
func (q *Queue) Poll(ctx context.Context, handler Handler) {
	for ctx.Err() == nil {
		job, err := q.Claim(ctx)
		if err != nil {
			logger.Error("Failed to claim job", err, map[string]interface{}{"queue": q.name})
			return
		}
		if job == nil {
			return
		}

		if q.opts.MaxAttempts > 0 && job.Attempts > q.opts.MaxAttempts {
			logger.Warn("Discarding job after too many attempts", map[string]interface{}{
				"queue":    q.name,
				"job_id":   job.ID,
				"attempts": job.Attempts,
			})
			if err := q.Ack(ctx, job.ID); err != nil {
				logger.Error("Failed to discard job", err, map[string]interface{}{"job_id": job.ID})
			}
			continue
		}

		if err := q.handle(ctx, job, handler); err != nil {
			logger.Warn("Job failed, returning it to the queue", map[string]interface{}{
				"queue":    q.name,
				"job_id":   job.ID,
				"attempts": job.Attempts,
				"error":    err.Error(),
			})
			if err := q.Nack(context.Background(), job.ID); err != nil {
				logger.Error("Failed to nack job", err, map[string]interface{}{"job_id": job.ID})
			}
			// retried on the next tick
			return
		}
		if err := q.Ack(context.Background(), job.ID); err != nil {
			logger.Error("Failed to ack job", err, map[string]interface{}{"job_id": job.ID})
		}
	}
}

// handle runs handler while keeping the job invisible to other consumers
func (q *Queue) handle(ctx context.Context, job *Job, handler Handler) error {
	hbCtx, stop := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		q.heartbeat(hbCtx, job.ID)
	}()

	err := handler(ctx, job)
	stop()
	wg.Wait()
	return err
}

// heartbeat pushes the visibility timeout forward every third of it until ctx is done
func (q *Queue) heartbeat(ctx context.Context, id string) {
	interval := q.opts.Visibility / 3
	if interval <= 0 {
		interval = q.opts.Visibility
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := q.Extend(ctx, id, q.opts.Visibility); err != nil && ctx.Err() == nil {
				logger.Error("Failed to extend job visibility", err, map[string]interface{}{
					"queue":  q.name,
					"job_id": id,
				})
			}
		}
	}
}
