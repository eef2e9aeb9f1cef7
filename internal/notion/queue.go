package notion

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// DefaultRequestsPerSecond is Notion's published average request rate
const DefaultRequestsPerSecond = 3

// Observer receives the outcome of every queued call
type Observer func(op string, err error, elapsed time.Duration)

// Queue bounds both the rate and the concurrency of Notion API calls.
// One Queue is built per job and shared by every component of that job.
type Queue struct {
	limiter  *rate.Limiter
	sem      *semaphore.Weighted
	observer Observer

	issued atomic.Int64
	failed atomic.Int64
}

// NewQueue allows perSecond calls per second with at most perSecond in flight
func NewQueue(perSecond int) *Queue {
	if perSecond <= 0 {
		perSecond = DefaultRequestsPerSecond
	}
	return &Queue{
		limiter: rate.NewLimiter(rate.Limit(perSecond), perSecond),
		sem:     semaphore.NewWeighted(int64(perSecond)),
	}
}

// WithObserver attaches a callback invoked after each call
func (q *Queue) WithObserver(o Observer) *Queue {
	q.observer = o
	return q
}

// Do waits for a slot and a token, then runs fn
func (q *Queue) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	if err := q.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer q.sem.Release(1)

	if err := q.limiter.Wait(ctx); err != nil {
		return err
	}

	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)

	q.issued.Add(1)
	if err != nil {
		q.failed.Add(1)
	}
	if q.observer != nil {
		q.observer(op, err, elapsed)
	}
	return err
}

// Stats reports how many calls were issued and how many failed
func (q *Queue) Stats() (issued, failed int64) {
	return q.issued.Load(), q.failed.Load()
}

// Run is Do for calls that return a value
func Run[T any](ctx context.Context, q *Queue, op string, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := q.Do(ctx, op, func(ctx context.Context) error {
		var err error
		out, err = fn(ctx)
		return err
	})
	return out, err
}
