// Package retry wraps an operation in bounded exponential backoff.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/takak2166/notionsnap/internal/logger"
)

// Do calls op until it succeeds, returns a Permanent error, or maxAttempts
// calls have been made. The wait before attempt n+1 is baseDelay * 2^(n-1).
func Do(ctx context.Context, op func(context.Context) error, maxAttempts int, baseDelay time.Duration) error {
	_, err := Value(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	}, maxAttempts, baseDelay)
	return err
}

// Value is Do for operations that produce a result
func Value[T any](ctx context.Context, op func(context.Context) (T, error), maxAttempts int, baseDelay time.Duration) (T, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(baseDelay),
		backoff.WithRandomizationFactor(0),
		backoff.WithMultiplier(2),
		backoff.WithMaxInterval(time.Minute),
		backoff.WithMaxElapsedTime(0),
	)
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(maxAttempts-1)), ctx)

	attempt := 0
	return backoff.RetryNotifyWithData(func() (T, error) {
		attempt++
		return op(ctx)
	}, policy, func(err error, wait time.Duration) {
		logger.Debug("Retrying operation", map[string]interface{}{
			"attempt":      attempt,
			"max_attempts": maxAttempts,
			"wait_ms":      wait.Milliseconds(),
			"error":        err.Error(),
		})
	})
}

// Permanent stops retries and returns err unchanged to the caller
func Permanent(err error) error {
	return backoff.Permanent(err)
}
