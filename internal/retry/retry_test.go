package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoSucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}, 3, time.Millisecond)

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoGivesUpAfterMaxAttempts(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	err := Do(context.Background(), func(context.Context) error {
		calls++
		return boom
	}, 3, time.Millisecond)

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
}

func TestDoPermanentStopsImmediately(t *testing.T) {
	calls := 0
	fatal := errors.New("unauthorized")
	err := Do(context.Background(), func(context.Context) error {
		calls++
		return Permanent(fatal)
	}, 5, time.Millisecond)

	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, calls)
}

func TestDoBackoffGrows(t *testing.T) {
	var stamps []time.Time
	_ = Do(context.Background(), func(context.Context) error {
		stamps = append(stamps, time.Now())
		return errors.New("again")
	}, 3, 20*time.Millisecond)

	require.Len(t, stamps, 3)
	first := stamps[1].Sub(stamps[0])
	second := stamps[2].Sub(stamps[1])
	assert.GreaterOrEqual(t, first, 20*time.Millisecond)
	assert.GreaterOrEqual(t, second, 40*time.Millisecond)
}

func TestValueReturnsResult(t *testing.T) {
	v, err := Value(context.Background(), func(context.Context) (int, error) {
		return 42, nil
	}, 3, time.Millisecond)

	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestDoRespectsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Do(ctx, func(context.Context) error {
		calls++
		return errors.New("fail")
	}, 5, time.Second)

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}
