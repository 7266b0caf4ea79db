package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")

func TestRetryConfigDelay(t *testing.T) {
	cfg := NewRetryConfig(6, 10*time.Millisecond, 50*time.Millisecond)

	assert.Equal(t, time.Duration(0), cfg.Delay(0))
	assert.Equal(t, 10*time.Millisecond, cfg.Delay(1))
	assert.Equal(t, 20*time.Millisecond, cfg.Delay(2))
	assert.Equal(t, 40*time.Millisecond, cfg.Delay(3))
	assert.Equal(t, 50*time.Millisecond, cfg.Delay(4))
}

func TestRetryConfigJitter(t *testing.T) {
	cfg := NewRetryConfig(6, 10*time.Millisecond, 40*time.Millisecond).WithJitter(0.25)

	for attempt := 1; attempt < 10; attempt++ {
		base := cfg.Delay(attempt)
		d := cfg.jittered(base)
		assert.GreaterOrEqual(t, d, base)
		assert.LessOrEqual(t, d, base+base/4)
	}
	assert.Equal(t, 10*time.Millisecond, NewRetryConfig(2, 10*time.Millisecond, 0).jittered(10*time.Millisecond))
}

func TestRetryWithExponentialBackoff(t *testing.T) {
	cfg := NewRetryConfig(3, time.Millisecond, 2*time.Millisecond)

	t.Run("succeeds after transient failures", func(t *testing.T) {
		calls := 0
		err := RetryWithExponentialBackoff(context.Background(), cfg, nil, func() error {
			calls++
			if calls < 3 {
				return errTransient
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		calls := 0
		err := RetryWithExponentialBackoff(context.Background(), cfg, nil, func() error {
			calls++
			return errTransient
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, errTransient)
		assert.Equal(t, 3, calls)
	})

	t.Run("stops on non retryable error", func(t *testing.T) {
		permanent := errors.New("permanent")
		calls := 0
		err := RetryWithExponentialBackoff(context.Background(), cfg, func(err error) bool {
			return errors.Is(err, errTransient)
		}, func() error {
			calls++
			return permanent
		})
		assert.Equal(t, permanent, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("honours context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		slow := NewRetryConfig(3, time.Hour, time.Hour)
		err := RetryWithExponentialBackoff(ctx, slow, nil, func() error {
			return errTransient
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
	})
}
