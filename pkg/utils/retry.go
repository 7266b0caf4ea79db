// Package utils provides utility functions for the newsletter service.
package utils

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"
)

// RetryConfig holds retry configuration for operations
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// Jitter adds a random extra of up to this fraction of each delay.
	Jitter float64
}

// NewRetryConfig creates a RetryConfig with specified parameters
func NewRetryConfig(maxAttempts int, baseDelay, maxDelay time.Duration) RetryConfig {
	return RetryConfig{
		MaxAttempts: maxAttempts,
		BaseDelay:   baseDelay,
		MaxDelay:    maxDelay,
	}
}

// Delay returns the wait before the given zero-based attempt:
// baseDelay * 2^(attempt-1), capped at MaxDelay. Attempt 0 never waits.
func (c RetryConfig) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	delay := time.Duration(1<<uint(attempt-1)) * c.BaseDelay
	if c.MaxDelay > 0 && delay > c.MaxDelay {
		delay = c.MaxDelay
	}
	return delay
}

// WithJitter returns a copy of c whose delays get up to fraction extra.
func (c RetryConfig) WithJitter(fraction float64) RetryConfig {
	c.Jitter = fraction
	return c
}

func (c RetryConfig) jittered(delay time.Duration) time.Duration {
	maxJitter := int64(float64(delay) * c.Jitter)
	if maxJitter <= 0 {
		return delay
	}
	return delay + time.Duration(rand.Int64N(maxJitter+1))
}

// RetryWithExponentialBackoff executes fn until it succeeds, returns an error
// for which retryable reports false, or MaxAttempts is exhausted. A nil
// retryable retries every error.
func RetryWithExponentialBackoff(ctx context.Context, config RetryConfig, retryable func(error) bool, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := config.jittered(config.Delay(attempt))

			slog.DebugContext(ctx, "retrying operation",
				"attempt", attempt+1,
				"total_attempts", config.MaxAttempts,
				"retry_delay_ms", delay.Milliseconds(),
			)

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return fmt.Errorf("retry cancelled: %w", ctx.Err())
			}
		}

		err := fn()
		if err == nil {
			return nil
		}

		lastErr = err
		if retryable != nil && !retryable(err) {
			return err
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", config.MaxAttempts, lastErr)
}
