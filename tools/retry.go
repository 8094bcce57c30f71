package tools

import (
	"context"
	"errors"
	"time"
)

// RetryConfig controls retries of idempotent facade calls.
type RetryConfig struct {
	MaxAttempts int
	// Backoff is the wait before the second attempt; it doubles after each failure.
	Backoff     time.Duration
	ShouldRetry func(error) bool
}

// DefaultRetry retries unavailable failures three times.
var DefaultRetry = RetryConfig{
	MaxAttempts: 3,
	Backoff:     200 * time.Millisecond,
}

func withRetry[T any](ctx context.Context, cfg RetryConfig, call func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	attempts := normalizedAttempts(cfg.MaxAttempts)
	wait := cfg.Backoff
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		v, err := call(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if attempt == attempts || !shouldRetry(ctx, cfg, err) {
			break
		}
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, ctx.Err()
			case <-timer.C:
			}
			wait *= 2
		}
	}
	return zero, lastErr
}

func normalizedAttempts(maxAttempts int) int {
	if maxAttempts < 1 {
		return 1
	}
	return maxAttempts
}

func shouldRetry(ctx context.Context, cfg RetryConfig, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if cfg.ShouldRetry == nil {
		return IsKind(err, KindUnavailable)
	}
	return cfg.ShouldRetry(err)
}
