package util

import (
	"context"
	"math/rand/v2"
	"time"

	"docrag/internal/model"
)

// RetryPolicy bounds retries against external backends. The zero value
// disables retries entirely.
type RetryPolicy struct {
	MaxAttempts int           // total attempts including the first
	BaseDelay   time.Duration // doubled each attempt, jittered +/- 25%
}

// Backoff returns the exponential delay before the given attempt (1-based),
// capped at 30s with random jitter so concurrent retries spread out.
func Backoff(baseDelay time.Duration, attempt int) time.Duration {
	if attempt <= 0 || baseDelay <= 0 {
		return 0
	}
	if attempt > 30 {
		attempt = 30
	}
	backoff := baseDelay * time.Duration(1<<uint(attempt-1))
	if backoff > 30*time.Second {
		backoff = 30 * time.Second
	}
	jitter := time.Duration(rand.Int64N(int64(backoff)/2)) - backoff/4
	return backoff + jitter
}

// Do invokes fn, retrying with backoff while the returned error is a
// retryable backend condition. Non-retryable errors and context
// cancellation return immediately.
func Do(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) error) error {
	attempts := policy.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(ctx)
		if err == nil || !model.IsRetryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(Backoff(policy.BaseDelay, attempt)):
		}
	}
	return err
}
