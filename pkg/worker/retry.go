package worker

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/jdziat/logqueue/pkg/queue"
	"github.com/jdziat/logqueue/pkg/storage"
)

// RetryConfig controls retries of transient store and queue failures.
type RetryConfig struct {
	MaxAttempts       int           // Including the first call
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	JitterFraction    float64 // Share of the backoff randomized, 0 to 1
}

// DefaultRetryConfig returns 5 attempts from 100ms, doubling up to 5s with 10% jitter.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       5,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
		JitterFraction:    0.1,
	}
}

// takeRetryConfig backs off longer so an outage is not hammered by every slot.
func takeRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    500 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
		JitterFraction:    0.2,
	}
}

// retryWithBackoff runs operation until it succeeds, returns a permanent
// error, or runs out of attempts. The last error is returned.
func retryWithBackoff(ctx context.Context, config RetryConfig, operation func() error) error {
	var lastErr error
	backoff := config.InitialBackoff

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		lastErr = operation()
		if lastErr == nil {
			return nil
		}
		if !IsRetryableError(lastErr) || attempt >= config.MaxAttempts {
			break
		}

		jitter := time.Duration(float64(backoff) * config.JitterFraction * (rand.Float64()*2 - 1))
		sleep := backoff + jitter
		if sleep < 0 {
			sleep = backoff
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}

		backoff = time.Duration(float64(backoff) * config.BackoffMultiplier)
		if backoff > config.MaxBackoff {
			backoff = config.MaxBackoff
		}
	}

	return lastErr
}

// IsRetryableError reports whether err may clear up on its own.
// Connection drops, timeouts and lock contention are retried; cancellation,
// missing rows and jobs that already left the active state are not.
func IsRetryableError(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, queue.ErrNotActive), errors.Is(err, queue.ErrClosed):
		return false
	case errors.Is(err, storage.ErrNotFound):
		return false
	}
	return true
}
