package transcriber

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrRetriesExhausted wraps the last error once every attempt has failed.
var ErrRetriesExhausted = errors.New("retries exhausted")

// BackoffPolicy retries a call with exponential delays: InitialDelay after the
// first failure, multiplied by Multiplier after each further one.
type BackoffPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	// Sleep waits between attempts; tests replace it to avoid real delays.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultBackoff waits 1s, 2s, 4s, ... between at most maxAttempts calls.
func DefaultBackoff(maxAttempts int) BackoffPolicy {
	return BackoffPolicy{
		MaxAttempts:  maxAttempts,
		InitialDelay: time.Second,
		Multiplier:   2,
		Sleep:        sleepContext,
	}
}

// Delay is the wait after the given 1-based failed attempt.
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	d := float64(p.InitialDelay)
	mult := p.Multiplier
	if mult <= 0 {
		mult = 2
	}
	for i := 1; i < attempt; i++ {
		d *= mult
	}
	return time.Duration(d)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Retry calls fn until it succeeds, returns a non-retryable error, the
// context is cancelled, or MaxAttempts calls have been made. It reports the
// number of attempts made.
func Retry[T any](ctx context.Context, p BackoffPolicy, retryable func(error) bool, fn func(context.Context) (T, error)) (T, int, error) {
	var zero T
	maxAttempts := max(p.MaxAttempts, 1)
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, attempt - 1, err
		}

		result, err := fn(ctx)
		if err == nil {
			return result, attempt, nil
		}
		lastErr = err

		if !retryable(err) {
			return zero, attempt, err
		}
		if attempt == maxAttempts {
			break
		}

		if err := sleep(ctx, p.Delay(attempt)); err != nil {
			return zero, attempt, err
		}
	}
	return zero, maxAttempts, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, maxAttempts, lastErr)
}
