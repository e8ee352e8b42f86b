package util

import (
	"context"
	"fmt"
	"time"
)

// Sleeper pauses between attempts. It must return early with ctx.Err()
// when the context is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the production Sleeper backed by a timer
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Backoff is a bounded exponential retry schedule. With Attempts 3 and
// BaseDelay 2s the waits between attempts are 2s then 4s.
type Backoff struct {
	Attempts  int
	BaseDelay time.Duration
	Sleep     Sleeper
}

// Delay returns the pause that follows the given zero based attempt
func (b Backoff) Delay(attempt int) time.Duration {
	return b.BaseDelay * time.Duration(1<<uint(attempt))
}

// RetryError reports that every attempt failed
type RetryError struct {
	Attempts int
	Err      error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetryError) Unwrap() error {
	return e.Err
}

// Retry runs fn until it succeeds or the schedule is exhausted.
// onFailure, when set, is told about every failed attempt (1 based).
func (b Backoff) Retry(ctx context.Context, fn func(ctx context.Context) error, onFailure func(attempt int, err error)) error {
	attempts := b.Attempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := b.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, b.Delay(attempt-1)); err != nil {
				return &RetryError{Attempts: attempt, Err: lastErr}
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if onFailure != nil {
			onFailure(attempt+1, lastErr)
		}
	}

	return &RetryError{Attempts: attempts, Err: lastErr}
}
