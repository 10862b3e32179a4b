// Package retry implements a small named retry policy: a bounded number of
// attempts with a backoff function evaluated between them.
package retry

import (
	"context"
	"errors"
	"time"
)

// BackoffFunc returns the wait before the attempt following attemptIndex
// (zero-based index of the attempt that just failed).
type BackoffFunc func(attemptIndex int) time.Duration

// Exponential returns base * 2^attemptIndex.
func Exponential(base time.Duration) BackoffFunc {
	return func(attemptIndex int) time.Duration {
		if attemptIndex < 0 {
			attemptIndex = 0
		}
		if attemptIndex > 20 {
			attemptIndex = 20
		}
		return base * time.Duration(1<<attemptIndex)
	}
}

// Policy describes how an operation is retried.
type Policy struct {
	MaxAttempts int
	Backoff     BackoffFunc

	// Retryable decides whether a failed attempt may be retried. Nil retries
	// every error except context cancellation.
	Retryable func(err error) bool

	// Sleep waits between attempts. Nil uses a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Default is the metadata-store policy: 3 attempts, 500ms then 1000ms.
func Default() Policy {
	return Policy{MaxAttempts: 3, Backoff: Exponential(500 * time.Millisecond)}
}

// Attempt is passed to the retried operation; Index is zero-based.
type Attempt struct {
	Index int
	Last  bool
}

// Do runs fn until it succeeds, the policy is exhausted, or the error is not
// retryable. No wait follows the final attempt. The returned error is the
// last one fn produced (or the context error if the wait was interrupted).
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, a Attempt) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		a := Attempt{Index: i, Last: i == attempts-1}
		lastErr = fn(ctx, a)
		if lastErr == nil {
			return nil
		}
		if a.Last || !p.retryable(lastErr) {
			return lastErr
		}

		var wait time.Duration
		if p.Backoff != nil {
			wait = p.Backoff(i)
		}
		if err := p.sleep(ctx, wait); err != nil {
			return lastErr
		}
	}
	return lastErr
}

func (p Policy) retryable(err error) bool {
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func (p Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
