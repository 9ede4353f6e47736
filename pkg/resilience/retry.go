// Package resilience provides failure-handling building blocks for calls
// into local inference engines: bounded retry with exponential backoff and
// a lazily-evaluated circuit breaker.
package resilience

import (
	"context"
	"fmt"
	"time"
)

// RetryPolicy configures exponential-backoff retry behavior.
type RetryPolicy struct {
	MaxAttempts  int           // Total attempts, including the first
	InitialDelay time.Duration // Delay before the second attempt
	MaxDelay     time.Duration // Cap on the inter-attempt delay
	Multiplier   float64       // Delay growth factor per attempt
}

// DefaultRetryPolicy returns sensible defaults for local engine calls.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
	}
}

// RetryObserver is invoked after each failed attempt that will be retried,
// with the error and the 1-based attempt number.
type RetryObserver func(err error, attempt int)

// Retry executes op up to policy.MaxAttempts times, sleeping between
// attempts with exponential backoff. The first success returns immediately;
// the final failure is returned annotated with the attempt count.
func Retry[T any](ctx context.Context, policy RetryPolicy, op func() (T, error)) (T, error) {
	return RetryNotify(ctx, policy, op, nil)
}

// RetryNotify is Retry with an observer for failed attempts.
func RetryNotify[T any](ctx context.Context, policy RetryPolicy, op func() (T, error), notify RetryObserver) (T, error) {
	var zero T
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	delay := policy.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		result, err := op()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt == policy.MaxAttempts {
			break
		}
		if notify != nil {
			notify(err, attempt)
		}

		// The wait is a real suspension point: unrelated goroutines keep
		// running, and a cancelled context aborts the remaining attempts.
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}

		delay = time.Duration(float64(delay) * policy.Multiplier)
		if policy.MaxDelay > 0 && delay > policy.MaxDelay {
			delay = policy.MaxDelay
		}
	}

	return zero, fmt.Errorf("after %d attempts: %w", policy.MaxAttempts, lastErr)
}
