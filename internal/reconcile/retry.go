package reconcile

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds retries around a single remote write.
// MaxAttempts <= 1 disables retrying.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// NoRetry issues every call exactly once.
var NoRetry = RetryPolicy{MaxAttempts: 1}

// DefaultRetryPolicy retries transient failures up to three attempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
	}
}

// Do runs op, retrying transient failures with exponential backoff.
// Non-transient errors are returned after the first attempt.
func (p RetryPolicy) Do(ctx context.Context, op func() error) error {
	return p.do(ctx, op, IsTransient)
}

// DoNonIdempotent runs op like Do, but only retries failures that show the
// write was not applied. Timeouts and ambiguous errors end the retry.
func (p RetryPolicy) DoNonIdempotent(ctx context.Context, op func() error) error {
	return p.do(ctx, op, func(err error) bool {
		return IsTransient(err) && !MayHaveApplied(err)
	})
}

func (p RetryPolicy) do(ctx context.Context, op func() error, retryable func(error) bool) error {
	if p.MaxAttempts <= 1 {
		return op()
	}

	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	b.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1)), ctx)

	return backoff.Retry(func() error {
		err := op()
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}
