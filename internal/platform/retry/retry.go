// Package retry provides a small generic retry helper with exponential backoff.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Policy controls retry behavior.
type Policy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	OnRetry        func(attempt int, err error, backoff time.Duration)
}

// Retryable decides whether an error is worth retrying.
// A nil Retryable retries everything.
type Retryable func(err error) bool

// Do runs op until it succeeds, the error is classified permanent, attempts
// are exhausted, or ctx is cancelled. Backoff doubles per attempt up to
// MaxBackoff.
func Do[T any](ctx context.Context, p Policy, retryable Retryable, op func() (T, error)) (T, error) {
	var zero T
	backoff := p.InitialBackoff

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		val, err := op()
		if err == nil {
			return val, nil
		}

		if retryable != nil && !retryable(err) {
			return zero, &PermanentError{Err: err}
		}

		if attempt == p.MaxAttempts {
			return zero, fmt.Errorf("failed after %d attempts: %w", p.MaxAttempts, err)
		}

		if p.OnRetry != nil {
			p.OnRetry(attempt, err, backoff)
		}

		select {
		case <-time.After(backoff):
			backoff *= 2
			if p.MaxBackoff > 0 && backoff > p.MaxBackoff {
				backoff = p.MaxBackoff
			}
		case <-ctx.Done():
			return zero, fmt.Errorf("context cancelled during retry: %w", ctx.Err())
		}
	}

	panic("unreachable: MaxAttempts must be >= 1")
}

// DoVoid is Do for operations without a result.
func DoVoid(ctx context.Context, p Policy, retryable Retryable, op func() error) error {
	_, err := Do(ctx, p, retryable, func() (struct{}, error) { return struct{}{}, op() })
	return err
}

// PermanentError marks an error that was classified as not retryable.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }
