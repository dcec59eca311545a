// Package provider holds what the model provider clients share.
package provider

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// ErrMaxRetriesExceeded wraps the last error once all attempts failed.
var ErrMaxRetriesExceeded = errors.New("max retries exceeded")

const (
	DefaultMaxRetries  = 3
	DefaultBaseBackoff = 2 * time.Second
	DefaultMaxBackoff  = 32 * time.Second
)

// RetryPolicy retries rate-limited calls with exponential backoff.
type RetryPolicy struct {
	MaxRetries  int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:  DefaultMaxRetries,
		BaseBackoff: DefaultBaseBackoff,
		MaxBackoff:  DefaultMaxBackoff,
	}
}

// Backoff returns the wait before attempt (1-based) with up to 25% jitter
// either way.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt <= 0 || p.BaseBackoff <= 0 {
		return 0
	}
	if attempt > 30 {
		attempt = 30
	}
	d := p.BaseBackoff * time.Duration(1<<uint(attempt-1))
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	if q := int64(d) / 2; q > 0 {
		d += time.Duration(rand.Int63n(q)) - d/4
	}
	return d
}

// Do calls fn until it succeeds, returns an error retryable rejects, or the
// policy runs out of attempts.
func Do[T any](ctx context.Context, p RetryPolicy, retryable func(error) bool, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(p.Backoff(attempt)):
			}
		}

		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if !retryable(err) {
			return zero, err
		}
	}

	return zero, fmt.Errorf("%w: %w", ErrMaxRetriesExceeded, lastErr)
}
