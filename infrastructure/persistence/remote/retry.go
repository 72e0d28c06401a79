package remote

import (
	"context"
	"errors"
	"math/rand"
	"time"

	pkgerrors "github.com/engramdb/engram/pkg/errors"
)

var errCircuitOpen = errors.New("circuit breaker is open")

// RetryPolicy retries transient failures with exponential backoff and full
// jitter. Validation, NotFound, and Conflict errors never retry; retrying
// them cannot change the outcome.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy matches the remote adapter defaults
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    5 * time.Second,
	}
}

// Do runs op, retrying retryable failures until attempts are exhausted or
// the context is cancelled
func (p RetryPolicy) Do(ctx context.Context, op func() error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return pkgerrors.Wrap(ctx.Err(), "retry cancelled")
			case <-time.After(p.backoff(attempt)):
			}
		}

		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isRetryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

// backoff computes the delay before the given attempt: base * 2^(attempt-1),
// capped, with full jitter
func (p RetryPolicy) backoff(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	max := p.MaxDelay
	if max <= 0 {
		max = 5 * time.Second
	}

	delay := base << uint(attempt-1)
	if delay > max || delay <= 0 {
		delay = max
	}
	return time.Duration(rand.Int63n(int64(delay) + 1))
}

func isRetryable(err error) bool {
	if errors.Is(err, errCircuitOpen) {
		return false
	}
	if appErr := pkgerrors.GetAppError(err); appErr != nil {
		switch appErr.Type {
		case pkgerrors.ErrorTypeConnection, pkgerrors.ErrorTypeBackend, pkgerrors.ErrorTypeTimeout:
			return true
		default:
			return false
		}
	}
	// Plain transport errors from net/http are worth one more try
	return true
}
