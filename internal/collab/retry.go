package collab

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds retries of one collaborator call.
type Policy struct {
	// Attempts is the total number of calls, including the first. Values < 1 mean 1.
	Attempts int
	// BaseDelay is the wait before the second attempt; it doubles each attempt.
	BaseDelay time.Duration
	// MaxDelay caps a single wait. 0 means no cap.
	MaxDelay time.Duration
}

// DefaultPolicy is used when configuration does not say otherwise.
var DefaultPolicy = Policy{Attempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 8 * time.Second}

// backOff is the wait schedule between attempts: exponential, no jitter, no
// elapsed-time limit.
func (p Policy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = p.MaxDelay
	if b.MaxInterval <= 0 {
		b.MaxInterval = time.Duration(math.MaxInt64)
	}
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Retry calls fn until it succeeds, fails with a non-retryable error, the attempts are
// exhausted or ctx is done. The last error is returned wrapped with the attempt count.
func Retry[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	calls := 0
	op := func() (T, error) {
		calls++
		v, err := fn(ctx)
		switch {
		case err == nil:
			return v, nil
		case ctx.Err() != nil:
			return v, backoff.Permanent(ctx.Err())
		case !Retryable(err):
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	b := backoff.WithContext(backoff.WithMaxRetries(p.backOff(), uint64(attempts-1)), ctx)
	v, err := backoff.RetryWithData(op, b)
	if err != nil {
		var zero T
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if Retryable(err) {
			return zero, fmt.Errorf("after %d attempts: %w", calls, err)
		}
		return zero, err
	}
	return v, nil
}
