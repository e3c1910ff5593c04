package resilience

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/corallang/voicerelay/core"
)

// RetryPolicy controls the backoff schedule used by Retry.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first. A
	// value <= 0 defaults to 3.
	MaxAttempts int

	// InitialBackoff is the delay before the second attempt. A value <= 0
	// defaults to 500ms.
	InitialBackoff time.Duration

	// MaxBackoff caps the delay between attempts. A value <= 0 defaults to
	// 30s.
	MaxBackoff time.Duration

	// BackoffFactor multiplies the delay after each attempt. A value <= 0
	// defaults to 2.0.
	BackoffFactor float64

	// Jitter randomizes each delay in [0, delay) rather than using the delay
	// as-is.
	Jitter bool

	// RetryableErrors extends the set of core.ErrorCode values that are
	// retried, beyond core.IsRetryable's defaults.
	RetryableErrors []core.ErrorCode
}

// DefaultRetryPolicy returns the policy used when a caller supplies a zero
// RetryPolicy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		BackoffFactor:  2.0,
		Jitter:         true,
	}
}

func (p RetryPolicy) normalize() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = d.InitialBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = d.MaxBackoff
	}
	if p.BackoffFactor <= 0 {
		p.BackoffFactor = d.BackoffFactor
	}
	return p
}

func (p RetryPolicy) retryable(err error) bool {
	if core.IsRetryable(err) {
		return true
	}
	if len(p.RetryableErrors) == 0 {
		return false
	}
	var e *core.Error
	if !errors.As(err, &e) {
		return false
	}
	for _, code := range p.RetryableErrors {
		if e.Code == code {
			return true
		}
	}
	return false
}

// Retry invokes fn until it succeeds, a non-retryable error is returned, the
// policy's attempt budget is exhausted, or ctx is cancelled. Delays between
// attempts grow by BackoffFactor starting at InitialBackoff, capped at
// MaxBackoff, with optional jitter.
func Retry[T any](ctx context.Context, policy RetryPolicy, fn func(context.Context) (T, error)) (T, error) {
	policy = policy.normalize()

	var zero T
	delay := policy.InitialBackoff

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt == policy.MaxAttempts || !policy.retryable(err) {
			return zero, lastErr
		}

		wait := delay
		if policy.Jitter {
			wait = time.Duration(rand.Int63n(int64(delay) + 1))
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * policy.BackoffFactor)
		if delay > policy.MaxBackoff {
			delay = policy.MaxBackoff
		}
	}

	return zero, lastErr
}
