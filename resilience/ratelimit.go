package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ProviderLimits describes the throughput and concurrency limits applied to
// calls against a single upstream provider. A zero value in any field means
// "unlimited" for that dimension.
type ProviderLimits struct {
	// RPM is the maximum number of requests per minute.
	RPM int

	// TPM is the maximum number of tokens (or equivalent cost units) per
	// minute.
	TPM int

	// MaxConcurrent is the maximum number of requests in flight at once.
	MaxConcurrent int

	// CooldownOnRetry is an additional fixed delay Wait applies before
	// returning, used to back off after a provider-reported throttle.
	CooldownOnRetry time.Duration
}

// RateLimiter enforces request-per-minute, token-per-minute, and concurrency
// limits for a single provider using a token-bucket per dimension.
type RateLimiter struct {
	limits ProviderLimits

	mu         sync.Mutex
	rpmTokens  float64
	tpmTokens  float64
	concurrent int
	lastRefill time.Time
}

// NewRateLimiter creates a RateLimiter pre-loaded with one minute's worth of
// tokens in each limited dimension.
func NewRateLimiter(limits ProviderLimits) *RateLimiter {
	return &RateLimiter{
		limits:     limits,
		rpmTokens:  float64(limits.RPM),
		tpmTokens:  float64(limits.TPM),
		lastRefill: time.Now(),
	}
}

// refillLocked tops up the rpm/tpm buckets based on elapsed time. Caller must
// hold rl.mu.
func (rl *RateLimiter) refillLocked() {
	now := time.Now()
	elapsed := now.Sub(rl.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	rl.lastRefill = now

	if rl.limits.RPM > 0 {
		rl.rpmTokens += elapsed * (float64(rl.limits.RPM) / 60.0)
		if rl.rpmTokens > float64(rl.limits.RPM) {
			rl.rpmTokens = float64(rl.limits.RPM)
		}
	}
	if rl.limits.TPM > 0 {
		rl.tpmTokens += elapsed * (float64(rl.limits.TPM) / 60.0)
		if rl.tpmTokens > float64(rl.limits.TPM) {
			rl.tpmTokens = float64(rl.limits.TPM)
		}
	}
}

// Allow blocks until a request slot is available under the RPM and
// concurrency limits, or ctx is done. A provider with both limits unlimited
// always succeeds immediately.
func (rl *RateLimiter) Allow(ctx context.Context) error {
	ticker := time.NewTicker(2 * time.Millisecond)
	defer ticker.Stop()

	for {
		rl.mu.Lock()
		rl.refillLocked()

		rpmOK := rl.limits.RPM <= 0 || rl.rpmTokens >= 1.0
		concOK := rl.limits.MaxConcurrent <= 0 || rl.concurrent < rl.limits.MaxConcurrent

		if rpmOK && concOK {
			if rl.limits.RPM > 0 {
				rl.rpmTokens -= 1.0
			}
			if rl.limits.MaxConcurrent > 0 {
				rl.concurrent++
			}
			rl.mu.Unlock()
			return nil
		}
		rl.mu.Unlock()

		select {
		case <-ctx.Done():
			return fmt.Errorf("resilience: rate limit wait: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// Release returns a concurrency slot acquired by Allow. It is a no-op if the
// provider has no concurrency limit, and never drives the counter negative.
func (rl *RateLimiter) Release() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if rl.concurrent > 0 {
		rl.concurrent--
	}
}

// Wait applies the configured CooldownOnRetry delay, returning early if ctx
// is cancelled first.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if rl.limits.CooldownOnRetry <= 0 {
		return nil
	}
	timer := time.NewTimer(rl.limits.CooldownOnRetry)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("resilience: cooldown wait: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// ConsumeTokens blocks until count tokens are available in the TPM budget,
// or ctx is done. A provider with no TPM limit, or a zero count, always
// succeeds immediately.
func (rl *RateLimiter) ConsumeTokens(ctx context.Context, count int) error {
	if rl.limits.TPM <= 0 || count <= 0 {
		return nil
	}

	ticker := time.NewTicker(2 * time.Millisecond)
	defer ticker.Stop()

	for {
		rl.mu.Lock()
		rl.refillLocked()
		if rl.tpmTokens >= float64(count) {
			rl.tpmTokens -= float64(count)
			rl.mu.Unlock()
			return nil
		}
		rl.mu.Unlock()

		select {
		case <-ctx.Done():
			return fmt.Errorf("resilience: token budget wait: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}
