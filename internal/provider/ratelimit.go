package provider

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimits holds one token bucket per provider, shared across all
// workers and all concurrent executions. One slow provider never blocks
// workers waiting on a different provider's bucket.
type RateLimits struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	fallback *rate.Limiter
}

// NewRateLimits creates the shared limiter set. Providers without an
// explicit entry fall back to a conservative default bucket.
func NewRateLimits() *RateLimits {
	return &RateLimits{
		limiters: make(map[string]*rate.Limiter),
		fallback: rate.NewLimiter(2, 2),
	}
}

// Set configures the bucket for a provider: r requests per second with
// the given burst.
func (rl *RateLimits) Set(provider string, r float64, burst int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.limiters[provider] = rate.NewLimiter(rate.Limit(r), burst)
}

// Allow reports whether the provider has budget right now, consuming a
// token if so. The waterfall uses this to skip rate-starved providers
// instead of queueing behind them.
func (rl *RateLimits) Allow(provider string) bool {
	return rl.limiterFor(provider).Allow()
}

// Wait blocks until the provider has budget or the context is done.
// Used by adapters that must not skip (e.g. the persist stage's own
// outbound calls).
func (rl *RateLimits) Wait(ctx context.Context, provider string) error {
	return rl.limiterFor(provider).Wait(ctx)
}

// Tokens returns the current token count for observability.
func (rl *RateLimits) Tokens(provider string) float64 {
	return rl.limiterFor(provider).Tokens()
}

func (rl *RateLimits) limiterFor(provider string) *rate.Limiter {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	if l, ok := rl.limiters[provider]; ok {
		return l
	}
	return rl.fallback
}
