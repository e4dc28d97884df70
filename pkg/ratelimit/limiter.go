// Package ratelimit provides the per-agent request limiter consulted by the
// policy engine's fairness rule. A single-process limiter backed by
// golang.org/x/time/rate covers local deployments; RedisLimiter coordinates
// limits across processes.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Policy defines per-key request limits.
type Policy struct {
	// RPM is the sustained request budget per minute.
	RPM int
	// Burst is the instantaneous ceiling.
	Burst int
}

// Limiter answers whether a key may spend the given cost right now.
type Limiter interface {
	Allow(ctx context.Context, key string, policy Policy, cost int) (bool, error)
}

// Check denies when no limiter is configured. Fairness fails closed.
func Check(ctx context.Context, l Limiter, key string, policy Policy) error {
	if l == nil {
		return fmt.Errorf("ratelimit: no limiter configured")
	}
	allowed, err := l.Allow(ctx, key, policy, 1)
	if err != nil {
		return fmt.Errorf("ratelimit check failed: %w", err)
	}
	if !allowed {
		return fmt.Errorf("ratelimit: limit exceeded for %s", key)
	}
	return nil
}

// LocalLimiter keeps one token bucket per key in process memory.
type LocalLimiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	clock   func() time.Time
}

// NewLocalLimiter returns an empty in-process limiter.
func NewLocalLimiter() *LocalLimiter {
	return &LocalLimiter{
		buckets: make(map[string]*rate.Limiter),
		clock:   time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (l *LocalLimiter) WithClock(clock func() time.Time) *LocalLimiter {
	l.clock = clock
	return l
}

func (l *LocalLimiter) bucket(key string, policy Policy) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[key]
	if !ok {
		perSec := rate.Limit(float64(policy.RPM) / 60.0)
		if perSec <= 0 {
			perSec = 1
		}
		burst := policy.Burst
		if burst <= 0 {
			burst = 1
		}
		b = rate.NewLimiter(perSec, burst)
		l.buckets[key] = b
	}
	return b
}

// Allow consumes cost tokens from the key's bucket if available.
func (l *LocalLimiter) Allow(ctx context.Context, key string, policy Policy, cost int) (bool, error) {
	if cost <= 0 {
		cost = 1
	}
	return l.bucket(key, policy).AllowN(l.clock(), cost), nil
}
