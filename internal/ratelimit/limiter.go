// Package ratelimit provides a token-bucket rate limiter keyed by caller-
// defined identity (queue name, routing key, tenant id, ...).
package ratelimit

import (
	"context"
	"sync"
	"time"

	bananaserrors "github.com/muaviaUsmani/bananas/internal/errors"
	"golang.org/x/time/rate"
)

// Config tunes a single token bucket.
type Config struct {
	// Capacity is the bucket's burst size.
	Capacity int
	// RefillPerSecond is the steady-state token refill rate.
	RefillPerSecond float64
}

// DefaultConfig returns a conservative 10 req/s, burst-10 bucket.
func DefaultConfig() Config {
	return Config{Capacity: 10, RefillPerSecond: 10}
}

// Limiter is a single named token bucket.
type Limiter struct {
	rl *rate.Limiter
}

// New creates a Limiter tuned by cfg.
func New(cfg Config) *Limiter {
	return &Limiter{rl: rate.NewLimiter(rate.Limit(cfg.RefillPerSecond), cfg.Capacity)}
}

// Allow reports whether a single token is available right now, consuming
// it if so.
func (l *Limiter) Allow() bool {
	return l.rl.Allow()
}

// Acquire reserves n tokens, waiting up to maxWait for them to become
// available. Returns bananaserrors.ResourceExhausted with the required
// wait duration if it would exceed maxWait; the reservation is cancelled
// in that case so the tokens are not wasted.
func (l *Limiter) Acquire(ctx context.Context, n int, maxWait time.Duration) error {
	reservation := l.rl.ReserveN(time.Now(), n)
	if !reservation.OK() {
		return bananaserrors.ResourceExhausted("rate limit: reservation for %d tokens can never succeed", n)
	}

	delay := reservation.Delay()
	if delay > maxWait {
		reservation.Cancel()
		return bananaserrors.ResourceExhausted("rate limit: retry after %v", delay).WithField("retry_after", delay)
	}

	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		reservation.Cancel()
		return ctx.Err()
	}
}

// KeyedLimiter holds one Limiter per caller-defined key, created lazily on
// first use with a shared Config.
type KeyedLimiter struct {
	cfg      Config
	limiters sync.Map // string -> *Limiter
}

// NewKeyedLimiter creates a KeyedLimiter that lazily creates buckets with cfg.
func NewKeyedLimiter(cfg Config) *KeyedLimiter {
	return &KeyedLimiter{cfg: cfg}
}

// Limiter returns the bucket for key, creating it if this is the first
// call for that key.
func (k *KeyedLimiter) Limiter(key string) *Limiter {
	if existing, ok := k.limiters.Load(key); ok {
		return existing.(*Limiter)
	}
	created := New(k.cfg)
	actual, _ := k.limiters.LoadOrStore(key, created)
	return actual.(*Limiter)
}

// Acquire reserves n tokens from key's bucket, waiting up to maxWait.
func (k *KeyedLimiter) Acquire(ctx context.Context, key string, n int, maxWait time.Duration) error {
	return k.Limiter(key).Acquire(ctx, n, maxWait)
}

// Allow reports whether key's bucket has a token available right now.
func (k *KeyedLimiter) Allow(key string) bool {
	return k.Limiter(key).Allow()
}
