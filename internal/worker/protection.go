package worker

import (
	"context"
	"time"

	"github.com/muaviaUsmani/bananas/internal/breaker"
	"github.com/muaviaUsmani/bananas/internal/job"
	"github.com/muaviaUsmani/bananas/internal/ratelimit"
)

// BreakerMiddleware guards handler execution with a per-job-name circuit
// breaker from registry, so a handler failing against a struggling
// downstream dependency stops being retried until the breaker recovers.
func BreakerMiddleware(registry *breaker.Registry) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, j *job.Job) error {
			b := registry.Get(j.Name)
			return b.Execute(ctx, func(ctx context.Context) error {
				return next(ctx, j)
			})
		}
	}
}

// RateLimitMiddleware throttles handler execution per job name, waiting up
// to maxWait for a token before giving up with a resource-exhausted error.
func RateLimitMiddleware(limiter *ratelimit.KeyedLimiter, maxWait time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, j *job.Job) error {
			if err := limiter.Acquire(ctx, j.Name, 1, maxWait); err != nil {
				return err
			}
			return next(ctx, j)
		}
	}
}
