package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/muaviaUsmani/bananas/internal/breaker"
	bananaserrors "github.com/muaviaUsmani/bananas/internal/errors"
	"github.com/muaviaUsmani/bananas/internal/job"
	"github.com/muaviaUsmani/bananas/internal/ratelimit"
)

func TestBreakerMiddleware_TripsAfterRepeatedFailures(t *testing.T) {
	cfg := breaker.DefaultConfig()
	cfg.FailureThreshold = 2
	registry := breaker.NewRegistry(cfg)

	failing := func(ctx context.Context, j *job.Job) error { return errors.New("boom") }
	wrapped := BreakerMiddleware(registry)(failing)

	j := &job.Job{Name: "flaky_job"}
	_ = wrapped(context.Background(), j)
	_ = wrapped(context.Background(), j)

	err := wrapped(context.Background(), j)
	if !bananaserrors.Is(err, bananaserrors.KindCircuitOpen) {
		t.Errorf("expected KindCircuitOpen after repeated failures, got %v", err)
	}
}

func TestBreakerMiddleware_PassesThroughOnSuccess(t *testing.T) {
	registry := breaker.NewRegistry(breaker.DefaultConfig())
	called := false
	handler := func(ctx context.Context, j *job.Job) error {
		called = true
		return nil
	}
	wrapped := BreakerMiddleware(registry)(handler)

	if err := wrapped(context.Background(), &job.Job{Name: "ok_job"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("expected underlying handler to run")
	}
}

func TestRateLimitMiddleware_ThrottlesPerJobName(t *testing.T) {
	limiter := ratelimit.NewKeyedLimiter(ratelimit.Config{Capacity: 1, RefillPerSecond: 1})
	handler := func(ctx context.Context, j *job.Job) error { return nil }
	wrapped := RateLimitMiddleware(limiter, 10*time.Millisecond)(handler)

	j := &job.Job{Name: "limited_job"}
	if err := wrapped(context.Background(), j); err != nil {
		t.Fatalf("expected first call to succeed, got %v", err)
	}

	err := wrapped(context.Background(), j)
	if !bananaserrors.Is(err, bananaserrors.KindResourceExhausted) {
		t.Errorf("expected KindResourceExhausted on second call, got %v", err)
	}
}
