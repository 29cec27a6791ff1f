package metrics

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestHealthCheck_AllHealthy(t *testing.T) {
	h := HealthCheck(context.Background(), HealthCheckInput{
		QueueSize:         10,
		MaxQueueSize:      1000,
		AvgProcessingTime: 100 * time.Millisecond,
		MaxProcessingTime: time.Second,
		ErrorRate:         1,
		MaxErrorRate:      10,
		StalledCount:      0,
		ConfigValid:       true,
		Ping: func(ctx context.Context) (time.Duration, error) {
			return time.Millisecond, nil
		},
	})

	if h.Status != HealthStatusHealthy {
		t.Errorf("expected healthy, got %s (%+v)", h.Status, h.Checks)
	}
}

func TestHealthCheck_QueueNearCapacityDegrades(t *testing.T) {
	h := HealthCheck(context.Background(), HealthCheckInput{
		QueueSize:    850,
		MaxQueueSize: 1000,
		ConfigValid:  true,
	})

	if h.Status != HealthStatusDegraded {
		t.Errorf("expected degraded, got %s (%+v)", h.Status, h.Checks)
	}
}

func TestHealthCheck_QueueAtCapacityUnhealthy(t *testing.T) {
	h := HealthCheck(context.Background(), HealthCheckInput{
		QueueSize:    1000,
		MaxQueueSize: 1000,
		ConfigValid:  true,
	})

	if h.Status != HealthStatusUnhealthy {
		t.Errorf("expected unhealthy, got %s", h.Status)
	}
	if h.Checks["queue_size"].Status != HealthStatusUnhealthy {
		t.Errorf("expected queue_size check unhealthy, got %+v", h.Checks["queue_size"])
	}
}

func TestHealthCheck_RedisUnreachableIsUnhealthy(t *testing.T) {
	h := HealthCheck(context.Background(), HealthCheckInput{
		ConfigValid: true,
		Ping: func(ctx context.Context) (time.Duration, error) {
			return 0, errors.New("connection refused")
		},
	})

	if h.Status != HealthStatusUnhealthy {
		t.Errorf("expected unhealthy, got %s", h.Status)
	}
	if h.Checks["redis"].Status != HealthStatusUnhealthy {
		t.Errorf("expected redis check unhealthy, got %+v", h.Checks["redis"])
	}
}

func TestHealthCheck_InvalidConfigIsUnhealthy(t *testing.T) {
	h := HealthCheck(context.Background(), HealthCheckInput{
		ConfigValid: false,
		ConfigError: "missing redis url",
	})

	if h.Status != HealthStatusUnhealthy {
		t.Errorf("expected unhealthy, got %s", h.Status)
	}
	if h.Checks["config"].Message != "missing redis url" {
		t.Errorf("expected config error message propagated, got %+v", h.Checks["config"])
	}
}

func TestHealthCheck_ManyStalledJobsUnhealthy(t *testing.T) {
	h := HealthCheck(context.Background(), HealthCheckInput{
		ConfigValid:  true,
		StalledCount: 50,
	})

	if h.Status != HealthStatusUnhealthy {
		t.Errorf("expected unhealthy, got %s", h.Status)
	}
}

func TestHealthCheck_NoPingFuncSkipsRedisCheck(t *testing.T) {
	h := HealthCheck(context.Background(), HealthCheckInput{ConfigValid: true})

	if h.Checks["redis"].Status != HealthStatusHealthy {
		t.Errorf("expected redis check to pass through healthy when Ping is nil, got %+v", h.Checks["redis"])
	}
}
