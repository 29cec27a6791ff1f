package metrics

import (
	"context"
	"time"
)

// HealthStatus is the severity a single check or the overall report settles on.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// CheckResult is one named check's outcome.
type CheckResult struct {
	Status  HealthStatus `json:"status"`
	Message string       `json:"message,omitempty"`
}

// Health is the aggregate report served on /health.
type Health struct {
	Status HealthStatus           `json:"status"`
	Checks map[string]CheckResult `json:"checks"`
}

// HealthCheckInput carries everything HealthCheck needs, gathered by the
// caller (queue.Manager.Stats, redisgw.Gateway.Ping, config.Validate) so this
// package stays free of a dependency on queue or redisgw.
type HealthCheckInput struct {
	QueueSize    int64
	MaxQueueSize int64

	AvgProcessingTime time.Duration
	MaxProcessingTime time.Duration

	ErrorRate    float64
	MaxErrorRate float64

	StalledCount int64

	ConfigValid bool
	ConfigError string

	// Ping checks Redis reachability and returns round-trip latency.
	Ping func(ctx context.Context) (time.Duration, error)
}

// HealthCheck runs every configured check and folds them into one report.
// The overall status is the worst of any individual check: unhealthy beats
// degraded beats healthy.
func HealthCheck(ctx context.Context, in HealthCheckInput) Health {
	checks := make(map[string]CheckResult)

	checks["queue_size"] = thresholdCheck(in.QueueSize, in.MaxQueueSize, "queue depth")
	checks["processing_time"] = durationCheck(in.AvgProcessingTime, in.MaxProcessingTime)
	checks["error_rate"] = rateCheck(in.ErrorRate, in.MaxErrorRate)
	checks["stalled_jobs"] = stalledCheck(in.StalledCount)
	checks["config"] = configCheck(in.ConfigValid, in.ConfigError)
	checks["redis"] = redisCheck(ctx, in.Ping)

	overall := HealthStatusHealthy
	for _, c := range checks {
		overall = worse(overall, c.Status)
	}

	return Health{Status: overall, Checks: checks}
}

func worse(a, b HealthStatus) HealthStatus {
	rank := map[HealthStatus]int{HealthStatusHealthy: 0, HealthStatusDegraded: 1, HealthStatusUnhealthy: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

func thresholdCheck(value, max int64, label string) CheckResult {
	if max <= 0 {
		return CheckResult{Status: HealthStatusHealthy}
	}
	ratio := float64(value) / float64(max)
	switch {
	case ratio >= 1.0:
		return CheckResult{Status: HealthStatusUnhealthy, Message: label + " at or above capacity"}
	case ratio >= 0.8:
		return CheckResult{Status: HealthStatusDegraded, Message: label + " above 80% of capacity"}
	default:
		return CheckResult{Status: HealthStatusHealthy}
	}
}

func durationCheck(avg, max time.Duration) CheckResult {
	if max <= 0 {
		return CheckResult{Status: HealthStatusHealthy}
	}
	ratio := float64(avg) / float64(max)
	switch {
	case ratio >= 1.0:
		return CheckResult{Status: HealthStatusUnhealthy, Message: "average processing time exceeds cap"}
	case ratio >= 0.8:
		return CheckResult{Status: HealthStatusDegraded, Message: "average processing time approaching cap"}
	default:
		return CheckResult{Status: HealthStatusHealthy}
	}
}

func rateCheck(rate, max float64) CheckResult {
	if max <= 0 {
		return CheckResult{Status: HealthStatusHealthy}
	}
	switch {
	case rate >= max:
		return CheckResult{Status: HealthStatusUnhealthy, Message: "error rate exceeds cap"}
	case rate >= max*0.5:
		return CheckResult{Status: HealthStatusDegraded, Message: "error rate above half the cap"}
	default:
		return CheckResult{Status: HealthStatusHealthy}
	}
}

func stalledCheck(count int64) CheckResult {
	switch {
	case count == 0:
		return CheckResult{Status: HealthStatusHealthy}
	case count <= 5:
		return CheckResult{Status: HealthStatusDegraded, Message: "some jobs stalled"}
	default:
		return CheckResult{Status: HealthStatusUnhealthy, Message: "many jobs stalled"}
	}
}

func configCheck(valid bool, errMsg string) CheckResult {
	if valid {
		return CheckResult{Status: HealthStatusHealthy}
	}
	return CheckResult{Status: HealthStatusUnhealthy, Message: errMsg}
}

func redisCheck(ctx context.Context, ping func(ctx context.Context) (time.Duration, error)) CheckResult {
	if ping == nil {
		return CheckResult{Status: HealthStatusHealthy}
	}
	latency, err := ping(ctx)
	if err != nil {
		return CheckResult{Status: HealthStatusUnhealthy, Message: "redis unreachable: " + err.Error()}
	}
	if latency > 500*time.Millisecond {
		return CheckResult{Status: HealthStatusDegraded, Message: "redis latency elevated"}
	}
	return CheckResult{Status: HealthStatusHealthy}
}
