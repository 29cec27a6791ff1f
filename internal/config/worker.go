package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/muaviaUsmani/bananas/internal/job"
)

// WorkerMode defines the operational mode of a worker process
type WorkerMode string

const (
	// WorkerModeThin is a single-process worker handling all queues
	// Use for: development, testing, very low traffic (<100 jobs/hour)
	WorkerModeThin WorkerMode = "thin"

	// WorkerModeDefault is the standard worker processing every registered queue
	// Use for: standard production (1K-10K jobs/hour)
	WorkerModeDefault WorkerMode = "default"

	// WorkerModeSpecialized is a worker dedicated to a subset of routing keys
	// Use for: high traffic with routing isolation (10K+ jobs/hour)
	WorkerModeSpecialized WorkerMode = "specialized"

	// WorkerModeJobSpecialized is a worker handling specific job types only
	// Use for: different resource requirements per job type
	WorkerModeJobSpecialized WorkerMode = "job-specialized"

	// WorkerModeSchedulerOnly runs only the scheduler (no job execution)
	// Use for: dedicated scheduler process in distributed setup
	WorkerModeSchedulerOnly WorkerMode = "scheduler-only"
)

// WorkerConfig holds worker-specific configuration
type WorkerConfig struct {
	// Mode determines the operational mode of the worker
	Mode WorkerMode

	// Concurrency is the number of concurrent worker goroutines
	// Recommended ranges by mode:
	//   - thin: 1-10
	//   - default: 10-50
	//   - specialized: 10-100 (depends on routing key)
	//   - job-specialized: depends on job type
	//   - scheduler-only: 0 (no workers)
	Concurrency int

	// Queues lists the queue names this worker claims from, in priority
	// order (a worker drains Queues[0] before moving to Queues[1]).
	Queues []string

	// RoutingKeys specifies which routing keys this worker should handle
	// Examples: ["default"], ["gpu"], ["gpu", "default"]
	// Empty means no routing-key filtering.
	RoutingKeys []string

	// JobTypes specifies which job types this worker should handle
	// Empty slice means all job types
	// Only applicable in job-specialized mode
	// Example: ["send_email", "generate_report"]
	JobTypes []string

	// PromotionInterval is how often the worker checks for delayed jobs
	// whose notBefore time has passed.
	PromotionInterval time.Duration

	// StalledCheckInterval is how often the worker scans for active jobs
	// claimed longer ago than their queue's stalled interval.
	StalledCheckInterval time.Duration

	// EnableScheduler determines whether to run the promotion/stalled-recovery loops
	// True for all modes except when you have a dedicated scheduler-only worker
	EnableScheduler bool
}

// LoadWorkerConfig loads worker configuration from environment variables
func LoadWorkerConfig() (*WorkerConfig, error) {
	cfg := &WorkerConfig{
		Mode:                 WorkerMode(getEnv("WORKER_MODE", string(WorkerModeDefault))),
		Concurrency:          getEnvAsInt("WORKER_CONCURRENCY", 10),
		Queues:               getEnvAsStringSlice("WORKER_QUEUES", []string{"default"}),
		RoutingKeys:          getEnvAsStringSlice("WORKER_ROUTING_KEYS", nil),
		JobTypes:             parseJobTypes(getEnv("WORKER_JOB_TYPES", "")),
		PromotionInterval:    getEnvAsDuration("PROMOTION_INTERVAL", 1*time.Second),
		StalledCheckInterval: getEnvAsDuration("STALLED_CHECK_INTERVAL", 30*time.Second),
		EnableScheduler:      getEnvAsBool("ENABLE_SCHEDULER", true),
	}

	cfg.applyModeDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyModeDefaults applies sensible defaults based on the worker mode
func (c *WorkerConfig) applyModeDefaults() {
	switch c.Mode {
	case WorkerModeThin:
		if c.Concurrency == 10 {
			c.Concurrency = 5
		}
		c.EnableScheduler = true

	case WorkerModeDefault:
		if !getEnvAsBool("ENABLE_SCHEDULER", false) {
			c.EnableScheduler = true
		}

	case WorkerModeSpecialized:
		if len(c.RoutingKeys) == 0 {
			c.RoutingKeys = []string{"default"}
		}
		if getEnv("ENABLE_SCHEDULER", "") == "" {
			c.EnableScheduler = false
		}

	case WorkerModeJobSpecialized:
		if getEnv("ENABLE_SCHEDULER", "") == "" {
			c.EnableScheduler = false
		}

	case WorkerModeSchedulerOnly:
		c.Concurrency = 0
		c.Queues = nil
		c.JobTypes = nil
		c.EnableScheduler = true
	}
}

// Validate checks if the worker configuration is valid
func (c *WorkerConfig) Validate() error {
	validModes := []WorkerMode{
		WorkerModeThin,
		WorkerModeDefault,
		WorkerModeSpecialized,
		WorkerModeJobSpecialized,
		WorkerModeSchedulerOnly,
	}
	validMode := false
	for _, mode := range validModes {
		if c.Mode == mode {
			validMode = true
			break
		}
	}
	if !validMode {
		return fmt.Errorf("invalid worker mode: %s (must be one of: thin, default, specialized, job-specialized, scheduler-only)", c.Mode)
	}

	if c.Mode != WorkerModeSchedulerOnly {
		if c.Concurrency < 1 {
			return fmt.Errorf("worker concurrency must be at least 1 (got %d)", c.Concurrency)
		}
		if c.Concurrency > 1000 {
			return fmt.Errorf("worker concurrency too high: %d (maximum 1000)", c.Concurrency)
		}
		if len(c.Queues) == 0 {
			return fmt.Errorf("worker must claim from at least one queue")
		}
	} else if c.Concurrency != 0 {
		return fmt.Errorf("scheduler-only mode must have concurrency=0 (got %d)", c.Concurrency)
	}

	if c.Mode == WorkerModeSpecialized && len(c.RoutingKeys) == 0 {
		return fmt.Errorf("specialized mode requires at least one routing key")
	}

	if c.Mode == WorkerModeJobSpecialized {
		if len(c.JobTypes) == 0 {
			return fmt.Errorf("job-specialized mode requires at least one job type to be specified")
		}
		for _, jt := range c.JobTypes {
			if strings.TrimSpace(jt) == "" {
				return fmt.Errorf("job type cannot be empty")
			}
		}
	}

	if c.EnableScheduler {
		if c.PromotionInterval < 100*time.Millisecond {
			return fmt.Errorf("promotion interval too short: %v (minimum 100ms)", c.PromotionInterval)
		}
		if c.StalledCheckInterval < time.Second {
			return fmt.Errorf("stalled check interval too short: %v (minimum 1s)", c.StalledCheckInterval)
		}
	}

	return nil
}

// ShouldProcessJob checks if this worker should process a given job based
// on its routing key and job type filters.
func (c *WorkerConfig) ShouldProcessJob(j *job.Job) bool {
	if len(c.RoutingKeys) > 0 {
		match := false
		for _, rk := range c.RoutingKeys {
			if j.RoutingKey == rk {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}

	if c.Mode == WorkerModeJobSpecialized && len(c.JobTypes) > 0 {
		match := false
		for _, jt := range c.JobTypes {
			if j.Name == jt {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}

	return true
}

// String returns a human-readable description of the worker config
func (c *WorkerConfig) String() string {
	queues := "none"
	if len(c.Queues) > 0 {
		queues = strings.Join(c.Queues, ",")
	}

	routing := "all"
	if len(c.RoutingKeys) > 0 {
		routing = strings.Join(c.RoutingKeys, ",")
	}

	jobTypes := "all"
	if len(c.JobTypes) > 0 {
		if len(c.JobTypes) <= 3 {
			jobTypes = strings.Join(c.JobTypes, ",")
		} else {
			jobTypes = fmt.Sprintf("%s... (%d types)", strings.Join(c.JobTypes[:3], ","), len(c.JobTypes))
		}
	}

	scheduler := "disabled"
	if c.EnableScheduler {
		scheduler = fmt.Sprintf("enabled (promotion: %v, stalled: %v)", c.PromotionInterval, c.StalledCheckInterval)
	}

	return fmt.Sprintf(
		"WorkerConfig{mode=%s, concurrency=%d, queues=%s, routing=%s, jobTypes=%s, scheduler=%s}",
		c.Mode, c.Concurrency, queues, routing, jobTypes, scheduler,
	)
}

// parseJobTypes parses a comma-separated string of job types
// Empty string returns nil (all job types)
func parseJobTypes(s string) []string {
	if s == "" {
		return nil
	}

	parts := strings.Split(s, ",")
	jobTypes := make([]string, 0, len(parts))

	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			jobTypes = append(jobTypes, trimmed)
		}
	}

	if len(jobTypes) == 0 {
		return nil
	}

	return jobTypes
}
