package queue

import (
	"time"

	"github.com/muaviaUsmani/bananas/internal/job"
)

// Config holds the per-queue settings: retry/backoff policy, stalled-job
// detection, retention limits, and dead-letter routing.
type Config struct {
	Name                  string
	Concurrency           int
	MaxRetries            int
	RetryDelayMs          int64
	Backoff               job.BackoffSpec
	StalledIntervalMs     int64
	MaxStalledCount       int
	DefaultPriority       int
	RemoveOnCompleteCount int64
	RemoveOnFailCount     int64
	DeadLetterQueue       string
}

// DefaultConfig returns a Config with sensible retry/backoff defaults for
// the sorted-set queue model.
func DefaultConfig(name string) Config {
	return Config{
		Name:                  name,
		Concurrency:           10,
		MaxRetries:            3,
		RetryDelayMs:          1000,
		Backoff:               job.DefaultBackoff(),
		StalledIntervalMs:     30000,
		MaxStalledCount:       3,
		DefaultPriority:       10,
		RemoveOnCompleteCount: 1000,
		RemoveOnFailCount:     5000,
	}
}

// StalledInterval returns StalledIntervalMs as a Duration.
func (c Config) StalledInterval() time.Duration {
	return time.Duration(c.StalledIntervalMs) * time.Millisecond
}
