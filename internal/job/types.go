// Package job defines the Job record that flows through every queue
// component: producers build it, PriorityStore and LifecycleStore persist
// it, and worker.Pool hands it to a Processor.
package job

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status represents the current position of a job in its lifecycle.
// A job occupies exactly one status at any instant.
type Status string

const (
	// StatusPending indicates the job sits in a queue's waiting set.
	StatusPending Status = "pending"
	// StatusActive indicates the job has been claimed by a worker.
	StatusActive Status = "active"
	// StatusCompleted indicates the job's processor returned without error.
	StatusCompleted Status = "completed"
	// StatusFailed indicates the job exhausted its retries.
	StatusFailed Status = "failed"
	// StatusDelayed indicates the job is scheduled for future execution,
	// either from an initial delay or a retry backoff.
	StatusDelayed Status = "delayed"
)

// MaxPriority bounds the priority range accepted by NewJob and
// ValidatePriority. Priority 0 is lowest, MaxPriority is highest.
const MaxPriority = 20

// BackoffStrategy selects how retry delays grow between attempts.
type BackoffStrategy string

const (
	BackoffFixed       BackoffStrategy = "fixed"
	BackoffLinear      BackoffStrategy = "linear"
	BackoffExponential BackoffStrategy = "exponential"
	BackoffCustom      BackoffStrategy = "custom"
)

// BackoffSpec configures the delay applied between retry attempts.
type BackoffSpec struct {
	Strategy BackoffStrategy `json:"strategy"`
	Base     time.Duration   `json:"base"`
	Factor   float64         `json:"factor,omitempty"`
	Cap      time.Duration   `json:"cap,omitempty"`
}

// DefaultBackoff returns the standard exponential backoff spec: 1s base,
// factor 2, capped at 1 minute.
func DefaultBackoff() BackoffSpec {
	return BackoffSpec{
		Strategy: BackoffExponential,
		Base:     time.Second,
		Factor:   2,
		Cap:      time.Minute,
	}
}

// Job represents a unit of work to be processed by a queue.
type Job struct {
	// ID is the unique identifier for the job, scoped to its queue.
	ID string `json:"id"`
	// Queue is the name of the queue this job belongs to.
	Queue string `json:"queue"`
	// Name identifies the kind of job to be executed (the registered job type).
	Name string `json:"name"`
	// Description is an optional human-readable description of the job.
	Description string `json:"description,omitempty"`
	// Payload contains the job-specific data, opaque to the queue core.
	Payload json.RawMessage `json:"payload"`
	// Status is the current status of the job.
	Status Status `json:"status"`
	// Priority determines claim order within the queue; higher claims first.
	Priority int `json:"priority"`
	// RoutingKey lets a deployment dedicate worker pools to a subset of
	// jobs within a single queue, alongside priority.
	RoutingKey string `json:"routing_key"`
	// Tags are free-form labels carried through to events and logs.
	Tags []string `json:"tags,omitempty"`
	// Metadata carries caller-defined context alongside the payload.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// CreatedAt is when the job was created.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the job was last updated.
	UpdatedAt time.Time `json:"updated_at"`
	// ScheduledAt is the time before which a delayed job must not run.
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	// ProcessedOn is when a worker most recently claimed the job.
	ProcessedOn *time.Time `json:"processed_on,omitempty"`
	// FinishedOn is when the job reached completed or failed.
	FinishedOn *time.Time `json:"finished_on,omitempty"`
	// FailedAt is when the job most recently transitioned to failed.
	FailedAt *time.Time `json:"failed_at,omitempty"`

	// AttemptsMade is the number of times the job has been attempted.
	AttemptsMade int `json:"attempts_made"`
	// StalledCount is the number of times a worker claimed this job and
	// never reported completion or failure before the stalled interval
	// elapsed.
	StalledCount int `json:"stalled_count,omitempty"`
	// MaxAttempts is the maximum number of attempts allowed, including the first.
	MaxAttempts int `json:"max_attempts"`
	// Backoff configures the delay between retry attempts.
	Backoff BackoffSpec `json:"backoff"`
	// LastError contains the error message from the most recent failed attempt.
	LastError string `json:"last_error,omitempty"`
	// ReturnValue holds the processor's result for a completed job.
	ReturnValue json.RawMessage `json:"return_value,omitempty"`

	// RemoveOnComplete, when true, drops the job record once it completes
	// instead of retaining it in the completed set.
	RemoveOnComplete bool `json:"remove_on_complete,omitempty"`
	// RemoveOnFail, when true, drops the job record once it fails instead
	// of retaining it in the failed set.
	RemoveOnFail bool `json:"remove_on_fail,omitempty"`
	// DeadLetterQueue names the queue that receives this job once it
	// exhausts retries. Empty means no dead-letter routing.
	DeadLetterQueue string `json:"dead_letter_queue,omitempty"`
}

// Options configures an enqueue call. Zero values fall back to the
// queue's configured defaults.
type Options struct {
	Priority         int
	MaxAttempts      int
	Backoff          BackoffSpec
	DelayMs          int64
	RoutingKey       string
	Description      string
	Tags             []string
	Metadata         map[string]interface{}
	RemoveOnComplete bool
	RemoveOnFail     bool
	DeadLetterQueue  string
}

// NewJob creates a new pending (or delayed, if opts.DelayMs > 0) job for
// queue with the given name and payload.
func NewJob(queue, name string, payload []byte, opts Options) *Job {
	now := time.Now()

	priority := opts.Priority
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	backoff := opts.Backoff
	if backoff.Strategy == "" {
		backoff = DefaultBackoff()
	}
	routingKey := opts.RoutingKey
	if routingKey == "" {
		routingKey = "default"
	}

	j := &Job{
		ID:               uuid.New().String(),
		Queue:            queue,
		Name:             name,
		Description:      opts.Description,
		Payload:          payload,
		Status:           StatusPending,
		Priority:         priority,
		RoutingKey:       routingKey,
		Tags:             opts.Tags,
		Metadata:         opts.Metadata,
		CreatedAt:        now,
		UpdatedAt:        now,
		AttemptsMade:     0,
		MaxAttempts:      maxAttempts,
		Backoff:          backoff,
		RemoveOnComplete: opts.RemoveOnComplete,
		RemoveOnFail:     opts.RemoveOnFail,
		DeadLetterQueue:  opts.DeadLetterQueue,
	}

	if opts.DelayMs > 0 {
		scheduledAt := now.Add(time.Duration(opts.DelayMs) * time.Millisecond)
		j.Status = StatusDelayed
		j.ScheduledAt = &scheduledAt
	}

	return j
}

// UpdateStatus updates the job's status and UpdatedAt timestamp.
func (j *Job) UpdateStatus(status Status) {
	j.Status = status
	j.UpdatedAt = time.Now()
}

// ValidatePriority reports whether p is within [0, MaxPriority].
func ValidatePriority(p int) error {
	if p < 0 || p > MaxPriority {
		return fmt.Errorf("invalid priority %d: must be within [0, %d]", p, MaxPriority)
	}
	return nil
}

// ValidateRoutingKey validates a routing key format. Valid routing keys
// are non-empty alphanumeric strings with underscores and hyphens (max 64
// chars).
func ValidateRoutingKey(key string) error {
	if key == "" {
		return fmt.Errorf("routing key cannot be empty")
	}

	if len(key) > 64 {
		return fmt.Errorf("routing key too long: %d characters (max 64)", len(key))
	}

	for _, char := range key {
		if (char < 'a' || char > 'z') &&
			(char < 'A' || char > 'Z') &&
			(char < '0' || char > '9') &&
			char != '_' && char != '-' {
			return fmt.Errorf("invalid routing key format: must contain only alphanumeric characters, underscores, and hyphens")
		}
	}

	return nil
}

// SetRoutingKey sets the routing key for the job.
func (j *Job) SetRoutingKey(key string) error {
	if err := ValidateRoutingKey(key); err != nil {
		return err
	}

	j.RoutingKey = key
	j.UpdatedAt = time.Now()
	return nil
}

// HasTag reports whether the job carries the given tag.
func (j *Job) HasTag(tag string) bool {
	for _, t := range j.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
