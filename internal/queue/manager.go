package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	bananaserrors "github.com/muaviaUsmani/bananas/internal/errors"
	"github.com/muaviaUsmani/bananas/internal/events"
	"github.com/muaviaUsmani/bananas/internal/job"
	"github.com/muaviaUsmani/bananas/internal/keycodec"
	"github.com/muaviaUsmani/bananas/internal/metrics"
	"github.com/muaviaUsmani/bananas/internal/redisgw"
	"github.com/redis/go-redis/v9"
)

// RunState is a queue's runtime pause state.
type RunState string

const (
	StateActive RunState = "active"
	StatePaused RunState = "paused"
)

// Stats is a point-in-time snapshot of one queue's counts and health
// signals. AvgProcessingMs and ErrorRate come from the process-wide metrics
// collector, not from this queue alone, and LastActivity is the snapshot time.
type Stats struct {
	Name            string        `json:"name"`
	State           RunState      `json:"state"`
	Waiting         int64         `json:"waiting"`
	Active          int64         `json:"active"`
	Delayed         int64         `json:"delayed"`
	Completed       int64         `json:"completed"`
	Failed          int64         `json:"failed"`
	AvgProcessingMs float64       `json:"avg_processing_ms"`
	ErrorRate       float64       `json:"error_rate"`
	LastActivity    time.Time     `json:"last_activity"`
}

// Manager is the producer-facing entry point for queue operations:
// enqueue, cancel, retry, batch operations, pause/resume, stats, and
// completed-job cleanup, composed from one PriorityStore + LifecycleStore
// + KeyCodec shared across every registered queue name.
type Manager struct {
	gw        *redisgw.Gateway
	codec     *keycodec.Codec
	priority  *PriorityStore
	lifecycle *LifecycleStore
	publisher *events.Publisher
	retry     retryComputer

	mu      sync.RWMutex
	configs map[string]Config
}

type retryComputer interface {
	NextDelay(attempt int, spec job.BackoffSpec) time.Duration
}

// NewManager creates a Manager sharing gw and codec with the rest of the
// queue core, and retryPolicy for computing retry backoff delays.
func NewManager(gw *redisgw.Gateway, codec *keycodec.Codec, retryPolicy retryComputer) *Manager {
	return &Manager{
		gw:        gw,
		codec:     codec,
		priority:  NewPriorityStore(gw, codec),
		lifecycle: NewLifecycleStore(gw, codec),
		publisher: events.NewPublisher(gw, codec),
		retry:     retryPolicy,
		configs:   make(map[string]Config),
	}
}

// RegisterQueue adds or replaces cfg for a queue name. Enqueue rejects
// jobs for unregistered queues with errors.NotFound.
func (m *Manager) RegisterQueue(cfg Config) error {
	if cfg.Name == "" {
		return bananaserrors.Validation("queue name cannot be empty")
	}
	if cfg.Concurrency < 1 {
		return bananaserrors.Validation("queue %s: concurrency must be >= 1", cfg.Name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[cfg.Name] = cfg
	return nil
}

func (m *Manager) config(queue string) (Config, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg, ok := m.configs[queue]
	if !ok {
		return Config{}, bananaserrors.NotFound("queue %s not registered", queue)
	}
	return cfg, nil
}

// Enqueue creates a job on queue and makes it visible to workers
// atomically: the job record and its waiting/delayed set entry are
// written in the same pipeline.
func (m *Manager) Enqueue(ctx context.Context, queue, jobType string, payload []byte, opts job.Options) (string, error) {
	cfg, err := m.config(queue)
	if err != nil {
		return "", err
	}

	if opts.Priority == 0 {
		opts.Priority = cfg.DefaultPriority
	}
	if err := job.ValidatePriority(opts.Priority); err != nil {
		return "", bananaserrors.Validation(err.Error())
	}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = cfg.MaxRetries + 1
	}
	if opts.Backoff.Strategy == "" {
		opts.Backoff = cfg.Backoff
	}
	if opts.DeadLetterQueue == "" {
		opts.DeadLetterQueue = cfg.DeadLetterQueue
	}

	j := job.NewJob(queue, jobType, payload, opts)

	data, err := json.Marshal(j)
	if err != nil {
		return "", bananaserrors.Serialization(fmt.Errorf("marshal job %s: %w", j.ID, err))
	}

	err = m.gw.Multi(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, m.codec.JobsKey(queue), j.ID, data)
		if j.Status == job.StatusDelayed {
			p.ZAdd(ctx, m.codec.DelayedKey(queue), redis.Z{Score: float64(j.ScheduledAt.UnixMilli()), Member: j.ID})
		} else {
			score := priorityScore(j.Priority, j.CreatedAt)
			p.ZAdd(ctx, m.codec.WaitingKey(queue), redis.Z{Score: score, Member: j.ID})
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	m.publish(ctx, queue, j.ID, events.KindJobAdded, nil)
	return j.ID, nil
}

// Cancel removes a job outright, wherever it currently sits in the
// waiting/active/delayed sets. Returns whether removal actually occurred:
// a racing claim that already moved the job out of the waiting set still
// counts as removed if Cancel catches it in the active set or the jobs
// hash, and a second Cancel of an already-gone job returns false.
func (m *Manager) Cancel(ctx context.Context, queue, jobID string) (bool, error) {
	setsRemoved, err := m.priority.RemoveFromAll(ctx, queue, jobID)
	if err != nil {
		return false, err
	}
	hadRecord, err := m.lifecycle.Remove(ctx, queue, jobID)
	if err != nil {
		return false, err
	}
	removed := setsRemoved > 0 || hadRecord
	if removed {
		m.publish(ctx, queue, jobID, events.KindJobCancelled, nil)
	}
	return removed, nil
}

// Retry resets a failed job back to pending at its original priority.
// Retrying a job that isn't currently failed is a no-op returning false.
func (m *Manager) Retry(ctx context.Context, queue, jobID string) (bool, error) {
	j, err := m.lifecycle.Get(ctx, queue, jobID)
	if err != nil {
		return false, err
	}
	if j.Status != job.StatusFailed {
		return false, nil
	}

	if err := m.lifecycle.Retry(ctx, j); err != nil {
		return false, err
	}
	score := priorityScore(j.Priority, time.Now())
	if err := m.priority.EnqueueReady(ctx, queue, j.ID, score); err != nil {
		return false, err
	}
	m.publish(ctx, queue, jobID, events.KindJobRetry, nil)
	return true, nil
}

// BatchAdd enqueues every item in payloads, stopping at the first error
// and returning the job IDs created so far alongside it. Publishes a
// single batch:added event naming every job actually created.
func (m *Manager) BatchAdd(ctx context.Context, queue, jobType string, payloads [][]byte, opts job.Options) ([]string, error) {
	ids := make([]string, 0, len(payloads))
	for _, p := range payloads {
		id, err := m.Enqueue(ctx, queue, jobType, p, opts)
		if err != nil {
			if len(ids) > 0 {
				m.publish(ctx, queue, "", events.KindBatchAdded, map[string]interface{}{"jobIds": ids})
			}
			return ids, err
		}
		ids = append(ids, id)
	}
	m.publish(ctx, queue, "", events.KindBatchAdded, map[string]interface{}{"jobIds": ids})
	return ids, nil
}

// BatchRemove cancels every job ID given, collecting (not stopping on)
// individual errors alongside whether each cancel actually removed a job.
// Publishes a single batch:removed event naming the jobs actually removed.
func (m *Manager) BatchRemove(ctx context.Context, queue string, jobIDs []string) ([]bool, []error) {
	removed := make([]bool, len(jobIDs))
	errs := make([]error, len(jobIDs))
	removedIDs := make([]string, 0, len(jobIDs))
	for i, id := range jobIDs {
		removed[i], errs[i] = m.Cancel(ctx, queue, id)
		if removed[i] {
			removedIDs = append(removedIDs, id)
		}
	}
	if len(removedIDs) > 0 {
		m.publish(ctx, queue, "", events.KindBatchRemoved, map[string]interface{}{"jobIds": removedIDs})
	}
	return removed, errs
}

// BatchRetry retries every job ID given, collecting (not stopping on)
// individual errors alongside whether each retry actually occurred.
// Publishes a single batch:retried event naming the jobs actually retried.
func (m *Manager) BatchRetry(ctx context.Context, queue string, jobIDs []string) ([]bool, []error) {
	retried := make([]bool, len(jobIDs))
	errs := make([]error, len(jobIDs))
	retriedIDs := make([]string, 0, len(jobIDs))
	for i, id := range jobIDs {
		retried[i], errs[i] = m.Retry(ctx, queue, id)
		if retried[i] {
			retriedIDs = append(retriedIDs, id)
		}
	}
	if len(retriedIDs) > 0 {
		m.publish(ctx, queue, "", events.KindBatchRetried, map[string]interface{}{"jobIds": retriedIDs})
	}
	return retried, errs
}

// Pause sets queue's runtime state to paused; workers stop claiming new
// jobs from it (checked via IsPaused).
func (m *Manager) Pause(ctx context.Context, queue string) error {
	if err := m.setPaused(ctx, queue, true); err != nil {
		return err
	}
	m.publish(ctx, queue, "", events.KindQueuePaused, nil)
	return nil
}

// Resume clears a queue's paused state.
func (m *Manager) Resume(ctx context.Context, queue string) error {
	if err := m.setPaused(ctx, queue, false); err != nil {
		return err
	}
	m.publish(ctx, queue, "", events.KindQueueResumed, nil)
	return nil
}

func (m *Manager) setPaused(ctx context.Context, queue string, paused bool) error {
	val := "0"
	if paused {
		val = "1"
	}
	if err := m.gw.Client.HSet(ctx, m.codec.ConfigKey(queue), "paused", val).Err(); err != nil {
		return bananaerr(err, "set paused %s", queue)
	}
	return nil
}

// IsPaused reports whether queue is currently paused.
func (m *Manager) IsPaused(ctx context.Context, queue string) (bool, error) {
	val, err := m.gw.Client.HGet(ctx, m.codec.ConfigKey(queue), "paused").Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, bananaerr(err, "get paused %s", queue)
	}
	return val == "1", nil
}

// Stats returns a point-in-time snapshot of queue's counts.
func (m *Manager) Stats(ctx context.Context, queue string) (Stats, error) {
	waiting, active, delayed, err := m.priority.Depths(ctx, queue)
	if err != nil {
		return Stats{}, err
	}
	completed, err := m.gw.Client.ZCard(ctx, m.codec.CompletedKey(queue)).Result()
	if err != nil {
		return Stats{}, bananaerr(err, "stats completed %s", queue)
	}
	failed, err := m.gw.Client.ZCard(ctx, m.codec.FailedKey(queue)).Result()
	if err != nil {
		return Stats{}, bananaerr(err, "stats failed %s", queue)
	}

	paused, err := m.IsPaused(ctx, queue)
	if err != nil {
		return Stats{}, err
	}
	state := StateActive
	if paused {
		state = StatePaused
	}

	snap := metrics.Default().GetMetrics()

	return Stats{
		Name:            queue,
		State:           state,
		Waiting:         waiting,
		Active:          active,
		Delayed:         delayed,
		Completed:       completed,
		Failed:          failed,
		AvgProcessingMs: float64(snap.AvgJobDuration.Milliseconds()),
		ErrorRate:       snap.ErrorRate,
		LastActivity:    time.Now(),
	}, nil
}

// CleanCompleted removes completed-set entries older than maxAge and
// publishes a batch:cleaned event with the removed count.
func (m *Manager) CleanCompleted(ctx context.Context, queue string, maxAge time.Duration) (int64, error) {
	n, err := m.lifecycle.CleanCompleted(ctx, queue, time.Now().Add(-maxAge))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		m.publish(ctx, queue, "", events.KindBatchCleaned, map[string]interface{}{"count": n})
	}
	return n, nil
}

// SubscribeEvents opens a pull-based subscriber over queue's lifecycle
// events channel.
func (m *Manager) SubscribeEvents(ctx context.Context, queue string) *events.Subscriber {
	return events.Subscribe(ctx, m.gw, m.codec, queue)
}

// PromoteDelayed moves queue's due delayed jobs into the waiting set,
// recomputing each job's priority score from its stored record.
func (m *Manager) PromoteDelayed(ctx context.Context, queue string) ([]string, error) {
	return m.priority.PromoteDue(ctx, queue, time.Now(), func(jobID string) (float64, bool) {
		j, err := m.lifecycle.Get(ctx, queue, jobID)
		if err != nil {
			return 0, false
		}
		return priorityScore(j.Priority, j.CreatedAt), true
	})
}

// RecoverStalled re-queues queue's active jobs claimed before cutoff. A job
// under its queue's MaxStalledCount is requeued and its StalledCount
// incremented; one at or past the limit is moved straight to the failed
// state instead.
func (m *Manager) RecoverStalled(ctx context.Context, queue string, cutoff time.Time) error {
	cfg, err := m.config(queue)
	if err != nil {
		return err
	}

	ids, err := m.priority.StalledActive(ctx, queue, cutoff)
	if err != nil {
		return err
	}

	for _, jobID := range ids {
		j, err := m.lifecycle.Get(ctx, queue, jobID)
		if err != nil {
			continue
		}

		j.StalledCount++
		if j.StalledCount <= cfg.MaxStalledCount {
			if err := m.lifecycle.Put(ctx, j); err != nil {
				return err
			}
			score := priorityScore(j.Priority, j.CreatedAt)
			if err := m.priority.RequeueStalled(ctx, queue, jobID, score); err != nil {
				return err
			}
			continue
		}

		if err := m.priority.ReleaseActive(ctx, queue, jobID); err != nil {
			return err
		}
		j.AttemptsMade = j.MaxAttempts
		if _, err := m.lifecycle.Fail(ctx, j, "stalled past max stalled count", 0, cfg.RemoveOnFailCount); err != nil {
			return err
		}
		m.publish(ctx, queue, jobID, events.KindJobFailed, map[string]interface{}{"error": "stalled past max stalled count"})
	}

	return nil
}

// ClaimOne atomically claims the front-most ready job on queue, making
// Manager itself satisfy worker.QueueReader. The claimed job's
// AttemptsMade and ProcessedOn are updated before the ID is returned.
func (m *Manager) ClaimOne(ctx context.Context, queue string) (string, error) {
	jobID, err := m.priority.ClaimOne(ctx, queue)
	if err != nil || jobID == "" {
		return jobID, err
	}
	if _, err := m.lifecycle.MarkActive(ctx, queue, jobID); err != nil {
		return "", err
	}
	m.publish(ctx, queue, jobID, events.KindJobActive, nil)
	return jobID, nil
}

// GetJob retrieves a job record by ID.
func (m *Manager) GetJob(ctx context.Context, queue, jobID string) (*job.Job, error) {
	return m.lifecycle.Get(ctx, queue, jobID)
}

// Complete marks jobID completed with result, applying queue's retention
// config, and publishes a completed event.
func (m *Manager) Complete(ctx context.Context, queue, jobID string, result json.RawMessage) error {
	cfg, err := m.config(queue)
	if err != nil {
		return err
	}
	j, err := m.lifecycle.Get(ctx, queue, jobID)
	if err != nil {
		return err
	}
	if err := m.priority.ReleaseActive(ctx, queue, jobID); err != nil {
		return err
	}
	if err := m.lifecycle.Complete(ctx, j, result, cfg.RemoveOnCompleteCount); err != nil {
		return err
	}
	m.publish(ctx, queue, jobID, events.KindJobCompleted, nil)
	return nil
}

// Fail records a failed attempt for jobID, rescheduling it for retry or
// moving it to the failed/dead-letter state once attempts are exhausted.
func (m *Manager) Fail(ctx context.Context, queue, jobID string, causeErr error) error {
	cfg, err := m.config(queue)
	if err != nil {
		return err
	}
	j, err := m.lifecycle.Get(ctx, queue, jobID)
	if err != nil {
		return err
	}

	delay := m.retry.NextDelay(j.AttemptsMade+1, j.Backoff)
	if err := m.priority.ReleaseActive(ctx, queue, jobID); err != nil {
		return err
	}

	retried, err := m.lifecycle.Fail(ctx, j, causeErr.Error(), delay, cfg.RemoveOnFailCount)
	if err != nil {
		return err
	}

	if retried {
		if err := m.priority.EnqueueDelayed(ctx, queue, j.ID, *j.ScheduledAt); err != nil {
			return err
		}
		m.publish(ctx, queue, jobID, events.KindJobRetry, map[string]interface{}{"error": causeErr.Error()})
		return nil
	}

	m.publish(ctx, queue, jobID, events.KindJobFailed, map[string]interface{}{"error": causeErr.Error()})
	return nil
}

func (m *Manager) publish(ctx context.Context, queue, jobID string, kind events.Kind, data map[string]interface{}) {
	_ = m.publisher.Publish(ctx, queue, jobID, kind, data)
}

// Priority exposes the underlying PriorityStore for worker.Pool's
// ClaimOne/PromoteDue/stalled-recovery loops.
func (m *Manager) Priority() *PriorityStore { return m.priority }

// Lifecycle exposes the underlying LifecycleStore.
func (m *Manager) Lifecycle() *LifecycleStore { return m.lifecycle }

// Config returns the registered Config for queue.
func (m *Manager) Config(queue string) (Config, error) {
	return m.config(queue)
}
