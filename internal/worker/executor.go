package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/muaviaUsmani/bananas/internal/job"
	"github.com/muaviaUsmani/bananas/internal/metrics"
	"github.com/muaviaUsmani/bananas/internal/result"
)

// QueueCompleter is the subset of queue.Manager the executor needs to
// resolve a claimed job's outcome.
type QueueCompleter interface {
	Complete(ctx context.Context, queue, jobID string, result json.RawMessage) error
	Fail(ctx context.Context, queue, jobID string, causeErr error) error
}

// Executor runs one claimed job per ExecuteJob call and reports its outcome
// to the queue. It stores the concurrency it was built with but does not
// limit concurrent calls; the Pool's worker count bounds that.
type Executor struct {
	registry      *Registry
	queue         QueueCompleter
	resultBackend result.Backend
	concurrency   int
}

// NewExecutor creates a new job executor wired to a queue Manager
func NewExecutor(registry *Registry, queue QueueCompleter, concurrency int) *Executor {
	return &Executor{
		registry:    registry,
		queue:       queue,
		concurrency: concurrency,
	}
}

// SetResultBackend sets the result backend for storing job results
// This is optional - if not set, results won't be stored
func (e *Executor) SetResultBackend(backend result.Backend) {
	e.resultBackend = backend
}

// ExecuteJob executes a single already-claimed job using the registered
// handler, then reports its outcome back to the queue.
func (e *Executor) ExecuteJob(ctx context.Context, j *job.Job) error {
	handler, exists := e.registry.Get(j.Name)
	if !exists {
		err := fmt.Errorf("no handler registered for job: %s", j.Name)
		if queueErr := e.queue.Fail(ctx, j.Queue, j.ID, err); queueErr != nil {
			log.Printf("Failed to mark job %s as failed in queue: %v", j.ID, queueErr)
		}
		return err
	}

	j.UpdateStatus(job.StatusActive)
	log.Printf("Executing job %s (name: %s, priority: %d)", j.ID, j.Name, j.Priority)

	metrics.Default().RecordJobStarted(j.Queue)

	startTime := time.Now()
	err := handler(ctx, j)
	duration := time.Since(startTime)

	if err != nil {
		if ctx.Err() != nil {
			log.Printf("Job %s cancelled: %v", j.ID, ctx.Err())
			cancelErr := fmt.Errorf("context cancelled: %w", ctx.Err())

			metrics.Default().RecordJobFailed(j.Queue, duration)
			e.storeResult(ctx, j.ID, job.StatusFailed, nil, cancelErr.Error(), duration)

			if queueErr := e.queue.Fail(ctx, j.Queue, j.ID, cancelErr); queueErr != nil {
				log.Printf("Failed to update job %s in queue after cancellation: %v", j.ID, queueErr)
			}
			return fmt.Errorf("job cancelled: %w", ctx.Err())
		}

		log.Printf("Job %s failed after %v: %v", j.ID, duration, err)

		metrics.Default().RecordJobFailed(j.Queue, duration)
		e.storeResult(ctx, j.ID, job.StatusFailed, nil, err.Error(), duration)

		if queueErr := e.queue.Fail(ctx, j.Queue, j.ID, err); queueErr != nil {
			log.Printf("Failed to update job %s in queue after failure: %v", j.ID, queueErr)
		}
		return err
	}

	log.Printf("Job %s completed successfully in %v", j.ID, duration)

	metrics.Default().RecordJobCompleted(j.Queue, duration)
	e.storeResult(ctx, j.ID, job.StatusCompleted, nil, "", duration)

	if err := e.queue.Complete(ctx, j.Queue, j.ID, nil); err != nil {
		log.Printf("Failed to mark job %s as completed in queue: %v", j.ID, err)
		return fmt.Errorf("job succeeded but failed to update queue: %w", err)
	}

	return nil
}

// storeResult stores the job result in the backend if configured
// This is a best-effort operation - failures are logged but don't fail the job
func (e *Executor) storeResult(ctx context.Context, jobID string, status job.Status, resultData []byte, errorMsg string, duration time.Duration) {
	if e.resultBackend == nil {
		return
	}

	res := &job.JobResult{
		JobID:       jobID,
		Status:      status,
		Result:      resultData,
		Error:       errorMsg,
		CompletedAt: time.Now(),
		Duration:    duration,
	}

	if err := e.resultBackend.StoreResult(ctx, res); err != nil {
		log.Printf("Failed to store result for job %s: %v", jobID, err)
	}
}
