package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/muaviaUsmani/bananas/internal/config"
	bananaerrors "github.com/muaviaUsmani/bananas/internal/errors"
	"github.com/muaviaUsmani/bananas/internal/job"
	"github.com/muaviaUsmani/bananas/internal/logger"
	"github.com/muaviaUsmani/bananas/internal/metrics"
	"github.com/muaviaUsmani/bananas/internal/queue"
)

// QueueReader is the subset of queue.Manager the worker pool needs to
// claim, complete, fail, and periodically service jobs across its
// configured queues.
type QueueReader interface {
	ClaimOne(ctx context.Context, q string) (string, error)
	GetJob(ctx context.Context, q, jobID string) (*job.Job, error)
	Complete(ctx context.Context, q, jobID string, result json.RawMessage) error
	Fail(ctx context.Context, q, jobID string, causeErr error) error
	PromoteDelayed(ctx context.Context, q string) ([]string, error)
	RecoverStalled(ctx context.Context, q string, cutoff time.Time) error
	Config(q string) (queue.Config, error)
}

// Pool manages a pool of workers that claim and process jobs from one or
// more named queues
type Pool struct {
	executor      *Executor
	queue         QueueReader
	workerConfig  *config.WorkerConfig
	jobTimeout    time.Duration
	wg            sync.WaitGroup
	stopChan      chan struct{}
	activeWorkers atomic.Int64

	claimRetryBackoff time.Duration
	maxRetryBackoff   time.Duration
}

// NewPool creates a worker pool claiming from workerConfig.Queues with the
// given job timeout.
func NewPool(executor *Executor, q QueueReader, workerConfig *config.WorkerConfig, jobTimeout time.Duration) *Pool {
	return &Pool{
		executor:          executor,
		queue:             q,
		workerConfig:      workerConfig,
		jobTimeout:        jobTimeout,
		claimRetryBackoff: time.Second,
		maxRetryBackoff:   30 * time.Second,
		stopChan:          make(chan struct{}),
	}
}

// Start begins processing jobs from the queue with the configured concurrency
func (p *Pool) Start(ctx context.Context) {
	logger.Info("Starting worker pool",
		"mode", p.workerConfig.Mode,
		"workers", p.workerConfig.Concurrency,
		"queues", p.workerConfig.Queues,
		"scheduler_enabled", p.workerConfig.EnableScheduler)

	logger.Info("Worker configuration", "config", p.workerConfig.String())

	if p.workerConfig.Mode != config.WorkerModeSchedulerOnly {
		for i := 0; i < p.workerConfig.Concurrency; i++ {
			p.wg.Add(1)
			go p.worker(ctx, i+1)
		}
	}

	if p.workerConfig.EnableScheduler {
		p.wg.Add(2)
		go p.promotionLoop(ctx)
		go p.stalledRecoveryLoop(ctx)
	}

	logger.Info("Worker pool started successfully")
}

// Stop gracefully shuts down the worker pool with a 30-second timeout
func (p *Pool) Stop() {
	logger.Info("Stopping worker pool")
	close(p.stopChan)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("Worker pool stopped gracefully")
	case <-time.After(30 * time.Second):
		logger.Warn("Worker pool shutdown timed out", "timeout", "30s")
	}
}

// worker is the main loop for each worker goroutine
func (p *Pool) worker(ctx context.Context, workerID int) {
	defer p.wg.Done()
	defer bananaerrors.Recover(func(pe *bananaerrors.PanicError) {
		logger.Error("Worker recovered from panic - worker will be terminated",
			"worker_id", workerID, "detail", bananaerrors.FormatPanicForLog(pe))
	})

	workerCtx := context.WithValue(ctx, workerIDKey{}, fmt.Sprintf("worker-%d", workerID))

	logger.Info("Worker started", "worker_id", workerID)

	consecutiveFailures := 0
	currentBackoff := time.Second

	for {
		select {
		case <-p.stopChan:
			logger.Info("Worker stopping", "worker_id", workerID)
			return
		case <-workerCtx.Done():
			logger.Info("Worker stopping due to context cancellation", "worker_id", workerID)
			return
		default:
			j, err := p.claimNext(workerCtx)
			if err != nil {
				if workerCtx.Err() != nil {
					logger.Info("Worker stopping due to context cancellation", "worker_id", workerID)
					return
				}

				consecutiveFailures++
				currentBackoff = time.Duration(1<<uint(consecutiveFailures)) * time.Second
				if currentBackoff > p.maxRetryBackoff {
					currentBackoff = p.maxRetryBackoff
				}

				if consecutiveFailures <= 3 {
					logger.Warn("Redis connection error - retrying with backoff",
						"worker_id", workerID, "error", err,
						"consecutive_failures", consecutiveFailures, "backoff", currentBackoff)
				} else if consecutiveFailures%10 == 0 {
					logger.Error("Persistent Redis connection errors",
						"worker_id", workerID, "error", err,
						"consecutive_failures", consecutiveFailures, "backoff", currentBackoff)
				}

				time.Sleep(currentBackoff)
				continue
			}

			if consecutiveFailures > 0 {
				logger.Info("Redis connection recovered", "worker_id", workerID, "after_failures", consecutiveFailures)
				consecutiveFailures = 0
				currentBackoff = time.Second
			}

			if j == nil {
				time.Sleep(100 * time.Millisecond)
				continue
			}

			if !p.workerConfig.ShouldProcessJob(j) {
				logger.Debug("Skipping job due to routing/job-type filter",
					"worker_id", workerID, "job_id", j.ID, "job_name", j.Name,
					"routing_key", j.RoutingKey)
				continue
			}

			p.executeWithTimeout(workerCtx, workerID, j)
		}
	}
}

type workerIDKey struct{}

// claimNext polls each configured queue in order and returns the first job
// claimed, or nil if every queue is currently empty.
func (p *Pool) claimNext(ctx context.Context) (*job.Job, error) {
	for _, q := range p.workerConfig.Queues {
		jobID, err := p.queue.ClaimOne(ctx, q)
		if err != nil {
			return nil, err
		}
		if jobID == "" {
			continue
		}
		return p.queue.GetJob(ctx, q, jobID)
	}
	return nil, nil
}

// executeWithTimeout executes a job with the configured timeout
func (p *Pool) executeWithTimeout(ctx context.Context, workerID int, j *job.Job) {
	active := p.activeWorkers.Add(1)
	defer func() {
		active = p.activeWorkers.Add(-1)
		metrics.Default().RecordWorkerActivity(active, int64(p.workerConfig.Concurrency))
	}()

	metrics.Default().RecordWorkerActivity(active, int64(p.workerConfig.Concurrency))

	jobCtx := context.WithValue(ctx, jobIDKey{}, j.ID)
	jobCtx, cancel := context.WithTimeout(jobCtx, p.jobTimeout)
	defer cancel()

	jobLogger := logger.Default().WithSource(logger.LogSourceJob)

	defer bananaerrors.Recover(func(pe *bananaerrors.PanicError) {
		jobLogger.ErrorContext(jobCtx, "Job panicked - marking as failed",
			"worker_id", workerID, "job_id", j.ID, "job_name", j.Name,
			"detail", bananaerrors.FormatPanicForLog(pe))

		if failErr := p.queue.Fail(ctx, j.Queue, j.ID, pe); failErr != nil {
			logger.Error("Failed to mark panicked job as failed",
				"worker_id", workerID, "job_id", j.ID, "error", failErr)
		}

		metrics.Default().RecordJobFailed(j.Queue, 0)
	})

	jobLogger.InfoContext(jobCtx, "Processing job", "worker_id", workerID, "job_id", j.ID, "job_name", j.Name, "priority", j.Priority)

	if err := p.executor.ExecuteJob(jobCtx, j); err != nil {
		jobLogger.ErrorContext(jobCtx, "Job failed", "worker_id", workerID, "job_id", j.ID, "error", err)
	} else {
		jobLogger.InfoContext(jobCtx, "Job completed", "worker_id", workerID, "job_id", j.ID)
	}
}

type jobIDKey struct{}

// promotionLoop periodically moves due delayed jobs into each configured
// queue's waiting set.
func (p *Pool) promotionLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.workerConfig.PromotionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, q := range p.workerConfig.Queues {
				if _, err := p.queue.PromoteDelayed(ctx, q); err != nil {
					logger.Warn("Failed to promote delayed jobs", "queue", q, "error", err)
				}
			}
		}
	}
}

// stalledRecoveryLoop periodically requeues active jobs claimed longer ago
// than their queue's configured stalled interval.
func (p *Pool) stalledRecoveryLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.workerConfig.StalledCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, q := range p.workerConfig.Queues {
				cfg, err := p.queue.Config(q)
				if err != nil {
					logger.Warn("Failed to load queue config for stalled recovery", "queue", q, "error", err)
					continue
				}
				cutoff := time.Now().Add(-cfg.StalledInterval())
				if err := p.queue.RecoverStalled(ctx, q, cutoff); err != nil {
					logger.Warn("Failed to recover stalled jobs", "queue", q, "error", err)
				}
			}
		}
	}
}
