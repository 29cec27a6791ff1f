package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/muaviaUsmani/bananas/internal/job"
	"github.com/muaviaUsmani/bananas/internal/keycodec"
	"github.com/muaviaUsmani/bananas/internal/queue"
	"github.com/muaviaUsmani/bananas/internal/redisgw"
	"github.com/muaviaUsmani/bananas/internal/result"
	"github.com/muaviaUsmani/bananas/internal/retry"
	"github.com/redis/go-redis/v9"
)

// parseGatewayConfig turns a redis:// URL into a redisgw.Config, keeping
// the gateway's pool tuning defaults intact.
func parseGatewayConfig(redisURL string) (redisgw.Config, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return redisgw.Config{}, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	gwCfg := redisgw.DefaultConfig()
	host, port := opts.Addr, 6379
	if idx := strings.LastIndex(opts.Addr, ":"); idx != -1 {
		host = opts.Addr[:idx]
		if p, err := strconv.Atoi(opts.Addr[idx+1:]); err == nil {
			port = p
		}
	}
	gwCfg.Host = host
	gwCfg.Port = port
	gwCfg.Password = opts.Password
	gwCfg.DB = opts.DB
	return gwCfg, nil
}

// Client provides a simple API for submitting and managing jobs across one
// or more named queues.
type Client struct {
	gw            *redisgw.Gateway
	manager       *queue.Manager
	resultBackend result.Backend
}

// NewClient creates a new job client connected to Redis. The result
// backend is enabled by default with standard TTLs (1h success, 24h failure).
func NewClient(redisURL string) (*Client, error) {
	return NewClientWithConfig(redisURL, 1*time.Hour, 24*time.Hour)
}

// NewClientWithConfig creates a new job client with custom result backend TTLs.
func NewClientWithConfig(redisURL string, successTTL, failureTTL time.Duration) (*Client, error) {
	gwCfg, err := parseGatewayConfig(redisURL)
	if err != nil {
		return nil, err
	}

	gw, err := redisgw.New(context.Background(), gwCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	codec := keycodec.New(gwCfg.KeyPrefix)
	manager := queue.NewManager(gw, codec, retry.NewPolicy())
	resultBackend := result.NewRedisBackend(gw, codec, successTTL, failureTTL)

	return &Client{
		gw:            gw,
		manager:       manager,
		resultBackend: resultBackend,
	}, nil
}

// RegisterQueue registers cfg with the underlying Manager, required before
// submitting to a queue name for the first time.
func (c *Client) RegisterQueue(cfg queue.Config) error {
	return c.manager.RegisterQueue(cfg)
}

// SubmitJob creates and submits a new job with the given parameters. The
// payload will be marshaled to JSON automatically. Returns the job ID on
// success.
func (c *Client) SubmitJob(ctx context.Context, queueName, name string, payload interface{}, opts job.Options) (string, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}

	id, err := c.manager.Enqueue(ctx, queueName, name, payloadBytes, opts)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}
	return id, nil
}

// SubmitJobWithRoute creates and submits a new job with a specific routing
// key. The routing key determines which workers will process this job.
func (c *Client) SubmitJobWithRoute(ctx context.Context, queueName, name string, payload interface{}, routingKey string, opts job.Options) (string, error) {
	if err := job.ValidateRoutingKey(routingKey); err != nil {
		return "", fmt.Errorf("invalid routing key: %w", err)
	}
	opts.RoutingKey = routingKey
	return c.SubmitJob(ctx, queueName, name, payload, opts)
}

// SubmitJobScheduled creates and submits a new job scheduled for future
// execution, delayed until scheduledFor.
func (c *Client) SubmitJobScheduled(ctx context.Context, queueName, name string, payload interface{}, scheduledFor time.Time, opts job.Options) (string, error) {
	delay := time.Until(scheduledFor)
	if delay < 0 {
		delay = 0
	}
	opts.DelayMs = delay.Milliseconds()
	return c.SubmitJob(ctx, queueName, name, payload, opts)
}

// GetJob retrieves a job by its ID from Redis.
func (c *Client) GetJob(ctx context.Context, queueName, jobID string) (*job.Job, error) {
	j, err := c.manager.GetJob(ctx, queueName, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return j, nil
}

// CancelJob removes a job from queueName regardless of its current state.
// Reports whether a job was actually removed.
func (c *Client) CancelJob(ctx context.Context, queueName, jobID string) (bool, error) {
	return c.manager.Cancel(ctx, queueName, jobID)
}

// RetryJob resets a failed job back to pending. Reports false, with no
// error, if jobID isn't currently in the failed state.
func (c *Client) RetryJob(ctx context.Context, queueName, jobID string) (bool, error) {
	return c.manager.Retry(ctx, queueName, jobID)
}

// Stats returns a point-in-time snapshot of queueName's counts.
func (c *Client) Stats(ctx context.Context, queueName string) (queue.Stats, error) {
	return c.manager.Stats(ctx, queueName)
}

// GetResult retrieves the result of a completed job by its ID. Returns nil
// if the job hasn't completed yet or if the result has expired.
func (c *Client) GetResult(ctx context.Context, jobID string) (*job.JobResult, error) {
	result, err := c.resultBackend.GetResult(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to get result: %w", err)
	}
	return result, nil
}

// SubmitAndWait submits a job and blocks until it completes or timeout is
// reached. This is a convenience method for RPC-style task execution.
func (c *Client) SubmitAndWait(ctx context.Context, queueName, name string, payload interface{}, opts job.Options, timeout time.Duration) (*job.JobResult, error) {
	jobID, err := c.SubmitJob(ctx, queueName, name, payload, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to submit job: %w", err)
	}

	result, err := c.resultBackend.WaitForResult(ctx, jobID, timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to wait for result: %w", err)
	}

	if result == nil {
		return nil, fmt.Errorf("job did not complete within timeout of %v", timeout)
	}

	return result, nil
}

// Close closes the Redis connections.
func (c *Client) Close() error {
	var resultErr error
	if c.resultBackend != nil {
		resultErr = c.resultBackend.Close()
	}
	if c.gw != nil && c.gw.Client != nil {
		if err := c.gw.Client.Close(); err != nil && resultErr == nil {
			resultErr = err
		}
	}
	return resultErr
}
