// Package redisgw owns all direct Redis access for the queue core: pool
// configuration, pipelines, and pub/sub. Every component that touches Redis
// goes through a Gateway so tests can point it at miniredis.
package redisgw

import (
	"context"
	"errors"
	"fmt"
	"time"

	bananaserrors "github.com/muaviaUsmani/bananas/internal/errors"
	"github.com/redis/go-redis/v9"
)

// Config holds the Redis connection options the gateway dials with.
type Config struct {
	Host             string
	Port             int
	Password         string
	DB               int
	KeyPrefix        string
	PoolMin          int
	PoolMax          int
	AcquireTimeoutMs int
	CommandTimeoutMs int
}

// DefaultConfig returns pool settings tuned for a multi-worker,
// multi-producer workload.
func DefaultConfig() Config {
	return Config{
		Host:             "localhost",
		Port:             6379,
		DB:               0,
		KeyPrefix:        "bananas:",
		PoolMin:          5,
		PoolMax:          50,
		AcquireTimeoutMs: 5000,
		CommandTimeoutMs: 10000,
	}
}

// Gateway wraps a *redis.Client with the bounded pool and typed-error
// translation every other component relies on.
type Gateway struct {
	Client *redis.Client
}

// New dials Redis using cfg and verifies the connection with PING.
func New(ctx context.Context, cfg Config) (*Gateway, error) {
	opts := &redis.Options{
		Addr:            fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:        cfg.Password,
		DB:              cfg.DB,
		PoolSize:        cfg.PoolMax,
		MinIdleConns:    cfg.PoolMin,
		PoolTimeout:     time.Duration(cfg.AcquireTimeoutMs) * time.Millisecond,
		DialTimeout:     5 * time.Second,
		ReadTimeout:     time.Duration(cfg.CommandTimeoutMs) * time.Millisecond,
		WriteTimeout:    3 * time.Second,
		ConnMaxIdleTime: 10 * time.Minute,
		MaxRetries:      3,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 512 * time.Millisecond,
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, bananaserrors.Backend(fmt.Errorf("connect to redis: %w", err))
	}

	return &Gateway{Client: client}, nil
}

// FromClient wraps an already-constructed *redis.Client (used by tests
// pointing the gateway at miniredis).
func FromClient(client *redis.Client) *Gateway {
	return &Gateway{Client: client}
}

// Pipeline runs fn against a new (non-transactional) pipeline and executes
// it, translating transport/command failures into errors.Backend and pool
// exhaustion into errors.ResourceExhausted. Commands queued this way are
// batched into one round trip but aren't guaranteed atomic against a
// concurrent client.
func (g *Gateway) Pipeline(ctx context.Context, fn func(redis.Pipeliner) error) error {
	pipe := g.Client.Pipeline()
	if err := fn(pipe); err != nil {
		return err
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return translate(err)
	}
	return nil
}

// Multi runs fn against a MULTI/EXEC transaction, so the queued commands
// either all apply or none do. Used where two writes (e.g. a job record
// and its queue-membership entry) must become visible to other clients
// together.
func (g *Gateway) Multi(ctx context.Context, fn func(redis.Pipeliner) error) error {
	_, err := g.Client.TxPipelined(ctx, fn)
	if err != nil && !errors.Is(err, redis.Nil) {
		return translate(err)
	}
	return nil
}

// Publish publishes msg on channel.
func (g *Gateway) Publish(ctx context.Context, channel string, msg interface{}) error {
	if err := g.Client.Publish(ctx, channel, msg).Err(); err != nil {
		return translate(err)
	}
	return nil
}

// Subscribe subscribes to channel and returns the underlying PubSub handle.
// Callers are responsible for closing it.
func (g *Gateway) Subscribe(ctx context.Context, channel string) *redis.PubSub {
	return g.Client.Subscribe(ctx, channel)
}

// Ping checks Redis reachability and reports round-trip latency.
func (g *Gateway) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := g.Client.Ping(ctx).Err(); err != nil {
		return 0, translate(err)
	}
	return time.Since(start), nil
}

// Close closes the underlying connection pool.
func (g *Gateway) Close() error {
	return g.Client.Close()
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return bananaserrors.Timeout("redis command timed out: %v", err)
	}
	if errors.Is(err, context.Canceled) {
		return bananaserrors.Cancelled(err)
	}
	if errors.Is(err, redis.ErrPoolTimeout) {
		return bananaserrors.ResourceExhausted("redis connection pool exhausted: %v", err)
	}
	return bananaserrors.Backend(err)
}
