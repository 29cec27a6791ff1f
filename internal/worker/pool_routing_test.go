package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/muaviaUsmani/bananas/internal/job"
)

// TestPool_RoutingKeyFiltering verifies a pool configured with a specific
// RoutingKeys set only executes jobs carrying a matching routing key,
// silently skipping the rest instead of routing them to a different queue.
func TestPool_RoutingKeyFiltering(t *testing.T) {
	registry := NewRegistry()

	var processed []string
	var mu sync.Mutex

	registry.Register("process_image", func(ctx context.Context, j *job.Job) error {
		mu.Lock()
		processed = append(processed, j.RoutingKey)
		mu.Unlock()
		return nil
	})
	registry.Register("send_email", func(ctx context.Context, j *job.Job) error {
		mu.Lock()
		processed = append(processed, j.RoutingKey)
		mu.Unlock()
		return nil
	})

	gpuJob := job.NewJob("test", "process_image", []byte("{}"), job.Options{RoutingKey: "gpu"})
	emailJob := job.NewJob("test", "send_email", []byte("{}"), job.Options{})

	reader := newMockQueueReader([]*job.Job{gpuJob, emailJob})
	executor := NewExecutor(registry, reader, 1)

	cfg := testWorkerConfig(1)
	cfg.RoutingKeys = []string{"gpu"}
	pool := NewPool(executor, reader, cfg, 5*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool.Start(ctx)
	time.Sleep(300 * time.Millisecond)
	pool.Stop()

	mu.Lock()
	defer mu.Unlock()
	if len(processed) != 1 || processed[0] != "gpu" {
		t.Errorf("expected only the gpu-routed job processed, got %v", processed)
	}
}

// TestPool_MultipleRoutingKeysAcceptsAny verifies a pool handling several
// routing keys processes jobs carrying any of them.
func TestPool_MultipleRoutingKeysAcceptsAny(t *testing.T) {
	registry := NewRegistry()

	var processed []string
	var mu sync.Mutex

	handler := func(ctx context.Context, j *job.Job) error {
		mu.Lock()
		processed = append(processed, j.RoutingKey)
		mu.Unlock()
		return nil
	}
	registry.Register("process_image", handler)
	registry.Register("send_email", handler)

	gpuJob := job.NewJob("test", "process_image", []byte("{}"), job.Options{RoutingKey: "gpu"})
	defaultJob := job.NewJob("test", "send_email", []byte("{}"), job.Options{})

	reader := newMockQueueReader([]*job.Job{gpuJob, defaultJob})
	executor := NewExecutor(registry, reader, 2)

	cfg := testWorkerConfig(2)
	cfg.RoutingKeys = []string{"gpu", "default"}
	pool := NewPool(executor, reader, cfg, 5*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		count := len(processed)
		mu.Unlock()
		if count >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timeout waiting for both routed jobs to process")
		}
		time.Sleep(25 * time.Millisecond)
	}
	pool.Stop()

	mu.Lock()
	defer mu.Unlock()
	if len(processed) != 2 {
		t.Errorf("expected 2 jobs processed, got %d", len(processed))
	}
}
