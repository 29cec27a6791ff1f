package queue

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/muaviaUsmani/bananas/internal/job"
	"github.com/muaviaUsmani/bananas/internal/keycodec"
	"github.com/muaviaUsmani/bananas/internal/redisgw"
	"github.com/muaviaUsmani/bananas/internal/retry"
	"github.com/redis/go-redis/v9"
)

func setupBenchManager(b *testing.B) (*Manager, *miniredis.Miniredis) {
	b.Helper()
	mr := miniredis.RunT(b)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	codec := keycodec.New("bananas:")
	m := NewManager(redisgw.FromClient(client), codec, retry.NewPolicy())
	if err := m.RegisterQueue(DefaultConfig("bench")); err != nil {
		b.Fatalf("register queue: %v", err)
	}
	return m, mr
}

// BenchmarkEnqueue measures Enqueue's sorted-set insert plus job-hash write.
func BenchmarkEnqueue(b *testing.B) {
	m, mr := setupBenchManager(b)
	defer mr.Close()
	ctx := context.Background()
	payload, _ := json.Marshal(map[string]string{"test": "data"})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := m.Enqueue(ctx, "bench", "test_job", payload, job.Options{}); err != nil {
			b.Fatalf("enqueue: %v", err)
		}
	}
}

// BenchmarkClaimOne measures claim throughput against a pre-populated queue.
func BenchmarkClaimOne(b *testing.B) {
	m, mr := setupBenchManager(b)
	defer mr.Close()
	ctx := context.Background()
	payload, _ := json.Marshal(map[string]string{"test": "data"})

	for i := 0; i < b.N; i++ {
		if _, err := m.Enqueue(ctx, "bench", "test_job", payload, job.Options{}); err != nil {
			b.Fatalf("enqueue: %v", err)
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := m.Priority().ClaimOne(ctx, "bench"); err != nil {
			b.Fatalf("claim: %v", err)
		}
	}
}

// BenchmarkCompleteAndFail measures the two terminal-transition paths.
func BenchmarkCompleteAndFail(b *testing.B) {
	m, mr := setupBenchManager(b)
	defer mr.Close()
	ctx := context.Background()
	payload, _ := json.Marshal(map[string]string{"test": "data"})

	ids := make([]string, b.N)
	for i := 0; i < b.N; i++ {
		id, err := m.Enqueue(ctx, "bench", "test_job", payload, job.Options{})
		if err != nil {
			b.Fatalf("enqueue: %v", err)
		}
		if _, err := m.Priority().ClaimOne(ctx, "bench"); err != nil {
			b.Fatalf("claim: %v", err)
		}
		ids[i] = id
	}

	b.ResetTimer()
	for i, id := range ids {
		var err error
		if i%2 == 0 {
			err = m.Complete(ctx, "bench", id, nil)
		} else {
			err = m.Fail(ctx, "bench", id, errBenchFailure)
		}
		if err != nil {
			b.Fatalf("resolve job: %v", err)
		}
	}
}

// BenchmarkQueueDepth_* measure claim latency at increasing backlog depths,
// since ZRANGE cost scales with the waiting set size.
func BenchmarkQueueDepth_1000(b *testing.B)  { benchmarkQueueDepth(b, 1000) }
func BenchmarkQueueDepth_10000(b *testing.B) { benchmarkQueueDepth(b, 10000) }

func benchmarkQueueDepth(b *testing.B, depth int) {
	m, mr := setupBenchManager(b)
	defer mr.Close()
	ctx := context.Background()
	payload, _ := json.Marshal(map[string]string{"test": "data"})

	for i := 0; i < depth; i++ {
		if _, err := m.Enqueue(ctx, "bench", "test_job", payload, job.Options{}); err != nil {
			b.Fatalf("enqueue: %v", err)
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N && i < depth; i++ {
		if _, err := m.Priority().ClaimOne(ctx, "bench"); err != nil {
			b.Fatalf("claim: %v", err)
		}
	}
}

var errBenchFailure = benchError("benchmark failure")

type benchError string

func (e benchError) Error() string { return string(e) }
