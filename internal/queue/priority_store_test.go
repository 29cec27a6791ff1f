package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/muaviaUsmani/bananas/internal/keycodec"
	"github.com/muaviaUsmani/bananas/internal/redisgw"
	"github.com/redis/go-redis/v9"
)

func setupStore(t *testing.T) (*PriorityStore, *keycodec.Codec, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	codec := keycodec.New("bananas:")
	return NewPriorityStore(redisgw.FromClient(client), codec), codec, mr
}

// S1 priority ordering: J1(prio=5), J2(prio=10), J3(prio=5) enqueued in
// order; single ClaimOne loop must yield J2, J1, J3.
func TestClaimOne_PriorityOrdering(t *testing.T) {
	store, _, mr := setupStore(t)
	defer mr.Close()

	ctx := context.Background()
	base := time.Now()

	must(t, store.EnqueueReady(ctx, "q", "j1", priorityScore(5, base)))
	must(t, store.EnqueueReady(ctx, "q", "j2", priorityScore(10, base.Add(time.Millisecond))))
	must(t, store.EnqueueReady(ctx, "q", "j3", priorityScore(5, base.Add(2*time.Millisecond))))

	order := claimAll(t, store, ctx, "q", 3)
	want := []string{"j2", "j1", "j3"}
	for i, id := range want {
		if order[i] != id {
			t.Errorf("claim %d: expected %s, got %s (full order %v)", i, id, order[i], order)
		}
	}
}

// S2-adjacent: equal priority, FIFO by age.
func TestClaimOne_FIFOWithinPriority(t *testing.T) {
	store, _, mr := setupStore(t)
	defer mr.Close()

	ctx := context.Background()
	base := time.Now()

	must(t, store.EnqueueReady(ctx, "q", "first", priorityScore(5, base)))
	must(t, store.EnqueueReady(ctx, "q", "second", priorityScore(5, base.Add(time.Millisecond))))

	order := claimAll(t, store, ctx, "q", 2)
	if order[0] != "first" || order[1] != "second" {
		t.Errorf("expected FIFO order [first second], got %v", order)
	}
}

func TestClaimOne_EmptyQueueReturnsEmptyString(t *testing.T) {
	store, _, mr := setupStore(t)
	defer mr.Close()

	id, err := store.ClaimOne(context.Background(), "empty")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "" {
		t.Errorf("expected empty string for empty queue, got %q", id)
	}
}

func TestClaimOne_MovesToActiveSet(t *testing.T) {
	store, codec, mr := setupStore(t)
	defer mr.Close()

	ctx := context.Background()
	must(t, store.EnqueueReady(ctx, "q", "j1", priorityScore(5, time.Now())))

	id, err := store.ClaimOne(ctx, "q")
	if err != nil || id != "j1" {
		t.Fatalf("expected to claim j1, got %q err %v", id, err)
	}

	if card, _ := store.gw.Client.ZCard(ctx, codec.WaitingKey("q")).Result(); card != 0 {
		t.Errorf("expected waiting set empty, got %d", card)
	}
	if card, _ := store.gw.Client.ZCard(ctx, codec.ActiveKey("q")).Result(); card != 1 {
		t.Errorf("expected active set to contain 1 entry, got %d", card)
	}
}

// S2 delayed job promotion: a job enqueued with a delay becomes claimable
// only after PromoteDue runs past its notBefore time.
func TestPromoteDue_MovesDueDelayedJobsToWaiting(t *testing.T) {
	store, _, mr := setupStore(t)
	defer mr.Close()

	ctx := context.Background()
	notBefore := time.Now().Add(-time.Second) // already due
	must(t, store.EnqueueDelayed(ctx, "q", "delayed1", notBefore))

	scoreOf := func(jobID string) (float64, bool) {
		return priorityScore(10, notBefore), true
	}

	moved, err := store.PromoteDue(ctx, "q", time.Now(), scoreOf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(moved) != 1 || moved[0] != "delayed1" {
		t.Fatalf("expected [delayed1] moved, got %v", moved)
	}

	id, err := store.ClaimOne(ctx, "q")
	if err != nil || id != "delayed1" {
		t.Fatalf("expected to claim delayed1 after promotion, got %q err %v", id, err)
	}
}

func TestPromoteDue_SkipsNotYetDueJobs(t *testing.T) {
	store, _, mr := setupStore(t)
	defer mr.Close()

	ctx := context.Background()
	notBefore := time.Now().Add(time.Hour)
	must(t, store.EnqueueDelayed(ctx, "q", "future", notBefore))

	moved, err := store.PromoteDue(ctx, "q", time.Now(), func(string) (float64, bool) { return 0, true })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(moved) != 0 {
		t.Errorf("expected no jobs promoted, got %v", moved)
	}
}

func TestStalledActive_ReturnsOnlyJobsOlderThanCutoff(t *testing.T) {
	store, codec, mr := setupStore(t)
	defer mr.Close()

	ctx := context.Background()
	old := time.Now().Add(-time.Hour)
	must(t, store.gw.Client.ZAdd(ctx, codec.ActiveKey("q"), redis.Z{Score: float64(old.UnixMilli()), Member: "stalled1"}).Err())
	must(t, store.gw.Client.ZAdd(ctx, codec.ActiveKey("q"), redis.Z{Score: float64(time.Now().UnixMilli()), Member: "fresh1"}).Err())

	ids, err := store.StalledActive(ctx, "q", time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ids) != 1 || ids[0] != "stalled1" {
		t.Errorf("expected [stalled1], got %v", ids)
	}
}

func TestRequeueStalled_MovesActiveToWaiting(t *testing.T) {
	store, codec, mr := setupStore(t)
	defer mr.Close()

	ctx := context.Background()
	must(t, store.gw.Client.ZAdd(ctx, codec.ActiveKey("q"), redis.Z{Score: 1, Member: "j1"}).Err())

	if err := store.RequeueStalled(ctx, "q", "j1", priorityScore(10, time.Now())); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if card, _ := store.gw.Client.ZCard(ctx, codec.ActiveKey("q")).Result(); card != 0 {
		t.Errorf("expected active set empty, got %d", card)
	}
	if card, _ := store.gw.Client.ZCard(ctx, codec.WaitingKey("q")).Result(); card != 1 {
		t.Errorf("expected waiting set to contain 1 entry, got %d", card)
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func claimAll(t *testing.T, store *PriorityStore, ctx context.Context, queue string, n int) []string {
	t.Helper()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id, err := store.ClaimOne(ctx, queue)
		if err != nil {
			t.Fatalf("claim %d failed: %v", i, err)
		}
		ids = append(ids, id)
	}
	return ids
}
