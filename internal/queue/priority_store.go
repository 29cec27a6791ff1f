// Package queue implements the priority/delay store and job lifecycle
// state machine that back every named queue, plus the producer-facing
// Manager that composes them.
package queue

import (
	"context"
	"fmt"
	"time"

	bananaserrors "github.com/muaviaUsmani/bananas/internal/errors"
	"github.com/muaviaUsmani/bananas/internal/keycodec"
	"github.com/muaviaUsmani/bananas/internal/redisgw"
	"github.com/redis/go-redis/v9"
)

// ageWeight must exceed any realistic gap between two jobs' creation
// times within the same priority bucket, so that priority always
// dominates age in the composite score.
const ageWeight = float64(24 * time.Hour / time.Millisecond)

// maxPriority mirrors job.MaxPriority; duplicated as a constant here to
// keep priorityScore free of an import cycle back to package job isn't
// actually a risk, but the score formula reads clearer inlined.
const maxPriority = 20

// priorityScore computes the sorted-set score for a job: lower scores
// are claimed first. Within one priority level, ties break by age
// (earlier createdAt sorts first).
func priorityScore(prio int, createdAt time.Time) float64 {
	return float64(maxPriority-prio)*ageWeight + float64(createdAt.UnixMilli())
}

// PriorityStore owns the waiting/active/delayed sorted sets of every queue
// name; each method takes the queue it operates on.
type PriorityStore struct {
	gw    *redisgw.Gateway
	codec *keycodec.Codec
}

// NewPriorityStore creates a PriorityStore sharing gw and codec with the
// rest of the queue core.
func NewPriorityStore(gw *redisgw.Gateway, codec *keycodec.Codec) *PriorityStore {
	return &PriorityStore{gw: gw, codec: codec}
}

// EnqueueReady adds jobID to queue's waiting set at the given score.
func (s *PriorityStore) EnqueueReady(ctx context.Context, queue, jobID string, score float64) error {
	err := s.gw.Client.ZAdd(ctx, s.codec.WaitingKey(queue), redis.Z{Score: score, Member: jobID}).Err()
	if err != nil {
		return bananaserrors.Backend(fmt.Errorf("enqueue ready %s: %w", jobID, err))
	}
	return nil
}

// EnqueueDelayed adds jobID to queue's delayed set scored by notBefore.
func (s *PriorityStore) EnqueueDelayed(ctx context.Context, queue, jobID string, notBefore time.Time) error {
	err := s.gw.Client.ZAdd(ctx, s.codec.DelayedKey(queue), redis.Z{
		Score:  float64(notBefore.UnixMilli()),
		Member: jobID,
	}).Err()
	if err != nil {
		return bananaserrors.Backend(fmt.Errorf("enqueue delayed %s: %w", jobID, err))
	}
	return nil
}

// Peek returns up to n job IDs from the front of queue's waiting set
// without claiming them.
func (s *PriorityStore) Peek(ctx context.Context, queue string, n int64) ([]string, error) {
	ids, err := s.gw.Client.ZRange(ctx, s.codec.WaitingKey(queue), 0, n-1).Result()
	if err != nil {
		return nil, bananaerr(err, "peek %s", queue)
	}
	return ids, nil
}

// ClaimOne atomically removes the front-most job from queue's waiting set
// and inserts it into the active set scored by the claim time, retrying
// the race when another worker wins the ZREM. Returns "" with no error
// when the queue is empty.
func (s *PriorityStore) ClaimOne(ctx context.Context, queue string) (string, error) {
	waitingKey := s.codec.WaitingKey(queue)
	activeKey := s.codec.ActiveKey(queue)

	for {
		ids, err := s.gw.Client.ZRange(ctx, waitingKey, 0, 0).Result()
		if err != nil {
			return "", bananaerr(err, "claim range %s", queue)
		}
		if len(ids) == 0 {
			return "", nil
		}
		jobID := ids[0]

		removed, err := s.gw.Client.ZRem(ctx, waitingKey, jobID).Result()
		if err != nil {
			return "", bananaerr(err, "claim rem %s", queue)
		}
		if removed == 0 {
			// Another worker claimed jobID first; retry the range read.
			select {
			case <-ctx.Done():
				return "", bananaerrors.Cancelled(ctx.Err())
			default:
			}
			continue
		}

		now := float64(time.Now().UnixMilli())
		if err := s.gw.Client.ZAdd(ctx, activeKey, redis.Z{Score: now, Member: jobID}).Err(); err != nil {
			return "", bananaerr(err, "claim activate %s", queue)
		}
		return jobID, nil
	}
}

// ReleaseActive removes jobID from queue's active set, used once a job
// completes, fails permanently, or is rescheduled for retry.
func (s *PriorityStore) ReleaseActive(ctx context.Context, queue, jobID string) error {
	if err := s.gw.Client.ZRem(ctx, s.codec.ActiveKey(queue), jobID).Err(); err != nil {
		return bananaerr(err, "release active %s", queue)
	}
	return nil
}

// PromoteDue moves every job in queue's delayed set whose notBefore has
// passed into the waiting set at its recomputed priority score. Returns
// the IDs moved.
func (s *PriorityStore) PromoteDue(ctx context.Context, queue string, now time.Time, scoreOf func(jobID string) (float64, bool)) ([]string, error) {
	delayedKey := s.codec.DelayedKey(queue)
	waitingKey := s.codec.WaitingKey(queue)

	due, err := s.gw.Client.ZRangeByScore(ctx, delayedKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now.UnixMilli()),
	}).Result()
	if err != nil {
		return nil, bananaerr(err, "promote scan %s", queue)
	}
	if len(due) == 0 {
		return nil, nil
	}

	moved := make([]string, 0, len(due))
	err = s.gw.Pipeline(ctx, func(p redis.Pipeliner) error {
		for _, jobID := range due {
			score, ok := scoreOf(jobID)
			if !ok {
				// Job record missing; drop the stale delayed-set entry.
				p.ZRem(ctx, delayedKey, jobID)
				continue
			}
			p.ZRem(ctx, delayedKey, jobID)
			p.ZAdd(ctx, waitingKey, redis.Z{Score: score, Member: jobID})
			moved = append(moved, jobID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return moved, nil
}

// StalledActive returns active-set jobIDs claimed before the cutoff,
// i.e. candidates for stalled-job recovery.
func (s *PriorityStore) StalledActive(ctx context.Context, queue string, cutoff time.Time) ([]string, error) {
	ids, err := s.gw.Client.ZRangeByScore(ctx, s.codec.ActiveKey(queue), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", cutoff.UnixMilli()),
	}).Result()
	if err != nil {
		return nil, bananaerr(err, "stalled scan %s", queue)
	}
	return ids, nil
}

// RequeueStalled moves jobID from the active set back into the waiting
// set at score, in one pipeline.
func (s *PriorityStore) RequeueStalled(ctx context.Context, queue, jobID string, score float64) error {
	return s.gw.Pipeline(ctx, func(p redis.Pipeliner) error {
		p.ZRem(ctx, s.codec.ActiveKey(queue), jobID)
		p.ZAdd(ctx, s.codec.WaitingKey(queue), redis.Z{Score: score, Member: jobID})
		return nil
	})
}

// RemoveFromAll removes jobID from queue's waiting, active, and delayed
// sets, used when a job is cancelled outright. Returns the number of sets
// jobID was actually removed from, so a racing claim (which empties the
// waiting set first) can still be observed as a successful removal from
// the active set.
func (s *PriorityStore) RemoveFromAll(ctx context.Context, queue, jobID string) (int64, error) {
	var waitingRem, activeRem, delayedRem *redis.IntCmd
	err := s.gw.Pipeline(ctx, func(p redis.Pipeliner) error {
		waitingRem = p.ZRem(ctx, s.codec.WaitingKey(queue), jobID)
		activeRem = p.ZRem(ctx, s.codec.ActiveKey(queue), jobID)
		delayedRem = p.ZRem(ctx, s.codec.DelayedKey(queue), jobID)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return waitingRem.Val() + activeRem.Val() + delayedRem.Val(), nil
}

// Depths returns the waiting, active, and delayed set sizes for queue.
func (s *PriorityStore) Depths(ctx context.Context, queue string) (waiting, active, delayed int64, err error) {
	waiting, err = s.gw.Client.ZCard(ctx, s.codec.WaitingKey(queue)).Result()
	if err != nil {
		return 0, 0, 0, bananaerr(err, "depth waiting %s", queue)
	}
	active, err = s.gw.Client.ZCard(ctx, s.codec.ActiveKey(queue)).Result()
	if err != nil {
		return 0, 0, 0, bananaerr(err, "depth active %s", queue)
	}
	delayed, err = s.gw.Client.ZCard(ctx, s.codec.DelayedKey(queue)).Result()
	if err != nil {
		return 0, 0, 0, bananaerr(err, "depth delayed %s", queue)
	}
	return waiting, active, delayed, nil
}

func bananaerr(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return bananaerrors.Backend(fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err))
}
