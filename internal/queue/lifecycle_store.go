package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bananaserrors "github.com/muaviaUsmani/bananas/internal/errors"
	"github.com/muaviaUsmani/bananas/internal/job"
	"github.com/muaviaUsmani/bananas/internal/keycodec"
	"github.com/muaviaUsmani/bananas/internal/redisgw"
	"github.com/redis/go-redis/v9"
)

// LifecycleStore owns the Q:jobs hash and the retained completed/failed
// sets and dead-letter sets for every queue, implementing the state
// transition table: pending/delayed -> active -> completed|failed|delayed.
type LifecycleStore struct {
	gw              *redisgw.Gateway
	codec           *keycodec.Codec
	completedJobTTL time.Duration
	failedJobTTL    time.Duration
}

// NewLifecycleStore creates a LifecycleStore with the default retention
// windows (24h for completed jobs, 7 days for failed ones).
func NewLifecycleStore(gw *redisgw.Gateway, codec *keycodec.Codec) *LifecycleStore {
	return &LifecycleStore{
		gw:              gw,
		codec:           codec,
		completedJobTTL: 24 * time.Hour,
		failedJobTTL:    7 * 24 * time.Hour,
	}
}

// Put stores j's current state in queue's jobs hash.
func (s *LifecycleStore) Put(ctx context.Context, j *job.Job) error {
	data, err := json.Marshal(j)
	if err != nil {
		return bananaserrors.Serialization(fmt.Errorf("marshal job %s: %w", j.ID, err))
	}
	if err := s.gw.Client.HSet(ctx, s.codec.JobsKey(j.Queue), j.ID, data).Err(); err != nil {
		return bananaerr(err, "put job %s", j.ID)
	}
	return nil
}

// Get fetches a job record by ID from queue's jobs hash.
func (s *LifecycleStore) Get(ctx context.Context, queue, jobID string) (*job.Job, error) {
	data, err := s.gw.Client.HGet(ctx, s.codec.JobsKey(queue), jobID).Result()
	if err == redis.Nil {
		return nil, bananaserrors.NotFound("job %s not found in queue %s", jobID, queue)
	}
	if err != nil {
		return nil, bananaerr(err, "get job %s", jobID)
	}

	var j job.Job
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, bananaserrors.Serialization(fmt.Errorf("unmarshal job %s: %w", jobID, err))
	}
	return &j, nil
}

// MarkActive records a fresh claim: increments AttemptsMade, sets
// ProcessedOn and status to active. Called once PriorityStore.ClaimOne has
// already moved jobID into the active set, so every claim (not just a
// terminal failure) advances the attempt count.
func (s *LifecycleStore) MarkActive(ctx context.Context, queue, jobID string) (*job.Job, error) {
	j, err := s.Get(ctx, queue, jobID)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	j.AttemptsMade++
	j.ProcessedOn = &now
	j.UpdateStatus(job.StatusActive)
	if err := s.Put(ctx, j); err != nil {
		return nil, err
	}
	return j, nil
}

// Complete transitions j to completed, retaining it in the completed
// zset scored by finish time (trimmed to retainCount entries by rank).
func (s *LifecycleStore) Complete(ctx context.Context, j *job.Job, result json.RawMessage, retainCount int64) error {
	now := time.Now()
	j.UpdateStatus(job.StatusCompleted)
	j.FinishedOn = &now
	j.ReturnValue = result

	data, err := json.Marshal(j)
	if err != nil {
		return bananaserrors.Serialization(fmt.Errorf("marshal job %s: %w", j.ID, err))
	}

	return s.gw.Pipeline(ctx, func(p redis.Pipeliner) error {
		if j.RemoveOnComplete {
			p.HDel(ctx, s.codec.JobsKey(j.Queue), j.ID)
			return nil
		}
		p.HSet(ctx, s.codec.JobsKey(j.Queue), j.ID, data)
		key := s.codec.CompletedKey(j.Queue)
		p.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMilli()), Member: j.ID})
		if retainCount > 0 {
			p.ZRemRangeByRank(ctx, key, 0, -retainCount-1)
		}
		p.Expire(ctx, s.codec.JobsKey(j.Queue), s.completedJobTTL)
		return nil
	})
}

// Fail records a failed attempt. attemptsMade is expected to already
// reflect the claim that just failed (MarkActive increments it). If
// attemptsMade < maxAttempts it computes the next backoff delay via
// nextDelay and reschedules j into the delayed state; otherwise it moves
// j to failed, retaining it (subject to retainCount) and optionally
// routing it to DeadLetterQueue.
func (s *LifecycleStore) Fail(ctx context.Context, j *job.Job, errMsg string, nextDelay time.Duration, retainCount int64) (retried bool, err error) {
	j.LastError = errMsg

	if j.AttemptsMade < j.MaxAttempts {
		notBefore := time.Now().Add(nextDelay)
		j.UpdateStatus(job.StatusDelayed)
		j.ScheduledAt = &notBefore

		data, merr := json.Marshal(j)
		if merr != nil {
			return false, bananaserrors.Serialization(fmt.Errorf("marshal job %s: %w", j.ID, merr))
		}

		perr := s.gw.Pipeline(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, s.codec.JobsKey(j.Queue), j.ID, data)
			return nil
		})
		if perr != nil {
			return false, perr
		}
		return true, nil
	}

	now := time.Now()
	j.UpdateStatus(job.StatusFailed)
	j.FailedAt = &now
	j.FinishedOn = &now
	j.ScheduledAt = nil

	data, merr := json.Marshal(j)
	if merr != nil {
		return false, bananaserrors.Serialization(fmt.Errorf("marshal job %s: %w", j.ID, merr))
	}

	perr := s.gw.Pipeline(ctx, func(p redis.Pipeliner) error {
		if j.RemoveOnFail && j.DeadLetterQueue == "" {
			p.HDel(ctx, s.codec.JobsKey(j.Queue), j.ID)
			return nil
		}
		p.HSet(ctx, s.codec.JobsKey(j.Queue), j.ID, data)
		if j.DeadLetterQueue != "" {
			p.ZAdd(ctx, s.codec.DeadLetterKey(j.DeadLetterQueue), redis.Z{Score: float64(now.UnixMilli()), Member: j.ID})
		}
		key := s.codec.FailedKey(j.Queue)
		p.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMilli()), Member: j.ID})
		if retainCount > 0 {
			p.ZRemRangeByRank(ctx, key, 0, -retainCount-1)
		}
		p.Expire(ctx, s.codec.JobsKey(j.Queue), s.failedJobTTL)
		return nil
	})
	if perr != nil {
		return false, perr
	}
	return false, nil
}

// Retry resets a failed job back to pending, at its current priority
// score, clearing failure fields.
func (s *LifecycleStore) Retry(ctx context.Context, j *job.Job) error {
	j.AttemptsMade = 0
	j.LastError = ""
	j.FailedAt = nil
	j.FinishedOn = nil
	j.ScheduledAt = nil
	j.UpdateStatus(job.StatusPending)

	data, err := json.Marshal(j)
	if err != nil {
		return bananaserrors.Serialization(fmt.Errorf("marshal job %s: %w", j.ID, err))
	}

	return s.gw.Pipeline(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, s.codec.JobsKey(j.Queue), j.ID, data)
		p.ZRem(ctx, s.codec.FailedKey(j.Queue), j.ID)
		return nil
	})
}

// CleanCompleted removes completed-set entries older than before, using
// time-based ZRemRangeByScore trimming.
func (s *LifecycleStore) CleanCompleted(ctx context.Context, queue string, before time.Time) (int64, error) {
	n, err := s.gw.Client.ZRemRangeByScore(ctx, s.codec.CompletedKey(queue), "-inf", fmt.Sprintf("%d", before.UnixMilli())).Result()
	if err != nil {
		return 0, bananaerr(err, "clean completed %s", queue)
	}
	return n, nil
}

// Remove deletes jobID's record entirely, used by Manager.Cancel. Reports
// whether a record actually existed to delete.
func (s *LifecycleStore) Remove(ctx context.Context, queue, jobID string) (bool, error) {
	n, err := s.gw.Client.HDel(ctx, s.codec.JobsKey(queue), jobID).Result()
	if err != nil {
		return false, bananaerr(err, "remove job %s", jobID)
	}
	return n > 0, nil
}
