// Package keycodec builds the namespaced Redis keys the queue core agrees
// on, so that no other package concatenates key strings by hand.
package keycodec

import "strings"

// Codec builds every Redis key used by a deployment from a shared prefix.
// It stores only the prefix; each key is assembled on call from the prefix
// and the given queue or name.
type Codec struct {
	prefix string
}

// New creates a Codec namespaced under prefix (e.g. "llmchat:queue:").
// A trailing colon is appended if the caller didn't include one.
func New(prefix string) *Codec {
	if prefix != "" && !strings.HasSuffix(prefix, ":") {
		prefix += ":"
	}
	return &Codec{prefix: prefix}
}

func (c *Codec) build(parts ...string) string {
	var b strings.Builder
	b.WriteString(c.prefix)
	for i, p := range parts {
		if i > 0 {
			b.WriteByte(':')
		}
		b.WriteString(p)
	}
	return b.String()
}

// WaitingKey returns the sorted-set key for jobs ready to be claimed.
func (c *Codec) WaitingKey(queue string) string { return c.build(queue, "waiting") }

// ActiveKey returns the sorted-set key for jobs currently claimed by a worker.
func (c *Codec) ActiveKey(queue string) string { return c.build(queue, "active") }

// DelayedKey returns the sorted-set key for jobs scheduled for future execution.
func (c *Codec) DelayedKey(queue string) string { return c.build(queue, "delayed") }

// CompletedKey returns the bounded sorted-set key retaining completed jobs.
func (c *Codec) CompletedKey(queue string) string { return c.build(queue, "completed") }

// FailedKey returns the bounded sorted-set key retaining failed jobs.
func (c *Codec) FailedKey(queue string) string { return c.build(queue, "failed") }

// DeadLetterKey returns the sorted-set key for a queue's dead letter target.
func (c *Codec) DeadLetterKey(name string) string { return c.build(name) }

// JobsKey returns the hash key mapping jobId -> serialized Job.
func (c *Codec) JobsKey(queue string) string { return c.build(queue, "jobs") }

// MetaKey returns the hash key for a lightweight per-state message envelope.
func (c *Codec) MetaKey(queue, state string) string { return c.build(queue, state, "meta") }

// ConfigKey returns the hash key holding a queue's pause flag and dynamic config.
func (c *Codec) ConfigKey(queue string) string { return c.build(queue, "config") }

// EventsChannel returns the pub/sub channel name for a queue's lifecycle events.
func (c *Codec) EventsChannel(queue string) string { return c.build(queue, "events") }

// CacheKey returns the L2 cache key for a logical cache key.
func (c *Codec) CacheKey(key string) string { return c.build("cache", key) }

// CacheTagKey returns the set key holding every cache key tagged with tag.
func (c *Codec) CacheTagKey(tag string) string { return c.build("cache", "tag", tag) }

// ScheduleLockKey returns the distributed lock key for a recurring schedule.
func (c *Codec) ScheduleLockKey(scheduleID string) string { return c.build("schedule_lock", scheduleID) }

// ScheduleStateKey returns the hash key holding a schedule's run state.
func (c *Codec) ScheduleStateKey(scheduleID string) string { return c.build("schedules", scheduleID) }

// ResultKey returns the hash key holding a completed job's stored result.
func (c *Codec) ResultKey(jobID string) string { return c.build("result", jobID) }

// ResultNotifyKey returns the pub/sub channel a result waiter subscribes to.
func (c *Codec) ResultNotifyKey(jobID string) string { return c.build("result", "notify", jobID) }
