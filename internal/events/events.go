// Package events publishes and consumes job lifecycle notifications over
// a queue's Redis pub/sub channel.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/muaviaUsmani/bananas/internal/keycodec"
	"github.com/muaviaUsmani/bananas/internal/redisgw"
	"github.com/redis/go-redis/v9"
)

// Kind identifies the lifecycle transition an Event describes.
type Kind string

const (
	KindJobAdded     Kind = "job:added"
	KindJobActive    Kind = "job:active"
	KindJobCompleted Kind = "job:completed"
	KindJobFailed    Kind = "job:failed"
	KindJobRetry     Kind = "job:retry"
	KindJobCancelled Kind = "job:cancelled"
	KindQueuePaused  Kind = "queue:paused"
	KindQueueResumed Kind = "queue:resumed"
	KindBatchAdded   Kind = "batch:added"
	KindBatchRemoved Kind = "batch:removed"
	KindBatchRetried Kind = "batch:retried"
	KindBatchCleaned Kind = "batch:cleaned"
)

// Event is the JSON envelope published on a queue's events channel.
type Event struct {
	Type      Kind            `json:"type"`
	JobID     string          `json:"jobId,omitempty"`
	QueueName string          `json:"queueName"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Publisher publishes lifecycle events for a queue. A publish failure is
// logged by the caller and never rolls back the state change that
// triggered it.
type Publisher struct {
	gw    *redisgw.Gateway
	codec *keycodec.Codec
}

// NewPublisher creates a Publisher.
func NewPublisher(gw *redisgw.Gateway, codec *keycodec.Codec) *Publisher {
	return &Publisher{gw: gw, codec: codec}
}

// Publish builds and publishes an Event of kind for jobID (empty for
// queue- or batch-scoped events) on queue's channel. data is marshaled
// into the event-specific "data" field; nil omits it.
func (p *Publisher) Publish(ctx context.Context, queue, jobID string, kind Kind, data map[string]interface{}) error {
	ev := Event{
		Type:      kind,
		JobID:     jobID,
		QueueName: queue,
		Timestamp: time.Now(),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return err
		}
		ev.Data = raw
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.gw.Publish(ctx, p.codec.EventsChannel(queue), payload)
}

// Subscriber exposes a pull-based, cancellable sequence over every event
// published on a queue's channel. Unlike a push-callback subscriber, the
// caller drives consumption by calling Next, so a slow consumer only
// backs up its own pub/sub buffer instead of invoking callbacks on an
// unbounded goroutine.
type Subscriber struct {
	pubsub *redis.PubSub
	ch     <-chan *redis.Message
}

// Subscribe opens a Subscriber for queue's events channel.
func Subscribe(ctx context.Context, gw *redisgw.Gateway, codec *keycodec.Codec, queue string) *Subscriber {
	ps := gw.Subscribe(ctx, codec.EventsChannel(queue))
	return &Subscriber{pubsub: ps, ch: ps.Channel()}
}

// Next blocks until the next event arrives, ctx is cancelled, or the
// subscription is closed. The second return value is false once no more
// events will ever arrive.
func (s *Subscriber) Next(ctx context.Context) (*Event, bool) {
	for {
		select {
		case msg, ok := <-s.ch:
			if !ok {
				return nil, false
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				continue
			}
			return &ev, true
		case <-ctx.Done():
			return nil, false
		}
	}
}

// Close closes the underlying pub/sub connection.
func (s *Subscriber) Close() error {
	return s.pubsub.Close()
}
