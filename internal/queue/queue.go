// Package queue implements the durable queue adapter spec.md §4.6
// describes (C1) over NATS JetStream: a work-queue-retention stream per
// job subject space, a durable pull consumer with explicit ack, an
// ack-wait timeout and a redelivery cap, and broker-side dedup keyed by
// the Execution's idempotency key (carried as the Nats-Msg-Id header).
//
// This replaces the teacher's Redis Streams queue (pkg/storage/redis);
// the Push/Pop/Ack method shape is kept (see DESIGN.md) but Pop becomes
// Consume returning a Message the caller must explicitly Ack or Nak,
// since JetStream (unlike XREADGROUP+XACK) distinguishes "redeliver
// later" from "dead-letter now".
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"jobctl/internal/domain"
)

const (
	subjectPrefix = "jobs."
	ackWait       = 5 * time.Minute
	maxAge        = 24 * time.Hour
	maxDeliver    = 10
)

// Subject returns the per-job subject a QueueMessage for jobID is
// published under.
func Subject(jobID string) string {
	return subjectPrefix + jobID
}

// Queue wraps a JetStream context bound to one work-queue stream shared
// by all jobs (wildcard subject jobs.>), with one durable pull consumer
// used by all worker instances (competing consumers within the group).
type Queue struct {
	js     jetstream.JetStream
	nc     *nats.Conn
	stream jetstream.Stream
}

// Connect opens the NATS connection, ensures the stream exists with the
// retention/redelivery policy spec.md §4.6 requires, and binds the
// durable consumer.
func Connect(ctx context.Context, url, streamName, consumerName string) (*Queue, error) {
	nc, err := nats.Connect(url, nats.Name("jobctl"))
	if err != nil {
		return nil, fmt.Errorf("queue: connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("queue: jetstream: %w", err)
	}

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  []string{subjectPrefix + ">"},
		Retention: jetstream.WorkQueuePolicy,
		MaxAge:    maxAge,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("queue: create stream: %w", err)
	}

	if _, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       ackWait,
		MaxDeliver:    maxDeliver,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	}); err != nil {
		nc.Close()
		return nil, fmt.Errorf("queue: create consumer: %w", err)
	}

	return &Queue{js: js, nc: nc, stream: stream}, nil
}

func (q *Queue) Close() {
	q.nc.Close()
}

// Conn exposes the underlying NATS connection so other components (the
// status channel) can share it instead of opening a second socket.
func (q *Queue) Conn() *nats.Conn {
	return q.nc
}

// Publish enqueues msg for jobID, setting the Nats-Msg-Id header to
// msgID so JetStream's dedup window collapses a duplicate publish of the
// same logical occurrence (spec.md §4.1 step 4, P1).
func (q *Queue) Publish(ctx context.Context, jobID string, msg domain.QueueMessage, msgID string) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue: marshal: %w", err)
	}

	natsMsg := nats.NewMsg(Subject(jobID))
	natsMsg.Data = payload
	natsMsg.Header.Set("Nats-Msg-Id", msgID)

	if _, err := q.js.PublishMsg(ctx, natsMsg); err != nil {
		return fmt.Errorf("queue: publish: %w", err)
	}
	return nil
}

// Message is one delivered QueueMessage awaiting Ack/Nak/Terminate.
type Message struct {
	Payload       domain.QueueMessage
	DeliveryCount uint64
	raw           jetstream.Msg
}

// Ack acknowledges successful processing; JetStream will not redeliver.
func (m *Message) Ack() error { return m.raw.Ack() }

// Nak requests redelivery no sooner than delay, consuming one of the
// message's max_deliver attempts.
func (m *Message) Nak(delay time.Duration) error { return m.raw.NakWithDelay(delay) }

// Terminate marks the message as permanently failed — no further
// redelivery — used when an execution is explicitly dead-lettered rather
// than left to exhaust max_deliver naturally.
func (m *Message) Terminate() error { return m.raw.Term() }

// Consume pulls up to one message, blocking up to the given wait before
// returning (nil, nil) if none is available — mirrors the teacher's
// blocking Pop semantics (see DESIGN.md) but over a pull consumer.
func (q *Queue) Consume(ctx context.Context, consumerName string, wait time.Duration) (*Message, error) {
	consumer, err := q.stream.Consumer(ctx, consumerName)
	if err != nil {
		return nil, fmt.Errorf("queue: bind consumer: %w", err)
	}

	msgs, err := consumer.Fetch(1, jetstream.FetchMaxWait(wait))
	if err != nil {
		return nil, fmt.Errorf("queue: fetch: %w", err)
	}

	for raw := range msgs.Messages() {
		var payload domain.QueueMessage
		if err := json.Unmarshal(raw.Data(), &payload); err != nil {
			_ = raw.Term()
			return nil, fmt.Errorf("queue: unmarshal: %w", err)
		}
		meta, err := raw.Metadata()
		deliveryCount := uint64(1)
		if err == nil {
			deliveryCount = meta.NumDelivered
		}
		return &Message{Payload: payload, DeliveryCount: deliveryCount, raw: raw}, nil
	}
	if err := msgs.Error(); err != nil && err != nats.ErrTimeout {
		return nil, fmt.Errorf("queue: fetch: %w", err)
	}
	return nil, nil
}

// MaxDeliver exposes the configured redelivery cap so callers can decide
// when a Message's DeliveryCount means "dead-letter this execution"
// rather than "nak for another attempt".
func MaxDeliver() int { return maxDeliver }
