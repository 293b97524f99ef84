// Package statuschannel implements C7, the best-effort status fan-out
// spec.md §3 describes: execution status transitions published on
// status.<job_id>.<execution_id>, subscribable via the status.> wildcard.
// Unlike C1 this is plain NATS core pub/sub, not JetStream — spec.md does
// not ask for durability here, only fan-out to whoever is listening.
package statuschannel

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"jobctl/internal/domain"
)

// StatusEvent is one execution status transition.
type StatusEvent struct {
	ExecutionID string                 `json:"execution_id"`
	JobID       string                 `json:"job_id"`
	Status      domain.ExecutionStatus `json:"status"`
	Timestamp   time.Time              `json:"timestamp"`
}

// Channel publishes status events over an existing NATS connection
// (shared with the queue's connection so the worker/scheduler don't open
// a second socket just for this).
type Channel struct {
	nc *nats.Conn
}

func New(nc *nats.Conn) *Channel {
	return &Channel{nc: nc}
}

func subject(jobID, executionID string) string {
	return fmt.Sprintf("status.%s.%s", jobID, executionID)
}

// Publish is best-effort: a publish failure is logged by the caller but
// never blocks or fails the execution it describes.
func (c *Channel) Publish(jobID, executionID string, status domain.ExecutionStatus) error {
	event := StatusEvent{
		ExecutionID: executionID,
		JobID:       jobID,
		Status:      status,
		Timestamp:   time.Now().UTC(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("statuschannel: marshal: %w", err)
	}
	return c.nc.Publish(subject(jobID, executionID), payload)
}

// Subscribe registers handler for every status event across all jobs and
// executions (status.>).
func (c *Channel) Subscribe(handler func(StatusEvent)) (*nats.Subscription, error) {
	return c.nc.Subscribe("status.>", func(msg *nats.Msg) {
		var event StatusEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			return
		}
		handler(event)
	})
}
