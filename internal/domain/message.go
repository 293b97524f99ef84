package domain

import "github.com/google/uuid"

// QueueMessage is the wire payload published to C1 for one Execution.
// The queue transport carries it as JSON; the Msg-Id header used for
// broker-side dedup is the Execution's IdempotencyKey, not the message
// body, so the envelope itself stays minimal.
type QueueMessage struct {
	ExecutionID uuid.UUID `json:"execution_id"`
	JobID       uuid.UUID `json:"job_id"`
	Attempt     int       `json:"attempt"`
}
