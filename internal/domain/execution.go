package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ExecutionStatus is the state machine spec.md §3 defines:
//
//	Pending -> Running -> {Success, Failed, Timeout, Cancelled, DeadLetter}
//	Running -> Cancelling -> Cancelled
//
// All of Success/Failed/Timeout/Cancelled/DeadLetter are terminal.
type ExecutionStatus string

const (
	ExecutionPending    ExecutionStatus = "PENDING"
	ExecutionRunning    ExecutionStatus = "RUNNING"
	ExecutionCancelling ExecutionStatus = "CANCELLING"
	ExecutionSuccess    ExecutionStatus = "SUCCESS"
	ExecutionFailed     ExecutionStatus = "FAILED"
	ExecutionTimeout    ExecutionStatus = "TIMEOUT"
	ExecutionCancelled  ExecutionStatus = "CANCELLED"
	ExecutionDeadLetter ExecutionStatus = "DEAD_LETTER"
)

// IsTerminal reports whether no further state transition is expected.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionSuccess, ExecutionFailed, ExecutionTimeout, ExecutionCancelled, ExecutionDeadLetter:
		return true
	default:
		return false
	}
}

// TriggerSource records what caused an Execution to be created.
type TriggerSource string

const (
	TriggerSchedule TriggerSource = "SCHEDULE"
	TriggerManual   TriggerSource = "MANUAL"
	TriggerRetry    TriggerSource = "RETRY"
	TriggerWebhook  TriggerSource = "WEBHOOK"
)

// ExecutionResult is the JSON-serialized outcome recorded once an
// Execution reaches a terminal status.
type ExecutionResult struct {
	StepOutputs []StepOutput `json:"step_outputs,omitempty"`
}

func (r *ExecutionResult) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("ExecutionResult: type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, r)
}

func (r ExecutionResult) Value() (driver.Value, error) {
	return json.Marshal(r)
}

// Execution is a single run of a Job, uniquely identified for dedup
// purposes by (JobID, IdempotencyKey). For schedule-triggered runs the
// key is deterministic: hash(job_id, fire_time). For manual triggers the
// API assigns a freshly generated key ("manual:" plus a random UUID) so
// repeated manual triggers are distinguishable (P11).
type Execution struct {
	ID             uuid.UUID       `json:"id" gorm:"type:uuid;primaryKey"`
	JobID          uuid.UUID       `json:"job_id" gorm:"type:uuid;not null;index:idx_job_idem,unique"`
	IdempotencyKey string          `json:"idempotency_key" gorm:"not null;index:idx_job_idem,unique"`
	Status         ExecutionStatus `json:"status" gorm:"type:varchar(20);not null;default:'PENDING'"`
	Attempt        int             `json:"attempt" gorm:"not null;default:1"`
	Trigger        TriggerSource   `json:"trigger" gorm:"type:varchar(20);not null"`
	CurrentStep    string          `json:"current_step,omitempty"`

	// ContextPath is the object-store key holding this execution's
	// ExecutionContext JSON (jobs/{job}/executions/{exec}/context.json).
	ContextPath string `json:"context_path"`

	ScheduledAt time.Time  `json:"scheduled_at" gorm:"not null"`
	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`

	Result ExecutionResult `json:"result" gorm:"type:jsonb"`
	Error  string          `json:"error,omitempty"`

	NodeID *string `json:"node_id"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (e *Execution) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

func (Execution) TableName() string { return "job_executions" }

// ExecutionContext is the mutable scratch space threaded through a single
// Execution's step loop: trigger-time inputs plus each completed step's
// output. Persisted to the object store after every successful step
// (spec.md §4.4). The worker loads a stored context only when the
// execution row carries a ContextPath; it does not write ContextPath back
// to the row, so each run starts from a fresh context and from the first
// step.
type ExecutionContext struct {
	ExecutionID uuid.UUID             `json:"execution_id"`
	JobID       uuid.UUID             `json:"job_id"`
	Variables   map[string]string     `json:"variables,omitempty"`
	Steps       map[string]StepOutput `json:"steps"`
	Webhook     *WebhookPayload       `json:"webhook,omitempty"`
	Files       []string              `json:"files,omitempty"`
}

// WebhookPayload is the inbound trigger payload for webhook-sourced
// executions, referenceable via {{webhook.payload|headers|query_params.<x>}}.
// Inbound webhook routing itself is out of core scope; this is only the
// shape the resolver reads from.
type WebhookPayload struct {
	Payload     map[string]any   `json:"payload,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	QueryParams map[string]string `json:"query_params,omitempty"`
}

// NewExecutionContext seeds an empty context for a fresh execution.
func NewExecutionContext(executionID, jobID uuid.UUID) *ExecutionContext {
	return &ExecutionContext{
		ExecutionID: executionID,
		JobID:       jobID,
		Steps:       make(map[string]StepOutput),
	}
}
