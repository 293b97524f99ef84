// Package storage defines the C3 relational-store contract the scheduler,
// worker and API depend on; internal/storage/postgres is the concrete
// GORM-backed implementation.
package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"jobctl/internal/domain"
)

// JobStore is the jobs-table contract.
type JobStore interface {
	CreateJob(ctx context.Context, job *domain.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*domain.Job, error)
	ListAllJobs(ctx context.Context, limit, offset int) ([]domain.Job, error)
	ListDueJobs(ctx context.Context, limit int) ([]domain.Job, error)
	UpdateJob(ctx context.Context, job *domain.Job) error
	UpdateNextRun(ctx context.Context, id uuid.UUID, nextRun time.Time) error
	DeleteJob(ctx context.Context, id uuid.UUID) error
	// HasRunningExecution backs the allow_concurrent=false advisory
	// check (spec.md §9 Open Questions).
	HasRunningExecution(ctx context.Context, jobID uuid.UUID) (bool, error)
}

// ExecutionStore is the job_executions-table contract.
type ExecutionStore interface {
	// CreateExecutionIdempotent inserts the execution unless a row with
	// the same (job_id, idempotency_key) already exists, in which case
	// it returns the existing row and created=false — the idempotent
	// insert spec.md §4.1 step 3 requires.
	CreateExecutionIdempotent(ctx context.Context, exec *domain.Execution) (created bool, err error)

	GetExecution(ctx context.Context, id uuid.UUID) (*domain.Execution, error)

	// ClaimForRun performs the CAS Pending->Running transition spec.md
	// §4.2 requires; ok=false if the row was not in Pending (another
	// worker already claimed it, or it was cancelled first).
	ClaimForRun(ctx context.Context, id uuid.UUID, nodeID string) (ok bool, err error)

	// TransitionStatus performs a CAS update from `from` to `to`,
	// returning ok=false if the row's current status no longer matches
	// `from`.
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to domain.ExecutionStatus) (bool, error)

	UpdateCurrentStep(ctx context.Context, id uuid.UUID, stepID string) error

	Complete(ctx context.Context, id uuid.UUID, status domain.ExecutionStatus, result domain.ExecutionResult, execErr string) error

	// RequestCancellation sets status to Cancelling if currently Pending
	// or Running; the worker observes this at the next step boundary.
	RequestCancellation(ctx context.Context, id uuid.UUID) error

	MarkOrphansAsFailed(ctx context.Context, activeNodeIDs []string, staleSince time.Time) (int64, error)
	ListRecentFailures(ctx context.Context, since time.Time, limit int) ([]domain.Execution, error)
	// ListExecutionsForJob backs the job execution-history endpoint.
	ListExecutionsForJob(ctx context.Context, jobID uuid.UUID, limit, offset int) ([]domain.Execution, error)
	// ListStalePending finds Pending rows older than olderThan for the
	// reconcile loop's minimal pending-row watchdog (DESIGN.md Open
	// Question 2).
	ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]domain.Execution, error)
}
