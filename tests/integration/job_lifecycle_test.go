// Package integration exercises the job -> execution lifecycle against
// real Postgres/NATS, adapted from the teacher's
// tests/integration/job_lifecycle_test.go for the schedule+steps job
// model. Skipped automatically when the required services aren't
// reachable, matching the teacher's Skipf-on-dial-failure pattern.
package integration

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"jobctl/internal/apperrors"
	"jobctl/internal/domain"
	"jobctl/internal/queue"
	"jobctl/internal/storage/postgres"
)

type JobLifecycleSuite struct {
	suite.Suite
	store *postgres.Store
	queue *queue.Queue
}

func (s *JobLifecycleSuite) SetupSuite() {
	if os.Getenv("SKIP_INTEGRATION_TESTS") == "true" {
		s.T().Skip("skipping integration tests (SKIP_INTEGRATION_TESTS=true)")
	}

	dbURL := getEnv("TEST_DATABASE_URL",
		"host=localhost port=5432 user=jobctl password=password dbname=jobctl_test sslmode=disable")
	store, err := postgres.Open(postgres.Config{
		URL:            dbURL,
		MaxConnections: 5,
		MinConnections: 1,
		ConnectTimeout: 3 * time.Second,
	})
	if err != nil {
		s.T().Skipf("skipping integration tests: %v", err)
	}
	s.store = store

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	q, err := queue.Connect(ctx, getEnv("TEST_NATS_URL", "nats://localhost:4222"), "JOBCTL_TEST", "jobctl-test-worker")
	if err != nil {
		s.T().Skipf("skipping integration tests: %v", err)
	}
	s.queue = q
}

func (s *JobLifecycleSuite) TearDownSuite() {
	if s.store != nil {
		s.store.Close()
	}
	if s.queue != nil {
		s.queue.Close()
	}
}

func (s *JobLifecycleSuite) TestJobLifecycle() {
	ctx := context.Background()

	job := &domain.Job{
		ID:      uuid.New(),
		Name:    "integration-test-job",
		Enabled: true,
		Schedule: domain.ScheduleSpec{
			Kind:            domain.ScheduleFixedRate,
			IntervalSeconds: 300,
		},
		Steps: domain.StepList{
			{ID: "ping", Type: domain.StepTypeHTTP, Config: domain.StepConfig{
				HTTP: &domain.HTTPStepConfig{Method: "GET", URL: "https://example.invalid/health"},
			}},
		},
		MaxRetries: 3,
		Status:     domain.JobStatusActive,
	}

	require.NoError(s.T(), s.store.CreateJob(ctx, job), "failed to create job")

	retrieved, err := s.store.GetJob(ctx, job.ID)
	require.NoError(s.T(), err, "failed to retrieve job")
	assert.Equal(s.T(), job.Name, retrieved.Name)
	assert.Len(s.T(), retrieved.Steps, 1)

	fireTime := time.Now()
	exec := &domain.Execution{
		ID:             uuid.New(),
		JobID:          job.ID,
		IdempotencyKey: domain.FireTimeIdempotencyKey(job.ID, fireTime),
		Status:         domain.ExecutionPending,
		Attempt:        1,
		Trigger:        domain.TriggerSchedule,
		ScheduledAt:    fireTime,
	}
	created, err := s.store.CreateExecutionIdempotent(ctx, exec)
	require.NoError(s.T(), err, "failed to create execution")
	assert.True(s.T(), created)

	// A second insert with the same idempotency key must collapse rather
	// than create a duplicate row.
	dupe := *exec
	dupe.ID = uuid.New()
	createdAgain, err := s.store.CreateExecutionIdempotent(ctx, &dupe)
	require.NoError(s.T(), err)
	assert.False(s.T(), createdAgain, "duplicate idempotency key must not create a second execution")

	ok, err := s.store.ClaimForRun(ctx, exec.ID, "integration-test-node")
	require.NoError(s.T(), err)
	assert.True(s.T(), ok, "first claim should succeed")

	secondClaim, err := s.store.ClaimForRun(ctx, exec.ID, "another-node")
	require.NoError(s.T(), err)
	assert.False(s.T(), secondClaim, "second claim on an already-running execution must fail")

	require.NoError(s.T(), s.store.Complete(ctx, exec.ID, domain.ExecutionSuccess, domain.ExecutionResult{}, ""))

	final, err := s.store.GetExecution(ctx, exec.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), domain.ExecutionSuccess, final.Status)
}

func (s *JobLifecycleSuite) TestCancellation_NotFoundVsConflict() {
	ctx := context.Background()

	err := s.store.RequestCancellation(ctx, uuid.New())
	assert.True(s.T(), errors.Is(err, apperrors.ErrNotFound), "a nonexistent execution should report not found, got %v", err)

	job := &domain.Job{ID: uuid.New(), Name: "cancel-test-job", Status: domain.JobStatusActive}
	require.NoError(s.T(), s.store.CreateJob(ctx, job))

	exec := &domain.Execution{
		ID:             uuid.New(),
		JobID:          job.ID,
		IdempotencyKey: "cancel-test-" + uuid.NewString(),
		Status:         domain.ExecutionPending,
		Attempt:        1,
		Trigger:        domain.TriggerManual,
		ScheduledAt:    time.Now(),
	}
	_, err = s.store.CreateExecutionIdempotent(ctx, exec)
	require.NoError(s.T(), err)
	require.NoError(s.T(), s.store.Complete(ctx, exec.ID, domain.ExecutionSuccess, domain.ExecutionResult{}, ""))

	err = s.store.RequestCancellation(ctx, exec.ID)
	assert.True(s.T(), errors.Is(err, apperrors.ErrConflict), "a terminal execution should report a conflict, got %v", err)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func TestJobLifecycleSuite(t *testing.T) {
	suite.Run(t, new(JobLifecycleSuite))
}
