// Package postgres implements C3 over GORM/PostgreSQL, grounded on the
// teacher's pkg/storage/postgres/job_store.go: same connection-pool
// tuning and AutoMigrate bootstrap, same RowsAffected==0 -> ErrNotFound
// convention, generalized to the new domain model's CAS-guarded
// execution transitions and idempotent insert.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"jobctl/internal/apperrors"
	"jobctl/internal/domain"
)

type Store struct {
	db *gorm.DB
}

// Config mirrors the database.* config section.
type Config struct {
	URL             string
	MaxConnections  int
	MinConnections  int
	ConnectTimeout  time.Duration
}

func Open(cfg Config) (*Store, error) {
	gcfg := &gorm.Config{
		Logger:      gormlogger.Default.LogMode(gormlogger.Warn),
		PrepareStmt: true,
	}

	db, err := gorm.Open(postgres.Open(cfg.URL), gcfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("postgres: get sql.DB: %w", err)
	}
	maxOpen := cfg.MaxConnections
	if maxOpen <= 0 {
		maxOpen = 50
	}
	minIdle := cfg.MinConnections
	if minIdle <= 0 {
		minIdle = 5
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(minIdle)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&domain.Job{}, &domain.Execution{}); err != nil {
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// --- JobStore ---

func (s *Store) CreateJob(ctx context.Context, job *domain.Job) error {
	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("postgres: create job: %w", err)
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	var job domain.Job
	err := s.db.WithContext(ctx).First(&job, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get job: %w", err)
	}
	return &job, nil
}

func (s *Store) ListAllJobs(ctx context.Context, limit, offset int) ([]domain.Job, error) {
	var jobs []domain.Job
	err := s.db.WithContext(ctx).
		Where("status != ?", domain.JobStatusArchived).
		Order("created_at desc").
		Limit(limit).
		Offset(offset).
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("postgres: list jobs: %w", err)
	}
	return jobs, nil
}

func (s *Store) ListDueJobs(ctx context.Context, limit int) ([]domain.Job, error) {
	var jobs []domain.Job
	err := s.db.WithContext(ctx).
		Where("status = ?", domain.JobStatusActive).
		Where("enabled = ?", true).
		Where("next_run_at <= ?", time.Now()).
		Order("next_run_at asc").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("postgres: list due jobs: %w", err)
	}
	return jobs, nil
}

func (s *Store) UpdateJob(ctx context.Context, job *domain.Job) error {
	result := s.db.WithContext(ctx).Model(&domain.Job{}).Where("id = ?", job.ID).Updates(map[string]interface{}{
		"name":             job.Name,
		"enabled":          job.Enabled,
		"schedule":         job.Schedule,
		"steps":            job.Steps,
		"timeout_seconds":  job.TimeoutSeconds,
		"max_retries":      job.MaxRetries,
		"allow_concurrent": job.AllowConcurrent,
		"status":           job.Status,
	})
	if result.Error != nil {
		return fmt.Errorf("postgres: update job: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (s *Store) UpdateNextRun(ctx context.Context, id uuid.UUID, nextRun time.Time) error {
	result := s.db.WithContext(ctx).Model(&domain.Job{}).Where("id = ?", id).Update("next_run_at", nextRun)
	if result.Error != nil {
		return fmt.Errorf("postgres: update next run: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteJob(ctx context.Context, id uuid.UUID) error {
	result := s.db.WithContext(ctx).Delete(&domain.Job{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("postgres: delete job: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (s *Store) HasRunningExecution(ctx context.Context, jobID uuid.UUID) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&domain.Execution{}).
		Where("job_id = ?", jobID).
		Where("status IN ?", []domain.ExecutionStatus{domain.ExecutionPending, domain.ExecutionRunning, domain.ExecutionCancelling}).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("postgres: check running execution: %w", err)
	}
	return count > 0, nil
}

// --- ExecutionStore ---

func (s *Store) CreateExecutionIdempotent(ctx context.Context, exec *domain.Execution) (bool, error) {
	err := s.db.WithContext(ctx).Create(exec).Error
	if err == nil {
		return true, nil
	}
	if isUniqueViolation(err) {
		existing, getErr := s.getByIdempotencyKey(ctx, exec.JobID, exec.IdempotencyKey)
		if getErr != nil {
			return false, getErr
		}
		*exec = *existing
		return false, nil
	}
	return false, fmt.Errorf("postgres: create execution: %w", err)
}

func (s *Store) getByIdempotencyKey(ctx context.Context, jobID uuid.UUID, key string) (*domain.Execution, error) {
	var exec domain.Execution
	err := s.db.WithContext(ctx).
		Where("job_id = ? AND idempotency_key = ?", jobID, key).
		First(&exec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get execution by idempotency key: %w", err)
	}
	return &exec, nil
}

func (s *Store) GetExecution(ctx context.Context, id uuid.UUID) (*domain.Execution, error) {
	var exec domain.Execution
	err := s.db.WithContext(ctx).First(&exec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get execution: %w", err)
	}
	return &exec, nil
}

func (s *Store) ClaimForRun(ctx context.Context, id uuid.UUID, nodeID string) (bool, error) {
	now := time.Now()
	result := s.db.WithContext(ctx).Model(&domain.Execution{}).
		Where("id = ? AND status = ?", id, domain.ExecutionPending).
		Updates(map[string]interface{}{
			"status":     domain.ExecutionRunning,
			"node_id":    nodeID,
			"started_at": now,
		})
	if result.Error != nil {
		return false, fmt.Errorf("postgres: claim execution: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (s *Store) TransitionStatus(ctx context.Context, id uuid.UUID, from, to domain.ExecutionStatus) (bool, error) {
	result := s.db.WithContext(ctx).Model(&domain.Execution{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	if result.Error != nil {
		return false, fmt.Errorf("postgres: transition execution status: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (s *Store) UpdateCurrentStep(ctx context.Context, id uuid.UUID, stepID string) error {
	result := s.db.WithContext(ctx).Model(&domain.Execution{}).
		Where("id = ?", id).
		Update("current_step", stepID)
	if result.Error != nil {
		return fmt.Errorf("postgres: update current step: %w", result.Error)
	}
	return nil
}

func (s *Store) Complete(ctx context.Context, id uuid.UUID, status domain.ExecutionStatus, result domain.ExecutionResult, execErr string) error {
	now := time.Now()
	res := s.db.WithContext(ctx).Model(&domain.Execution{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       status,
			"result":       result,
			"error":        execErr,
			"completed_at": now,
		})
	if res.Error != nil {
		return fmt.Errorf("postgres: complete execution: %w", res.Error)
	}
	return nil
}

func (s *Store) RequestCancellation(ctx context.Context, id uuid.UUID) error {
	result := s.db.WithContext(ctx).Model(&domain.Execution{}).
		Where("id = ? AND status IN ?", id, []domain.ExecutionStatus{domain.ExecutionPending, domain.ExecutionRunning}).
		Update("status", domain.ExecutionCancelling)
	if result.Error != nil {
		return fmt.Errorf("postgres: request cancellation: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		return nil
	}

	// No rows matched either because the execution doesn't exist, or
	// because it does but is already in a terminal state — distinguish
	// the two so the API can return 404 vs 409.
	if _, err := s.GetExecution(ctx, id); err != nil {
		return err
	}
	return apperrors.ErrConflict
}

func (s *Store) MarkOrphansAsFailed(ctx context.Context, activeNodeIDs []string, staleSince time.Time) (int64, error) {
	query := s.db.WithContext(ctx).Model(&domain.Execution{}).
		Where("status = ?", domain.ExecutionRunning).
		Where("started_at <= ?", staleSince)

	if len(activeNodeIDs) > 0 {
		query = query.Where("node_id NOT IN ?", activeNodeIDs)
	}

	result := query.Updates(map[string]interface{}{
		"status":       domain.ExecutionFailed,
		"error":        "orphaned: owning node is no longer active",
		"completed_at": time.Now(),
	})
	return result.RowsAffected, result.Error
}

func (s *Store) ListRecentFailures(ctx context.Context, since time.Time, limit int) ([]domain.Execution, error) {
	var execs []domain.Execution
	err := s.db.WithContext(ctx).
		Where("status = ?", domain.ExecutionFailed).
		Where("completed_at >= ?", since).
		Order("completed_at desc").
		Limit(limit).
		Find(&execs).Error
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent failures: %w", err)
	}
	return execs, nil
}

func (s *Store) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]domain.Execution, error) {
	var execs []domain.Execution
	err := s.db.WithContext(ctx).
		Where("status = ?", domain.ExecutionPending).
		Where("created_at <= ?", olderThan).
		Order("created_at asc").
		Limit(limit).
		Find(&execs).Error
	if err != nil {
		return nil, fmt.Errorf("postgres: list stale pending: %w", err)
	}
	return execs, nil
}

func (s *Store) ListExecutionsForJob(ctx context.Context, jobID uuid.UUID, limit, offset int) ([]domain.Execution, error) {
	var execs []domain.Execution
	err := s.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("scheduled_at desc").
		Limit(limit).
		Offset(offset).
		Find(&execs).Error
	if err != nil {
		return nil, fmt.Errorf("postgres: list executions for job: %w", err)
	}
	return execs, nil
}

// isUniqueViolation reports whether err is a Postgres unique-constraint
// violation (SQLSTATE 23505), used to detect a racing duplicate insert on
// (job_id, idempotency_key) without a second round-trip.
func isUniqueViolation(err error) bool {
	return err != nil && (errors.Is(err, gorm.ErrDuplicatedKey) || containsSQLState23505(err))
}

func containsSQLState23505(err error) bool {
	type sqlStater interface{ SQLState() string }
	var s sqlStater
	if errors.As(err, &s) {
		return s.SQLState() == "23505"
	}
	return false
}
