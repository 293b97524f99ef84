// Package scheduler implements C5, the scheduler engine spec.md §4.1
// describes: a poll loop that finds due jobs, wins a per-job-per-bucket
// distributed lock, inserts an execution idempotently, and publishes it
// to the queue with a deterministic Msg-Id. Grounded on the teacher's
// pkg/scheduler/core.go (poll+reconcile ticker loop, RetryFailures,
// updateNextRun), with the lock/idempotency machinery spec.md adds in
// place of the teacher's bare leadership check and exponential-by-2
// backoff.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"jobctl/internal/domain"
	"jobctl/internal/lock"
	"jobctl/internal/logging"
	"jobctl/internal/metrics"
	"jobctl/internal/queue"
	"jobctl/internal/storage"
	"jobctl/internal/worker/retry"
)

type Config struct {
	PollInterval      time.Duration
	ReconcileInterval time.Duration
	LockTTL           time.Duration
	StaleSince        time.Duration
	DueBatchSize      int
}

type Engine struct {
	jobs   storage.JobStore
	execs  storage.ExecutionStore
	queue  *queue.Queue
	locker *lock.Locker
	nodes  *lock.Membership

	cfg Config
}

func NewEngine(cfg Config, jobs storage.JobStore, execs storage.ExecutionStore, q *queue.Queue, locker *lock.Locker, nodes *lock.Membership) *Engine {
	if cfg.DueBatchSize <= 0 {
		cfg.DueBatchSize = 500
	}
	return &Engine{jobs: jobs, execs: execs, queue: q, locker: locker, nodes: nodes, cfg: cfg}
}

// Run drives the poll and reconcile loops until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	logging.Info("scheduler starting", zap.Duration("poll_interval", e.cfg.PollInterval))

	poll := time.NewTicker(e.cfg.PollInterval)
	defer poll.Stop()
	reconcile := time.NewTicker(e.cfg.ReconcileInterval)
	defer reconcile.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Info("scheduler shutting down")
			return
		case <-poll.C:
			metrics.SchedulerPolls.Inc()
			for {
				count, err := e.pollAndSchedule(ctx)
				if err != nil {
					logging.Error("poll cycle failed", zap.Error(err))
					break
				}
				if count == 0 || ctx.Err() != nil {
					break
				}
			}
		case <-reconcile.C:
			if err := e.reconcile(ctx); err != nil {
				logging.Error("reconcile cycle failed", zap.Error(err))
			}
		}
	}
}

// pollAndSchedule finds due jobs and dispatches each through the
// per-bucket lock + idempotent insert + publish path (spec.md §4.1).
// Returns the number of due jobs seen so the caller can keep draining a
// large backlog within one poll tick.
func (e *Engine) pollAndSchedule(ctx context.Context) (int, error) {
	jobs, err := e.jobs.ListDueJobs(ctx, e.cfg.DueBatchSize)
	if err != nil {
		return 0, err
	}
	if len(jobs) == 0 {
		return 0, nil
	}

	now := time.Now()
	for _, job := range jobs {
		e.dispatchOne(ctx, &job, now)
	}
	return len(jobs), nil
}

func (e *Engine) dispatchOne(ctx context.Context, job *domain.Job, now time.Time) {
	fireTime := now
	if job.NextRunAt != nil {
		fireTime = *job.NextRunAt
	}

	bucket := domain.FireTimeBucket(fireTime, e.cfg.PollInterval)
	lockKey := "sched:" + job.ID.String() + ":" + bucket

	token, err := e.locker.Acquire(ctx, lockKey, e.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrAlreadyHeld) {
			metrics.LockContention.Inc()
			return
		}
		logging.Error("lock acquire failed", zap.String("job_id", job.ID.String()), zap.Error(err))
		return
	}
	defer func() {
		if releaseErr := e.locker.Release(ctx, token); releaseErr != nil && !errors.Is(releaseErr, lock.ErrNotHeld) {
			logging.Warn("lock release failed", zap.Error(releaseErr))
		}
	}()

	if !job.AllowConcurrent {
		running, err := e.jobs.HasRunningExecution(ctx, job.ID)
		if err != nil {
			logging.Error("concurrency check failed", zap.String("job_id", job.ID.String()), zap.Error(err))
			return
		}
		if running {
			e.advanceNextRun(ctx, job, now)
			return
		}
	}

	exec := &domain.Execution{
		ID:             uuid.New(),
		JobID:          job.ID,
		IdempotencyKey: domain.FireTimeIdempotencyKey(job.ID, fireTime),
		Status:         domain.ExecutionPending,
		Attempt:        1,
		Trigger:        domain.TriggerSchedule,
		ScheduledAt:    fireTime,
	}

	created, err := e.execs.CreateExecutionIdempotent(ctx, exec)
	if err != nil {
		logging.Error("idempotent insert failed", zap.String("job_id", job.ID.String()), zap.Error(err))
		return
	}
	if !created {
		// Already recorded by an earlier poll (e.g. a prior instance won
		// the lock, inserted, then crashed before advancing NextRunAt).
		// Still advance the schedule so we don't spin on the same bucket.
		e.advanceNextRun(ctx, job, now)
		return
	}

	msg := domain.QueueMessage{ExecutionID: exec.ID, JobID: job.ID, Attempt: exec.Attempt}
	if err := e.queue.Publish(ctx, job.ID.String(), msg, exec.IdempotencyKey); err != nil {
		logging.Error("publish failed", zap.String("execution_id", exec.ID.String()), zap.Error(err))
		return
	}

	e.advanceNextRun(ctx, job, now)

	lag := now.Sub(fireTime).Seconds()
	metrics.RecordDispatch(lag)
	logging.Info("dispatched execution", zap.String("job_name", job.Name), zap.String("execution_id", exec.ID.String()))
}

func (e *Engine) advanceNextRun(ctx context.Context, job *domain.Job, after time.Time) {
	next, err := job.Schedule.Next(after)
	if err != nil {
		if !errors.Is(err, domain.ErrScheduleExhausted) {
			logging.Error("computing next run failed", zap.String("job_id", job.ID.String()), zap.Error(err))
		}
		return
	}
	if err := e.jobs.UpdateNextRun(ctx, job.ID, next); err != nil {
		logging.Error("updating next run failed", zap.String("job_id", job.ID.String()), zap.Error(err))
	}
}

// reconcile reaps orphaned executions left Running by nodes that stopped
// heartbeating, then retries jobs that failed recently and still have
// retry budget left.
func (e *Engine) reconcile(ctx context.Context) error {
	nodes, err := e.nodes.ActiveNodes(ctx, e.cfg.StaleSince)
	if err != nil {
		return err
	}

	staleSince := time.Now().Add(-e.cfg.StaleSince)
	reaped, err := e.execs.MarkOrphansAsFailed(ctx, nodes, staleSince)
	if err != nil {
		return err
	}
	if reaped > 0 {
		metrics.OrphansReaped.Add(float64(reaped))
		logging.Info("reaped orphaned executions", zap.Int64("count", reaped))
	}

	if err := e.retryFailures(ctx); err != nil {
		logging.Error("retrying failures failed", zap.Error(err))
	}

	return e.watchStalePending(ctx)
}

// retryFailures reschedules recently failed executions within their
// job's retry budget. Each retry gets its own deterministic idempotency
// key derived from the failed execution's id, closing the gap the
// teacher's version left open (it created a fresh UUID-keyed row per
// reconcile pass with no protection against scheduling the same retry
// twice if two reconcile passes overlapped).
func (e *Engine) retryFailures(ctx context.Context) error {
	since := time.Now().Add(-2 * e.cfg.ReconcileInterval)
	failures, err := e.execs.ListRecentFailures(ctx, since, 20)
	if err != nil {
		return err
	}

	for _, failure := range failures {
		job, err := e.jobs.GetJob(ctx, failure.JobID)
		if err != nil {
			logging.Warn("loading job for retry failed", zap.Error(err))
			continue
		}

		if failure.Attempt >= job.MaxRetries {
			continue
		}

		policy := retry.DefaultPolicy()
		delay := policy.Delay(failure.Attempt - 1)
		nextRun := time.Now().Add(delay)

		retryExec := &domain.Execution{
			ID:             uuid.New(),
			JobID:          job.ID,
			IdempotencyKey: "retry:" + failure.ID.String(),
			Status:         domain.ExecutionPending,
			Attempt:        failure.Attempt + 1,
			Trigger:        domain.TriggerRetry,
			ScheduledAt:    nextRun,
		}

		created, err := e.execs.CreateExecutionIdempotent(ctx, retryExec)
		if err != nil {
			logging.Error("scheduling retry failed", zap.String("execution_id", failure.ID.String()), zap.Error(err))
			continue
		}
		if !created {
			// Already retried by an earlier reconcile pass.
			continue
		}

		msg := domain.QueueMessage{ExecutionID: retryExec.ID, JobID: job.ID, Attempt: retryExec.Attempt}
		if err := e.queue.Publish(ctx, job.ID.String(), msg, retryExec.IdempotencyKey); err != nil {
			logging.Error("publishing retry failed", zap.Error(err))
			continue
		}

		metrics.RetriesTotal.WithLabelValues(job.Name).Inc()
		logging.Info("scheduled retry", zap.String("job_name", job.Name), zap.Int("attempt", retryExec.Attempt))
	}
	return nil
}

// watchStalePending is the minimal pending-row watchdog spec.md §9
// leaves as an open question for "an external collaborator, policy
// unspecified": rather than standing up a separate service, the
// reconcile loop itself re-publishes Pending rows that have sat
// unclaimed long enough to suggest their original queue message was
// lost (e.g. the scheduler crashed after the DB insert but before the
// publish).
func (e *Engine) watchStalePending(ctx context.Context) error {
	stale, err := e.execs.ListStalePending(ctx, time.Now().Add(-e.cfg.StaleSince), 20)
	if err != nil {
		return err
	}
	for _, exec := range stale {
		msg := domain.QueueMessage{ExecutionID: exec.ID, JobID: exec.JobID, Attempt: exec.Attempt}
		if err := e.queue.Publish(ctx, exec.JobID.String(), msg, exec.IdempotencyKey); err != nil {
			logging.Warn("re-publishing stale pending execution failed", zap.String("execution_id", exec.ID.String()), zap.Error(err))
			continue
		}
		logging.Info("re-published stale pending execution", zap.String("execution_id", exec.ID.String()))
	}
	return nil
}
