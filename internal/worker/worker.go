// Package worker implements C6, the worker engine spec.md §4.2 describes:
// consume a queue message, claim the execution (CAS Pending->Running),
// load its job definition and context, run the step state machine,
// persist context after each successful step, and ack/nak based on the
// outcome.
// Grounded on the teacher's pkg/executor/core.go (heartbeat goroutine,
// semaphore worker pool, consumeOne shape), generalized from a single
// shell command per execution to the multi-step state machine.
package worker

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"jobctl/internal/apperrors"
	"jobctl/internal/domain"
	"jobctl/internal/lock"
	"jobctl/internal/logging"
	"jobctl/internal/metrics"
	"jobctl/internal/queue"
	"jobctl/internal/statuschannel"
	"jobctl/internal/storage"
	"jobctl/internal/storage/objectstore"
	"jobctl/internal/worker/stepmachine"
)

type Engine struct {
	ID       string
	Hostname string
	TotalCPU int
	TotalMem uint64 // MB

	jobs    storage.JobStore
	execs   storage.ExecutionStore
	queue   *queue.Queue
	blobs   *objectstore.Store
	machine *stepmachine.Machine
	status  *statuschannel.Channel
	members *lock.Membership

	consumerName string
	concurrency  int
}

type Config struct {
	ConsumerName string
	Concurrency  int
}

func NewEngine(cfg Config, jobs storage.JobStore, execs storage.ExecutionStore, q *queue.Queue, blobs *objectstore.Store, machine *stepmachine.Machine, status *statuschannel.Channel, members *lock.Membership) *Engine {
	hostname, _ := os.Hostname()
	id := fmt.Sprintf("%s-%s", hostname, uuid.New().String()[:8])

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = runtime.NumCPU()
	}

	return &Engine{
		ID:           id,
		Hostname:     hostname,
		TotalCPU:     runtime.NumCPU(),
		TotalMem:     detectTotalMemory(),
		jobs:         jobs,
		execs:        execs,
		queue:        q,
		blobs:        blobs,
		machine:      machine,
		status:       status,
		members:      members,
		consumerName: cfg.ConsumerName,
		concurrency:  concurrency,
	}
}

func detectTotalMemory() uint64 {
	v, err := mem.VirtualMemory()
	if err != nil {
		logging.Warn("failed to detect memory, defaulting to 1GB", zap.Error(err))
		return 1024
	}
	return v.Total / 1024 / 1024
}

// Run drives the heartbeat and work loops until ctx is cancelled, then
// waits (up to gracePeriod) for in-flight executions to finish before
// returning — the graceful-shutdown completeness property P9.
func (e *Engine) Run(ctx context.Context, heartbeatInterval, gracePeriod time.Duration) {
	logging.Info("worker starting", zap.String("id", e.ID), zap.Int("concurrency", e.concurrency))

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-heartbeat.C:
				if err := e.members.Heartbeat(ctx, e.ID); err != nil {
					logging.Warn("heartbeat failed", zap.Error(err))
				} else {
					metrics.HeartbeatsSent.Inc()
				}
			}
		}
	}()

	sem := make(chan struct{}, e.concurrency)
	inFlight := make(chan struct{}, e.concurrency)

	for {
		select {
		case <-ctx.Done():
			e.drain(inFlight, gracePeriod)
			return
		case sem <- struct{}{}:
			inFlight <- struct{}{}
			go func() {
				defer func() { <-sem; <-inFlight }()
				e.consumeOne(ctx)
			}()
		}
	}
}

func (e *Engine) drain(inFlight chan struct{}, gracePeriod time.Duration) {
	logging.Info("worker shutting down, draining in-flight executions", zap.Duration("grace_period", gracePeriod))
	deadline := time.After(gracePeriod)
	for len(inFlight) > 0 {
		select {
		case <-deadline:
			logging.Warn("grace period elapsed with executions still in flight", zap.Int("remaining", len(inFlight)))
			return
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func (e *Engine) consumeOne(ctx context.Context) {
	msg, err := e.queue.Consume(ctx, e.consumerName, 2*time.Second)
	if err != nil {
		logging.Warn("consume failed", zap.Error(err))
		time.Sleep(time.Second)
		return
	}
	if msg == nil {
		return
	}

	metrics.WorkerExecutionsRunning.Inc()
	defer metrics.WorkerExecutionsRunning.Dec()

	if err := e.handle(ctx, msg); err != nil {
		logging.Error("execution handling failed", zap.String("execution_id", msg.Payload.ExecutionID.String()), zap.Error(err))
	}
}

func (e *Engine) handle(ctx context.Context, msg *queue.Message) error {
	execID := msg.Payload.ExecutionID

	if msg.DeliveryCount > uint64(queue.MaxDeliver()) {
		_ = e.execs.Complete(ctx, execID, domain.ExecutionDeadLetter, domain.ExecutionResult{}, "redelivery exhausted")
		e.publishStatus(msg.Payload.JobID.String(), execID.String(), domain.ExecutionDeadLetter)
		return msg.Terminate()
	}

	claimed, err := e.execs.ClaimForRun(ctx, execID, e.ID)
	if err != nil {
		return fmt.Errorf("%w: claiming execution: %v", apperrors.ErrTransient, err)
	}
	if !claimed {
		// Someone else claimed it first, or it was cancelled before we
		// got to it — either way this delivery has nothing to do.
		return msg.Ack()
	}
	e.publishStatus(msg.Payload.JobID.String(), execID.String(), domain.ExecutionRunning)

	job, err := e.jobs.GetJob(ctx, msg.Payload.JobID)
	if err != nil {
		_ = e.execs.Complete(ctx, execID, domain.ExecutionFailed, domain.ExecutionResult{}, fmt.Sprintf("loading job definition: %v", err))
		return msg.Ack()
	}

	exec, err := e.execs.GetExecution(ctx, execID)
	if err != nil {
		return fmt.Errorf("%w: loading execution: %v", apperrors.ErrTransient, err)
	}

	ec := domain.NewExecutionContext(execID, job.ID)
	if exec.ContextPath != "" {
		if loaded, err := e.blobs.GetExecutionContext(ctx, exec.ContextPath); err == nil {
			ec = loaded
		}
	}

	status, execErr := e.runSteps(ctx, job, exec, ec)

	result := domain.ExecutionResult{}
	for _, so := range ec.Steps {
		result.StepOutputs = append(result.StepOutputs, so)
	}

	errText := ""
	if execErr != nil {
		errText = execErr.Error()
	}
	if err := e.execs.Complete(ctx, execID, status, result, errText); err != nil {
		logging.Error("failed to persist execution result", zap.Error(err))
	}
	e.publishStatus(job.ID.String(), execID.String(), status)

	duration := time.Since(*exec.StartedAt).Seconds()
	metrics.RecordExecution(job.Name, string(status), duration)

	if status == domain.ExecutionFailed || status == domain.ExecutionTimeout {
		return msg.Nak(0)
	}
	return msg.Ack()
}

// runSteps runs the job's linear step list in order, persisting context
// to the object store after every successful step (spec.md §4.4) and
// checking for cooperative cancellation at each step boundary (§4.2, §9).
// It also enforces the job's overall timeout across the whole sequence
// of steps (spec.md §4.3 step 5): a chain of individually-within-budget
// retried steps that together blow job.timeout is marked Timeout even
// though no single step attempt exceeded it.
func (e *Engine) runSteps(ctx context.Context, job *domain.Job, exec *domain.Execution, ec *domain.ExecutionContext) (domain.ExecutionStatus, error) {
	jobTimeout := time.Duration(job.TimeoutSeconds) * time.Second
	started := time.Now()
	if exec.StartedAt != nil {
		started = *exec.StartedAt
	}

	for _, step := range job.Steps {
		if jobTimeout > 0 && time.Since(started) > jobTimeout {
			return domain.ExecutionTimeout, fmt.Errorf("execution exceeded job timeout of %s", jobTimeout)
		}

		cancelled, err := e.isCancelling(ctx, exec.ID)
		if err != nil {
			logging.Warn("cancellation check failed", zap.Error(err))
		}
		if cancelled {
			return domain.ExecutionCancelled, apperrors.ErrCancelled
		}

		_ = e.execs.UpdateCurrentStep(ctx, exec.ID, step.ID)

		output := e.machine.Run(ctx, step, ec, jobTimeout, func() bool {
			c, _ := e.isCancelling(ctx, exec.ID)
			return c
		})
		ec.Steps[step.ID] = output
		metrics.StepAttemptsTotal.WithLabelValues(string(step.Type), string(output.Status)).Inc()

		if output.Status == domain.StepStatusSuccess {
			if path, err := e.blobs.PutExecutionContext(ctx, ec); err == nil {
				exec.ContextPath = path
			} else {
				logging.Warn("failed to persist execution context", zap.Error(err))
			}
		}

		switch output.Status {
		case domain.StepStatusFailed:
			if step.OnFailure == domain.OnFailureContinue {
				continue
			}
			return domain.ExecutionFailed, fmt.Errorf("step %q failed: %s", step.ID, output.Error)
		case domain.StepStatusTimeout:
			return domain.ExecutionTimeout, fmt.Errorf("step %q timed out", step.ID)
		}

		if output.Error == apperrors.ErrCancelled.Error() {
			return domain.ExecutionCancelled, apperrors.ErrCancelled
		}
	}
	return domain.ExecutionSuccess, nil
}

func (e *Engine) isCancelling(ctx context.Context, id uuid.UUID) (bool, error) {
	exec, err := e.execs.GetExecution(ctx, id)
	if err != nil {
		return false, err
	}
	return exec.Status == domain.ExecutionCancelling, nil
}

func (e *Engine) publishStatus(jobID, execID string, status domain.ExecutionStatus) {
	if err := e.status.Publish(jobID, execID, status); err != nil {
		logging.Warn("status publish failed", zap.Error(err))
	}
}
