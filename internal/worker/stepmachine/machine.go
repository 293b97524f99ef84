package stepmachine

import (
	"context"
	"errors"
	"time"

	"jobctl/internal/apperrors"
	"jobctl/internal/domain"
	"jobctl/internal/worker/breaker"
	"jobctl/internal/worker/retry"
)

const defaultStepTimeout = 5 * time.Minute

// Machine runs one step's condition check, attempt loop (circuit breaker
// + timeout + retry) per spec.md §4.3, and returns its StepOutput. The
// caller (internal/worker) is responsible for persisting the updated
// ExecutionContext after a successful step and for checking `cancelled`
// between steps — this type only checks it between attempts of the same
// step, since spec.md defines cancellation as cooperative at step
// boundaries, not mid-attempt.
type Machine struct {
	Registry *Registry
	Breakers *breaker.Registry
}

func NewMachine(registry *Registry, breakers *breaker.Registry) *Machine {
	return &Machine{Registry: registry, Breakers: breakers}
}

// Run executes step against ec, mutating nothing in ec itself — the
// caller records the returned StepOutput into ec.Steps once it decides
// whether to persist and continue. jobTimeout is the enclosing job's
// configured timeout (spec.md §4.3 step 5: `timeout = s.timeout ??
// job.timeout`), used as the fallback when the step has none of its own.
func (m *Machine) Run(ctx context.Context, step domain.Step, ec *domain.ExecutionContext, jobTimeout time.Duration, cancelled func() bool) domain.StepOutput {
	started := time.Now()
	output := domain.StepOutput{StepID: step.ID}

	if !EvalCondition(step.Condition, ec) {
		output.Status = domain.StepStatusSkipped
		output.StartedAt = started.Format(time.RFC3339)
		output.FinishedAt = time.Now().Format(time.RFC3339)
		return output
	}

	executor, err := m.Registry.Get(step.Type)
	if err != nil {
		output.Status = domain.StepStatusFailed
		output.Error = err.Error()
		output.StartedAt = started.Format(time.RFC3339)
		output.FinishedAt = time.Now().Format(time.RFC3339)
		return output
	}

	timeout := time.Duration(step.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = jobTimeout
	}
	if timeout <= 0 {
		timeout = defaultStepTimeout
	}

	policy := retry.DefaultPolicy()
	if step.MaxRetries > 0 {
		policy.MaxAttempts = step.MaxRetries
	}

	cb := m.Breakers.Get(step.ID)

	var lastErr error
	var attempt int
	for attempt = 0; attempt < policy.MaxAttemptsOrDefault(); attempt++ {
		if cancelled != nil && cancelled() {
			lastErr = apperrors.ErrCancelled
			break
		}

		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		var result map[string]any
		execErr := cb.Execute(attemptCtx, func() error {
			var innerErr error
			result, innerErr = executor.Execute(attemptCtx, step, ec)
			return innerErr
		})
		cancel()

		if execErr == nil {
			output.Status = domain.StepStatusSuccess
			output.Output = result
			output.Attempts = attempt + 1
			output.StartedAt = started.Format(time.RFC3339)
			output.FinishedAt = time.Now().Format(time.RFC3339)
			return output
		}

		lastErr = execErr

		if errors.Is(execErr, apperrors.ErrValidation) || errors.Is(execErr, breaker.ErrCircuitOpen) {
			break
		}
		if attemptCtx.Err() == context.DeadlineExceeded {
			lastErr = apperrors.ErrStepTimeout
		}

		if attempt+1 >= policy.MaxAttemptsOrDefault() || step.OnFailure == domain.OnFailureAbort {
			break
		}

		select {
		case <-ctx.Done():
			lastErr = ctx.Err()
			attempt++
		case <-time.After(policy.Delay(attempt)):
			continue
		}
		break
	}

	output.Attempts = attempt + 1
	output.StartedAt = started.Format(time.RFC3339)
	output.FinishedAt = time.Now().Format(time.RFC3339)
	if errors.Is(lastErr, apperrors.ErrStepTimeout) {
		output.Status = domain.StepStatusTimeout
	} else {
		output.Status = domain.StepStatusFailed
	}
	if lastErr != nil {
		output.Error = lastErr.Error()
	}
	return output
}
