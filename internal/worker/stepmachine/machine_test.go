package stepmachine

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"jobctl/internal/domain"
	"jobctl/internal/worker/breaker"
)

type fakeExecutor struct {
	sleep time.Duration
	err   error
}

func (f *fakeExecutor) Execute(ctx context.Context, step domain.Step, ec *domain.ExecutionContext) (map[string]any, error) {
	if f.sleep > 0 {
		select {
		case <-time.After(f.sleep):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return map[string]any{"ok": true}, f.err
}

func newTestMachine(exec StepExecutor) *Machine {
	reg := NewRegistry()
	reg.Register(domain.StepTypeHTTP, exec)
	return NewMachine(reg, breaker.NewRegistry(breaker.DefaultConfig()))
}

func TestMachine_Run_StepTimeoutFallsBackToJobTimeout(t *testing.T) {
	m := newTestMachine(&fakeExecutor{sleep: 100 * time.Millisecond})
	step := domain.Step{ID: "s1", Type: domain.StepTypeHTTP, MaxRetries: 1}
	ec := domain.NewExecutionContext(uuid.New(), uuid.New())

	out := m.Run(context.Background(), step, ec, 10*time.Millisecond, nil)
	if out.Status != domain.StepStatusTimeout {
		t.Fatalf("expected step to time out using the job's timeout as fallback, got %v (%s)", out.Status, out.Error)
	}
}

func TestMachine_Run_StepTimeoutOverridesJobTimeout(t *testing.T) {
	m := newTestMachine(&fakeExecutor{sleep: 10 * time.Millisecond})
	step := domain.Step{ID: "s1", Type: domain.StepTypeHTTP, TimeoutSeconds: 1, MaxRetries: 1}
	ec := domain.NewExecutionContext(uuid.New(), uuid.New())

	// job timeout is tiny, but the step's own (larger) timeout should win.
	out := m.Run(context.Background(), step, ec, time.Millisecond, nil)
	if out.Status != domain.StepStatusSuccess {
		t.Fatalf("expected step's own timeout to take precedence, got %v (%s)", out.Status, out.Error)
	}
}

func TestMachine_Run_NoTimeoutsConfigured_UsesDefault(t *testing.T) {
	m := newTestMachine(&fakeExecutor{})
	step := domain.Step{ID: "s1", Type: domain.StepTypeHTTP, MaxRetries: 1}
	ec := domain.NewExecutionContext(uuid.New(), uuid.New())

	out := m.Run(context.Background(), step, ec, 0, nil)
	if out.Status != domain.StepStatusSuccess {
		t.Fatalf("expected success with default timeout, got %v (%s)", out.Status, out.Error)
	}
}
