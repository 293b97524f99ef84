// Package stepmachine implements the step state machine spec.md §4.3
// describes and its closed set of step executors (§9), generalized from
// the teacher's single pkg/executor/runner.JobRunner interface
// (Run(ctx, cmd, args) Result) into a small registry of per-StepType
// implementations, statically registered at startup rather than
// discovered as plugins.
package stepmachine

import (
	"context"
	"fmt"

	"jobctl/internal/domain"
)

// StepExecutor runs one step's Config against the resolved input and
// returns its output. Implementations must be safe for concurrent use:
// the worker pool runs many executions (and thus many steps) at once.
type StepExecutor interface {
	Execute(ctx context.Context, step domain.Step, ec *domain.ExecutionContext) (map[string]any, error)
}

// Registry is the closed set of executors keyed by StepType.
type Registry struct {
	executors map[domain.StepType]StepExecutor
}

func NewRegistry() *Registry {
	return &Registry{executors: make(map[domain.StepType]StepExecutor)}
}

func (r *Registry) Register(stepType domain.StepType, executor StepExecutor) {
	r.executors[stepType] = executor
}

func (r *Registry) Get(stepType domain.StepType) (StepExecutor, error) {
	executor, ok := r.executors[stepType]
	if !ok {
		return nil, fmt.Errorf("stepmachine: no executor registered for step type %q", stepType)
	}
	return executor, nil
}
