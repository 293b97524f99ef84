package stepmachine

import (
	"testing"

	"jobctl/internal/domain"
)

func conditionContext() *domain.ExecutionContext {
	return &domain.ExecutionContext{
		Variables: map[string]string{"env": "prod", "retries": "3"},
	}
}

func TestEvalCondition_EmptyAlwaysRuns(t *testing.T) {
	if !EvalCondition("", conditionContext()) {
		t.Error("expected empty condition to run the step")
	}
}

func TestEvalCondition_Literals(t *testing.T) {
	if !EvalCondition("true", conditionContext()) {
		t.Error("expected literal true to run the step")
	}
	if EvalCondition("false", conditionContext()) {
		t.Error("expected literal false to skip the step")
	}
}

func TestEvalCondition_BareReferencePresence(t *testing.T) {
	if !EvalCondition("{{env}}", conditionContext()) {
		t.Error("expected a resolvable reference to run the step")
	}
	if EvalCondition("{{missing}}", conditionContext()) {
		t.Error("expected an unresolvable reference to skip the step")
	}
}

func TestEvalCondition_Equality(t *testing.T) {
	if !EvalCondition(`{{env}} == "prod"`, conditionContext()) {
		t.Error("expected matching equality to run the step")
	}
	if EvalCondition(`{{env}} == "staging"`, conditionContext()) {
		t.Error("expected mismatched equality to skip the step")
	}
}

func TestEvalCondition_EqualityFailsWhenSideUnresolved(t *testing.T) {
	if EvalCondition(`{{missing}} == "prod"`, conditionContext()) {
		t.Error("expected an unresolved side of an equality to skip the step")
	}
}
