package stepmachine

import (
	"strings"

	"jobctl/internal/domain"
	"jobctl/internal/worker/resolver"
)

// EvalCondition implements the minimal condition language spec.md §9
// suggests when it leaves the language undefined: literal true/false,
// bare reference presence, and simple equality. An empty condition
// always runs the step.
func EvalCondition(condition string, ec *domain.ExecutionContext) bool {
	condition = strings.TrimSpace(condition)
	if condition == "" || condition == "true" {
		return true
	}
	if condition == "false" {
		return false
	}

	if left, right, ok := strings.Cut(condition, "=="); ok {
		l, lok := resolveOrLiteral(strings.TrimSpace(left), ec)
		r, rok := resolveOrLiteral(strings.TrimSpace(right), ec)
		return lok && rok && l == r
	}

	// Bare reference presence: the step runs iff the reference resolves.
	_, err := resolver.Resolve(condition, ec)
	return err == nil
}

// resolveOrLiteral resolves token as a {{...}} reference if it looks like
// one, otherwise treats it as a quoted or bare string literal.
func resolveOrLiteral(token string, ec *domain.ExecutionContext) (string, bool) {
	if strings.HasPrefix(token, "{{") && strings.HasSuffix(token, "}}") {
		value, err := resolver.Resolve(token, ec)
		return value, err == nil
	}
	return strings.Trim(token, `"'`), true
}
