// Package resolver implements the pure reference-resolution function
// spec.md §4.5 describes: {{steps.<id>.<path>}}, {{webhook.payload|
// headers|query_params.<x>}} and bare {{<name>}} variable references
// against an ExecutionContext, failing explicitly rather than silently
// substituting empty string when a reference cannot be resolved.
package resolver

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"jobctl/internal/domain"
)

// refPattern matches {{...}} with the inner path captured untrimmed;
// resolution trims whitespace itself so "{{ steps.a.out }}" and
// "{{steps.a.out}}" behave identically.
var refPattern = regexp.MustCompile(`\{\{([^{}]+)\}\}`)

// ErrUnresolved is wrapped with the offending reference text so callers
// can report exactly which placeholder failed.
type ErrUnresolved struct {
	Ref string
}

func (e *ErrUnresolved) Error() string {
	return fmt.Sprintf("resolver: unresolved reference %q", e.Ref)
}

// Resolve substitutes every {{...}} placeholder in input against ec,
// returning an error that wraps ErrUnresolved on the first reference that
// cannot be resolved (totality failure is explicit, per spec.md P10).
func Resolve(input string, ec *domain.ExecutionContext) (string, error) {
	var firstErr error
	result := refPattern.ReplaceAllStringFunc(input, func(match string) string {
		if firstErr != nil {
			return match
		}
		path := strings.TrimSpace(match[2 : len(match)-2])
		value, err := resolveOne(path, ec)
		if err != nil {
			firstErr = err
			return match
		}
		return value
	})
	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// ExtractReferences returns every distinct reference path found in input,
// without resolving them — used by P12's round-trip property and by step
// validation to check references before an execution starts.
func ExtractReferences(input string) []string {
	matches := refPattern.FindAllStringSubmatch(input, -1)
	seen := make(map[string]bool, len(matches))
	var out []string
	for _, m := range matches {
		path := strings.TrimSpace(m[1])
		if !seen[path] {
			seen[path] = true
			out = append(out, path)
		}
	}
	return out
}

func resolveOne(path string, ec *domain.ExecutionContext) (string, error) {
	switch {
	case strings.HasPrefix(path, "steps."):
		return resolveStep(strings.TrimPrefix(path, "steps."), ec)
	case strings.HasPrefix(path, "webhook."):
		return resolveWebhook(strings.TrimPrefix(path, "webhook."), ec)
	default:
		return resolveVariable(path, ec)
	}
}

// resolveStep resolves steps.<id>.<path...> where <path...> addresses
// into that step's Output map via dotted keys, or the literal segments
// "status"/"error" for the step's own metadata.
func resolveStep(rest string, ec *domain.ExecutionContext) (string, error) {
	parts := strings.SplitN(rest, ".", 2)
	if len(parts) < 2 {
		return "", &ErrUnresolved{Ref: "steps." + rest}
	}
	stepID, field := parts[0], parts[1]

	output, ok := ec.Steps[stepID]
	if !ok {
		return "", &ErrUnresolved{Ref: "steps." + rest}
	}

	switch field {
	case "status":
		return string(output.Status), nil
	case "error":
		return output.Error, nil
	default:
		value, ok := lookupNested(output.Output, field)
		if !ok {
			return "", &ErrUnresolved{Ref: "steps." + rest}
		}
		return stringify(value), nil
	}
}

func resolveWebhook(rest string, ec *domain.ExecutionContext) (string, error) {
	if ec.Webhook == nil {
		return "", &ErrUnresolved{Ref: "webhook." + rest}
	}
	parts := strings.SplitN(rest, ".", 2)
	if len(parts) < 2 {
		return "", &ErrUnresolved{Ref: "webhook." + rest}
	}
	section, field := parts[0], parts[1]

	switch section {
	case "payload":
		value, ok := lookupNested(ec.Webhook.Payload, field)
		if !ok {
			return "", &ErrUnresolved{Ref: "webhook." + rest}
		}
		return stringify(value), nil
	case "headers":
		value, ok := ec.Webhook.Headers[field]
		if !ok {
			return "", &ErrUnresolved{Ref: "webhook." + rest}
		}
		return value, nil
	case "query_params":
		value, ok := ec.Webhook.QueryParams[field]
		if !ok {
			return "", &ErrUnresolved{Ref: "webhook." + rest}
		}
		return value, nil
	default:
		return "", &ErrUnresolved{Ref: "webhook." + rest}
	}
}

// resolveVariable resolves a bare {{name}} reference. Job-scoped
// variables (ExecutionContext.Variables) override any global of the same
// name — globals aren't modeled here since the global variable store is
// an API-layer concern (out of core scope); this resolver only ever sees
// what the worker already merged into Variables before invoking it.
func resolveVariable(name string, ec *domain.ExecutionContext) (string, error) {
	value, ok := ec.Variables[name]
	if !ok {
		return "", &ErrUnresolved{Ref: name}
	}
	return value, nil
}

// lookupNested walks dottedPath into m. Each segment is either an object
// key or, per spec.md §4.5, a numeric array index addressing into a JSON
// array decoded as []any.
func lookupNested(m map[string]any, dottedPath string) (any, bool) {
	if m == nil {
		return nil, false
	}
	segments := strings.Split(dottedPath, ".")
	var cur any = m
	for _, seg := range segments {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}
