// Package apperrors is the error taxonomy spec.md §7 describes:
// validation, transient I/O, external target failure, step timeout,
// cancellation, redelivery exhaustion and malformed message, each
// carrying distinct propagation/persistence behavior for callers to
// branch on with errors.Is.
package apperrors

import "errors"

var (
	// ErrNotFound mirrors the teacher's storage-layer not-found sentinel.
	ErrNotFound = errors.New("apperrors: not found")
	// ErrConflict covers unique-constraint violations (duplicate
	// idempotency key, CAS status mismatch).
	ErrConflict = errors.New("apperrors: conflict")

	// ErrValidation: caller-supplied input failed structural checks
	// (bad cron expression, unknown step type, missing required field).
	// Never retried.
	ErrValidation = errors.New("apperrors: validation failed")

	// ErrTransient: an I/O failure the caller may retry as-is (DB
	// connection blip, queue unreachable).
	ErrTransient = errors.New("apperrors: transient failure")

	// ErrExternalTarget: a step's external call failed with a
	// non-retryable application-level error (e.g. HTTP 4xx).
	ErrExternalTarget = errors.New("apperrors: external target failure")

	// ErrStepTimeout: a step's own timeout elapsed before completion.
	ErrStepTimeout = errors.New("apperrors: step timed out")

	// ErrCancelled: cooperative cancellation observed at a step boundary.
	ErrCancelled = errors.New("apperrors: execution cancelled")

	// ErrRedeliveryExhausted: the queue redelivered a message past
	// max_deliver without a successful ack; the execution is dead-lettered.
	ErrRedeliveryExhausted = errors.New("apperrors: redelivery exhausted")

	// ErrMalformedMessage: a queue message could not be decoded or
	// referenced an execution row that no longer exists.
	ErrMalformedMessage = errors.New("apperrors: malformed message")
)
