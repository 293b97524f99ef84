// Package retry implements the step retry strategy spec.md §4.3
// describes: delay(n) = min(base * 3^n, max_delay), jitter added
// (never subtracted) up to jitter_factor, adapted from the teacher's
// scheduler-private calculateBackoff (pkg/scheduler/core.go), which
// used base 2 and different defaults — promoted to a reusable package
// and changed to match spec.md's formula.
package retry

import (
	"math"
	"math/rand/v2"
	"time"
)

const (
	DefaultBase        = 5 * time.Second
	DefaultMaxDelay    = 30 * time.Minute
	DefaultMaxAttempts = 10
	DefaultJitter      = 0.2
)

// Policy configures the retry strategy for a step or job.
type Policy struct {
	Base        time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
	Jitter      float64 // fraction, e.g. 0.2 adds up to +20%
}

// DefaultPolicy returns the spec-mandated defaults.
func DefaultPolicy() Policy {
	return Policy{
		Base:        DefaultBase,
		MaxDelay:    DefaultMaxDelay,
		MaxAttempts: DefaultMaxAttempts,
		Jitter:      DefaultJitter,
	}
}

// Delay computes delay(n) = min(base*3^n, max_delay), plus jitter in
// [0, jitter_factor] of that value, for the given zero-indexed attempt
// number. The range is one-sided: [base*3^n, base*3^n*(1+jitter)].
func (p Policy) Delay(attempt int) time.Duration {
	base := p.Base
	if base <= 0 {
		base = DefaultBase
	}
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}
	jitter := p.Jitter
	if jitter <= 0 {
		jitter = DefaultJitter
	}

	delay := float64(base) * math.Pow(3, float64(attempt))
	if delay > float64(maxDelay) {
		delay = float64(maxDelay)
	}

	// jitter is one-sided: only added, never subtracted (P5: jitter
	// bounds are [base*3^n, base*3^n*(1+jitter)]).
	spread := jitter * delay
	delay += rand.Float64() * spread
	return time.Duration(delay)
}

// MaxAttemptsOrDefault returns p.MaxAttempts, or DefaultMaxAttempts if
// unset.
func (p Policy) MaxAttemptsOrDefault() int {
	if p.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return p.MaxAttempts
}
