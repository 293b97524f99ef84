package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// ScheduleKind tags which Schedule variant a ScheduleSpec carries. Kept as
// a small closed set rather than an interface with registered plugins, per
// the static-dispatch design note: the scheduler switches on Kind rather
// than type-asserting an arbitrary Schedule implementation.
type ScheduleKind string

const (
	ScheduleCron        ScheduleKind = "CRON"
	ScheduleFixedDelay  ScheduleKind = "FIXED_DELAY"
	ScheduleFixedRate   ScheduleKind = "FIXED_RATE"
	ScheduleOneTime     ScheduleKind = "ONE_TIME"
)

// cronParser accepts optional seconds, matching the Quartz-style
// seconds-precision cron expressions spec.md requires (the teacher's
// parser only supported minute-precision).
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// ScheduleSpec is a tagged union over the four schedule variants. Only the
// fields relevant to Kind are populated; the others are zero.
type ScheduleSpec struct {
	Kind ScheduleKind `json:"kind"`

	// CRON
	Expression string     `json:"expression,omitempty"`
	Timezone   string     `json:"timezone,omitempty"`
	EndDate    *time.Time `json:"end_date,omitempty"`

	// FIXED_DELAY / FIXED_RATE
	IntervalSeconds int `json:"interval_seconds,omitempty"`

	// ONE_TIME
	FireAt *time.Time `json:"fire_at,omitempty"`

	// Fired is set once a ONE_TIME schedule has dispatched its single
	// execution, so the scheduler can recognize completeness (P7).
	Fired bool `json:"fired,omitempty"`
}

// Next computes the next fire time strictly after `after`, for FixedDelay
// this means `lastCompletion + interval` — callers pass lastCompletion as
// `after` for that variant; for FixedRate it is anchor-aligned
// (`after` rounded up to the next interval boundary) so firings don't
// drift with execution duration.
func (s ScheduleSpec) Next(after time.Time) (time.Time, error) {
	switch s.Kind {
	case ScheduleCron:
		loc := time.UTC
		if s.Timezone != "" {
			l, err := time.LoadLocation(s.Timezone)
			if err != nil {
				return time.Time{}, fmt.Errorf("schedule: invalid timezone %q: %w", s.Timezone, err)
			}
			loc = l
		}
		sched, err := cronParser.Parse(s.Expression)
		if err != nil {
			return time.Time{}, fmt.Errorf("schedule: invalid cron expression %q: %w", s.Expression, err)
		}
		next := sched.Next(after.In(loc))
		if s.EndDate != nil && next.After(*s.EndDate) {
			return time.Time{}, ErrScheduleExhausted
		}
		return next, nil

	case ScheduleFixedDelay:
		if s.IntervalSeconds <= 0 {
			return time.Time{}, fmt.Errorf("schedule: fixed_delay requires interval_seconds > 0")
		}
		return after.Add(time.Duration(s.IntervalSeconds) * time.Second), nil

	case ScheduleFixedRate:
		if s.IntervalSeconds <= 0 {
			return time.Time{}, fmt.Errorf("schedule: fixed_rate requires interval_seconds > 0")
		}
		interval := time.Duration(s.IntervalSeconds) * time.Second
		elapsed := after.Sub(time.Unix(0, 0))
		boundary := elapsed.Truncate(interval) + interval
		return time.Unix(0, 0).Add(boundary), nil

	case ScheduleOneTime:
		if s.FireAt == nil {
			return time.Time{}, fmt.Errorf("schedule: one_time requires fire_at")
		}
		if s.Fired || s.FireAt.Before(after) {
			return time.Time{}, ErrScheduleExhausted
		}
		return *s.FireAt, nil

	default:
		return time.Time{}, fmt.Errorf("schedule: unknown kind %q", s.Kind)
	}
}

// IsComplete reports whether this schedule will never produce another
// execution after `after`: a CRON schedule whose next fire time would
// fall past EndDate, or a ONE_TIME schedule that has already fired.
// FixedDelay and FixedRate schedules never complete.
func (s ScheduleSpec) IsComplete(after time.Time) bool {
	_, err := s.Next(after)
	return errors.Is(err, ErrScheduleExhausted)
}

// ErrScheduleExhausted indicates a schedule has nothing more to dispatch:
// a OneTime schedule that has already fired (or whose fire time has
// already passed without having been recorded as fired), or a Cron
// schedule whose next fire time would fall past its EndDate.
var ErrScheduleExhausted = fmt.Errorf("schedule: exhausted")
