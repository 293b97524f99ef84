package domain

import (
	"testing"
	"time"
)

func TestScheduleSpec_Cron_Next(t *testing.T) {
	spec := ScheduleSpec{Kind: ScheduleCron, Expression: "0 * * * * *"} // every minute, on the :00 second
	after := time.Date(2026, 1, 1, 10, 0, 30, 0, time.UTC)

	next, err := spec.Next(after)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2026, 1, 1, 10, 1, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("expected next fire time %v, got %v", want, next)
	}
}

func TestScheduleSpec_Cron_InvalidExpression(t *testing.T) {
	spec := ScheduleSpec{Kind: ScheduleCron, Expression: "not a cron expr"}
	if _, err := spec.Next(time.Now()); err == nil {
		t.Error("expected error for invalid cron expression")
	}
}

func TestScheduleSpec_Cron_InvalidTimezone(t *testing.T) {
	spec := ScheduleSpec{Kind: ScheduleCron, Expression: "0 * * * * *", Timezone: "Not/AZone"}
	if _, err := spec.Next(time.Now()); err == nil {
		t.Error("expected error for invalid timezone")
	}
}

func TestScheduleSpec_FixedDelay_Next(t *testing.T) {
	spec := ScheduleSpec{Kind: ScheduleFixedDelay, IntervalSeconds: 30}
	after := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	next, err := spec.Next(after)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := after.Add(30 * time.Second)
	if !next.Equal(want) {
		t.Errorf("expected %v, got %v", want, next)
	}
}

func TestScheduleSpec_FixedDelay_RequiresPositiveInterval(t *testing.T) {
	spec := ScheduleSpec{Kind: ScheduleFixedDelay, IntervalSeconds: 0}
	if _, err := spec.Next(time.Now()); err == nil {
		t.Error("expected error for zero interval")
	}
}

func TestScheduleSpec_FixedRate_AlignsToBoundary(t *testing.T) {
	spec := ScheduleSpec{Kind: ScheduleFixedRate, IntervalSeconds: 60}
	// 90 seconds past epoch should align to the 120s boundary, not 150s.
	after := time.Unix(90, 0).UTC()

	next, err := spec.Next(after)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Unix(120, 0).UTC()
	if !next.Equal(want) {
		t.Errorf("expected %v, got %v", want, next)
	}
}

func TestScheduleSpec_OneTime_FiresOnce(t *testing.T) {
	fireAt := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	spec := ScheduleSpec{Kind: ScheduleOneTime, FireAt: &fireAt}

	next, err := spec.Next(fireAt.Add(-time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !next.Equal(fireAt) {
		t.Errorf("expected %v, got %v", fireAt, next)
	}

	spec.Fired = true
	if _, err := spec.Next(fireAt.Add(-time.Hour)); err != ErrScheduleExhausted {
		t.Errorf("expected ErrScheduleExhausted once fired, got %v", err)
	}
}

func TestScheduleSpec_OneTime_RequiresFireAt(t *testing.T) {
	spec := ScheduleSpec{Kind: ScheduleOneTime}
	if _, err := spec.Next(time.Now()); err == nil {
		t.Error("expected error when fire_at is nil")
	}
}

func TestScheduleSpec_Cron_PastEndDate(t *testing.T) {
	end := time.Date(2026, 1, 1, 10, 0, 30, 0, time.UTC)
	spec := ScheduleSpec{Kind: ScheduleCron, Expression: "0 * * * * *", EndDate: &end}
	after := time.Date(2026, 1, 1, 10, 0, 30, 0, time.UTC) // next fire would be 10:01:00, past end

	if _, err := spec.Next(after); err != ErrScheduleExhausted {
		t.Errorf("expected ErrScheduleExhausted once past end_date, got %v", err)
	}
	if !spec.IsComplete(after) {
		t.Error("expected IsComplete to report true once past end_date")
	}
}

func TestScheduleSpec_Cron_BeforeEndDate_StillFires(t *testing.T) {
	end := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	spec := ScheduleSpec{Kind: ScheduleCron, Expression: "0 * * * * *", EndDate: &end}
	after := time.Date(2026, 1, 1, 10, 0, 30, 0, time.UTC)

	next, err := spec.Next(after)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2026, 1, 1, 10, 1, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("expected %v, got %v", want, next)
	}
	if spec.IsComplete(after) {
		t.Error("expected IsComplete to report false before end_date")
	}
}

func TestScheduleSpec_FixedRate_NeverComplete(t *testing.T) {
	spec := ScheduleSpec{Kind: ScheduleFixedRate, IntervalSeconds: 60}
	if spec.IsComplete(time.Now()) {
		t.Error("expected fixed_rate schedules to never report complete")
	}
}

func TestScheduleSpec_OneTime_CompleteAfterFiring(t *testing.T) {
	fireAt := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	spec := ScheduleSpec{Kind: ScheduleOneTime, FireAt: &fireAt, Fired: true}
	if !spec.IsComplete(fireAt.Add(-time.Hour)) {
		t.Error("expected IsComplete to report true once fired")
	}
}

func TestScheduleSpec_UnknownKind(t *testing.T) {
	spec := ScheduleSpec{Kind: "BOGUS"}
	if _, err := spec.Next(time.Now()); err == nil {
		t.Error("expected error for unknown schedule kind")
	}
}
