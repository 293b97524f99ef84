package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestFireTimeIdempotencyKey_Deterministic(t *testing.T) {
	jobID := uuid.New()
	fireTime := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	a := FireTimeIdempotencyKey(jobID, fireTime)
	b := FireTimeIdempotencyKey(jobID, fireTime)
	if a != b {
		t.Errorf("expected the same key for identical inputs, got %q and %q", a, b)
	}
}

func TestFireTimeIdempotencyKey_StableAcrossSubSecondJitter(t *testing.T) {
	jobID := uuid.New()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	jittered := base.Add(250 * time.Millisecond)

	a := FireTimeIdempotencyKey(jobID, base)
	b := FireTimeIdempotencyKey(jobID, jittered)
	if a != b {
		t.Errorf("expected sub-second jitter to collapse to the same key, got %q and %q", a, b)
	}
}

func TestFireTimeIdempotencyKey_DiffersByJob(t *testing.T) {
	fireTime := time.Now()
	a := FireTimeIdempotencyKey(uuid.New(), fireTime)
	b := FireTimeIdempotencyKey(uuid.New(), fireTime)
	if a == b {
		t.Error("expected different jobs to produce different keys")
	}
}

func TestFireTimeIdempotencyKey_DiffersByFireTime(t *testing.T) {
	jobID := uuid.New()
	a := FireTimeIdempotencyKey(jobID, time.Unix(1000, 0))
	b := FireTimeIdempotencyKey(jobID, time.Unix(2000, 0))
	if a == b {
		t.Error("expected different fire times to produce different keys")
	}
}

func TestFireTimeBucket_TruncatesToGranularity(t *testing.T) {
	fireTime := time.Date(2026, 3, 1, 12, 0, 37, 0, time.UTC)
	bucket := FireTimeBucket(fireTime, 10*time.Second)
	want := time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC).Format(time.RFC3339)
	if bucket != want {
		t.Errorf("expected bucket %q, got %q", want, bucket)
	}
}

func TestFireTimeBucket_SameBucketForOverlappingPolls(t *testing.T) {
	granularity := 10 * time.Second
	t1 := time.Date(2026, 3, 1, 12, 0, 31, 0, time.UTC)
	t2 := time.Date(2026, 3, 1, 12, 0, 39, 0, time.UTC)

	if FireTimeBucket(t1, granularity) != FireTimeBucket(t2, granularity) {
		t.Error("expected fire times within the same granularity window to share a bucket")
	}
}

func TestFireTimeBucket_DefaultsGranularityWhenNonPositive(t *testing.T) {
	fireTime := time.Date(2026, 3, 1, 12, 0, 37, 500000000, time.UTC)
	bucket := FireTimeBucket(fireTime, 0)
	want := fireTime.Truncate(time.Second).Format(time.RFC3339)
	if bucket != want {
		t.Errorf("expected default 1s granularity, got %q want %q", bucket, want)
	}
}
