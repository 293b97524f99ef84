package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// FireTimeIdempotencyKey is the deterministic idempotency key spec.md
// §4.1 requires for schedule-triggered executions: hash(job_id,
// fire_time). Truncating fire_time to the second keeps the key stable
// across nanosecond jitter in how two scheduler instances computed the
// same bucket's fire time.
func FireTimeIdempotencyKey(jobID uuid.UUID, fireTime time.Time) string {
	h := sha256.New()
	h.Write(jobID[:])
	h.Write([]byte(fireTime.UTC().Truncate(time.Second).Format(time.RFC3339)))
	return hex.EncodeToString(h.Sum(nil))
}

// FireTimeBucket maps a fire time to the per-occurrence bucket string used
// in the scheduler's distributed lock key (sched:{job.id}:{bucket}). The
// bucket must be coarser than or equal to the scheduler's poll interval so
// that two polls covering the same occurrence contend for the same lock.
func FireTimeBucket(fireTime time.Time, granularity time.Duration) string {
	if granularity <= 0 {
		granularity = time.Second
	}
	bucket := fireTime.UTC().Truncate(granularity)
	return bucket.Format(time.RFC3339)
}
