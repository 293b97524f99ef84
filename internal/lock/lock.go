// Package lock implements the per-key distributed lock spec.md §4.7
// describes (C2): Redlock-style acquire with SET NX PX, release/extend
// guarded by a Lua compare-and-swap on the token value so a lock can only
// be released or extended by the holder that acquired it.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotHeld indicates the caller is not (or is no longer) the holder of
// the lock it tried to release or extend — the token's value didn't match
// what Redis holds, most likely because the TTL already expired and
// another caller acquired it in the meantime.
var ErrNotHeld = errors.New("lock: not held")

// ErrAlreadyHeld indicates Acquire found the key already locked by
// someone else; callers should treat this as "didn't win the race", not
// as an error worth logging loudly.
var ErrAlreadyHeld = errors.New("lock: already held")

// Token identifies one successful acquisition. It must be passed back to
// Release/Extend; holding the key name and value is what makes the
// release/extend CAS-safe against clock skew up to ttl/2 (spec.md §4.7).
type Token struct {
	Key   string
	Value string
}

// releaseScript only deletes the key if its value still matches what this
// holder set, so a lock whose TTL already expired and was re-acquired by
// someone else is never deleted out from under them.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// extendScript resets the TTL only if this holder still owns the key.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end
`)

// Locker acquires, releases and extends per-key TTL locks backed by Redis.
type Locker struct {
	client *redis.Client
}

func NewLocker(client *redis.Client) *Locker {
	return &Locker{client: client}
}

// Acquire attempts a single SET NX PX for the given key. It does not
// retry or block — the scheduler calls this once per job-bucket per poll
// and simply moves on if it loses the race, since the winner will
// dispatch the occurrence.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Token, error) {
	value := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("lock: acquire %q: %w", key, err)
	}
	if !ok {
		return nil, ErrAlreadyHeld
	}
	return &Token{Key: key, Value: value}, nil
}

// Release drops the lock if this token's holder still owns it.
func (l *Locker) Release(ctx context.Context, token *Token) error {
	n, err := releaseScript.Run(ctx, l.client, []string{token.Key}, token.Value).Int64()
	if err != nil {
		return fmt.Errorf("lock: release %q: %w", token.Key, err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

// Extend resets the TTL if this token's holder still owns the lock, for a
// holder that needs the lock past the original TTL. Nothing in this
// module calls it; the scheduler only uses Acquire and Release.
func (l *Locker) Extend(ctx context.Context, token *Token, ttl time.Duration) error {
	n, err := extendScript.Run(ctx, l.client, []string{token.Key}, token.Value, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("lock: extend %q: %w", token.Key, err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}
