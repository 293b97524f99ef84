package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const membershipKey = "jobctl:nodes"

// Membership tracks which worker nodes are alive via a Redis sorted set
// scored by last-heartbeat unix time, replacing the teacher's etcd-lease
// based fleet membership (see DESIGN.md) now that the coordination
// backend is Redis throughout.
type Membership struct {
	client *redis.Client
}

func NewMembership(client *redis.Client) *Membership {
	return &Membership{client: client}
}

// Heartbeat records that nodeID is alive as of now.
func (m *Membership) Heartbeat(ctx context.Context, nodeID string) error {
	return m.client.ZAdd(ctx, membershipKey, redis.Z{
		Score:  float64(time.Now().Unix()),
		Member: nodeID,
	}).Err()
}

// ActiveNodes returns node IDs that have heartbeat within the given
// staleness window, and as a side effect evicts entries older than that
// window so the set doesn't grow unbounded with dead nodes.
func (m *Membership) ActiveNodes(ctx context.Context, staleness time.Duration) ([]string, error) {
	cutoff := time.Now().Add(-staleness).Unix()

	if err := m.client.ZRemRangeByScore(ctx, membershipKey, "-inf", fmt.Sprintf("(%d", cutoff)).Err(); err != nil {
		return nil, fmt.Errorf("lock: evict stale nodes: %w", err)
	}

	nodes, err := m.client.ZRange(ctx, membershipKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("lock: list active nodes: %w", err)
	}
	return nodes, nil
}
