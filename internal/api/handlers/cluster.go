package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// NodeLister is the narrow membership-read slice the cluster endpoints
// need (internal/lock.Membership satisfies this).
type NodeLister interface {
	ActiveNodes(ctx context.Context, staleness time.Duration) ([]string, error)
}

type Cluster struct {
	Nodes      NodeLister
	Staleness  time.Duration
}

func NewCluster(nodes NodeLister, staleness time.Duration) *Cluster {
	return &Cluster{Nodes: nodes, Staleness: staleness}
}

func (h *Cluster) ListNodes(c *gin.Context) {
	nodes, err := h.Nodes.ActiveNodes(c.Request.Context(), h.Staleness)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get nodes: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"nodes": nodes, "count": len(nodes)})
}

// GetLeader reports cluster membership rather than a single elected
// leader: the scheduler fleet in this design has no leader election
// (every instance polls and competes for per-bucket locks, see
// spec.md §4.1/§4.7), so "leader" here means "the set of instances
// currently eligible to win a lock", which is exactly ActiveNodes.
func (h *Cluster) GetLeader(c *gin.Context) {
	nodes, err := h.Nodes.ActiveNodes(c.Request.Context(), h.Staleness)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get nodes: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"note":          "no single leader: scheduler instances compete for per-job-bucket locks",
		"eligible_nodes": nodes,
	})
}
