package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

type fakeNodeLister struct {
	nodes []string
	err   error
}

func (f *fakeNodeLister) ActiveNodes(ctx context.Context, staleness time.Duration) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.nodes, nil
}

func TestCluster_ListNodes_ReturnsActiveNodes(t *testing.T) {
	lister := &fakeNodeLister{nodes: []string{"node-a", "node-b"}}
	h := NewCluster(lister, time.Minute)
	router := gin.New()
	router.GET("/cluster/nodes", h.ListNodes)

	rec := performRequest(router, http.MethodGet, "/cluster/nodes", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Nodes []string `json:"nodes"`
		Count int      `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Count != 2 || len(resp.Nodes) != 2 {
		t.Fatalf("expected 2 nodes, got %+v", resp)
	}
}

func TestCluster_ListNodes_PropagatesError(t *testing.T) {
	lister := &fakeNodeLister{err: errors.New("redis unreachable")}
	h := NewCluster(lister, time.Minute)
	router := gin.New()
	router.GET("/cluster/nodes", h.ListNodes)

	rec := performRequest(router, http.MethodGet, "/cluster/nodes", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestCluster_GetLeader_ReportsNoSingleLeader(t *testing.T) {
	lister := &fakeNodeLister{nodes: []string{"node-a"}}
	h := NewCluster(lister, time.Minute)
	router := gin.New()
	router.GET("/cluster/leader", h.GetLeader)

	rec := performRequest(router, http.MethodGet, "/cluster/leader", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Note          string   `json:"note"`
		EligibleNodes []string `json:"eligible_nodes"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Note == "" {
		t.Error("expected an explanatory note about the lack of leader election")
	}
	if len(resp.EligibleNodes) != 1 {
		t.Fatalf("expected 1 eligible node, got %+v", resp.EligibleNodes)
	}
}
