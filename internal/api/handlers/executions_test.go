package handlers

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"jobctl/internal/apperrors"
	"jobctl/internal/domain"
)

func TestExecutions_Get_NotFound(t *testing.T) {
	store := newFakeExecStore()
	h := NewExecutions(store)
	router := gin.New()
	router.GET("/executions/:id", h.Get)

	rec := performRequest(router, http.MethodGet, "/executions/"+uuid.New().String(), nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestExecutions_Get_InvalidID(t *testing.T) {
	store := newFakeExecStore()
	h := NewExecutions(store)
	router := gin.New()
	router.GET("/executions/:id", h.Get)

	rec := performRequest(router, http.MethodGet, "/executions/not-a-uuid", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestExecutions_Get_Found(t *testing.T) {
	store := newFakeExecStore()
	exec := &domain.Execution{ID: uuid.New(), JobID: uuid.New(), Status: domain.ExecutionRunning}
	store.byID[exec.ID] = exec
	h := NewExecutions(store)
	router := gin.New()
	router.GET("/executions/:id", h.Get)

	rec := performRequest(router, http.MethodGet, "/executions/"+exec.ID.String(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestExecutions_Cancel_NotFound(t *testing.T) {
	store := newFakeExecStore()
	h := NewExecutions(store)
	router := gin.New()
	router.POST("/executions/:id/cancel", h.Cancel)

	rec := performRequest(router, http.MethodPost, "/executions/"+uuid.New().String()+"/cancel", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestExecutions_Cancel_ConflictOnTerminalExecution(t *testing.T) {
	store := newFakeExecStore()
	exec := &domain.Execution{ID: uuid.New(), JobID: uuid.New(), Status: domain.ExecutionSuccess}
	store.byID[exec.ID] = exec
	store.cancelErrs[exec.ID] = apperrors.ErrConflict

	h := NewExecutions(store)
	router := gin.New()
	router.POST("/executions/:id/cancel", h.Cancel)

	rec := performRequest(router, http.MethodPost, "/executions/"+exec.ID.String()+"/cancel", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestExecutions_Cancel_Succeeds(t *testing.T) {
	store := newFakeExecStore()
	exec := &domain.Execution{ID: uuid.New(), JobID: uuid.New(), Status: domain.ExecutionRunning}
	store.byID[exec.ID] = exec

	h := NewExecutions(store)
	router := gin.New()
	router.POST("/executions/:id/cancel", h.Cancel)

	rec := performRequest(router, http.MethodPost, "/executions/"+exec.ID.String()+"/cancel", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}
