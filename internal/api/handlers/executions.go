package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"jobctl/internal/apperrors"
	"jobctl/internal/storage"
)

type Executions struct {
	Store storage.ExecutionStore
}

func NewExecutions(store storage.ExecutionStore) *Executions {
	return &Executions{Store: store}
}

func (h *Executions) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid execution ID"})
		return
	}

	exec, err := h.Store.GetExecution(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "execution not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get execution: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, exec)
}

// Cancel requests cancellation of a Running or Pending execution. The
// worker observes the Cancelling status cooperatively at the next step
// boundary (spec.md §4.2, §9) — this endpoint does not wait for that to
// happen, it only records the request.
func (h *Executions) Cancel(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid execution ID"})
		return
	}

	if err := h.Store.RequestCancellation(c.Request.Context(), id); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "execution not found"})
			return
		}
		if errors.Is(err, apperrors.ErrConflict) {
			c.JSON(http.StatusConflict, gin.H{"error": "execution is already in a terminal state"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to cancel execution: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "cancellation requested", "id": id})
}
