// Package handlers holds the API's Gin route handlers, adapted from the
// teacher's pkg/api/handlers_{jobs,cluster}.go for the richer Job/Step
// model: a job is now a schedule plus a linear step list rather than a
// single shell command, so create/update validate and persist the whole
// definition instead of a flat Schedule/Command pair.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"jobctl/internal/api/middleware"
	"jobctl/internal/domain"
	"jobctl/internal/storage"
)

type Jobs struct {
	Store     storage.JobStore
	Execs     storage.ExecutionStore
	Publisher ExecutionPublisher
	Validator *middleware.Validator
}

// ExecutionPublisher is the narrow slice of the queue a manually
// triggered job needs — the handlers package depends on this interface
// rather than importing internal/queue directly.
type ExecutionPublisher interface {
	Publish(ctx context.Context, jobID string, msg domain.QueueMessage, msgID string) error
}

type CreateJobRequest struct {
	Name            string              `json:"name" binding:"required"`
	Schedule        domain.ScheduleSpec `json:"schedule" binding:"required"`
	Steps           domain.StepList     `json:"steps" binding:"required"`
	TimeoutSeconds  int                 `json:"timeout_seconds"`
	MaxRetries      int                 `json:"max_retries"`
	AllowConcurrent bool                `json:"allow_concurrent"`
	OwnerID         string              `json:"owner_id"`
}

type UpdateJobRequest struct {
	Name            *string              `json:"name"`
	Enabled         *bool                `json:"enabled"`
	Schedule        *domain.ScheduleSpec `json:"schedule"`
	Steps           *domain.StepList     `json:"steps"`
	TimeoutSeconds  *int                 `json:"timeout_seconds"`
	MaxRetries      *int                 `json:"max_retries"`
	AllowConcurrent *bool                `json:"allow_concurrent"`
	Status          *domain.JobStatus    `json:"status"`
}

func NewJobs(store storage.JobStore, execs storage.ExecutionStore, publisher ExecutionPublisher, validator *middleware.Validator) *Jobs {
	return &Jobs{Store: store, Execs: execs, Publisher: publisher, Validator: validator}
}

// Trigger handles a manual run request: it records a Pending execution
// with a freshly generated idempotency key (distinct from every
// schedule-derived key for this job, satisfying P11's manual/scheduled
// distinguishability) and publishes it the same way the scheduler would.
func (h *Jobs) Trigger(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job ID"})
		return
	}

	job, err := h.Store.GetJob(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}

	exec := &domain.Execution{
		ID:             uuid.New(),
		JobID:          job.ID,
		IdempotencyKey: "manual:" + uuid.NewString(),
		Status:         domain.ExecutionPending,
		Attempt:        1,
		Trigger:        domain.TriggerManual,
		ScheduledAt:    time.Now(),
	}

	if _, err := h.Execs.CreateExecutionIdempotent(c.Request.Context(), exec); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create execution: " + err.Error()})
		return
	}

	msg := domain.QueueMessage{ExecutionID: exec.ID, JobID: job.ID, Attempt: exec.Attempt}
	if err := h.Publisher.Publish(c.Request.Context(), job.ID.String(), msg, exec.IdempotencyKey); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to queue execution: " + err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"message": "job triggered", "execution_id": exec.ID})
}

func (h *Jobs) Create(c *gin.Context) {
	var req CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.Validator.ValidateName(req.Name); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.Validator.ValidateStepCount(len(req.Steps)); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	nextRun, err := req.Schedule.Next(time.Now())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid schedule: " + err.Error()})
		return
	}

	job := &domain.Job{
		ID:              uuid.New(),
		Name:            req.Name,
		Enabled:         true,
		Schedule:        req.Schedule,
		Steps:           req.Steps,
		TimeoutSeconds:  req.TimeoutSeconds,
		MaxRetries:      req.MaxRetries,
		AllowConcurrent: req.AllowConcurrent,
		OwnerID:         req.OwnerID,
		Status:          domain.JobStatusActive,
		NextRunAt:       &nextRun,
	}

	if err := h.Store.CreateJob(c.Request.Context(), job); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create job: " + err.Error()})
		return
	}

	c.JSON(http.StatusCreated, job)
}

func (h *Jobs) List(c *gin.Context) {
	limit, offset := 50, 0
	jobs, err := h.Store.ListAllJobs(c.Request.Context(), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list jobs: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs, "count": len(jobs)})
}

func (h *Jobs) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job ID"})
		return
	}
	job, err := h.Store.GetJob(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *Jobs) Update(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job ID"})
		return
	}

	var req UpdateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := h.Store.GetJob(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}

	if req.Name != nil {
		if err := h.Validator.ValidateName(*req.Name); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		job.Name = *req.Name
	}
	if req.Enabled != nil {
		job.Enabled = *req.Enabled
	}
	if req.Steps != nil {
		if err := h.Validator.ValidateStepCount(len(*req.Steps)); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		job.Steps = *req.Steps
	}
	if req.TimeoutSeconds != nil {
		job.TimeoutSeconds = *req.TimeoutSeconds
	}
	if req.MaxRetries != nil {
		job.MaxRetries = *req.MaxRetries
	}
	if req.AllowConcurrent != nil {
		job.AllowConcurrent = *req.AllowConcurrent
	}
	if req.Status != nil {
		job.Status = *req.Status
	}
	if req.Schedule != nil {
		nextRun, err := req.Schedule.Next(time.Now())
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid schedule: " + err.Error()})
			return
		}
		job.Schedule = *req.Schedule
		job.NextRunAt = &nextRun
	}

	if err := h.Store.UpdateJob(c.Request.Context(), job); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update job: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, job)
}

func (h *Jobs) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job ID"})
		return
	}
	if _, err := h.Store.GetJob(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	if err := h.Store.DeleteJob(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete job: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "job deleted", "id": id})
}

func (h *Jobs) ListExecutions(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job ID"})
		return
	}
	if _, err := h.Store.GetJob(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	execs, err := h.Execs.ListExecutionsForJob(c.Request.Context(), id, 100, 0)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list executions: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"executions": execs, "job_id": id})
}
