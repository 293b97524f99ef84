package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"jobctl/internal/api/middleware"
	"jobctl/internal/apperrors"
	"jobctl/internal/domain"
)

type fakeJobStore struct {
	jobs map[uuid.UUID]*domain.Job
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{jobs: map[uuid.UUID]*domain.Job{}}
}

func (f *fakeJobStore) CreateJob(ctx context.Context, job *domain.Job) error {
	f.jobs[job.ID] = job
	return nil
}

func (f *fakeJobStore) GetJob(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	job, ok := f.jobs[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return job, nil
}

func (f *fakeJobStore) ListAllJobs(ctx context.Context, limit, offset int) ([]domain.Job, error) {
	out := make([]domain.Job, 0, len(f.jobs))
	for _, j := range f.jobs {
		out = append(out, *j)
	}
	return out, nil
}

func (f *fakeJobStore) ListDueJobs(ctx context.Context, limit int) ([]domain.Job, error) {
	return nil, nil
}

func (f *fakeJobStore) UpdateJob(ctx context.Context, job *domain.Job) error {
	f.jobs[job.ID] = job
	return nil
}

func (f *fakeJobStore) UpdateNextRun(ctx context.Context, id uuid.UUID, nextRun time.Time) error {
	if j, ok := f.jobs[id]; ok {
		j.NextRunAt = &nextRun
	}
	return nil
}

func (f *fakeJobStore) DeleteJob(ctx context.Context, id uuid.UUID) error {
	if _, ok := f.jobs[id]; !ok {
		return errors.New("not found")
	}
	delete(f.jobs, id)
	return nil
}

func (f *fakeJobStore) HasRunningExecution(ctx context.Context, jobID uuid.UUID) (bool, error) {
	return false, nil
}

type fakeExecStore struct {
	byJob      map[uuid.UUID][]domain.Execution
	byKey      map[string]*domain.Execution
	byID       map[uuid.UUID]*domain.Execution
	cancelErrs map[uuid.UUID]error
}

func newFakeExecStore() *fakeExecStore {
	return &fakeExecStore{
		byJob:      map[uuid.UUID][]domain.Execution{},
		byKey:      map[string]*domain.Execution{},
		byID:       map[uuid.UUID]*domain.Execution{},
		cancelErrs: map[uuid.UUID]error{},
	}
}

func (f *fakeExecStore) CreateExecutionIdempotent(ctx context.Context, exec *domain.Execution) (bool, error) {
	if existing, ok := f.byKey[exec.IdempotencyKey]; ok {
		*exec = *existing
		return false, nil
	}
	f.byKey[exec.IdempotencyKey] = exec
	f.byID[exec.ID] = exec
	f.byJob[exec.JobID] = append(f.byJob[exec.JobID], *exec)
	return true, nil
}

func (f *fakeExecStore) GetExecution(ctx context.Context, id uuid.UUID) (*domain.Execution, error) {
	if exec, ok := f.byID[id]; ok {
		return exec, nil
	}
	return nil, apperrors.ErrNotFound
}

func (f *fakeExecStore) ClaimForRun(ctx context.Context, id uuid.UUID, nodeID string) (bool, error) {
	return false, nil
}

func (f *fakeExecStore) TransitionStatus(ctx context.Context, id uuid.UUID, from, to domain.ExecutionStatus) (bool, error) {
	return false, nil
}

func (f *fakeExecStore) UpdateCurrentStep(ctx context.Context, id uuid.UUID, stepID string) error {
	return nil
}

func (f *fakeExecStore) Complete(ctx context.Context, id uuid.UUID, status domain.ExecutionStatus, result domain.ExecutionResult, execErr string) error {
	return nil
}

func (f *fakeExecStore) RequestCancellation(ctx context.Context, id uuid.UUID) error {
	if err, ok := f.cancelErrs[id]; ok {
		return err
	}
	if _, ok := f.byID[id]; !ok {
		return apperrors.ErrNotFound
	}
	return nil
}

func (f *fakeExecStore) MarkOrphansAsFailed(ctx context.Context, activeNodeIDs []string, staleSince time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeExecStore) ListRecentFailures(ctx context.Context, since time.Time, limit int) ([]domain.Execution, error) {
	return nil, nil
}

func (f *fakeExecStore) ListExecutionsForJob(ctx context.Context, jobID uuid.UUID, limit, offset int) ([]domain.Execution, error) {
	return f.byJob[jobID], nil
}

func (f *fakeExecStore) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]domain.Execution, error) {
	return nil, nil
}

type fakePublisher struct {
	published []domain.QueueMessage
	err       error
}

func (f *fakePublisher) Publish(ctx context.Context, jobID string, msg domain.QueueMessage, msgID string) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, msg)
	return nil
}

func newTestJobsHandler() (*Jobs, *fakeJobStore, *fakeExecStore, *fakePublisher) {
	js := newFakeJobStore()
	es := newFakeExecStore()
	pub := &fakePublisher{}
	validator := middleware.NewValidator(middleware.DefaultValidatorConfig())
	return NewJobs(js, es, pub, validator), js, es, pub
}

func init() {
	gin.SetMode(gin.TestMode)
}

func performRequest(r http.Handler, method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestJobs_Create_RejectsEmptyName(t *testing.T) {
	h, _, _, _ := newTestJobsHandler()
	router := gin.New()
	router.POST("/jobs", h.Create)

	body, _ := json.Marshal(CreateJobRequest{
		Name:     "",
		Schedule: domain.ScheduleSpec{Kind: domain.ScheduleFixedRate, IntervalSeconds: 60},
		Steps:    domain.StepList{{ID: "s1", Type: domain.StepTypeHTTP, Config: domain.StepConfig{HTTP: &domain.HTTPStepConfig{Method: "GET", URL: "https://example.invalid"}}}},
	})
	rec := performRequest(router, http.MethodPost, "/jobs", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestJobs_Create_RejectsNoSteps(t *testing.T) {
	h, _, _, _ := newTestJobsHandler()
	router := gin.New()
	router.POST("/jobs", h.Create)

	body, _ := json.Marshal(CreateJobRequest{
		Name:     "nightly-export",
		Schedule: domain.ScheduleSpec{Kind: domain.ScheduleFixedRate, IntervalSeconds: 60},
		Steps:    domain.StepList{},
	})
	rec := performRequest(router, http.MethodPost, "/jobs", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestJobs_Create_Succeeds(t *testing.T) {
	h, js, _, _ := newTestJobsHandler()
	router := gin.New()
	router.POST("/jobs", h.Create)

	body, _ := json.Marshal(CreateJobRequest{
		Name:     "nightly-export",
		Schedule: domain.ScheduleSpec{Kind: domain.ScheduleFixedRate, IntervalSeconds: 60},
		Steps:    domain.StepList{{ID: "s1", Type: domain.StepTypeHTTP, Config: domain.StepConfig{HTTP: &domain.HTTPStepConfig{Method: "GET", URL: "https://example.invalid"}}}},
	})
	rec := performRequest(router, http.MethodPost, "/jobs", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(js.jobs) != 1 {
		t.Fatalf("expected job to be persisted, got %d", len(js.jobs))
	}
}

func TestJobs_Get_NotFound(t *testing.T) {
	h, _, _, _ := newTestJobsHandler()
	router := gin.New()
	router.GET("/jobs/:id", h.Get)

	rec := performRequest(router, http.MethodGet, "/jobs/"+uuid.New().String(), nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestJobs_Get_InvalidID(t *testing.T) {
	h, _, _, _ := newTestJobsHandler()
	router := gin.New()
	router.GET("/jobs/:id", h.Get)

	rec := performRequest(router, http.MethodGet, "/jobs/not-a-uuid", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestJobs_Trigger_PublishesAndRecordsExecution(t *testing.T) {
	h, js, es, pub := newTestJobsHandler()
	job := &domain.Job{ID: uuid.New(), Name: "j", Status: domain.JobStatusActive}
	js.jobs[job.ID] = job

	router := gin.New()
	router.POST("/jobs/:id/trigger", h.Trigger)

	rec := performRequest(router, http.MethodPost, "/jobs/"+job.ID.String()+"/trigger", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(pub.published) != 1 {
		t.Fatalf("expected one published message, got %d", len(pub.published))
	}
	if len(es.byJob[job.ID]) != 1 {
		t.Fatalf("expected one execution recorded for job, got %d", len(es.byJob[job.ID]))
	}
}

func TestJobs_Trigger_JobNotFound(t *testing.T) {
	h, _, _, _ := newTestJobsHandler()
	router := gin.New()
	router.POST("/jobs/:id/trigger", h.Trigger)

	rec := performRequest(router, http.MethodPost, "/jobs/"+uuid.New().String()+"/trigger", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestJobs_Delete_Succeeds(t *testing.T) {
	h, js, _, _ := newTestJobsHandler()
	job := &domain.Job{ID: uuid.New(), Name: "j", Status: domain.JobStatusActive}
	js.jobs[job.ID] = job

	router := gin.New()
	router.DELETE("/jobs/:id", h.Delete)

	rec := performRequest(router, http.MethodDelete, "/jobs/"+job.ID.String(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if _, ok := js.jobs[job.ID]; ok {
		t.Error("expected job to be removed from the store")
	}
}

func TestJobs_ListExecutions_ReturnsAllStatusesForJob(t *testing.T) {
	h, js, es, _ := newTestJobsHandler()
	job := &domain.Job{ID: uuid.New(), Name: "j", Status: domain.JobStatusActive}
	js.jobs[job.ID] = job
	es.byJob[job.ID] = []domain.Execution{
		{ID: uuid.New(), JobID: job.ID, Status: domain.ExecutionSuccess},
		{ID: uuid.New(), JobID: job.ID, Status: domain.ExecutionFailed},
		{ID: uuid.New(), JobID: job.ID, Status: domain.ExecutionRunning},
	}

	router := gin.New()
	router.GET("/jobs/:id/executions", h.ListExecutions)

	rec := performRequest(router, http.MethodGet, "/jobs/"+job.ID.String()+"/executions", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Executions []domain.Execution `json:"executions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Executions) != 3 {
		t.Fatalf("expected all 3 executions regardless of status, got %d", len(resp.Executions))
	}
}
