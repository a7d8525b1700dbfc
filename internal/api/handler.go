// Package api provides the HTTP handlers and routing for the simulation gateway.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"simgateway/internal/apperrors"
	"simgateway/internal/health"
	"simgateway/internal/job"
	"simgateway/internal/lifecycle"
)

// maxRequestBodySize limits request body to 1MB to prevent memory exhaustion
const maxRequestBodySize = 1 << 20 // 1 MB

// Lifecycle is the set of job actions the API exposes. *lifecycle.Manager
// implements it.
type Lifecycle interface {
	Setup(ctx context.Context, j *job.Job) (*lifecycle.Outcome, error)
	Run(ctx context.Context, j *job.Job) (*lifecycle.Outcome, error)
	Progress(ctx context.Context, j *job.Job) (*lifecycle.Outcome, error)
	Cancel(ctx context.Context, j *job.Job) (*lifecycle.Outcome, error)
	Data(ctx context.Context, j *job.Job) (*lifecycle.Outcome, error)
	RefreshStatus(ctx context.Context, j *job.Job) (*job.Job, error)
}

// Handler contains HTTP handlers for the jobs and lifecycle API.
type Handler struct {
	repo      job.Repository
	lifecycle Lifecycle
	health    *health.Checker
	now       func() time.Time
}

// NewHandler creates a new API handler
func NewHandler(repo job.Repository, lc Lifecycle, healthChecker *health.Checker) *Handler {
	return &Handler{
		repo:      repo,
		lifecycle: lc,
		health:    healthChecker,
		now:       time.Now,
	}
}

// CreateJob handles POST /api/jobs
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	j, ok := h.decodeJob(w, r)
	if !ok {
		return
	}
	if err := job.Validate(j); err != nil {
		h.handleError(w, r, err)
		return
	}
	if j.CreationDatetime == nil {
		now := h.now().UTC()
		j.CreationDatetime = &now
	}

	created, err := h.repo.Create(r.Context(), j)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, created)
}

// ListJobs handles GET /api/jobs
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.repo.List(r.Context())
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []*job.Job{}
	}

	h.writeJSON(w, http.StatusOK, jobs)
}

// GetJob handles GET /api/jobs/{jobId}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	j, ok := h.loadJob(w, r)
	if !ok {
		return
	}

	h.writeJSON(w, http.StatusOK, j)
}

// UpdateJob handles PUT /api/jobs/{jobId}. An ID in the body must match the URL.
func (h *Handler) UpdateJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	j, ok := h.decodeJob(w, r)
	if !ok {
		return
	}
	if j.ID != "" && j.ID != jobID {
		h.handleError(w, r, apperrors.Conflict("job", jobID,
			"Job ID in URL ("+jobID+") does not match job ID in message JSON ("+j.ID+")."))
		return
	}
	j.ID = jobID
	if j.Status == "" {
		j.Status = job.StatusNew
	}
	if err := job.Validate(j); err != nil {
		h.handleError(w, r, err)
		return
	}

	updated, err := h.repo.Update(r.Context(), j)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, updated)
}

// DeleteJob handles DELETE /api/jobs/{jobId}
func (h *Handler) DeleteJob(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.Delete(r.Context(), chi.URLParam(r, "jobId")); err != nil {
		h.handleError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Action returns the handler for one lifecycle action endpoint.
func (h *Handler) Action(action job.Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		j, ok := h.loadJob(w, r)
		if !ok {
			return
		}

		var (
			out *lifecycle.Outcome
			err error
		)
		switch action {
		case job.ActionSetup:
			out, err = h.lifecycle.Setup(r.Context(), j)
		case job.ActionRun:
			out, err = h.lifecycle.Run(r.Context(), j)
		case job.ActionProgress:
			out, err = h.lifecycle.Progress(r.Context(), j)
		case job.ActionCancel:
			out, err = h.lifecycle.Cancel(r.Context(), j)
		case job.ActionData:
			out, err = h.lifecycle.Data(r.Context(), j)
		default:
			err = apperrors.ActionNotFound(action.String())
		}
		if err != nil {
			h.handleError(w, r, err)
			return
		}

		h.writeJSON(w, out.HTTPStatus(), out)
	}
}

// RefreshStatus handles POST /api/status/{jobId}
func (h *Handler) RefreshStatus(w http.ResponseWriter, r *http.Request) {
	j, ok := h.loadJob(w, r)
	if !ok {
		return
	}

	refreshed, err := h.lifecycle.RefreshStatus(r.Context(), j)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, refreshed)
}

// Livez handles GET /livez - liveness probe.
// Returns 200 if the process is alive. Does not check dependencies.
func (h *Handler) Livez(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.health.Liveness(r.Context()))
}

// Readyz handles GET /readyz - readiness probe.
// Returns 503 when a required dependency is down or the service is shutting down.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	response := h.health.Readiness(r.Context())

	status := http.StatusOK
	if !response.IsHealthy() {
		status = http.StatusServiceUnavailable
	}

	h.writeJSON(w, status, response)
}

func (h *Handler) decodeJob(w http.ResponseWriter, r *http.Request) (*job.Job, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var j job.Job
	if err := json.NewDecoder(r.Body).Decode(&j); err != nil {
		h.writeError(w, http.StatusBadRequest, "Message body is not valid Job JSON: "+err.Error())
		return nil, false
	}
	return &j, true
}

func (h *Handler) loadJob(w http.ResponseWriter, r *http.Request) (*job.Job, bool) {
	j, err := h.repo.Get(r.Context(), chi.URLParam(r, "jobId"))
	if err != nil {
		h.handleError(w, r, err)
		return nil, false
	}
	return j, true
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeError writes an error response
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// handleError maps service errors to status codes and error bodies.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	if status >= 500 {
		slog.Error("Request failed", "error", err, "path", r.URL.Path, "status", status)
	} else {
		slog.Warn("Client error", "error", err, "path", r.URL.Path, "status", status)
	}
	h.writeJSON(w, status, apperrors.Body(err))
}
