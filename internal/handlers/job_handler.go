package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/relay/internal/interfaces"
	"github.com/ternarybob/relay/internal/jobs"
)

// JobHandler serves the job management API
type JobHandler struct {
	service interfaces.JobService
	logger  arbor.ILogger
}

// NewJobHandler creates a job API handler
func NewJobHandler(service interfaces.JobService, logger arbor.ILogger) *JobHandler {
	return &JobHandler{
		service: service,
		logger:  logger,
	}
}

type createJobRequest struct {
	Type    string          `json:"type"`
	Targets json.RawMessage `json:"targets,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// CreateJobHandler handles POST /api/jobs
func (h *JobHandler) CreateJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	tenant, ok := RequireTenant(w, r)
	if !ok {
		return
	}

	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	job, err := h.service.Create(r.Context(), tenant, req.Type, req.Targets, req.Payload)
	if err != nil {
		if errors.Is(err, jobs.ErrInvalidJobType) {
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		// Payload validation failures are client errors too
		h.logger.Warn().Err(err).Str("type", req.Type).Msg("Job creation rejected")
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	WriteJSON(w, http.StatusAccepted, job)
}

// ListJobsHandler handles GET /api/jobs
func (h *JobHandler) ListJobsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	tenant, ok := RequireTenant(w, r)
	if !ok {
		return
	}

	opts := &interfaces.JobListOptions{
		TenantID: tenant,
		Status:   r.URL.Query().Get("status"),
		Type:     r.URL.Query().Get("type"),
		Limit:    QueryInt(r, "limit", 50),
		Offset:   QueryInt(r, "offset", 0),
	}

	list, err := h.service.List(r.Context(), opts)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list jobs")
		WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  list,
		"count": len(list),
	})
}

// GetJobHandler handles GET /api/jobs/{id}
func (h *JobHandler) GetJobHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	tenant, ok := RequireTenant(w, r)
	if !ok {
		return
	}

	job, err := h.service.Get(r.Context(), jobID)
	if err != nil || job.TenantID != tenant {
		WriteError(w, http.StatusNotFound, "Job not found")
		return
	}

	WriteJSON(w, http.StatusOK, job)
}

// GetJobLogsHandler handles GET /api/jobs/{id}/logs?after=N&limit=N
func (h *JobHandler) GetJobLogsHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	tenant, ok := RequireTenant(w, r)
	if !ok {
		return
	}

	job, err := h.service.Get(r.Context(), jobID)
	if err != nil || job.TenantID != tenant {
		WriteError(w, http.StatusNotFound, "Job not found")
		return
	}

	afterSeq := QueryUint64(r, "after", 0)
	limit := QueryInt(r, "limit", 500)

	entries, err := h.service.GetLogs(r.Context(), jobID, afterSeq, limit)
	if err != nil {
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job logs")
		WriteError(w, http.StatusInternalServerError, "Failed to get job logs")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"job_id": jobID,
		"logs":   entries,
		"count":  len(entries),
	})
}

// CancelJobHandler handles POST /api/jobs/{id}/cancel
func (h *JobHandler) CancelJobHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	tenant, ok := RequireTenant(w, r)
	if !ok {
		return
	}

	job, err := h.service.Get(r.Context(), jobID)
	if err != nil || job.TenantID != tenant {
		WriteError(w, http.StatusNotFound, "Job not found")
		return
	}

	if err := h.service.Cancel(r.Context(), jobID); err != nil {
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to cancel job")
		WriteError(w, http.StatusInternalServerError, "Failed to cancel job")
		return
	}

	WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id": jobID,
		"status": "cancel_requested",
	})
}
