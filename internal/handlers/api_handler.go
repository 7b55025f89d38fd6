package handlers

import (
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/relay/internal/common"
	"github.com/ternarybob/relay/internal/interfaces"
	"github.com/ternarybob/relay/internal/models"
)

// APIHandler serves system endpoints
type APIHandler struct {
	jobStorage interfaces.JobStorage
	startedAt  time.Time
	logger     arbor.ILogger
}

// NewAPIHandler creates the system API handler
func NewAPIHandler(jobStorage interfaces.JobStorage, logger arbor.ILogger) *APIHandler {
	return &APIHandler{
		jobStorage: jobStorage,
		startedAt:  time.Now(),
		logger:     logger,
	}
}

// VersionHandler handles GET /api/version
func (h *APIHandler) VersionHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{
		"version": common.GetVersion(),
		"build":   common.GetFullVersion(),
	})
}

// HealthHandler handles GET /api/health
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	queued, _ := h.jobStorage.CountJobsByStatus(r.Context(), models.JobStatusQueued)
	running, _ := h.jobStorage.CountJobsByStatus(r.Context(), models.JobStatusRunning)

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"uptime":  time.Since(h.startedAt).Round(time.Second).String(),
		"queued":  queued,
		"running": running,
	})
}

// NotFoundHandler handles unmatched API routes
func (h *APIHandler) NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	WriteError(w, http.StatusNotFound, "Not found")
}
