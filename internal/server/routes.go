package server

import (
	"net/http"
	"strings"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket routes - job log streaming and interactive sessions
	mux.HandleFunc("/ws/jobs/", s.handleJobStreamRoute)
	mux.HandleFunc("/ws/devices/", s.handleTerminalRoute)

	// API routes - Jobs
	mux.HandleFunc("/api/jobs", s.handleJobsRoute)
	mux.HandleFunc("/api/jobs/", s.handleJobRoutes)

	// API routes - Device registry
	mux.HandleFunc("/api/devices", s.handleDevicesRoute)
	mux.HandleFunc("/api/devices/", s.handleDeviceRoutes)
	mux.HandleFunc("/api/credentials", s.app.DeviceHandler.CreateCredentialHandler)

	// API routes - System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)

	return mux
}

// handleJobsRoute routes /api/jobs by method
func (s *Server) handleJobsRoute(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.app.JobHandler.CreateJobHandler(w, r)
	case http.MethodGet:
		s.app.JobHandler.ListJobsHandler(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleJobRoutes routes /api/jobs/{id} and subpaths
func (s *Server) handleJobRoutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/jobs/")

	if jobID, ok := strings.CutSuffix(path, "/logs"); ok {
		s.app.JobHandler.GetJobLogsHandler(w, r, jobID)
		return
	}
	if jobID, ok := strings.CutSuffix(path, "/cancel"); ok {
		s.app.JobHandler.CancelJobHandler(w, r, jobID)
		return
	}
	if path == "" || strings.Contains(path, "/") {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	s.app.JobHandler.GetJobHandler(w, r, path)
}

// handleDevicesRoute routes /api/devices by method
func (s *Server) handleDevicesRoute(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.app.DeviceHandler.CreateDeviceHandler(w, r)
	case http.MethodGet:
		s.app.DeviceHandler.ListDevicesHandler(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleDeviceRoutes routes /api/devices/{id}
func (s *Server) handleDeviceRoutes(w http.ResponseWriter, r *http.Request) {
	deviceID := strings.TrimPrefix(r.URL.Path, "/api/devices/")
	if deviceID == "" || strings.Contains(deviceID, "/") {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.app.DeviceHandler.GetDeviceHandler(w, r, deviceID)
	case http.MethodDelete:
		s.app.DeviceHandler.DeleteDeviceHandler(w, r, deviceID)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleJobStreamRoute routes /ws/jobs/{id}
func (s *Server) handleJobStreamRoute(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimPrefix(r.URL.Path, "/ws/jobs/")
	if jobID == "" || strings.Contains(jobID, "/") {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	s.app.StreamHandler.HandleJobStream(w, r, jobID)
}

// handleTerminalRoute routes /ws/devices/{id}
func (s *Server) handleTerminalRoute(w http.ResponseWriter, r *http.Request) {
	deviceID := strings.TrimPrefix(r.URL.Path, "/ws/devices/")
	if strings.Contains(deviceID, "/") {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	s.app.TerminalHandler.HandleTerminal(w, r, deviceID)
}
