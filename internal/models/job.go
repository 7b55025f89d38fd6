// -----------------------------------------------------------------------
// Job - durable record of one automation request
// -----------------------------------------------------------------------

package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ternarybob/relay/internal/common"
)

// JobStatus is the lifecycle state of a job. Transitions are monotonic:
// queued -> running -> {success|failed|partial|cancelled}. A terminal
// status is never left.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSuccess   JobStatus = "success"
	JobStatusFailed    JobStatus = "failed"
	JobStatusPartial   JobStatus = "partial"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal returns true if no further transition is permitted.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusSuccess, JobStatusFailed, JobStatusPartial, JobStatusCancelled:
		return true
	}
	return false
}

// IsValid returns true for a known status value.
func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusQueued, JobStatusRunning, JobStatusSuccess,
		JobStatusFailed, JobStatusPartial, JobStatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether the edge s -> next is legal.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobStatusQueued:
		return next == JobStatusRunning || next == JobStatusCancelled
	case JobStatusRunning:
		return next == JobStatusSuccess || next == JobStatusFailed ||
			next == JobStatusPartial || next == JobStatusCancelled
	}
	return false
}

// TargetOutcome is the recorded result of one device operation within a job.
type TargetOutcome struct {
	DeviceID   string  `json:"device_id"`
	DeviceName string  `json:"device_name,omitempty"`
	OK         bool    `json:"ok"`
	Error      string  `json:"error,omitempty"`
	DurationMS float64 `json:"duration_ms"`
}

// ResultSummary aggregates per-target outcomes for a finished job.
type ResultSummary struct {
	Total     int             `json:"total"`
	Succeeded int             `json:"succeeded"`
	Failed    int             `json:"failed"`
	Targets   []TargetOutcome `json:"targets,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Job is the durable record of one automation request against a device set.
// Written only by the job service; read by the gateway and polling clients.
type Job struct {
	ID       string `json:"id" badgerhold:"key"`
	TenantID string `json:"tenant_id" badgerholdIndex:"TenantID"`
	Type     string `json:"type"`

	// Targets is the opaque target specification resolved at execution time.
	Targets json.RawMessage `json:"targets,omitempty"`
	// Payload is the opaque handler-specific body.
	Payload json.RawMessage `json:"payload,omitempty"`

	Status JobStatus `json:"status" badgerholdIndex:"Status"`

	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	LastHeartbeat *time.Time `json:"last_heartbeat,omitempty"`

	Result *ResultSummary `json:"result,omitempty"`
}

// NewJob creates a queued job with a fresh ID.
func NewJob(tenantID, jobType string, targets, payload json.RawMessage) *Job {
	return &Job{
		ID:        common.NewJobID(),
		TenantID:  tenantID,
		Type:      jobType,
		Targets:   targets,
		Payload:   payload,
		Status:    JobStatusQueued,
		CreatedAt: time.Now(),
	}
}

// Validate checks required fields.
func (j *Job) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if j.TenantID == "" {
		return fmt.Errorf("tenant ID is required")
	}
	if j.Type == "" {
		return fmt.Errorf("job type is required")
	}
	if !j.Status.IsValid() {
		return fmt.Errorf("invalid job status: %s", j.Status)
	}
	return nil
}
