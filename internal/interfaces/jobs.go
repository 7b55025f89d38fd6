package interfaces

import (
	"context"
	"encoding/json"

	"github.com/ternarybob/relay/internal/models"
)

// JobService is the sole writer of the job store. All status transitions
// and log appends pass through it, which is what linearizes per-job order.
type JobService interface {
	Create(ctx context.Context, tenantID, jobType string, targets, payload json.RawMessage) (*models.Job, error)
	Get(ctx context.Context, jobID string) (*models.Job, error)
	List(ctx context.Context, opts *JobListOptions) ([]*models.Job, error)

	// Claim atomically moves a queued job to running. Returns false when
	// another worker won the race; the loser must discard the envelope
	// with no side effects.
	Claim(ctx context.Context, jobID string) (bool, error)

	// Transition enforces the monotonic machine and publishes the status
	// to the fan-out. Terminal transitions carry the result summary.
	Transition(ctx context.Context, jobID string, status models.JobStatus, result *models.ResultSummary) error

	// AppendLog persists then publishes one line. Fails with
	// jobs.ErrJobNotRunning once the job has been finalized.
	AppendLog(ctx context.Context, jobID, severity, message string) (uint64, error)

	GetLogs(ctx context.Context, jobID string, afterSeq uint64, limit int) ([]models.JobLogEntry, error)

	// Cancel requests cooperative cancellation of a queued or running job.
	Cancel(ctx context.Context, jobID string) error

	Heartbeat(ctx context.Context, jobID string) error
}
