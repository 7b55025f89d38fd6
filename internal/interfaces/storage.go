package interfaces

import (
	"context"

	"github.com/ternarybob/relay/internal/models"
)

// JobListOptions filters and pages job listings.
type JobListOptions struct {
	TenantID string
	Status   string
	Type     string
	Limit    int
	Offset   int
}

// JobStorage persists jobs. The job service is the sole writer.
type JobStorage interface {
	SaveJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, jobID string) (*models.Job, error)
	ListJobs(ctx context.Context, opts *JobListOptions) ([]*models.Job, error)
	CountJobsByStatus(ctx context.Context, status models.JobStatus) (int, error)

	// CompareAndSwapStatus atomically transitions jobID from oldStatus to
	// newStatus, applying mutate to the job inside the same transaction.
	// Returns false (no error, no side effects) when the job is not in
	// oldStatus - this is the claim-race loser path.
	CompareAndSwapStatus(ctx context.Context, jobID string, oldStatus, newStatus models.JobStatus, mutate func(*models.Job)) (bool, error)

	// GetStaleRunningJobs returns running jobs whose heartbeat is older than
	// the threshold in minutes.
	GetStaleRunningJobs(ctx context.Context, staleThresholdMinutes int) ([]*models.Job, error)
	UpdateJobHeartbeat(ctx context.Context, jobID string) error
}

// JobLogStorage persists per-job ordered log lines.
type JobLogStorage interface {
	// AppendLog assigns the next sequence number for the job and persists
	// the line. Sequence assignment is serialized per job.
	AppendLog(ctx context.Context, jobID string, severity, message string) (*models.JobLogEntry, error)
	// GetLogs returns lines with sequence > afterSeq in ascending order.
	GetLogs(ctx context.Context, jobID string, afterSeq uint64, limit int) ([]models.JobLogEntry, error)
	CountLogs(ctx context.Context, jobID string) (int, error)
	DeleteLogs(ctx context.Context, jobID string) error
}

// DeviceStorage persists the device registry consumed by the target
// resolver and the interactive session relay.
type DeviceStorage interface {
	SaveDevice(ctx context.Context, device *models.DeviceRef) error
	GetDevice(ctx context.Context, deviceID string) (*models.DeviceRef, error)
	ListDevices(ctx context.Context, tenantID string) ([]*models.DeviceRef, error)
	DeleteDevice(ctx context.Context, deviceID string) error

	SaveCredential(ctx context.Context, cred *models.DeviceCredential) error
	GetCredential(ctx context.Context, credID string) (*models.DeviceCredential, error)
}

// StorageManager provides access to all storage interfaces.
type StorageManager interface {
	JobStorage() JobStorage
	JobLogStorage() JobLogStorage
	DeviceStorage() DeviceStorage
	Close() error
}
