package badger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/relay/internal/interfaces"
	"github.com/ternarybob/relay/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// JobStorage implements the JobStorage interface for Badger.
//
// BadgerHold has no atomic field updates, so status changes go through a
// read-modify-write guarded by a mutex. That mutex is what makes
// CompareAndSwapStatus safe against two workers claiming the same job.
type JobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
	mu     sync.Mutex
}

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

func (s *JobStorage) SaveJob(ctx context.Context, job *models.Job) error {
	if err := job.Validate(); err != nil {
		return err
	}

	if err := s.db.Store().Upsert(job.ID, job); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

func (s *JobStorage) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	var job models.Job
	if err := s.db.Store().Get(jobID, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("job %s: %w", jobID, badgerhold.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

func (s *JobStorage) ListJobs(ctx context.Context, opts *interfaces.JobListOptions) ([]*models.Job, error) {
	query := badgerhold.Where("ID").Ne("")

	if opts != nil {
		if opts.TenantID != "" {
			query = query.And("TenantID").Eq(opts.TenantID)
		}
		if opts.Status != "" {
			query = query.And("Status").Eq(models.JobStatus(opts.Status))
		}
		if opts.Type != "" {
			query = query.And("Type").Eq(opts.Type)
		}
		if opts.Limit > 0 {
			query = query.Limit(opts.Limit)
		}
		if opts.Offset > 0 {
			query = query.Skip(opts.Offset)
		}
	}
	query = query.SortBy("CreatedAt").Reverse()

	var jobs []models.Job
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	result := make([]*models.Job, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

func (s *JobStorage) CountJobsByStatus(ctx context.Context, status models.JobStatus) (int, error) {
	count, err := s.db.Store().Count(&models.Job{}, badgerhold.Where("Status").Eq(status))
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

// CompareAndSwapStatus transitions jobID from oldStatus to newStatus under
// the storage mutex. Returns false with no side effects when the job is not
// in oldStatus - the losing side of a claim race lands here.
func (s *JobStorage) CompareAndSwapStatus(ctx context.Context, jobID string, oldStatus, newStatus models.JobStatus, mutate func(*models.Job)) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var job models.Job
	if err := s.db.Store().Get(jobID, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return false, fmt.Errorf("job %s: %w", jobID, badgerhold.ErrNotFound)
		}
		return false, fmt.Errorf("failed to get job: %w", err)
	}

	if job.Status != oldStatus {
		return false, nil
	}

	job.Status = newStatus
	if mutate != nil {
		mutate(&job)
	}

	if err := s.db.Store().Upsert(job.ID, &job); err != nil {
		return false, fmt.Errorf("failed to save job: %w", err)
	}
	return true, nil
}

func (s *JobStorage) UpdateJobHeartbeat(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var job models.Job
	if err := s.db.Store().Get(jobID, &job); err != nil {
		return err
	}
	now := time.Now()
	job.LastHeartbeat = &now
	return s.db.Store().Upsert(job.ID, &job)
}

func (s *JobStorage) GetStaleRunningJobs(ctx context.Context, staleThresholdMinutes int) ([]*models.Job, error) {
	threshold := time.Now().Add(-time.Duration(staleThresholdMinutes) * time.Minute)

	var jobs []models.Job
	err := s.db.Store().Find(&jobs, badgerhold.Where("Status").Eq(models.JobStatusRunning))
	if err != nil {
		return nil, err
	}

	var stale []*models.Job
	for i := range jobs {
		j := &jobs[i]
		last := j.StartedAt
		if j.LastHeartbeat != nil {
			last = j.LastHeartbeat
		}
		if last != nil && last.Before(threshold) {
			stale = append(stale, j)
		}
	}
	return stale, nil
}
