package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/relay/internal/common"
	"github.com/ternarybob/relay/internal/interfaces"
	"github.com/ternarybob/relay/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// Service is the sole writer of the job store. Every status transition
// and log append goes through here, which is what keeps per-job order
// and the monotonic machine intact.
type Service struct {
	storage    interfaces.JobStorage
	logStorage interfaces.JobLogStorage
	queue      interfaces.Queue
	fanout     interfaces.LogFanout
	registry   *Registry
	cancels    *Cancellations
	locks      *jobLocks
	logger     arbor.ILogger

	// CancelGrace bounds how long a cancelled running job may wait for
	// worker acknowledgment before being forced terminal. Zero disables
	// the grace sweep.
	CancelGrace time.Duration
}

// NewService creates the job service
func NewService(
	storage interfaces.JobStorage,
	logStorage interfaces.JobLogStorage,
	queue interfaces.Queue,
	fanout interfaces.LogFanout,
	registry *Registry,
	cancels *Cancellations,
	logger arbor.ILogger,
) *Service {
	return &Service{
		storage:    storage,
		logStorage: logStorage,
		queue:      queue,
		fanout:     fanout,
		registry:   registry,
		cancels:    cancels,
		locks:      newJobLocks(),
		logger:     logger,
	}
}

// Create validates, persists, and enqueues a new job. The job is durable
// before the envelope exists, so a crash between the two leaves a queued
// job for the reaper rather than a dangling envelope.
func (s *Service) Create(ctx context.Context, tenantID, jobType string, targets, payload json.RawMessage) (*models.Job, error) {
	handler, err := s.registry.Get(jobType)
	if err != nil {
		return nil, err
	}

	// Reject bad payloads at submission, not at execution
	if _, err := handler.BuildOperation(payload); err != nil {
		return nil, err
	}

	job := models.NewJob(tenantID, jobType, targets, payload)
	if err := s.storage.SaveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to persist job: %w", err)
	}

	envelope := &models.Envelope{JobID: job.ID, Type: job.Type}
	if err := s.queue.Enqueue(ctx, envelope); err != nil {
		return nil, fmt.Errorf("failed to enqueue job %s: %w", job.ID, err)
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Str("tenant_id", tenantID).
		Str("type", jobType).
		Msg("Job created")

	return job, nil
}

func (s *Service) Get(ctx context.Context, jobID string) (*models.Job, error) {
	job, err := s.storage.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
		}
		return nil, err
	}
	return job, nil
}

func (s *Service) List(ctx context.Context, opts *interfaces.JobListOptions) ([]*models.Job, error) {
	return s.storage.ListJobs(ctx, opts)
}

// Claim atomically moves a queued job to running. Exactly one caller wins;
// the rest get false and must discard their envelope with no side effects.
func (s *Service) Claim(ctx context.Context, jobID string) (bool, error) {
	release := s.locks.acquire(jobID)
	defer release()

	now := time.Now()
	swapped, err := s.storage.CompareAndSwapStatus(ctx, jobID, models.JobStatusQueued, models.JobStatusRunning, func(j *models.Job) {
		j.StartedAt = &now
		j.LastHeartbeat = &now
	})
	if err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return false, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
		}
		return false, err
	}
	if swapped {
		s.fanout.PublishStatus(jobID, models.JobStatusRunning)
	}
	return swapped, nil
}

// Transition moves a job along the monotonic machine. Illegal edges,
// including anything out of a terminal state, return ErrIllegalTransition.
func (s *Service) Transition(ctx context.Context, jobID string, status models.JobStatus, result *models.ResultSummary) error {
	release := s.locks.acquire(jobID)
	defer release()

	job, err := s.Get(ctx, jobID)
	if err != nil {
		return err
	}

	if !job.Status.CanTransitionTo(status) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, job.Status, status)
	}

	now := time.Now()
	swapped, err := s.storage.CompareAndSwapStatus(ctx, jobID, job.Status, status, func(j *models.Job) {
		if status.IsTerminal() {
			j.FinishedAt = &now
			j.Result = result
		}
	})
	if err != nil {
		return err
	}
	if !swapped {
		// Lost a race with a concurrent transition, re-read for the message
		current, gerr := s.Get(ctx, jobID)
		if gerr != nil {
			return gerr
		}
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, current.Status, status)
	}

	s.fanout.PublishStatus(jobID, status)
	if status.IsTerminal() {
		s.cancels.Clear(jobID)
		s.logger.Info().
			Str("job_id", jobID).
			Str("status", string(status)).
			Msg("Job finalized")
	}
	return nil
}

// AppendLog persists one line, then publishes it to live subscribers.
// The whole sequence runs under the job lock: publishes leave in the
// same order sequences were assigned, and a concurrent finalize cannot
// slip between the running check and the persist.
func (s *Service) AppendLog(ctx context.Context, jobID, severity, message string) (uint64, error) {
	release := s.locks.acquire(jobID)
	defer release()

	job, err := s.Get(ctx, jobID)
	if err != nil {
		return 0, err
	}
	if job.Status != models.JobStatusRunning {
		return 0, fmt.Errorf("%w: %s is %s", ErrJobNotRunning, jobID, job.Status)
	}

	entry, err := s.logStorage.AppendLog(ctx, jobID, severity, message)
	if err != nil {
		return 0, err
	}

	s.fanout.Publish(*entry)
	return entry.Sequence, nil
}

func (s *Service) GetLogs(ctx context.Context, jobID string, afterSeq uint64, limit int) ([]models.JobLogEntry, error) {
	if _, err := s.Get(ctx, jobID); err != nil {
		return nil, err
	}
	return s.logStorage.GetLogs(ctx, jobID, afterSeq, limit)
}

// Cancel requests cancellation. A queued job is finalized directly; a
// running job gets a cooperative signal and the worker finalizes it.
// Cancelling a terminal job is a no-op.
func (s *Service) Cancel(ctx context.Context, jobID string) error {
	release := s.locks.acquire(jobID)
	defer release()

	job, err := s.Get(ctx, jobID)
	if err != nil {
		return err
	}

	if job.Status.IsTerminal() {
		return nil
	}

	if job.Status == models.JobStatusQueued {
		now := time.Now()
		swapped, err := s.storage.CompareAndSwapStatus(ctx, jobID, models.JobStatusQueued, models.JobStatusCancelled, func(j *models.Job) {
			j.FinishedAt = &now
		})
		if err != nil {
			return err
		}
		if swapped {
			s.fanout.PublishStatus(jobID, models.JobStatusCancelled)
			s.logger.Info().Str("job_id", jobID).Msg("Queued job cancelled")
			return nil
		}
		// A worker claimed it between our read and the swap, fall through
		// to the cooperative path
	}

	s.cancels.Request(jobID)
	s.logger.Info().Str("job_id", jobID).Msg("Cancellation requested")

	if s.CancelGrace > 0 {
		common.SafeGo(s.logger, "cancel-grace", func() { s.enforceCancelGrace(jobID) })
	}
	return nil
}

// enforceCancelGrace finalizes a cancelled job whose worker never
// acknowledged the signal. A dead worker would otherwise leave the job
// running until the reaper fails it, losing the operator's intent.
func (s *Service) enforceCancelGrace(jobID string) {
	time.Sleep(s.CancelGrace)

	result := &models.ResultSummary{Error: "cancelled: worker did not acknowledge within grace"}
	if err := s.Transition(context.Background(), jobID, models.JobStatusCancelled, result); err != nil {
		// The worker finalized in time, nothing to enforce
		s.logger.Debug().Err(err).Str("job_id", jobID).Msg("Cancel grace sweep skipped")
	}
}

func (s *Service) Heartbeat(ctx context.Context, jobID string) error {
	return s.storage.UpdateJobHeartbeat(ctx, jobID)
}
