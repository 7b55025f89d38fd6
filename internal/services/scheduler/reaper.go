package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/relay/internal/common"
	"github.com/ternarybob/relay/internal/interfaces"
	"github.com/ternarybob/relay/internal/models"
)

// Reaper sweeps running jobs whose worker stopped heartbeating - a crashed
// process, a kill -9, a hung driver - and forces them to failed so they do
// not sit in running forever. Crash recovery is a reaper concern, not a
// queue concern: the envelope redelivers, loses the claim, and is dropped.
type Reaper struct {
	service interfaces.JobService
	storage interfaces.JobStorage
	config  *common.ReaperConfig
	cron    *cron.Cron
	logger  arbor.ILogger
	running bool
}

// NewReaper creates a stale job reaper
func NewReaper(service interfaces.JobService, storage interfaces.JobStorage, config *common.ReaperConfig, logger arbor.ILogger) *Reaper {
	return &Reaper{
		service: service,
		storage: storage,
		config:  config,
		cron:    cron.New(),
		logger:  logger,
	}
}

// Start schedules the sweep
func (r *Reaper) Start() error {
	if !r.config.Enabled {
		r.logger.Info().Msg("Stale job reaper disabled")
		return nil
	}
	if r.running {
		return fmt.Errorf("reaper already running")
	}

	schedule := r.config.Schedule
	if schedule == "" {
		schedule = "@every 1m"
	}

	if _, err := r.cron.AddFunc(schedule, r.sweep); err != nil {
		return fmt.Errorf("failed to schedule reaper: %w", err)
	}

	r.cron.Start()
	r.running = true

	r.logger.Info().
		Str("schedule", schedule).
		Int("stale_after_minutes", r.config.StaleAfterMinutes).
		Msg("Stale job reaper started")
	return nil
}

// Stop halts the sweep, waiting for an in-progress run
func (r *Reaper) Stop() {
	if !r.running {
		return
	}
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.running = false
	r.logger.Info().Msg("Stale job reaper stopped")
}

// sweep forces stale running jobs to failed
func (r *Reaper) sweep() {
	ctx := context.Background()

	stale, err := r.storage.GetStaleRunningJobs(ctx, r.config.StaleAfterMinutes)
	if err != nil {
		r.logger.Error().Err(err).Msg("Stale job scan failed")
		return
	}
	if len(stale) == 0 {
		return
	}

	for _, job := range stale {
		result := &models.ResultSummary{
			Error: fmt.Sprintf("worker lost: no heartbeat for %d minutes", r.config.StaleAfterMinutes),
		}
		if err := r.service.Transition(ctx, job.ID, models.JobStatusFailed, result); err != nil {
			// The worker may have finalized between scan and sweep, that
			// race resolving against us is fine
			r.logger.Debug().
				Err(err).
				Str("job_id", job.ID).
				Msg("Stale job already finalized")
			continue
		}
		r.logger.Warn().
			Str("job_id", job.ID).
			Msg("Stale running job forced to failed")
	}
}
