package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/relay/internal/interfaces"
	"github.com/ternarybob/relay/internal/models"
)

// RunnerConfig tunes one worker execution context
type RunnerConfig struct {
	FanOutLimit   int           // Max concurrent targets per job
	TargetTimeout time.Duration // Per-target operation ceiling
	JobTimeout    time.Duration // Overall job ceiling, 0 disables
	Heartbeat     time.Duration // Heartbeat and visibility-extension interval
	Visibility    time.Duration // Queue visibility window to extend to
}

// Runner executes claimed jobs. One Dispatch call owns one envelope:
// claim, resolve, fan out, aggregate, finalize, ack. Anything that
// escapes the handler path is caught by the failure guard so a job never
// wedges in running because of a bug.
type Runner struct {
	service  *Service
	registry *Registry
	resolver interfaces.TargetResolver
	creds    interfaces.CredentialResolver
	driver   interfaces.Driver
	queue    interfaces.Queue
	cancels  *Cancellations
	config   RunnerConfig
	logger   arbor.ILogger
}

// NewRunner creates a job runner
func NewRunner(
	service *Service,
	registry *Registry,
	resolver interfaces.TargetResolver,
	creds interfaces.CredentialResolver,
	driver interfaces.Driver,
	queue interfaces.Queue,
	cancels *Cancellations,
	config RunnerConfig,
	logger arbor.ILogger,
) *Runner {
	if config.FanOutLimit <= 0 {
		config.FanOutLimit = 10
	}
	if config.TargetTimeout <= 0 {
		config.TargetTimeout = 30 * time.Second
	}
	return &Runner{
		service:  service,
		registry: registry,
		resolver: resolver,
		creds:    creds,
		driver:   driver,
		queue:    queue,
		cancels:  cancels,
		config:   config,
		logger:   logger,
	}
}

// Dispatch processes one delivery. At-least-once delivery means the same
// envelope can arrive twice; the idempotent claim makes the duplicate a
// silent discard.
func (r *Runner) Dispatch(ctx context.Context, delivery *interfaces.Delivery) error {
	jobID := delivery.Envelope.JobID

	job, err := r.service.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, ErrJobNotFound) {
			// Envelope outlived its job, discard
			return delivery.Ack()
		}
		return err
	}

	if job.Status.IsTerminal() {
		return delivery.Ack()
	}

	claimed, err := r.service.Claim(ctx, jobID)
	if err != nil {
		return err
	}
	if !claimed {
		// Another worker owns this job, or the reaper will. Either way
		// this envelope has nothing left to do.
		r.logger.Debug().Str("job_id", jobID).Msg("Claim lost, discarding envelope")
		return delivery.Ack()
	}

	r.logger.Info().
		Str("job_id", jobID).
		Str("type", job.Type).
		Msg("Job claimed")

	jobCtx, cancelJob := r.jobContext(ctx)
	defer cancelJob()

	stopHeartbeat := r.startHeartbeat(ctx, jobID, delivery.ID)
	defer stopHeartbeat()

	status, result := r.executeGuarded(jobCtx, job)

	// Finalize on the pool context, not the job context - the job context
	// may have expired on the ceiling path
	if err := r.service.Transition(ctx, jobID, status, result); err != nil {
		r.logger.Error().
			Err(err).
			Str("job_id", jobID).
			Str("status", string(status)).
			Msg("Failed to finalize job")
		return err
	}

	return delivery.Ack()
}

// jobContext applies the job ceiling to the pool context. Operator
// cancel is deliberately not wired in here: cancellation is cooperative,
// polled between target launches, and never interrupts an operation
// already in flight.
func (r *Runner) jobContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.config.JobTimeout > 0 {
		return context.WithTimeout(ctx, r.config.JobTimeout)
	}
	return context.WithCancel(ctx)
}

// startHeartbeat keeps both the job record and the queue envelope alive
// while the job runs
func (r *Runner) startHeartbeat(ctx context.Context, jobID, deliveryID string) func() {
	if r.config.Heartbeat <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(r.config.Heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := r.service.Heartbeat(ctx, jobID); err != nil {
					r.logger.Warn().Err(err).Str("job_id", jobID).Msg("Heartbeat failed")
				}
				if r.config.Visibility > 0 {
					if err := r.queue.Extend(ctx, deliveryID, r.config.Visibility); err != nil {
						r.logger.Warn().Err(err).Str("job_id", jobID).Msg("Visibility extension failed")
					}
				}
			}
		}
	}()

	return func() { close(done) }
}

// executeGuarded is the top-level failure guard: a panic anywhere in the
// execution path becomes a failed job, never a wedged one.
func (r *Runner) executeGuarded(ctx context.Context, job *models.Job) (status models.JobStatus, result *models.ResultSummary) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().
				Str("job_id", job.ID).
				Str("panic", fmt.Sprintf("%v", rec)).
				Msg("Job execution panicked")
			r.appendLog(ctx, job.ID, models.SeverityError, fmt.Sprintf("internal error: %v", rec))
			status = models.JobStatusFailed
			result = &models.ResultSummary{Error: fmt.Sprintf("internal error: %v", rec)}
		}
	}()

	return r.execute(ctx, job)
}

func (r *Runner) execute(ctx context.Context, job *models.Job) (models.JobStatus, *models.ResultSummary) {
	handler, err := r.registry.Get(job.Type)
	if err != nil {
		r.appendLog(ctx, job.ID, models.SeverityError, err.Error())
		return models.JobStatusFailed, &models.ResultSummary{Error: err.Error()}
	}

	op, err := handler.BuildOperation(job.Payload)
	if err != nil {
		r.appendLog(ctx, job.ID, models.SeverityError, fmt.Sprintf("payload rejected: %v", err))
		return models.JobStatusFailed, &models.ResultSummary{Error: err.Error()}
	}

	devices, err := r.resolver.Resolve(ctx, job.TenantID, job.Targets)
	if err != nil {
		r.appendLog(ctx, job.ID, models.SeverityError, fmt.Sprintf("target resolution failed: %v", err))
		return models.JobStatusFailed, &models.ResultSummary{Error: fmt.Sprintf("target resolution failed: %v", err)}
	}

	if len(devices) == 0 {
		r.appendLog(ctx, job.ID, models.SeverityWarn, "no targets matched, nothing to do")
		return models.JobStatusSuccess, &models.ResultSummary{}
	}

	r.appendLog(ctx, job.ID, models.SeverityInfo,
		fmt.Sprintf("executing %s on %d target(s)", op.Kind, len(devices)))

	outcomes := r.fanOut(ctx, job, op, devices)
	return r.aggregate(ctx, job.ID, outcomes)
}

// fanOut runs the operation on every target with bounded concurrency.
// The cancel signal is checked between target launches only; a target
// already in flight runs to completion or its own timeout. Targets not
// yet started when the signal or the ceiling fires are recorded rather
// than silently skipped.
func (r *Runner) fanOut(ctx context.Context, job *models.Job, op models.Operation, devices []*models.DeviceRef) []models.Outcome {
	sem := make(chan struct{}, r.config.FanOutLimit)
	outcomes := make([]models.Outcome, len(devices))
	var wg sync.WaitGroup

	cancelCh := r.cancels.Watch(job.ID)

	for i, device := range devices {
		// Checked first so a raised signal beats a freed semaphore slot
		select {
		case <-cancelCh:
			outcomes[i] = skippedOutcome(device, models.OutcomeCancelled, "job cancelled before execution")
			continue
		default:
		}

		select {
		case <-cancelCh:
			outcomes[i] = skippedOutcome(device, models.OutcomeCancelled, "job cancelled before execution")
			continue
		case <-ctx.Done():
			outcomes[i] = ctxOutcome(ctx, device)
			continue
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(idx int, dev *models.DeviceRef) {
			defer wg.Done()
			defer func() { <-sem }()
			defer func() {
				if rec := recover(); rec != nil {
					outcomes[idx] = models.Outcome{
						DeviceID:   dev.ID,
						DeviceName: dev.Name,
						Kind:       models.OutcomeCommand,
						Error:      fmt.Sprintf("internal error: %v", rec),
					}
				}
			}()

			outcomes[idx] = r.runTarget(ctx, job.ID, op, dev)
		}(i, device)
	}

	wg.Wait()
	return outcomes
}

func skippedOutcome(device *models.DeviceRef, kind models.OutcomeKind, message string) models.Outcome {
	return models.Outcome{
		DeviceID:   device.ID,
		DeviceName: device.Name,
		Kind:       kind,
		Error:      message,
	}
}

// ctxOutcome records a target the dead context kept from starting
func ctxOutcome(ctx context.Context, device *models.DeviceRef) models.Outcome {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return skippedOutcome(device, models.OutcomeTimeout, "job deadline exceeded before execution")
	}
	return skippedOutcome(device, models.OutcomeCancelled, "job cancelled before execution")
}

func (r *Runner) runTarget(ctx context.Context, jobID string, op models.Operation, device *models.DeviceRef) models.Outcome {
	if err := ctx.Err(); err != nil {
		return ctxOutcome(ctx, device)
	}

	cred, err := r.creds.CredentialFor(ctx, device)
	if err != nil {
		r.appendLog(ctx, jobID, models.SeverityError,
			fmt.Sprintf("%s: credential lookup failed: %v", device.Name, err))
		return models.Outcome{
			DeviceID:   device.ID,
			DeviceName: device.Name,
			Kind:       models.OutcomeAuthFailed,
			Error:      err.Error(),
		}
	}

	r.appendLog(ctx, jobID, models.SeverityInfo, fmt.Sprintf("%s: starting", device.Name))

	targetCtx, cancel := context.WithTimeout(ctx, r.config.TargetTimeout)
	defer cancel()

	outcome := r.driver.Execute(targetCtx, device, cred, op, r.config.TargetTimeout)

	if outcome.OK() {
		r.appendLog(ctx, jobID, models.SeverityInfo,
			fmt.Sprintf("%s: done in %s", device.Name, outcome.Duration.Round(time.Millisecond)))
	} else {
		r.appendLog(ctx, jobID, models.SeverityError,
			fmt.Sprintf("%s: %s: %s", device.Name, outcome.Kind, outcome.Error))
	}

	return outcome
}

// aggregate folds per-target outcomes into the terminal status. Operator
// cancel wins over everything; an exceeded job ceiling forces failed
// regardless of how many targets finished first.
func (r *Runner) aggregate(ctx context.Context, jobID string, outcomes []models.Outcome) (models.JobStatus, *models.ResultSummary) {
	summary := &models.ResultSummary{Total: len(outcomes)}

	for _, o := range outcomes {
		target := models.TargetOutcome{
			DeviceID:   o.DeviceID,
			DeviceName: o.DeviceName,
			OK:         o.OK(),
			Error:      o.Error,
			DurationMS: float64(o.Duration.Milliseconds()),
		}
		summary.Targets = append(summary.Targets, target)

		if o.OK() {
			summary.Succeeded++
		} else {
			summary.Failed++
		}
	}

	var status models.JobStatus
	switch {
	case r.cancels.Requested(jobID):
		status = models.JobStatusCancelled
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		status = models.JobStatusFailed
		summary.Error = "job deadline exceeded"
	case summary.Failed == 0:
		status = models.JobStatusSuccess
	case summary.Succeeded == 0:
		status = models.JobStatusFailed
	default:
		status = models.JobStatusPartial
	}

	r.appendLog(ctx, jobID, models.SeverityInfo,
		fmt.Sprintf("finished: %d/%d succeeded", summary.Succeeded, summary.Total))

	return status, summary
}

// appendLog is best-effort: losing a progress line must never fail the job
func (r *Runner) appendLog(ctx context.Context, jobID, severity, message string) {
	// Appends race job finalization on the cancel path, use a background
	// context so a cancelled job context does not drop the line
	if _, err := r.service.AppendLog(context.WithoutCancel(ctx), jobID, severity, message); err != nil {
		r.logger.Debug().Err(err).Str("job_id", jobID).Msg("Log append skipped")
	}
}
