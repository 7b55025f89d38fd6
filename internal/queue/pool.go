package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/relay/internal/interfaces"
)

// DispatchFunc processes one delivery. It owns the ack decision: ack after
// a durable outcome, leave unacked to let the visibility timeout redeliver.
type DispatchFunc func(ctx context.Context, delivery *interfaces.Delivery) error

// WorkerPool polls the queue with a fixed number of workers and hands
// deliveries to the dispatch function
type WorkerPool struct {
	queue    interfaces.Queue
	config   Config
	dispatch DispatchFunc
	logger   arbor.ILogger
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(queue interfaces.Queue, config Config, dispatch DispatchFunc, logger arbor.ILogger) *WorkerPool {
	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		queue:    queue,
		config:   config,
		dispatch: dispatch,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start starts the worker goroutines
func (wp *WorkerPool) Start() error {
	if wp.dispatch == nil {
		return fmt.Errorf("dispatch function is required")
	}

	wp.logger.Info().
		Int("concurrency", wp.config.Concurrency).
		Str("queue", wp.config.Name).
		Msg("Starting worker pool")

	for i := 0; i < wp.config.Concurrency; i++ {
		go wp.worker(i)
	}

	return nil
}

// Stop signals all workers to exit after their current delivery
func (wp *WorkerPool) Stop() error {
	wp.logger.Info().Msg("Stopping worker pool")
	wp.cancel()
	return nil
}

func (wp *WorkerPool) worker(workerID int) {
	// Stagger worker starts to reduce contention on the badger write txn
	staggerDelay := (wp.config.PollInterval / time.Duration(wp.config.Concurrency)) * time.Duration(workerID)
	if staggerDelay > 0 {
		time.Sleep(staggerDelay)
	}

	wp.logger.Debug().
		Int("worker_id", workerID).
		Msg("Worker started")

	ticker := time.NewTicker(wp.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-wp.ctx.Done():
			wp.logger.Debug().
				Int("worker_id", workerID).
				Msg("Worker stopped")
			return

		case <-ticker.C:
			if err := wp.processOne(workerID); err != nil {
				if !errors.Is(err, ErrNoMessage) {
					wp.logger.Warn().
						Err(err).
						Int("worker_id", workerID).
						Msg("Error processing delivery")
				}
			}
		}
	}
}

func (wp *WorkerPool) processOne(workerID int) error {
	delivery, err := wp.queue.Receive(wp.ctx)
	if err != nil {
		return err
	}

	wp.logger.Debug().
		Str("delivery_id", delivery.ID).
		Str("job_id", delivery.Envelope.JobID).
		Str("type", delivery.Envelope.Type).
		Int("worker_id", workerID).
		Msg("Processing delivery")

	return wp.dispatch(wp.ctx, delivery)
}
