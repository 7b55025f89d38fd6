package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/relay/internal/models"
)

// Delivery is one received envelope plus the controls for it. Ack deletes
// the envelope; until then it becomes visible again after the visibility
// timeout and is redelivered.
type Delivery struct {
	ID       string
	Envelope *models.Envelope
	Ack      func() error
}

// Queue is the durable dispatch queue with at-least-once delivery.
// Double execution is prevented downstream by the idempotent
// queued->running claim, not by the queue.
type Queue interface {
	Enqueue(ctx context.Context, envelope *models.Envelope) error

	// Receive pulls the next visible envelope. Returns queue.ErrNoMessage
	// when nothing is ready.
	Receive(ctx context.Context) (*Delivery, error)

	// Extend pushes out the visibility timeout for a long-running job.
	Extend(ctx context.Context, deliveryID string, duration time.Duration) error

	Close() error
}
