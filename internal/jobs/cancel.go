package jobs

import "sync"

// Cancellations tracks cooperative cancel requests for in-flight jobs.
// A request closes the job's channel; the runner selects on it between
// targets and winds the job down.
type Cancellations struct {
	mu      sync.Mutex
	pending map[string]chan struct{}
}

// NewCancellations creates an empty cancel registry
func NewCancellations() *Cancellations {
	return &Cancellations{
		pending: make(map[string]chan struct{}),
	}
}

// Watch returns the cancel channel for a job, creating it on first use.
// The channel is closed when cancellation is requested.
func (c *Cancellations) Watch(jobID string) <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channelLocked(jobID)
}

// Request marks the job cancelled. Idempotent.
func (c *Cancellations) Request(jobID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := c.channelLocked(jobID)
	select {
	case <-ch:
		// Already closed
	default:
		close(ch)
	}
}

// Requested reports whether cancellation has been asked for
func (c *Cancellations) Requested(jobID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch, ok := c.pending[jobID]
	if !ok {
		return false
	}
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// Clear drops the job's entry once it reaches a terminal status
func (c *Cancellations) Clear(jobID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, jobID)
}

func (c *Cancellations) channelLocked(jobID string) chan struct{} {
	ch, ok := c.pending[jobID]
	if !ok {
		ch = make(chan struct{})
		c.pending[jobID] = ch
	}
	return ch
}
