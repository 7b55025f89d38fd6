package interfaces

import (
	"github.com/ternarybob/relay/internal/models"
)

// LogEvent is one fan-out delivery: a log line, a status change, or the
// end-of-replay marker separating durable history from the live tail.
type LogEvent struct {
	Line        *models.JobLogEntry `json:"line,omitempty"`
	Status      models.JobStatus    `json:"status,omitempty"`
	EndOfReplay bool                `json:"end_of_replay,omitempty"`
}

// LogFanout broadcasts appended log lines and status changes to live
// subscribers of a job. Publishing is fire-and-forget and is not the
// durability path - lines are persisted before they are published.
type LogFanout interface {
	// Publish delivers a durably-appended line to live subscribers in
	// append order.
	Publish(entry models.JobLogEntry)

	// PublishStatus delivers a status change to live subscribers.
	PublishStatus(jobID string, status models.JobStatus)

	// Subscribe registers a subscriber for one job starting after afterSeq.
	// The returned channel replays all durable lines past the cursor before
	// switching to the live tail, so no line is skipped mid-job. The cancel
	// func must be called to release the subscription.
	Subscribe(jobID string, afterSeq uint64) (<-chan LogEvent, func(), error)
}
