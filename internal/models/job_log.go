package models

import "time"

// Log severities carried on job log lines.
const (
	SeverityDebug = "debug"
	SeverityInfo  = "info"
	SeverityWarn  = "warn"
	SeverityError = "error"
)

// JobLogEntry is one immutable line of a job's ordered log. Sequence is
// assigned at append time, strictly increasing per job, and never reused.
type JobLogEntry struct {
	JobID     string    `json:"job_id" badgerholdIndex:"JobID"`
	Sequence  uint64    `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
	Severity  string    `json:"severity"`
	Message   string    `json:"message"`
}
