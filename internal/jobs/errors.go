package jobs

import "errors"

var (
	// ErrInvalidJobType is returned when no handler is registered for the type
	ErrInvalidJobType = errors.New("invalid job type")

	// ErrJobNotFound is returned when the job does not exist
	ErrJobNotFound = errors.New("job not found")

	// ErrIllegalTransition is returned for a status edge outside the
	// monotonic machine, including any transition out of a terminal state
	ErrIllegalTransition = errors.New("illegal status transition")

	// ErrJobNotRunning is returned for log appends against a finalized job
	ErrJobNotRunning = errors.New("job is not running")
)
