package queue

import (
	"errors"
	"time"
)

// ErrNoMessage is returned when the queue has nothing visible to deliver
var ErrNoMessage = errors.New("no message")

// Config holds queue and worker pool configuration
type Config struct {
	Name              string
	PollInterval      time.Duration
	VisibilityTimeout time.Duration
	MaxReceive        int
	Concurrency       int
}

// DefaultConfig returns sensible queue defaults
func DefaultConfig() Config {
	return Config{
		Name:              "relay_jobs",
		PollInterval:      250 * time.Millisecond,
		VisibilityTimeout: 5 * time.Minute,
		MaxReceive:        3,
		Concurrency:       8,
	}
}
