package common

import (
	"github.com/google/uuid"
)

// NewJobID generates a unique job ID with the "job_" prefix
func NewJobID() string {
	return "job_" + uuid.New().String()
}

// NewSessionID generates a unique interactive session ID with the "ses_" prefix
func NewSessionID() string {
	return "ses_" + uuid.New().String()
}
