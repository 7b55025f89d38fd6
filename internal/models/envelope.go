package models

import (
	"encoding/json"
	"fmt"
)

// Envelope is the structure stored on the dispatch queue.
// Keep it small - just enough to route the job to a worker.
type Envelope struct {
	JobID string `json:"job_id"` // References Job.ID
	Type  string `json:"type"`   // Job type for handler routing
}

// ToJSON serializes the envelope for queue storage.
func (e *Envelope) ToJSON() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return data, nil
}

// EnvelopeFromJSON deserializes an envelope from queue storage.
func EnvelopeFromJSON(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	return &e, nil
}
