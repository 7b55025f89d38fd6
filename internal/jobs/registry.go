package jobs

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/ternarybob/relay/internal/models"
)

// Handler turns a validated job payload into the operation the driver
// runs on each target. One handler per job type; the set is closed at
// startup, unknown types are rejected at submission.
type Handler interface {
	Type() string
	// BuildOperation validates the payload and produces the per-target
	// operation. Validation failures surface at job creation, not at
	// execution.
	BuildOperation(payload json.RawMessage) (models.Operation, error)
}

// Registry is the closed set of job type handlers
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty handler registry
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register adds a handler for its job type. Duplicate registration is a
// wiring bug and panics at startup rather than shadowing silently.
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[h.Type()]; exists {
		panic(fmt.Sprintf("duplicate job handler registration: %s", h.Type()))
	}
	r.handlers[h.Type()] = h
}

// Get returns the handler for a job type
func (r *Registry) Get(jobType string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[jobType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidJobType, jobType)
	}
	return h, nil
}

// Types returns the registered job types in sorted order
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
