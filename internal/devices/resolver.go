package devices

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/relay/internal/interfaces"
	"github.com/ternarybob/relay/internal/models"
)

// ErrNoCredentials is returned for devices with no configured credential
var ErrNoCredentials = errors.New("no credentials configured")

// TargetFilter is the target specification carried on a job. Explicit IDs
// and attribute filters combine as a union.
type TargetFilter struct {
	DeviceIDs []string `json:"device_ids,omitempty"`
	Tags      []string `json:"tags,omitempty"`
	Platform  string   `json:"platform,omitempty"`
}

// Resolver resolves job targets and credentials from the device registry.
// All lookups are tenant scoped: a device belonging to another tenant is
// indistinguishable from one that does not exist.
type Resolver struct {
	storage interfaces.DeviceStorage
	logger  arbor.ILogger
}

// NewResolver creates a device resolver
func NewResolver(storage interfaces.DeviceStorage, logger arbor.ILogger) *Resolver {
	return &Resolver{
		storage: storage,
		logger:  logger,
	}
}

// Resolve turns a filter into a concrete device list. Unknown device IDs
// fail resolution outright rather than shrinking the target set silently.
func (r *Resolver) Resolve(ctx context.Context, tenantID string, filter json.RawMessage) ([]*models.DeviceRef, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant ID is required")
	}

	var f TargetFilter
	if len(filter) > 0 {
		if err := json.Unmarshal(filter, &f); err != nil {
			return nil, fmt.Errorf("invalid target filter: %w", err)
		}
	}

	seen := make(map[string]struct{})
	var result []*models.DeviceRef

	for _, id := range f.DeviceIDs {
		device, err := r.storage.GetDevice(ctx, id)
		if err != nil || device.TenantID != tenantID {
			return nil, fmt.Errorf("device not found: %s", id)
		}
		if _, dup := seen[device.ID]; dup {
			continue
		}
		seen[device.ID] = struct{}{}
		result = append(result, device)
	}

	if len(f.Tags) > 0 || f.Platform != "" {
		all, err := r.storage.ListDevices(ctx, tenantID)
		if err != nil {
			return nil, fmt.Errorf("failed to list devices: %w", err)
		}
		for _, device := range all {
			if _, dup := seen[device.ID]; dup {
				continue
			}
			if !matches(device, &f) {
				continue
			}
			seen[device.ID] = struct{}{}
			result = append(result, device)
		}
	}

	return result, nil
}

func matches(device *models.DeviceRef, f *TargetFilter) bool {
	if f.Platform != "" && device.Platform != f.Platform {
		return false
	}
	if len(f.Tags) > 0 {
		tagged := make(map[string]struct{}, len(device.Tags))
		for _, t := range device.Tags {
			tagged[t] = struct{}{}
		}
		for _, want := range f.Tags {
			if _, ok := tagged[want]; ok {
				return true
			}
		}
		return false
	}
	return true
}

// CredentialFor looks up the transport credential referenced by a device
func (r *Resolver) CredentialFor(ctx context.Context, device *models.DeviceRef) (*models.DeviceCredential, error) {
	if device.AuthID == "" {
		return nil, fmt.Errorf("%w: device %s", ErrNoCredentials, device.ID)
	}

	cred, err := r.storage.GetCredential(ctx, device.AuthID)
	if err != nil {
		return nil, fmt.Errorf("credential %s: %w", device.AuthID, err)
	}
	if cred.TenantID != "" && cred.TenantID != device.TenantID {
		return nil, fmt.Errorf("credential %s: tenant mismatch", device.AuthID)
	}
	return cred, nil
}
