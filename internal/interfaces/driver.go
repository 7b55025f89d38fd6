package interfaces

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ternarybob/relay/internal/models"
)

// TargetResolver turns a tenant-scoped filter into a concrete device list.
type TargetResolver interface {
	Resolve(ctx context.Context, tenantID string, filter json.RawMessage) ([]*models.DeviceRef, error)
}

// Driver executes one typed operation against one device. Failures are
// returned as structured outcomes, never as errors - an error return is
// reserved for programming mistakes (nil device, unsupported operation).
type Driver interface {
	Execute(ctx context.Context, device *models.DeviceRef, cred *models.DeviceCredential, op models.Operation, timeout time.Duration) models.Outcome
}

// CredentialResolver looks up transport credentials for a device.
type CredentialResolver interface {
	CredentialFor(ctx context.Context, device *models.DeviceRef) (*models.DeviceCredential, error)
}
