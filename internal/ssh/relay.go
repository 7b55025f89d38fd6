package ssh

import (
	"context"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/relay/internal/interfaces"
	"github.com/ternarybob/relay/internal/models"
)

// Relay validates session requests against the device registry and opens
// interactive sessions. Every rejection maps to a defined close code so
// clients can distinguish "fix your request" from "fix your inventory".
type Relay struct {
	devices interfaces.DeviceStorage
	creds   interfaces.CredentialResolver
	config  Config
	logger  arbor.ILogger
}

// NewRelay creates a session relay
func NewRelay(devices interfaces.DeviceStorage, creds interfaces.CredentialResolver, config Config, logger arbor.ILogger) *Relay {
	return &Relay{
		devices: devices,
		creds:   creds,
		config:  config,
		logger:  logger,
	}
}

// Open validates access and connects. A non-normal close code means the
// request was rejected before any dial was attempted; a dial failure
// comes back as an error with CloseNormal.
func (r *Relay) Open(ctx context.Context, tenantID, deviceID string) (*Session, models.CloseCode, error) {
	if tenantID == "" {
		return nil, models.CloseAuthRequired, nil
	}
	if deviceID == "" || strings.ContainsAny(deviceID, " \t\n") {
		return nil, models.CloseInvalidDevice, nil
	}

	device, err := r.devices.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, models.CloseNotFound, nil
	}
	if device.TenantID != tenantID {
		// Cross-tenant access looks like access denied, not not-found,
		// because the ID namespace is global
		return nil, models.CloseAccessDenied, nil
	}
	if device.AuthID == "" {
		return nil, models.CloseNoCredentials, nil
	}

	cred, err := r.creds.CredentialFor(ctx, device)
	if err != nil {
		return nil, models.CloseNoCredentials, nil
	}

	session, err := Open(ctx, device, cred, r.config, r.logger)
	if err != nil {
		return nil, models.CloseNormal, err
	}
	return session, models.CloseNormal, nil
}
