package ssh

import (
	"context"
	"testing"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/relay/internal/common"
	"github.com/ternarybob/relay/internal/devices"
	"github.com/ternarybob/relay/internal/models"
	storage "github.com/ternarybob/relay/internal/storage/badger"
)

func newRelayFixture(t *testing.T) (*Relay, *storage.Manager) {
	t.Helper()

	logger := arbor.NewLogger()
	manager, err := storage.NewManager(logger, &common.BadgerConfig{Path: t.TempDir()})
	if err != nil {
		t.Fatalf("Failed to open storage: %v", err)
	}
	t.Cleanup(func() { manager.Close() })

	resolver := devices.NewResolver(manager.DeviceStorage(), logger)
	relay := NewRelay(manager.DeviceStorage(), resolver, Config{}, logger)
	return relay, manager
}

func TestOpenRequiresTenant(t *testing.T) {
	relay, _ := newRelayFixture(t)

	session, code, err := relay.Open(context.Background(), "", "dev_1")
	if err != nil {
		t.Fatal(err)
	}
	if session != nil {
		t.Error("No session on rejection")
	}
	if code != models.CloseAuthRequired {
		t.Errorf("Expected auth_required, got %s", code)
	}
}

func TestOpenRejectsMalformedDeviceID(t *testing.T) {
	relay, _ := newRelayFixture(t)

	for _, id := range []string{"", "dev 1", "dev\t1"} {
		_, code, err := relay.Open(context.Background(), "acme", id)
		if err != nil {
			t.Fatal(err)
		}
		if code != models.CloseInvalidDevice {
			t.Errorf("ID %q: expected invalid_device_id, got %s", id, code)
		}
	}
}

func TestOpenDeviceNotFound(t *testing.T) {
	relay, _ := newRelayFixture(t)

	_, code, err := relay.Open(context.Background(), "acme", "dev_missing")
	if err != nil {
		t.Fatal(err)
	}
	if code != models.CloseNotFound {
		t.Errorf("Expected device_not_found, got %s", code)
	}
}

func TestOpenCrossTenantDenied(t *testing.T) {
	relay, manager := newRelayFixture(t)
	ctx := context.Background()

	if err := manager.DeviceStorage().SaveDevice(ctx, &models.DeviceRef{
		ID: "dev_1", TenantID: "globex", Name: "other", Address: "10.1.0.1", AuthID: "cred_1",
	}); err != nil {
		t.Fatal(err)
	}

	_, code, err := relay.Open(ctx, "acme", "dev_1")
	if err != nil {
		t.Fatal(err)
	}
	if code != models.CloseAccessDenied {
		t.Errorf("Expected access_denied, got %s", code)
	}
}

func TestOpenNoCredentialsConfigured(t *testing.T) {
	relay, manager := newRelayFixture(t)
	ctx := context.Background()

	if err := manager.DeviceStorage().SaveDevice(ctx, &models.DeviceRef{
		ID: "dev_1", TenantID: "acme", Name: "sw-1", Address: "10.0.0.1",
	}); err != nil {
		t.Fatal(err)
	}

	_, code, err := relay.Open(ctx, "acme", "dev_1")
	if err != nil {
		t.Fatal(err)
	}
	if code != models.CloseNoCredentials {
		t.Errorf("Expected no_credentials_configured, got %s", code)
	}
}

func TestOpenDanglingCredentialReference(t *testing.T) {
	relay, manager := newRelayFixture(t)
	ctx := context.Background()

	// AuthID points at a credential that does not exist
	if err := manager.DeviceStorage().SaveDevice(ctx, &models.DeviceRef{
		ID: "dev_1", TenantID: "acme", Name: "sw-1", Address: "10.0.0.1", AuthID: "cred_missing",
	}); err != nil {
		t.Fatal(err)
	}

	_, code, err := relay.Open(ctx, "acme", "dev_1")
	if err != nil {
		t.Fatal(err)
	}
	if code != models.CloseNoCredentials {
		t.Errorf("Expected no_credentials_configured, got %s", code)
	}
}
