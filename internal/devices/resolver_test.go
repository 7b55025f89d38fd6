package devices

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/relay/internal/common"
	"github.com/ternarybob/relay/internal/interfaces"
	"github.com/ternarybob/relay/internal/models"
	storage "github.com/ternarybob/relay/internal/storage/badger"
)

func newResolverFixture(t *testing.T) (*Resolver, interfaces.DeviceStorage) {
	t.Helper()

	logger := arbor.NewLogger()
	manager, err := storage.NewManager(logger, &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })

	return NewResolver(manager.DeviceStorage(), logger), manager.DeviceStorage()
}

func seedDevices(t *testing.T, store interfaces.DeviceStorage) {
	t.Helper()
	ctx := context.Background()

	for _, d := range []*models.DeviceRef{
		{ID: "dev_1", TenantID: "acme", Name: "core-1", Address: "10.0.0.1", Platform: "ios", Tags: []string{"core"}, AuthID: "cred_1"},
		{ID: "dev_2", TenantID: "acme", Name: "edge-1", Address: "10.0.0.2", Platform: "ios", Tags: []string{"edge"}, AuthID: "cred_1"},
		{ID: "dev_3", TenantID: "acme", Name: "edge-2", Address: "10.0.0.3", Platform: "junos", Tags: []string{"edge", "lab"}},
		{ID: "dev_4", TenantID: "globex", Name: "other", Address: "10.1.0.1", Platform: "ios", Tags: []string{"core"}, AuthID: "cred_2"},
	} {
		require.NoError(t, store.SaveDevice(ctx, d))
	}
}

func TestResolveExplicitIDs(t *testing.T) {
	resolver, store := newResolverFixture(t)
	seedDevices(t, store)

	devices, err := resolver.Resolve(context.Background(), "acme", json.RawMessage(`{"device_ids":["dev_1","dev_3"]}`))
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.Equal(t, "dev_1", devices[0].ID)
	assert.Equal(t, "dev_3", devices[1].ID)
}

func TestResolveUnknownIDFailsOutright(t *testing.T) {
	resolver, store := newResolverFixture(t)
	seedDevices(t, store)

	_, err := resolver.Resolve(context.Background(), "acme", json.RawMessage(`{"device_ids":["dev_1","dev_9"]}`))
	assert.ErrorContains(t, err, "device not found: dev_9")
}

func TestResolveCrossTenantLooksLikeNotFound(t *testing.T) {
	resolver, store := newResolverFixture(t)
	seedDevices(t, store)

	// dev_4 belongs to globex, acme must not see it
	_, err := resolver.Resolve(context.Background(), "acme", json.RawMessage(`{"device_ids":["dev_4"]}`))
	assert.ErrorContains(t, err, "device not found: dev_4")
}

func TestResolveByTags(t *testing.T) {
	resolver, store := newResolverFixture(t)
	seedDevices(t, store)

	devices, err := resolver.Resolve(context.Background(), "acme", json.RawMessage(`{"tags":["edge"]}`))
	require.NoError(t, err)
	assert.Len(t, devices, 2)

	// Any matching tag qualifies
	devices, err = resolver.Resolve(context.Background(), "acme", json.RawMessage(`{"tags":["core","lab"]}`))
	require.NoError(t, err)
	assert.Len(t, devices, 2)
}

func TestResolveByPlatform(t *testing.T) {
	resolver, store := newResolverFixture(t)
	seedDevices(t, store)

	devices, err := resolver.Resolve(context.Background(), "acme", json.RawMessage(`{"platform":"junos"}`))
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "dev_3", devices[0].ID)

	// Tag and platform filters compose
	devices, err = resolver.Resolve(context.Background(), "acme", json.RawMessage(`{"tags":["edge"],"platform":"ios"}`))
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "dev_2", devices[0].ID)
}

func TestResolveDeduplicates(t *testing.T) {
	resolver, store := newResolverFixture(t)
	seedDevices(t, store)

	devices, err := resolver.Resolve(context.Background(), "acme",
		json.RawMessage(`{"device_ids":["dev_2","dev_2"],"tags":["edge"]}`))
	require.NoError(t, err)
	assert.Len(t, devices, 2, "dev_2 appears once despite matching twice")
}

func TestResolveRequiresTenant(t *testing.T) {
	resolver, _ := newResolverFixture(t)

	_, err := resolver.Resolve(context.Background(), "", json.RawMessage(`{"tags":["edge"]}`))
	assert.Error(t, err)
}

func TestResolveEmptyFilter(t *testing.T) {
	resolver, store := newResolverFixture(t)
	seedDevices(t, store)

	devices, err := resolver.Resolve(context.Background(), "acme", nil)
	require.NoError(t, err)
	assert.Empty(t, devices, "no filter means no targets, not all devices")
}

func TestCredentialFor(t *testing.T) {
	resolver, store := newResolverFixture(t)
	ctx := context.Background()

	require.NoError(t, store.SaveCredential(ctx, &models.DeviceCredential{
		ID: "cred_1", TenantID: "acme", Username: "admin", Password: "secret",
	}))

	device := &models.DeviceRef{ID: "dev_1", TenantID: "acme", Address: "10.0.0.1", AuthID: "cred_1"}
	cred, err := resolver.CredentialFor(ctx, device)
	require.NoError(t, err)
	assert.Equal(t, "admin", cred.Username)
}

func TestCredentialForNoAuthConfigured(t *testing.T) {
	resolver, _ := newResolverFixture(t)

	device := &models.DeviceRef{ID: "dev_1", TenantID: "acme", Address: "10.0.0.1"}
	_, err := resolver.CredentialFor(context.Background(), device)
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestCredentialForTenantMismatch(t *testing.T) {
	resolver, store := newResolverFixture(t)
	ctx := context.Background()

	require.NoError(t, store.SaveCredential(ctx, &models.DeviceCredential{
		ID: "cred_2", TenantID: "globex", Username: "admin",
	}))

	device := &models.DeviceRef{ID: "dev_1", TenantID: "acme", Address: "10.0.0.1", AuthID: "cred_2"}
	_, err := resolver.CredentialFor(ctx, device)
	assert.ErrorContains(t, err, "tenant mismatch")
}
