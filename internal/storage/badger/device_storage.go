package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/relay/internal/interfaces"
	"github.com/ternarybob/relay/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// ErrNotFound is returned when a device or credential does not exist.
var ErrNotFound = badgerhold.ErrNotFound

// DeviceStorage implements the DeviceStorage interface for Badger
type DeviceStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewDeviceStorage creates a new DeviceStorage instance
func NewDeviceStorage(db *BadgerDB, logger arbor.ILogger) interfaces.DeviceStorage {
	return &DeviceStorage{
		db:     db,
		logger: logger,
	}
}

func (s *DeviceStorage) SaveDevice(ctx context.Context, device *models.DeviceRef) error {
	if err := device.Validate(); err != nil {
		return err
	}
	if err := s.db.Store().Upsert(device.ID, device); err != nil {
		return fmt.Errorf("failed to save device: %w", err)
	}
	return nil
}

func (s *DeviceStorage) GetDevice(ctx context.Context, deviceID string) (*models.DeviceRef, error) {
	var device models.DeviceRef
	if err := s.db.Store().Get(deviceID, &device); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get device: %w", err)
	}
	return &device, nil
}

func (s *DeviceStorage) ListDevices(ctx context.Context, tenantID string) ([]*models.DeviceRef, error) {
	query := badgerhold.Where("ID").Ne("")
	if tenantID != "" {
		query = query.And("TenantID").Eq(tenantID)
	}
	query = query.SortBy("Name")

	var devices []models.DeviceRef
	if err := s.db.Store().Find(&devices, query); err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	result := make([]*models.DeviceRef, len(devices))
	for i := range devices {
		result[i] = &devices[i]
	}
	return result, nil
}

func (s *DeviceStorage) DeleteDevice(ctx context.Context, deviceID string) error {
	if err := s.db.Store().Delete(deviceID, &models.DeviceRef{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil
		}
		return err
	}
	return nil
}

func (s *DeviceStorage) SaveCredential(ctx context.Context, cred *models.DeviceCredential) error {
	if cred.ID == "" {
		return fmt.Errorf("credential ID is required")
	}
	if err := s.db.Store().Upsert(cred.ID, cred); err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}
	return nil
}

func (s *DeviceStorage) GetCredential(ctx context.Context, credID string) (*models.DeviceCredential, error) {
	var cred models.DeviceCredential
	if err := s.db.Store().Get(credID, &cred); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}
	return &cred, nil
}
