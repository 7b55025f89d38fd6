package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/relay/internal/interfaces"
	"github.com/ternarybob/relay/internal/models"
)

// DeviceHandler serves the device registry API
type DeviceHandler struct {
	storage interfaces.DeviceStorage
	logger  arbor.ILogger
}

// NewDeviceHandler creates a device registry handler
func NewDeviceHandler(storage interfaces.DeviceStorage, logger arbor.ILogger) *DeviceHandler {
	return &DeviceHandler{
		storage: storage,
		logger:  logger,
	}
}

// ListDevicesHandler handles GET /api/devices
func (h *DeviceHandler) ListDevicesHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	tenant, ok := RequireTenant(w, r)
	if !ok {
		return
	}

	devices, err := h.storage.ListDevices(r.Context(), tenant)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list devices")
		WriteError(w, http.StatusInternalServerError, "Failed to list devices")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"devices": devices,
		"count":   len(devices),
	})
}

// CreateDeviceHandler handles POST /api/devices
func (h *DeviceHandler) CreateDeviceHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	tenant, ok := RequireTenant(w, r)
	if !ok {
		return
	}

	var device models.DeviceRef
	if err := json.NewDecoder(r.Body).Decode(&device); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if device.ID == "" {
		device.ID = "dev_" + uuid.New().String()
	}
	device.TenantID = tenant

	if err := device.Validate(); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.storage.SaveDevice(r.Context(), &device); err != nil {
		h.logger.Error().Err(err).Str("device_id", device.ID).Msg("Failed to save device")
		WriteError(w, http.StatusInternalServerError, "Failed to save device")
		return
	}

	WriteJSON(w, http.StatusCreated, device)
}

// GetDeviceHandler handles GET /api/devices/{id}
func (h *DeviceHandler) GetDeviceHandler(w http.ResponseWriter, r *http.Request, deviceID string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	tenant, ok := RequireTenant(w, r)
	if !ok {
		return
	}

	device, err := h.storage.GetDevice(r.Context(), deviceID)
	if err != nil || device.TenantID != tenant {
		WriteError(w, http.StatusNotFound, "Device not found")
		return
	}

	WriteJSON(w, http.StatusOK, device)
}

// DeleteDeviceHandler handles DELETE /api/devices/{id}
func (h *DeviceHandler) DeleteDeviceHandler(w http.ResponseWriter, r *http.Request, deviceID string) {
	if !RequireMethod(w, r, http.MethodDelete) {
		return
	}
	tenant, ok := RequireTenant(w, r)
	if !ok {
		return
	}

	device, err := h.storage.GetDevice(r.Context(), deviceID)
	if err != nil || device.TenantID != tenant {
		WriteError(w, http.StatusNotFound, "Device not found")
		return
	}

	if err := h.storage.DeleteDevice(r.Context(), deviceID); err != nil {
		h.logger.Error().Err(err).Str("device_id", deviceID).Msg("Failed to delete device")
		WriteError(w, http.StatusInternalServerError, "Failed to delete device")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// CreateCredentialHandler handles POST /api/credentials
func (h *DeviceHandler) CreateCredentialHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	tenant, ok := RequireTenant(w, r)
	if !ok {
		return
	}

	var cred models.DeviceCredential
	if err := json.NewDecoder(r.Body).Decode(&cred); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if cred.Username == "" {
		WriteError(w, http.StatusBadRequest, "Username is required")
		return
	}
	if cred.Password == "" && cred.PrivateKey == "" {
		WriteError(w, http.StatusBadRequest, "Password or private key is required")
		return
	}

	if cred.ID == "" {
		cred.ID = "cred_" + uuid.New().String()
	}
	cred.TenantID = tenant

	if err := h.storage.SaveCredential(r.Context(), &cred); err != nil {
		h.logger.Error().Err(err).Str("credential_id", cred.ID).Msg("Failed to save credential")
		WriteError(w, http.StatusInternalServerError, "Failed to save credential")
		return
	}

	// Never echo secrets back
	WriteJSON(w, http.StatusCreated, map[string]string{
		"id":       cred.ID,
		"username": cred.Username,
	})
}
