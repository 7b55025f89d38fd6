package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// TenantHeader carries the caller's tenant on REST and websocket requests.
// Websocket clients that cannot set headers use the tenant query param.
const TenantHeader = "X-Relay-Tenant"

// RequireMethod validates that the HTTP request uses the specified method.
// Returns true if the method matches, false otherwise (and writes error response).
func RequireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// WriteJSON writes a JSON response with the specified status code and data.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteError writes a standard error JSON response.
func WriteError(w http.ResponseWriter, statusCode int, message string) error {
	return WriteJSON(w, statusCode, map[string]string{
		"status": "error",
		"error":  message,
	})
}

// TenantFrom extracts the caller's tenant from the header or, failing
// that, the query string. Empty means unauthenticated.
func TenantFrom(r *http.Request) string {
	if tenant := r.Header.Get(TenantHeader); tenant != "" {
		return tenant
	}
	return r.URL.Query().Get("tenant")
}

// RequireTenant extracts the tenant or writes a 401.
func RequireTenant(w http.ResponseWriter, r *http.Request) (string, bool) {
	tenant := TenantFrom(r)
	if tenant == "" {
		WriteError(w, http.StatusUnauthorized, "Tenant is required")
		return "", false
	}
	return tenant, true
}

// QueryInt parses an integer query parameter with a fallback.
func QueryInt(r *http.Request, name string, fallback int) int {
	value := r.URL.Query().Get(name)
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return n
}

// QueryUint64 parses an unsigned query parameter with a fallback.
func QueryUint64(r *http.Request, name string, fallback uint64) uint64 {
	value := r.URL.Query().Get(name)
	if value == "" {
		return fallback
	}
	n, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}
