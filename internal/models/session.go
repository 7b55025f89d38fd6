package models

import "time"

// SessionState is the lifecycle of an interactive device session.
// connecting -> authenticated -> active -> closed, always ending closed.
type SessionState string

const (
	SessionConnecting    SessionState = "connecting"
	SessionAuthenticated SessionState = "authenticated"
	SessionActive        SessionState = "active"
	SessionClosed        SessionState = "closed"
)

// CloseCode is the defined reason a session or subscription terminates.
type CloseCode string

const (
	CloseNormal        CloseCode = "normal"
	CloseAuthRequired  CloseCode = "auth_required"
	CloseInvalidDevice CloseCode = "invalid_device_id"
	CloseAccessDenied  CloseCode = "access_denied"
	CloseNotFound      CloseCode = "device_not_found"
	CloseNoCredentials CloseCode = "no_credentials_configured"
)

// Terminal relay frame types.
const (
	FrameConnected = "connected"
	FrameCommand   = "command"
	FrameOutput    = "output"
	FrameError     = "error"
	FrameKeepalive = "keepalive"
	FrameClose     = "close"
)

// TerminalFrame is the wire message exchanged on an interactive session.
// Servers send connected/output/error/keepalive/close; clients send command.
type TerminalFrame struct {
	Type       string    `json:"type"`
	DeviceID   string    `json:"device_id,omitempty"`
	DeviceName string    `json:"device_name,omitempty"`
	Command    string    `json:"command,omitempty"`
	Stdout     string    `json:"stdout,omitempty"`
	Stderr     string    `json:"stderr,omitempty"`
	ExitStatus int       `json:"exit_status,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	Code       CloseCode `json:"code,omitempty"`
	Timestamp  time.Time `json:"timestamp,omitempty"`
}

// Job log subscription frame types.
const (
	FrameLog    = "log"
	FrameStatus = "status"
)

// StreamFrame is the wire message on a job log subscription.
type StreamFrame struct {
	Type      string    `json:"type"`
	Sequence  uint64    `json:"sequence,omitempty"`
	Severity  string    `json:"severity,omitempty"`
	Text      string    `json:"text,omitempty"`
	Status    JobStatus `json:"status,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}
