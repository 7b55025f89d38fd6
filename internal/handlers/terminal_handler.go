package handlers

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/relay/internal/common"
	"github.com/ternarybob/relay/internal/models"
	"github.com/ternarybob/relay/internal/ssh"
)

// TerminalHandler serves the interactive device session relay. One
// websocket maps to one ssh session; command frames go down, output
// frames come back, one command in flight at a time.
type TerminalHandler struct {
	relay        *ssh.Relay
	upgrader     websocket.Upgrader
	writeTimeout time.Duration
	logger       arbor.ILogger
}

// NewTerminalHandler creates the terminal relay handler
func NewTerminalHandler(relay *ssh.Relay, config *common.WebSocketConfig, logger arbor.ILogger) *TerminalHandler {
	return &TerminalHandler{
		relay: relay,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for local development
			},
		},
		writeTimeout: common.ParseDuration(config.WriteTimeout, 10*time.Second),
		logger:       logger,
	}
}

// terminalConn serializes frame writes; commands run async so a busy
// session can still answer keepalives and reject overlapping commands
type terminalConn struct {
	conn    *websocket.Conn
	mu      sync.Mutex
	timeout time.Duration
	logger  arbor.ILogger
}

func (t *terminalConn) send(frame models.TerminalFrame) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conn.SetWriteDeadline(time.Now().Add(t.timeout))
	if err := t.conn.WriteJSON(frame); err != nil {
		t.logger.Debug().Err(err).Msg("Terminal frame write failed")
	}
}

func (t *terminalConn) sendClose(code models.CloseCode, reason string) {
	t.send(models.TerminalFrame{
		Type:      models.FrameClose,
		Code:      code,
		Detail:    reason,
		Timestamp: time.Now(),
	})

	t.mu.Lock()
	defer t.mu.Unlock()
	deadline := time.Now().Add(t.timeout)
	t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(code)), deadline)
}

// HandleTerminal handles GET /ws/devices/{id}
func (h *TerminalHandler) HandleTerminal(w http.ResponseWriter, r *http.Request, deviceID string) {
	rawConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("device_id", deviceID).Msg("WebSocket upgrade failed")
		return
	}
	defer rawConn.Close()

	tc := &terminalConn{conn: rawConn, timeout: h.writeTimeout, logger: h.logger}
	tenant := TenantFrom(r)

	session, code, err := h.relay.Open(r.Context(), tenant, deviceID)
	if code != models.CloseNormal {
		tc.sendClose(code, "")
		return
	}
	if err != nil {
		// Validated but unreachable or rejected by the device itself
		tc.send(models.TerminalFrame{
			Type:      models.FrameError,
			DeviceID:  deviceID,
			Detail:    err.Error(),
			Timestamp: time.Now(),
		})
		tc.sendClose(models.CloseNormal, "connect failed")
		return
	}
	defer session.Close()

	tc.send(models.TerminalFrame{
		Type:       models.FrameConnected,
		DeviceID:   session.Device.ID,
		DeviceName: session.Device.Name,
		Timestamp:  time.Now(),
	})

	// Close the websocket when the session dies underneath us (idle
	// timeout, keepalive failure)
	go func() {
		<-session.Done()
		tc.sendClose(models.CloseNormal, "session ended")
		rawConn.Close()
	}()

	for {
		var frame models.TerminalFrame
		if err := rawConn.ReadJSON(&frame); err != nil {
			return
		}

		switch frame.Type {
		case models.FrameKeepalive:
			tc.send(models.TerminalFrame{
				Type:      models.FrameKeepalive,
				Timestamp: time.Now(),
			})

		case models.FrameClose:
			tc.sendClose(models.CloseNormal, "client requested close")
			return

		case models.FrameCommand:
			// Async so an overlapping command gets its rejection frame
			// now, not after the running command completes
			go h.runCommand(r.Context(), tc, session, frame.Command)

		default:
			tc.send(models.TerminalFrame{
				Type:      models.FrameError,
				Detail:    "unknown frame type: " + frame.Type,
				Timestamp: time.Now(),
			})
		}
	}
}

func (h *TerminalHandler) runCommand(ctx context.Context, tc *terminalConn, session *ssh.Session, command string) {
	if command == "" {
		tc.send(models.TerminalFrame{
			Type:      models.FrameError,
			Detail:    "empty command",
			Timestamp: time.Now(),
		})
		return
	}

	result, err := session.Run(ctx, command)
	if err != nil {
		detail := err.Error()
		if errors.Is(err, ssh.ErrCommandInFlight) {
			detail = "a command is already running"
		}
		tc.send(models.TerminalFrame{
			Type:      models.FrameError,
			Command:   command,
			Detail:    detail,
			Timestamp: time.Now(),
		})
		return
	}

	tc.send(models.TerminalFrame{
		Type:       models.FrameOutput,
		Command:    command,
		Stdout:     result.Stdout,
		Stderr:     result.Stderr,
		ExitStatus: result.ExitStatus,
		Timestamp:  time.Now(),
	})
}
