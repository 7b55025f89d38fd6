package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/relay/internal/common"
	"github.com/ternarybob/relay/internal/interfaces"
	"github.com/ternarybob/relay/internal/models"
)

// StreamHandler serves the job log websocket gateway. A subscription
// replays durable lines past the client's cursor, tails live appends,
// and ends with the terminal status frame.
type StreamHandler struct {
	service      interfaces.JobService
	fanout       interfaces.LogFanout
	upgrader     websocket.Upgrader
	writeTimeout time.Duration
	logger       arbor.ILogger
}

// NewStreamHandler creates the log streaming handler
func NewStreamHandler(service interfaces.JobService, fanout interfaces.LogFanout, config *common.WebSocketConfig, logger arbor.ILogger) *StreamHandler {
	writeTimeout := common.ParseDuration(config.WriteTimeout, 10*time.Second)
	return &StreamHandler{
		service: service,
		fanout:  fanout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for local development
			},
		},
		writeTimeout: writeTimeout,
		logger:       logger,
	}
}

// HandleJobStream handles GET /ws/jobs/{id}?after=N
func (h *StreamHandler) HandleJobStream(w http.ResponseWriter, r *http.Request, jobID string) {
	tenant := TenantFrom(r)
	if tenant == "" {
		WriteError(w, http.StatusUnauthorized, "Tenant is required")
		return
	}

	job, err := h.service.Get(r.Context(), jobID)
	if err != nil || job.TenantID != tenant {
		WriteError(w, http.StatusNotFound, "Job not found")
		return
	}

	afterSeq := QueryUint64(r, "after", 0)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("job_id", jobID).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	events, cancel, err := h.fanout.Subscribe(jobID, afterSeq)
	if err != nil {
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Log subscription failed")
		return
	}
	defer cancel()

	h.logger.Debug().
		Str("job_id", jobID).
		Int64("after", int64(afterSeq)).
		Msg("Log stream opened")

	// Read pump: we expect nothing from the client, but reading is how we
	// notice the connection going away
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-clientGone:
			return

		case event, ok := <-events:
			if !ok {
				// Fan-out dropped us (slow consumer); client reconnects
				// with its last sequence
				h.writeClose(conn, websocket.CloseTryAgainLater, "subscriber lagged")
				return
			}

			if event.Line != nil {
				frame := models.StreamFrame{
					Type:      models.FrameLog,
					Sequence:  event.Line.Sequence,
					Severity:  event.Line.Severity,
					Text:      event.Line.Message,
					Timestamp: event.Line.Timestamp,
				}
				if !h.writeFrame(conn, frame) {
					return
				}
				continue
			}

			if event.EndOfReplay {
				// History is done. If the job finalized before we
				// subscribed, no live status event is coming - re-read
				// and synthesize the terminal frame ourselves
				current, err := h.service.Get(r.Context(), jobID)
				if err == nil && current.Status.IsTerminal() {
					h.sendStatus(conn, current.Status)
					h.writeClose(conn, websocket.CloseNormalClosure, string(current.Status))
					return
				}
				continue
			}

			if event.Status != "" {
				if !h.sendStatus(conn, event.Status) {
					return
				}
				if event.Status.IsTerminal() {
					h.writeClose(conn, websocket.CloseNormalClosure, string(event.Status))
					return
				}
			}
		}
	}
}

func (h *StreamHandler) sendStatus(conn *websocket.Conn, status models.JobStatus) bool {
	return h.writeFrame(conn, models.StreamFrame{
		Type:      models.FrameStatus,
		Status:    status,
		Timestamp: time.Now(),
	})
}

func (h *StreamHandler) writeFrame(conn *websocket.Conn, frame models.StreamFrame) bool {
	conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
	if err := conn.WriteJSON(frame); err != nil {
		h.logger.Debug().Err(err).Msg("Log stream write failed")
		return false
	}
	return true
}

func (h *StreamHandler) writeClose(conn *websocket.Conn, code int, reason string) {
	// JSON close frame first, so clients get the reason without parsing
	// the websocket control frame
	h.writeFrame(conn, models.StreamFrame{
		Type:      models.FrameClose,
		Reason:    reason,
		Timestamp: time.Now(),
	})

	deadline := time.Now().Add(h.writeTimeout)
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), deadline)
}
