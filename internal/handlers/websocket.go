package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/taskferry/internal/services/jobs"
)

const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketHandler serves the same snapshots as the SSE stream over a WebSocket
type WebSocketHandler struct {
	stream *StreamHandler
	logger arbor.ILogger
}

// NewWebSocketHandler creates the WebSocket variant of a stream handler
func NewWebSocketHandler(stream *StreamHandler, logger arbor.ILogger) *WebSocketHandler {
	return &WebSocketHandler{
		stream: stream,
		logger: logger,
	}
}

// HandleWebSocket handles GET /api/export/{jobId}/ws
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	if _, err := h.stream.jobs.Get(jobID); err != nil {
		WriteError(w, http.StatusNotFound, "Job not found")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to upgrade WebSocket connection")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The client never sends data; reading only detects the close
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	err = h.stream.streamer.Stream(ctx, jobID, func(snapshot jobs.Snapshot) error {
		if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
			return err
		}
		return conn.WriteJSON(snapshot)
	})

	h.stream.logStreamEnd(jobID, "websocket", err)

	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream finished")
	_ = conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second))
}
