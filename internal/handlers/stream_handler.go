package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/taskferry/internal/interfaces"
	"github.com/ternarybob/taskferry/internal/services/jobs"
)

// Streamer pushes job snapshots to one observer
type Streamer interface {
	Stream(ctx context.Context, jobID string, emit jobs.EmitFunc) error
}

// StreamHandler serves job progress as Server-Sent Events
type StreamHandler struct {
	streamer Streamer
	jobs     jobs.JobReader
	logger   arbor.ILogger
}

// NewStreamHandler creates the SSE handler
func NewStreamHandler(streamer Streamer, jobReader jobs.JobReader, logger arbor.ILogger) *StreamHandler {
	return &StreamHandler{
		streamer: streamer,
		jobs:     jobReader,
		logger:   logger,
	}
}

// HandleStream handles GET /api/export/{jobId}/stream.
// Each message is "data: {type, job}\n\n". The response ends about a second
// after the job reaches a terminal status, or at once if the job vanishes.
func (h *StreamHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	if _, err := h.jobs.Get(jobID); err != nil {
		WriteError(w, http.StatusNotFound, "Job not found")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	err := h.streamer.Stream(r.Context(), jobID, func(snapshot jobs.Snapshot) error {
		data, err := json.Marshal(snapshot)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})

	h.logStreamEnd(jobID, "sse", err)
}

func (h *StreamHandler) logStreamEnd(jobID, transport string, err error) {
	event := h.logger.Debug().Str("job_id", jobID).Str("transport", transport)
	switch {
	case err == nil:
		event.Msg("Progress stream finished")
	case errors.Is(err, context.Canceled):
		event.Msg("Observer disconnected")
	case errors.Is(err, interfaces.ErrJobNotFound):
		event.Msg("Progress stream closed, job removed")
	default:
		event.Err(err).Msg("Progress stream ended with error")
	}
}
