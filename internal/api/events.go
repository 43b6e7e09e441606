package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/goodtune/sitewarden/internal/notify"
)

// EventsHandler streams state-change events to clients over SSE.
type EventsHandler struct {
	hub    *notify.Hub
	logger zerolog.Logger
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(hub *notify.Hub, logger zerolog.Logger) *EventsHandler {
	return &EventsHandler{
		hub:    hub,
		logger: logger.With().Str("handler", "events").Logger(),
	}
}

// Stream holds the connection open and forwards events as they happen.
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events, cancel := h.hub.Subscribe()
	defer cancel()

	h.logger.Debug().Msg("Event stream opened")

	for {
		select {
		case <-r.Context().Done():
			h.logger.Debug().Msg("Event stream closed")
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				h.logger.Error().Err(err).Msg("Failed to encode event")
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}
