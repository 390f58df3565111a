package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/nomis52/embedflow/embed"
	"github.com/nomis52/embedflow/surface"
)

const maxEventBody = 1 << 20

// EventHandler relays a lifecycle event from the browser to the embedded
// report. The event name is the {event} path segment.
type EventHandler struct {
	logger     *slog.Logger
	dispatcher EventDispatcher
}

// NewEventHandler creates a new EventHandler.
func NewEventHandler(logger *slog.Logger, dispatcher EventDispatcher) *EventHandler {
	return &EventHandler{logger: logger, dispatcher: dispatcher}
}

// ServeHTTP implements http.Handler.
func (h *EventHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ev, ok := embed.ParseEvent(r.PathValue("event"))
	if !ok {
		writeJSON(w, http.StatusNotFound, ErrorResponse{
			Error: fmt.Sprintf("unknown event %q", r.PathValue("event")),
		})
		return
	}

	var payload surface.EventPayload
	if err := json.NewDecoder(io.LimitReader(r.Body, maxEventBody)).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error: fmt.Sprintf("invalid JSON: %v", err),
		})
		return
	}

	err := h.dispatcher.Dispatch(r.Context(), h.dispatcher.ContainerID(), ev, payload)
	if errors.Is(err, surface.ErrNotEmbedded) {
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error()})
		return
	}
	if err != nil {
		h.logger.Error("failed to dispatch event", "event", ev, "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
