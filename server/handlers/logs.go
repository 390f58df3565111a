package handlers

import (
	"net/http"
)

// LogsHandler returns the log entries captured for one token cycle.
type LogsHandler struct {
	provider LogsProvider
}

// NewLogsHandler creates a new LogsHandler.
func NewLogsHandler(provider LogsProvider) *LogsHandler {
	return &LogsHandler{provider: provider}
}

// ServeHTTP implements http.Handler.
func (h *LogsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cycle := r.URL.Query().Get("cycle")
	if cycle == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "missing cycle id"})
		return
	}
	logs := h.provider.Logs(cycle)
	if logs == nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "no logs for cycle " + cycle})
		return
	}
	writeJSON(w, http.StatusOK, logs)
}
