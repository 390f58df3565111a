package handlers

import (
	"net/http"
)

// EmbedHandler returns the embed configuration for the front end.
type EmbedHandler struct {
	provider SessionProvider
}

// NewEmbedHandler creates a new EmbedHandler.
func NewEmbedHandler(provider SessionProvider) *EmbedHandler {
	return &EmbedHandler{provider: provider}
}

// ServeHTTP implements http.Handler. It answers 409 until a report is embedded.
func (h *EmbedHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	session := h.provider.Session()
	if session == nil {
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: "no report embedded"})
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, session.Config())
}

// FiltersHandler returns the filters the driver applied to the report.
type FiltersHandler struct {
	provider SessionProvider
}

// NewFiltersHandler creates a new FiltersHandler.
func NewFiltersHandler(provider SessionProvider) *FiltersHandler {
	return &FiltersHandler{provider: provider}
}

// ServeHTTP implements http.Handler.
func (h *FiltersHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	session := h.provider.Session()
	if session == nil {
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: "no report embedded"})
		return
	}
	writeJSON(w, http.StatusOK, session.AppliedFilters())
}
