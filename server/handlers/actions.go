package handlers

import (
	"log/slog"
	"net/http"
)

// RenderHandler runs a render pass.
type RenderHandler struct {
	logger   *slog.Logger
	renderer Renderer
}

// NewRenderHandler creates a new RenderHandler.
func NewRenderHandler(logger *slog.Logger, renderer Renderer) *RenderHandler {
	return &RenderHandler{logger: logger, renderer: renderer}
}

// ServeHTTP implements http.Handler.
func (h *RenderHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := h.renderer.Render(r.Context()); err != nil {
		h.logger.Warn("render failed", "error", err)
		writeJSON(w, http.StatusBadGateway, ErrorResponse{Error: err.Error()})
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// RemountHandler ends the current token cycle and starts a new one.
type RemountHandler struct {
	logger    *slog.Logger
	remounter Remounter
}

// NewRemountHandler creates a new RemountHandler.
func NewRemountHandler(logger *slog.Logger, remounter Remounter) *RemountHandler {
	return &RemountHandler{logger: logger, remounter: remounter}
}

// ServeHTTP implements http.Handler.
func (h *RemountHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.logger.Info("remount requested")
	if err := h.remounter.Remount(r.Context()); err != nil {
		h.logger.Error("remount failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
