// Package surface provides an in-process embedding surface. The Bridge keeps
// the embed configuration for each container so a browser-side client can
// fetch it, and accepts the lifecycle events that client relays back.
package surface

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nomis52/embedflow/embed"
)

// ErrNotEmbedded is returned when a container has no live report.
var ErrNotEmbedded = errors.New("no report embedded in container")

// EventPayload is what a client relays with a lifecycle event.
type EventPayload struct {
	// Filters are the filters active in the report, sent with loaded.
	Filters []embed.Filter `json:"filters,omitempty"`
	// Message is the error detail, sent with error.
	Message string `json:"message,omitempty"`
}

// Bridge implements embed.Surface.
type Bridge struct {
	logger *slog.Logger

	mu      sync.RWMutex
	handles map[string]*handle
	embeds  int
}

// NewBridge creates an empty Bridge.
func NewBridge(logger *slog.Logger) *Bridge {
	return &Bridge{
		logger:  logger.With("component", "surface_bridge"),
		handles: make(map[string]*handle),
	}
}

// Embed records cfg for container and returns its handle. Embedding into a
// container that still holds a handle replaces it.
func (b *Bridge) Embed(container embed.Container, cfg embed.Config) (embed.Handle, error) {
	if cfg.EmbedURL == "" || cfg.AccessToken == "" {
		return nil, fmt.Errorf("incomplete embed configuration for report %q", cfg.ID)
	}
	h := &handle{
		config:   cfg,
		handlers: make(map[embed.Event]embed.EventHandler),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.handles[container.ID()]; exists {
		b.logger.Warn("replacing handle that was not reset", "container", container.ID())
	}
	b.handles[container.ID()] = h
	b.embeds++
	b.logger.Debug("report embedded", "container", container.ID(), "report_id", cfg.ID)
	return h, nil
}

// Reset drops the handle held for container.
func (b *Bridge) Reset(container embed.Container) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handles, container.ID())
}

// Embeds returns the number of Embed calls served.
func (b *Bridge) Embeds() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.embeds
}

// Config returns the embed configuration live in containerID.
func (b *Bridge) Config(containerID string) (embed.Config, bool) {
	h, ok := b.lookup(containerID)
	if !ok {
		return embed.Config{}, false
	}
	return h.config, true
}

// AppliedFilters returns the filters last set on containerID's handle.
func (b *Bridge) AppliedFilters(containerID string) ([]embed.Filter, bool) {
	h, ok := b.lookup(containerID)
	if !ok {
		return nil, false
	}
	return h.appliedFilters(), true
}

// Dispatch delivers a relayed lifecycle event to containerID's handle.
func (b *Bridge) Dispatch(ctx context.Context, containerID string, ev embed.Event, payload EventPayload) error {
	h, ok := b.lookup(containerID)
	if !ok {
		return ErrNotEmbedded
	}
	if ev == embed.EventLoaded {
		h.setActive(payload.Filters)
	}
	if !h.fire(ctx, ev, embed.EventDetail{Message: payload.Message}) {
		b.logger.Debug("event without subscriber", "container", containerID, "event", ev)
	}
	return nil
}

func (b *Bridge) lookup(containerID string) (*handle, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	h, ok := b.handles[containerID]
	return h, ok
}

type handle struct {
	config embed.Config

	mu       sync.Mutex
	handlers map[embed.Event]embed.EventHandler
	active   []embed.Filter
	applied  []embed.Filter
}

func (h *handle) On(ev embed.Event, fn embed.EventHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[ev] = fn
}

func (h *handle) Off(ev embed.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.handlers, ev)
}

func (h *handle) GetFilters(ctx context.Context) ([]embed.Filter, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]embed.Filter(nil), h.active...), nil
}

func (h *handle) SetFilters(ctx context.Context, filters []embed.Filter) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.applied = append([]embed.Filter(nil), filters...)
	h.active = append([]embed.Filter(nil), filters...)
	return nil
}

func (h *handle) setActive(filters []embed.Filter) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.active = append([]embed.Filter(nil), filters...)
}

func (h *handle) appliedFilters() []embed.Filter {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]embed.Filter(nil), h.applied...)
}

// fire runs the handler for ev outside the lock so it may call back into
// the handle.
func (h *handle) fire(ctx context.Context, ev embed.Event, detail embed.EventDetail) bool {
	h.mu.Lock()
	fn := h.handlers[ev]
	h.mu.Unlock()
	if fn == nil {
		return false
	}
	fn(ctx, detail)
	return true
}
