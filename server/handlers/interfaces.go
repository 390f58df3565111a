// Package handlers provides HTTP handlers for the embedflow server.
//
// Each handler implements http.Handler and reaches server state through a
// small interface, avoiding circular imports.
package handlers

import (
	"context"
	"time"

	"github.com/nomis52/embedflow/config"
	"github.com/nomis52/embedflow/embed"
	"github.com/nomis52/embedflow/logging"
	"github.com/nomis52/embedflow/orchestrator"
	"github.com/nomis52/embedflow/surface"
)

// ConfigProvider provides access to the current configuration.
type ConfigProvider interface {
	Config() *config.Config
}

// Reloader can reload its configuration.
type Reloader interface {
	Reload(ctx context.Context) error
}

// StatusProvider provides the orchestrator view and the next scheduled run.
type StatusProvider interface {
	Snapshot() orchestrator.Snapshot
	NextRun() *time.Time
}

// SessionProvider provides the live embed session, if any.
type SessionProvider interface {
	Session() *embed.Session
}

// EventDispatcher relays lifecycle events to the embedded report.
type EventDispatcher interface {
	ContainerID() string
	Dispatch(ctx context.Context, containerID string, ev embed.Event, payload surface.EventPayload) error
}

// Renderer runs a render pass.
type Renderer interface {
	Render(ctx context.Context) error
}

// Remounter starts a fresh token cycle.
type Remounter interface {
	Remount(ctx context.Context) error
}

// LogsProvider returns the logs captured for a token cycle.
type LogsProvider interface {
	Logs(cycle string) []logging.Entry
}
