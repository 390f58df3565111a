// Package statusreporter collects the human-readable status line each stage
// of the current token cycle reports.
package statusreporter

import (
	"log/slog"
	"sync"

	"github.com/nomis52/embedflow/workflow"
)

// Named is implemented by stages that report under a stable short name.
type Named interface {
	StageName() string
}

// StatusReporter allows stages to report their current status.
//
// It is injected into stages by the workflow engine. A stage calls SetStatus
// passing itself:
//
//	func (s *AccessTokenStage) Execute(ctx context.Context) error {
//	    s.Status.SetStatus(s, "fetching access token")
//	    ...
//	}
//
// All methods are safe for concurrent use.
type StatusReporter struct {
	statuses map[string]string
	logger   *slog.Logger
	mu       sync.RWMutex
}

// New creates a new StatusReporter. Each status change is logged at Info level.
func New(logger *slog.Logger) *StatusReporter {
	return &StatusReporter{
		statuses: make(map[string]string),
		logger:   logger,
	}
}

// SetStatus updates the current status for stage.
func (r *StatusReporter) SetStatus(stage workflow.Stage, status string) {
	name := NameOf(stage)
	r.logger.Info(status, "stage", name)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[name] = status
}

// CurrentStatuses returns a copy of all statuses keyed by stage name.
func (r *StatusReporter) CurrentStatuses() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]string, len(r.statuses))
	for name, status := range r.statuses {
		result[name] = status
	}
	return result
}

// Reset clears every status, typically when a new cycle starts.
func (r *StatusReporter) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = make(map[string]string)
}

// NameOf returns the name stage reports under.
func NameOf(stage workflow.Stage) string {
	if n, ok := stage.(Named); ok {
		return n.StageName()
	}
	return workflow.GetStageID(stage).ShortString()
}
