package embed

import (
	"context"
)

// Event names a lifecycle notification raised by an embedded report.
type Event string

const (
	EventLoaded   Event = "loaded"
	EventRendered Event = "rendered"
	EventError    Event = "error"
)

// Events lists every lifecycle event the driver subscribes to.
var Events = []Event{EventLoaded, EventRendered, EventError}

// ParseEvent returns the Event named s.
func ParseEvent(s string) (Event, bool) {
	for _, ev := range Events {
		if string(ev) == s {
			return ev, true
		}
	}
	return "", false
}

// EventDetail carries the payload of a lifecycle event.
type EventDetail struct {
	// Message is the error detail for EventError.
	Message string `json:"message,omitempty"`
}

// EventHandler receives lifecycle events.
type EventHandler func(ctx context.Context, detail EventDetail)

// Handle is a live embedded report.
type Handle interface {
	// On registers fn for event, replacing any earlier registration.
	On(event Event, fn EventHandler)
	// Off removes the registration for event.
	Off(event Event)
	GetFilters(ctx context.Context) ([]Filter, error)
	SetFilters(ctx context.Context, filters []Filter) error
}

// Surface renders reports into containers.
type Surface interface {
	Embed(container Container, cfg Config) (Handle, error)
	// Reset releases whatever the surface holds for container.
	Reset(container Container)
}

// Container is the display area a report is embedded into.
type Container interface {
	ID() string
	// SetText replaces the whole content with lines, one per line.
	SetText(lines []string)
	Clear()
}
