package logging

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const defaultMaxScopes = 8

// Entry is a single captured log record.
type Entry struct {
	Time       time.Time      `json:"time"`
	Level      string         `json:"level"`
	Message    string         `json:"message"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Collector keeps captured records grouped by scope, typically one scope per
// token cycle. Only the most recent scopes are retained.
type Collector struct {
	mu        sync.RWMutex
	maxScopes int
	order     []string
	entries   map[string][]Entry
}

// NewCollector creates a Collector retaining at most maxScopes scopes.
// A non-positive maxScopes selects the default.
func NewCollector(maxScopes int) *Collector {
	if maxScopes <= 0 {
		maxScopes = defaultMaxScopes
	}
	return &Collector{
		maxScopes: maxScopes,
		entries:   make(map[string][]Entry),
	}
}

// Add appends an entry to the given scope, evicting the oldest scope when full.
func (c *Collector) Add(scope string, e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[scope]; !ok {
		c.order = append(c.order, scope)
		if len(c.order) > c.maxScopes {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.entries, oldest)
		}
	}
	c.entries[scope] = append(c.entries[scope], e)
}

// Entries returns a copy of the entries recorded for scope.
func (c *Collector) Entries(scope string) []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	logs, ok := c.entries[scope]
	if !ok {
		return nil
	}
	out := make([]Entry, len(logs))
	copy(out, logs)
	return out
}

// Scopes returns the retained scopes, oldest first.
func (c *Collector) Scopes() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.order...)
}

// CapturingHandler tees records into a Collector scope while passing them
// to the underlying handler.
type CapturingHandler struct {
	underlying slog.Handler
	collector  *Collector
	scope      string
	attrs      []slog.Attr
}

// NewCapturingHandler wraps underlying so every record is also stored under scope.
func NewCapturingHandler(underlying slog.Handler, collector *Collector, scope string) *CapturingHandler {
	return &CapturingHandler{
		underlying: underlying,
		collector:  collector,
		scope:      scope,
	}
}

// WithCapture returns a logger whose records are also captured under scope.
func WithCapture(logger *slog.Logger, collector *Collector, scope string) *slog.Logger {
	if collector == nil {
		return logger
	}
	return slog.New(NewCapturingHandler(logger.Handler(), collector, scope))
}

// Enabled captures every level; the underlying handler still filters its own output.
func (h *CapturingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return true
}

func (h *CapturingHandler) Handle(ctx context.Context, r slog.Record) error {
	entry := Entry{
		Time:       r.Time,
		Level:      r.Level.String(),
		Message:    r.Message,
		Attributes: make(map[string]any, r.NumAttrs()+len(h.attrs)),
	}
	for _, attr := range h.attrs {
		entry.Attributes[attr.Key] = resolveValue(attr.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		entry.Attributes[a.Key] = resolveValue(a.Value)
		return true
	})
	h.collector.Add(h.scope, entry)

	if !h.underlying.Enabled(ctx, r.Level) {
		return nil
	}
	return h.underlying.Handle(ctx, r)
}

// WithAttrs must return a CapturingHandler so .With() chains keep capturing.
func (h *CapturingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &CapturingHandler{
		underlying: h.underlying.WithAttrs(attrs),
		collector:  h.collector,
		scope:      h.scope,
		attrs:      merged,
	}
}

func (h *CapturingHandler) WithGroup(name string) slog.Handler {
	return &CapturingHandler{
		underlying: h.underlying.WithGroup(name),
		collector:  h.collector,
		scope:      h.scope,
		attrs:      h.attrs,
	}
}

// resolveValue converts a slog.Value to something JSON-serializable.
func resolveValue(v slog.Value) any {
	v = v.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindInt64:
		return v.Int64()
	case slog.KindUint64:
		return v.Uint64()
	case slog.KindFloat64:
		return v.Float64()
	case slog.KindBool:
		return v.Bool()
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time()
	case slog.KindGroup:
		attrs := v.Group()
		group := make(map[string]any, len(attrs))
		for _, attr := range attrs {
			group[attr.Key] = resolveValue(attr.Value)
		}
		return group
	default:
		if err, ok := v.Any().(error); ok {
			return err.Error()
		}
		return v.Any()
	}
}
