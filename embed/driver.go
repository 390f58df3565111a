// Package embed drives an embedding surface: it builds the embed
// configuration, owns the single live handle for a container and merges the
// configured filter into the report once it has loaded.
package embed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const defaultFilterTimeout = 10 * time.Second

// ErrIncompleteArtifacts is returned when Embed is called without all three artifacts.
var ErrIncompleteArtifacts = errors.New("embed requires access token, embed URL and embed token")

// Observer is notified of driver activity. Used for metrics.
type Observer interface {
	Embedded()
	EventReceived(ev Event)
	FilterMergeFailed()
}

// Driver embeds reports into one container. At most one Session is live at
// any time; embedding again releases the previous one first.
type Driver struct {
	surface       Surface
	container     Container
	filters       []Filter
	logger        *slog.Logger
	observer      Observer
	filterTimeout time.Duration

	mu      sync.Mutex
	session *Session
}

// DriverOption configures a Driver.
type DriverOption func(*Driver)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) DriverOption {
	return func(d *Driver) {
		d.logger = logger.With("component", "embed_driver")
	}
}

// WithFilters sets the filters appended once a report has loaded.
func WithFilters(filters ...Filter) DriverOption {
	return func(d *Driver) {
		d.filters = append([]Filter(nil), filters...)
	}
}

// WithObserver sets the observer.
func WithObserver(o Observer) DriverOption {
	return func(d *Driver) {
		d.observer = o
	}
}

// NewDriver creates a Driver for container.
func NewDriver(surface Surface, container Container, opts ...DriverOption) *Driver {
	d := &Driver{
		surface:       surface,
		container:     container,
		logger:        slog.Default().With("component", "embed_driver"),
		filterTimeout: defaultFilterTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Embed releases any live session, clears the container and embeds the
// report described by a and reportID.
func (d *Driver) Embed(a Artifacts, reportID string) (*Session, error) {
	if !a.Complete() {
		return nil, ErrIncompleteArtifacts
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.releaseLocked()
	d.container.Clear()

	cfg := NewConfig(a, reportID)
	handle, err := d.surface.Embed(d.container, cfg)
	if err != nil {
		return nil, fmt.Errorf("embedding report %s: %w", reportID, err)
	}

	s := &Session{
		handle: handle,
		config: cfg,
		driver: d,
	}
	s.subscribe()
	d.session = s

	d.logger.Info("report embedded", "report_id", reportID, "container", d.container.ID())
	if d.observer != nil {
		d.observer.Embedded()
	}
	return s, nil
}

// Release tears down the live session, if any.
func (d *Driver) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.releaseLocked()
}

// Session returns the live session or nil.
func (d *Driver) Session() *Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.session
}

// Container returns the container the driver embeds into.
func (d *Driver) Container() Container {
	return d.container
}

func (d *Driver) releaseLocked() {
	if d.session == nil {
		return
	}
	d.session.unsubscribe()
	d.surface.Reset(d.container)
	d.session = nil
	d.logger.Debug("session released", "container", d.container.ID())
}

// Session is one embedded report handle together with its event subscriptions.
type Session struct {
	handle Handle
	config Config
	driver *Driver

	mu      sync.Mutex
	applied []Filter
	lastErr string
}

// Config returns the configuration the session was embedded with.
func (s *Session) Config() Config {
	return s.config
}

// AppliedFilters returns the filters last set by the loaded handler.
func (s *Session) AppliedFilters() []Filter {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.applied == nil {
		return nil
	}
	return append([]Filter(nil), s.applied...)
}

// LastError returns the detail of the last error event.
func (s *Session) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// subscribe registers the lifecycle handlers once for the handle's lifetime.
func (s *Session) subscribe() {
	s.handle.On(EventLoaded, s.onLoaded)
	s.handle.On(EventRendered, s.onRendered)
	s.handle.On(EventError, s.onError)
}

func (s *Session) unsubscribe() {
	for _, ev := range Events {
		s.handle.Off(ev)
	}
}

func (s *Session) observe(ev Event) {
	if s.driver.observer != nil {
		s.driver.observer.EventReceived(ev)
	}
}

// onLoaded appends the configured filters to the active ones. Failures are
// logged only; the report is already rendering.
func (s *Session) onLoaded(ctx context.Context, _ EventDetail) {
	s.observe(EventLoaded)
	logger := s.driver.logger.With("report_id", s.config.ID)

	ctx, cancel := context.WithTimeout(ctx, s.driver.filterTimeout)
	defer cancel()

	existing, err := s.handle.GetFilters(ctx)
	if err != nil {
		s.mergeFailed(logger, "reading filters failed", err)
		return
	}
	merged := MergeFilters(existing, s.driver.filters...)
	if err := s.handle.SetFilters(ctx, merged); err != nil {
		s.mergeFailed(logger, "applying filters failed", err)
		return
	}

	s.mu.Lock()
	s.applied = merged
	s.mu.Unlock()
	logger.Info("filters applied", "existing", len(existing), "applied", len(merged))
}

func (s *Session) mergeFailed(logger *slog.Logger, msg string, err error) {
	logger.Warn(msg, "error", err)
	if s.driver.observer != nil {
		s.driver.observer.FilterMergeFailed()
	}
}

func (s *Session) onRendered(ctx context.Context, _ EventDetail) {
	s.observe(EventRendered)
	s.driver.logger.Info("report render successful", "report_id", s.config.ID)
}

func (s *Session) onError(ctx context.Context, detail EventDetail) {
	s.observe(EventError)
	s.mu.Lock()
	s.lastErr = detail.Message
	s.mu.Unlock()
	s.driver.logger.Error("report error event", "report_id", s.config.ID, "detail", detail.Message)
}
