package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nomis52/embedflow/config"
	"github.com/nomis52/embedflow/embed"
	"github.com/nomis52/embedflow/errorreport"
	"github.com/nomis52/embedflow/logging"
	"github.com/nomis52/embedflow/stages"
	"github.com/nomis52/embedflow/statusreporter"
)

// MissingIdentifiersMessage is shown when the workspace or report id is empty.
const MissingIdentifiersMessage = "Please assign values for workspace id and report id"

const defaultCycleTimeout = 2 * time.Minute

// Metrics records cycle outcomes. metrics.EmbedMetrics implements it.
type Metrics interface {
	CycleStarted()
	CycleSettled(outcome string, duration time.Duration)
	StaleResponseDiscarded(stage string)
}

type nopMetrics struct{}

func (nopMetrics) CycleStarted()                      {}
func (nopMetrics) CycleSettled(string, time.Duration) {}
func (nopMetrics) StaleResponseDiscarded(string)      {}

// Orchestrator owns the state of one report container.
// Use New() to create one.
type Orchestrator struct {
	cfg       *config.Config
	client    stages.Fetcher
	driver    *embed.Driver
	logger    *slog.Logger
	collector *logging.Collector
	metrics   Metrics
	newID     func() string
	timeout   time.Duration

	baseCtx context.Context
	cancel  context.CancelFunc

	mu        sync.Mutex
	state     State
	cycle     string
	started   time.Time
	artifacts embed.Artifacts
	report    *errorreport.Report
	status    *statusreporter.StatusReporter
	changed   chan struct{}
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger.With("component", "orchestrator")
	}
}

// WithCollector captures the logs of every cycle under its cycle id.
func WithCollector(c *logging.Collector) Option {
	return func(o *Orchestrator) {
		o.collector = c
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m Metrics) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithCycleTimeout bounds the fetches of a single cycle.
func WithCycleTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithCycleIDFunc overrides cycle id generation.
func WithCycleIDFunc(f func() string) Option {
	return func(o *Orchestrator) {
		if f != nil {
			o.newID = f
		}
	}
}

// New creates an Idle orchestrator.
func New(cfg *config.Config, client stages.Fetcher, driver *embed.Driver, opts ...Option) (*Orchestrator, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if client == nil {
		return nil, errors.New("fetcher is required")
	}
	if driver == nil {
		return nil, errors.New("embed driver is required")
	}

	o := &Orchestrator{
		cfg:     cfg,
		client:  client,
		driver:  driver,
		logger:  slog.Default().With("component", "orchestrator"),
		metrics: nopMetrics{},
		newID:   func() string { return uuid.New().String() },
		timeout: defaultCycleTimeout,
		state:   Idle,
		changed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.status = statusreporter.New(o.logger)
	o.baseCtx, o.cancel = context.WithCancel(context.Background())
	return o, nil
}

// Mount starts a token cycle if the orchestrator is Idle. In any other state
// it does nothing.
func (o *Orchestrator) Mount(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != Idle {
		return nil
	}
	return o.startCycleLocked()
}

// Render re-evaluates readiness: it starts a cycle from Idle and embeds from
// Ready. Every other state is left as is.
func (o *Orchestrator) Render(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch o.state {
	case Idle:
		return o.startCycleLocked()
	case Ready:
		return o.embedLocked()
	default:
		return nil
	}
}

// Unmount ends the current cycle, releases the embedded report and clears
// every artifact. Responses still in flight are discarded when they arrive.
func (o *Orchestrator) Unmount() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.unmountLocked()
}

// Remount ends the current cycle and starts a new one.
func (o *Orchestrator) Remount(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.unmountLocked()
	return o.startCycleLocked()
}

// Close unmounts and cancels in-flight fetches.
func (o *Orchestrator) Close() {
	o.Unmount()
	o.cancel()
}

// Await blocks until the orchestrator is in one of states or ctx is done.
func (o *Orchestrator) Await(ctx context.Context, states ...State) (State, error) {
	for {
		o.mu.Lock()
		current, changed := o.state, o.changed
		o.mu.Unlock()

		if slices.Contains(states, current) {
			return current, nil
		}
		select {
		case <-ctx.Done():
			return current, fmt.Errorf("waiting for %v in state %s: %w", states, current, ctx.Err())
		case <-changed:
		}
	}
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Report returns a copy of the current error report, or nil.
func (o *Orchestrator) Report() *errorreport.Report {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.report.Clone()
}

// Artifacts returns the artifacts collected by the current cycle.
func (o *Orchestrator) Artifacts() embed.Artifacts {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.artifacts
}

// Snapshot returns a point-in-time view suitable for display. It never
// includes token values.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	s := Snapshot{
		State:          o.state,
		Cycle:          o.cycle,
		Started:        o.started,
		Stages:         o.status.CurrentStatuses(),
		HasAccessToken: o.artifacts.AccessToken != "",
		HasEmbedURL:    o.artifacts.EmbedURL != "",
		HasEmbedToken:  o.artifacts.EmbedToken != "",
	}
	if o.report != nil {
		s.Error = append([]string(nil), o.report.Lines...)
		s.ErrorKind = o.report.Kind.String()
	}
	return s
}

// Logs returns the log entries captured for cycle.
func (o *Orchestrator) Logs(cycle string) []logging.Entry {
	if o.collector == nil {
		return nil
	}
	return o.collector.Entries(cycle)
}

// Session returns the live embed session, or nil.
func (o *Orchestrator) Session() *embed.Session {
	return o.driver.Session()
}

// ContainerID returns the id of the container the orchestrator drives.
func (o *Orchestrator) ContainerID() string {
	return o.driver.Container().ID()
}

func (o *Orchestrator) startCycleLocked() error {
	o.cycle = o.newID()
	o.started = time.Now()
	o.artifacts = embed.Artifacts{}
	o.report = nil

	logger := logging.WithCapture(o.logger, o.collector, o.cycle).With("cycle", o.cycle)
	o.status = statusreporter.New(logger)
	o.metrics.CycleStarted()

	report := o.cfg.Report
	if report.WorkspaceID == "" || report.ReportID == "" {
		logger.Warn("report identifiers missing", "workspace_id", report.WorkspaceID, "report_id", report.ReportID)
		o.failLocked(errorreport.Configuration(MissingIdentifiersMessage))
		return nil
	}

	cycle := &stages.Cycle{ID: o.cycle, Sink: o}
	engine, err := stages.NewEngine(o.cfg, cycle, o.client, o.status, logger)
	if err != nil {
		o.failLocked(errorreport.Configuration(err.Error()))
		return fmt.Errorf("building stages: %w", err)
	}

	o.setStateLocked(AwaitingAccessToken)
	logger.Info("token cycle started")

	ctx, cancel := context.WithTimeout(o.baseCtx, o.timeout)
	go func() {
		defer cancel()
		if err := engine.Execute(ctx); err != nil {
			logger.Debug("stages finished with error", "error", err)
		}
	}()
	return nil
}

func (o *Orchestrator) unmountLocked() {
	o.driver.Release()
	o.driver.Container().Clear()
	if o.cycle != "" {
		o.logger.Info("token cycle ended", "cycle", o.cycle, "state", o.state)
	}
	o.cycle = ""
	o.artifacts = embed.Artifacts{}
	o.report = nil
	o.setStateLocked(Idle)
}

// embedLocked moves Ready to Embedded. A surface failure leaves the state at
// Ready so the next Render retries.
func (o *Orchestrator) embedLocked() error {
	if _, err := o.driver.Embed(o.artifacts, o.cfg.Report.ReportID); err != nil {
		o.logger.Error("embedding failed", "cycle", o.cycle, "error", err)
		return err
	}
	o.setStateLocked(Embedded)
	o.metrics.CycleSettled(Embedded.String(), time.Since(o.started))
	return nil
}

func (o *Orchestrator) failLocked(report *errorreport.Report) {
	o.report = report
	o.driver.Container().SetText(report.Lines)
	if o.state != Failed {
		o.setStateLocked(Failed)
		o.metrics.CycleSettled(Failed.String(), time.Since(o.started))
	}
	o.logger.Warn("token cycle failed", "cycle", o.cycle, "kind", report.Kind.String(), "status", report.StatusCode, "request_id", report.RequestID)
}

// setStateLocked wakes every Await caller.
func (o *Orchestrator) setStateLocked(s State) {
	if o.state == s {
		return
	}
	o.logger.Debug("state changed", "cycle", o.cycle, "from", o.state, "to", s)
	o.state = s
	close(o.changed)
	o.changed = make(chan struct{})
}

// acceptLocked reports whether an outcome of cycle may be applied in the
// current state. Rejections are discarded.
func (o *Orchestrator) acceptLocked(cycle, stage string, want State) bool {
	if cycle == o.cycle && o.state == want {
		return true
	}
	o.discardLocked(cycle, stage)
	return false
}

func (o *Orchestrator) discardLocked(cycle, stage string) {
	o.logger.Debug("stale response discarded", "stage", stage, "cycle", cycle, "current_cycle", o.cycle, "state", o.state)
	o.metrics.StaleResponseDiscarded(stage)
}
