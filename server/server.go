// Package server provides an HTTP server that keeps one report embedded and
// relays the browser side of the embedding surface.
//
// The server runs the token cycle for the configured report and exposes the
// resulting embed configuration, the cycle status and the lifecycle event
// relay over a small REST API.
//
// # Endpoints
//
//   - GET /health - Simple health check, returns "ok"
//   - GET /api/status - Orchestrator state, error lines, stage statuses and next scheduled run
//   - GET /api/embed - Embed configuration for the front end, 409 until embedded
//   - POST /api/events/{event} - Relays loaded, rendered and error events
//   - GET /api/filters - Filters applied by the driver
//   - POST /api/render - Runs a render pass
//   - POST /api/remount - Ends the current token cycle and starts a new one
//   - GET /api/logs?cycle=ID - Logs captured for a token cycle
//   - GET /config - Current embed configuration as YAML, secrets redacted
//   - POST /reload - Reloads the embed configuration from disk
//   - GET /metrics - Prometheus metrics
//   - GET /version - Build information
//
// # Architecture
//
// Config-derived dependencies (the embed config and the orchestrator built
// from it) are swapped atomically on reload. The surface bridge, the
// container, the log collector and the metrics outlive reloads.
//
// # Example
//
//	srv, err := server.New(srvCfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := srv.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nomis52/embedflow/config"
	"github.com/nomis52/embedflow/embed"
	"github.com/nomis52/embedflow/logging"
	"github.com/nomis52/embedflow/metrics"
	"github.com/nomis52/embedflow/orchestrator"
	"github.com/nomis52/embedflow/reportclient"
	serverconfig "github.com/nomis52/embedflow/server/config"
	"github.com/nomis52/embedflow/server/cron"
	"github.com/nomis52/embedflow/server/handlers"
	"github.com/nomis52/embedflow/surface"
)

const (
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultShutdownTimeout = 5 * time.Second
)

// Actions a cron trigger can run.
const (
	ActionRemount = "remount"
	ActionRender  = "render"
)

// AvailableActions lists the actions accepted in cron specs.
var AvailableActions = map[string]bool{
	ActionRemount: true,
	ActionRender:  true,
}

// serverDeps holds config-derived dependencies that are swapped atomically on reload.
type serverDeps struct {
	config *config.Config
	orch   *orchestrator.Orchestrator
}

// Server is the HTTP server for the embedflow web interface.
type Server struct {
	cfg       *serverconfig.ServerConfig
	addr      string
	log       *logging.Logger
	logger    *slog.Logger
	collector *logging.Collector
	bridge    *surface.Bridge
	container *surface.Container
	registry  *metrics.ScrapeRegistry
	metrics   *metrics.EmbedMetrics
	certs     *CertLoader
	cron      *cron.CronTriggerManager
	extraCron []cron.TriggerSpec

	deps     atomic.Pointer[serverDeps]
	reloadMu sync.Mutex

	ctx        context.Context
	httpServer *http.Server
}

// Option configures a Server.
type Option func(*Server) error

// WithCron adds triggers from a spec string in the format accepted by
// cron.ParseTriggerSpecs, e.g. "remount:0 */6 * * *".
func WithCron(spec string) Option {
	return func(s *Server) error {
		specs, err := cron.ParseTriggerSpecs(spec, AvailableActions)
		if err != nil {
			return fmt.Errorf("parsing cron spec: %w", err)
		}
		s.extraCron = append(s.extraCron, specs...)
		return nil
	}
}

// WithListenAddr overrides the configured listen address.
func WithListenAddr(addr string) Option {
	return func(s *Server) error {
		s.addr = addr
		return nil
	}
}

// WithLogger replaces the logger built from the server config.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) error {
		s.logger = logger
		return nil
	}
}

// New creates a Server from cfg. It loads the embed configuration and builds
// all dependencies; the first token cycle starts in Run.
func New(cfg *serverconfig.ServerConfig, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:  cfg,
		addr: cfg.Listener.Addr,
		ctx:  context.Background(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	if s.logger == nil {
		log, err := logging.New(logging.Config{Level: cfg.LogLevel, Format: "json", Output: "stderr"})
		if err != nil {
			return nil, fmt.Errorf("creating logger: %w", err)
		}
		s.log = log
		s.logger = log.Logger
	}

	s.collector = logging.NewCollector(cfg.LogHistory)
	s.container = surface.NewContainer(cfg.ContainerID)
	s.bridge = surface.NewBridge(s.logger)

	registry, err := metrics.NewScrapeRegistry()
	if err != nil {
		return nil, err
	}
	s.registry = registry
	if s.metrics, err = metrics.NewEmbedMetrics(registry); err != nil {
		return nil, err
	}

	if cfg.Listener.TLS() {
		if s.certs, err = NewCertLoader(cfg.Listener.CertFile, cfg.Listener.KeyFile, s.logger); err != nil {
			return nil, err
		}
	}

	deps, err := s.build()
	if err != nil {
		return nil, err
	}
	s.deps.Store(deps)

	specs := s.extraCron
	for _, t := range cfg.Cron {
		specs = append(specs, cron.TriggerSpec{Actions: t.Actions, CronSpec: t.Schedule})
	}
	if s.cron, err = cron.NewCronTriggerManager(specs, s, s.logger, AvailableActions); err != nil {
		return nil, fmt.Errorf("creating cron triggers: %w", err)
	}
	return s, nil
}

// build loads the embed config and wires a fresh orchestrator to the shared
// surface, container and metrics.
func (s *Server) build() (*serverDeps, error) {
	cfg, err := config.LoadConfig(s.cfg.EmbedConfig)
	if err != nil {
		return nil, fmt.Errorf("loading embed config %s: %w", s.cfg.EmbedConfig, err)
	}

	client, err := reportclient.New(cfg.Endpoints.TokenURL, cfg.Endpoints.APIBaseURL,
		reportclient.WithTimeout(cfg.Timeouts.Request),
		reportclient.WithLogger(s.logger),
	)
	if err != nil {
		return nil, fmt.Errorf("creating report client: %w", err)
	}

	driver := embed.NewDriver(s.bridge, s.container,
		embed.WithLogger(s.logger),
		embed.WithFilters(embed.FilterFromConfig(cfg.Filter)),
		embed.WithObserver(s.metrics),
	)

	orch, err := orchestrator.New(&cfg, client, driver,
		orchestrator.WithLogger(s.logger),
		orchestrator.WithCollector(s.collector),
		orchestrator.WithMetrics(s.metrics),
		orchestrator.WithCycleTimeout(cfg.Timeouts.Cycle),
	)
	if err != nil {
		return nil, fmt.Errorf("creating orchestrator: %w", err)
	}
	s.logger.Info("configuration loaded", "config_path", s.cfg.EmbedConfig, "report_id", cfg.Report.ReportID)
	return &serverDeps{config: &cfg, orch: orch}, nil
}

// Logger returns the server's logger.
func (s *Server) Logger() *slog.Logger {
	return s.logger
}

// SetLogLevel changes the server's log level at runtime.
func (s *Server) SetLogLevel(level string) error {
	if s.log == nil {
		return errors.New("log level is managed by the injected logger")
	}
	return s.log.SetLevel(level)
}

// Reload reads the embed config from disk, replaces the orchestrator and
// mounts the new one. On error the current orchestrator keeps running.
func (s *Server) Reload(ctx context.Context) error {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	deps, err := s.build()
	if err != nil {
		return err
	}
	if old := s.deps.Swap(deps); old != nil {
		old.orch.Close()
	}
	return deps.orch.Mount(ctx)
}

// Config returns the current embed configuration.
func (s *Server) Config() *config.Config {
	return s.deps.Load().config
}

// Orchestrator returns the current orchestrator.
func (s *Server) Orchestrator() *orchestrator.Orchestrator {
	return s.deps.Load().orch
}

// Snapshot returns the current orchestrator view.
func (s *Server) Snapshot() orchestrator.Snapshot {
	return s.Orchestrator().Snapshot()
}

// Session returns the live embed session, or nil.
func (s *Server) Session() *embed.Session {
	return s.Orchestrator().Session()
}

// Logs returns the log entries captured for cycle.
func (s *Server) Logs(cycle string) []logging.Entry {
	return s.collector.Entries(cycle)
}

// ContainerID returns the id of the report container.
func (s *Server) ContainerID() string {
	return s.container.ID()
}

// Dispatch relays a lifecycle event to the embedded report.
func (s *Server) Dispatch(ctx context.Context, containerID string, ev embed.Event, payload surface.EventPayload) error {
	return s.bridge.Dispatch(ctx, containerID, ev, payload)
}

// Render runs a render pass on the current orchestrator.
func (s *Server) Render(ctx context.Context) error {
	return s.Orchestrator().Render(ctx)
}

// Remount starts a fresh token cycle on the current orchestrator.
func (s *Server) Remount(ctx context.Context) error {
	return s.Orchestrator().Remount(ctx)
}

// NextRun returns the next scheduled run time, or nil if no cron is configured.
func (s *Server) NextRun() *time.Time {
	if s.cron == nil || s.cron.Len() == 0 {
		return nil
	}
	next := s.cron.NextRun()
	return &next
}

// Trigger runs scheduled actions in order. It implements cron.Runnable.
func (s *Server) Trigger(actions []string) error {
	var errs []error
	for _, a := range actions {
		var err error
		switch a {
		case ActionRemount:
			err = s.Remount(s.ctx)
		case ActionRender:
			err = s.Render(s.ctx)
		default:
			err = fmt.Errorf("unknown action %q", a)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", a, err))
		}
	}
	return errors.Join(errs...)
}

// Handler returns the HTTP handler with every route registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerRoutes(mux)
	return mux
}

// Run mounts the report, starts the cron triggers and serves HTTP until ctx
// is cancelled. It performs a graceful shutdown when the context is done.
func (s *Server) Run(ctx context.Context) error {
	s.ctx = ctx
	if err := s.Orchestrator().Mount(ctx); err != nil {
		return fmt.Errorf("mounting report: %w", err)
	}
	defer func() { s.Orchestrator().Close() }()

	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
	}
	if s.certs != nil {
		s.httpServer.TLSConfig = s.certs.TLSConfig()
	}

	if s.cron.Len() > 0 {
		s.logger.Info("starting cron triggers", "next_run", s.cron.NextRun())
		s.cron.Start(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "addr", s.addr, "tls", s.certs != nil, "embed_config", s.cfg.EmbedConfig)
		var err error
		if s.certs != nil {
			err = s.httpServer.ListenAndServeTLS("", "")
		} else {
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", handlers.HandleHealth)
	mux.HandleFunc("GET /version", handlers.HandleVersion)
	mux.Handle("GET /metrics", s.registry.Handler())
	mux.Handle("GET /config", handlers.NewConfigHandler(s.logger, s))
	mux.Handle("POST /reload", handlers.NewReloadHandler(s.logger, s))

	mux.Handle("GET /api/status", handlers.NewAPIStatusHandler(s))
	mux.Handle("GET /api/embed", handlers.NewEmbedHandler(s))
	mux.Handle("GET /api/filters", handlers.NewFiltersHandler(s))
	mux.Handle("POST /api/events/{event}", handlers.NewEventHandler(s.logger, s))
	mux.Handle("POST /api/render", handlers.NewRenderHandler(s.logger, s))
	mux.Handle("POST /api/remount", handlers.NewRemountHandler(s.logger, s))
	mux.Handle("GET /api/logs", handlers.NewLogsHandler(s))
}
