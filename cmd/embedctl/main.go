package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nomis52/embedflow/buildinfo"
	"github.com/nomis52/embedflow/config"
	"github.com/nomis52/embedflow/embed"
	"github.com/nomis52/embedflow/logging"
	"github.com/nomis52/embedflow/metrics"
	"github.com/nomis52/embedflow/orchestrator"
	"github.com/nomis52/embedflow/reportclient"
	"github.com/nomis52/embedflow/surface"
)

const (
	containerID  = "reportContainer"
	flushTimeout = 10 * time.Second
)

var errCycleFailed = errors.New("token cycle failed")

type Args struct {
	ConfigPath  string
	ShowVersion bool
	Validate    bool
	Timeout     time.Duration
}

func main() {
	if err := run(os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(stdout, stderr io.Writer) error {
	args := parseArgs()

	if args.ShowVersion {
		showVersion(stdout)
		return nil
	}

	if args.ConfigPath == "" {
		return fmt.Errorf("config flag (-c or --config) is required")
	}

	cfg, err := config.LoadConfig(args.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if args.Timeout > 0 {
		cfg.Timeouts.Cycle = args.Timeout
	}

	if args.Validate {
		fmt.Fprintf(stdout, "Configuration validation successful: %s\n", args.ConfigPath)
		return nil
	}

	logger, err := logging.New(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Output:    cfg.Logging.Output,
		AddSource: cfg.Logging.AddSource,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	props := buildinfo.Get()
	logger.Info("embedctl started",
		"version", props.Version,
		"git_commit", props.GitCommit,
		"config_path", args.ConfigPath,
	)

	var (
		registry *metrics.PushRegistry
		recorder *metrics.EmbedMetrics
	)
	if cfg.Monitoring.VictoriaMetricsURL != "" {
		hostname, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("failed to get hostname: %w", err)
		}
		registry = metrics.NewPushRegistry(metrics.PushConfig{
			URL:      cfg.Monitoring.VictoriaMetricsURL,
			Prefix:   cfg.Monitoring.MetricsPrefix,
			Job:      cfg.Monitoring.JobName,
			Instance: hostname,
		})
		if recorder, err = metrics.NewEmbedMetrics(registry); err != nil {
			return fmt.Errorf("failed to create metrics: %w", err)
		}
	}

	client, err := reportclient.New(cfg.Endpoints.TokenURL, cfg.Endpoints.APIBaseURL,
		reportclient.WithTimeout(cfg.Timeouts.Request),
		reportclient.WithLogger(logger.Logger),
	)
	if err != nil {
		return fmt.Errorf("failed to create report client: %w", err)
	}

	driverOpts := []embed.DriverOption{
		embed.WithLogger(logger.Logger),
		embed.WithFilters(embed.FilterFromConfig(cfg.Filter)),
	}
	orchOpts := []orchestrator.Option{
		orchestrator.WithLogger(logger.Logger),
		orchestrator.WithCycleTimeout(cfg.Timeouts.Cycle),
	}
	if recorder != nil {
		driverOpts = append(driverOpts, embed.WithObserver(recorder))
		orchOpts = append(orchOpts, orchestrator.WithMetrics(recorder))
	}

	driver := embed.NewDriver(surface.NewBridge(logger.Logger), surface.NewContainer(containerID), driverOpts...)
	orch, err := orchestrator.New(&cfg, client, driver, orchOpts...)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}
	defer orch.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cycleErr := runCycle(ctx, orch, cfg.Timeouts.Cycle, stdout, stderr)

	if registry != nil {
		flushCtx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		defer cancel()
		if err := registry.Flush(flushCtx); err != nil {
			logger.Warn("failed to push metrics", "error", err)
		}
	}
	return cycleErr
}

// runCycle mounts the report and waits for the cycle to settle. The embed
// configuration goes to stdout; error lines go to stderr.
func runCycle(ctx context.Context, orch *orchestrator.Orchestrator, timeout time.Duration, stdout, stderr io.Writer) error {
	if err := orch.Mount(ctx); err != nil {
		return fmt.Errorf("failed to mount report: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	state, err := orch.Await(waitCtx, orchestrator.Embedded, orchestrator.Failed)
	if err != nil {
		return err
	}

	if state == orchestrator.Failed {
		for _, line := range orch.Snapshot().Error {
			fmt.Fprintln(stderr, line)
		}
		return errCycleFailed
	}

	session := orch.Session()
	if session == nil {
		return errors.New("report embedded without a session")
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(session.Config())
}

func showVersion(w io.Writer) {
	props := buildinfo.Get()
	fmt.Fprintf(w, "embedctl %s\n", props.Version)
	fmt.Fprintf(w, "Built: %s\n", props.BuildTime)
	fmt.Fprintf(w, "Commit: %s\n", props.GitCommit)
}

func parseArgs() Args {
	configPath := flag.String("config", "", "Path to config file")
	configPathShort := flag.String("c", "", "Path to config file (shorthand)")
	showVersion := flag.Bool("version", false, "Show version information")
	versionShort := flag.Bool("v", false, "Show version information (shorthand)")
	validate := flag.Bool("validate", false, "Validate configuration and exit")
	timeout := flag.Duration("timeout", 0, "Override timeouts.cycle from the config")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nRuns one token cycle and prints the embed configuration of the report\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s --config /etc/embedflow/config.yaml\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --version\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --config config.yaml --validate\n", os.Args[0])
	}

	flag.Parse()

	path := *configPath
	if path == "" && *configPathShort != "" {
		path = *configPathShort
	}

	return Args{
		ConfigPath:  path,
		ShowVersion: *showVersion || *versionShort,
		Validate:    *validate,
		Timeout:     *timeout,
	}
}
