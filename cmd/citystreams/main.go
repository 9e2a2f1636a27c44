// Package main runs the citystreams ingestion service: one pipeline per
// enabled city telemetry stream, supervised until SIGINT or SIGTERM.
package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/c360/citystreams/config"
	"github.com/c360/citystreams/metric"
	"github.com/c360/citystreams/supervisor"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "citystreams"
)

// errPipelinesFailed marks a run in which at least one stream ended Failed.
var errPipelinesFailed = stderrors.New("pipelines failed")

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(os.Args[1:]); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string) error {
	cliCfg, logger, shouldExit, err := initializeCLI(args)
	if shouldExit || err != nil {
		return err
	}

	cfg, err := loadConfig(cliCfg.ConfigPath)
	if err != nil {
		return err
	}
	if cliCfg.Validate {
		slog.Info("Configuration is valid", "streams", len(cfg.EnabledStreams()))
		return nil
	}

	signalCtx, signalCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	registry := metric.NewMetricsRegistry()
	in, err := setupInfrastructure(signalCtx, cfg, registry, logger)
	if err != nil {
		return err
	}
	defer in.Close(context.Background())

	runID := supervisor.NewRunID()
	runners, err := buildPipelines(cfg, in, registry.CoreMetrics(), runID, logger.With("run_id", runID))
	if err != nil {
		return fmt.Errorf("build pipelines: %w", err)
	}
	sup, err := supervisor.New(logger, runners...)
	if err != nil {
		return err
	}

	if cliCfg.MetricsPort > 0 {
		server := metric.NewServer(cliCfg.MetricsPort, "/metrics", registry, sup.Health)
		go func() {
			if err := server.Start(); err != nil {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
		defer func() { _ = server.Stop() }()
		slog.Info("Serving metrics", "address", server.Address())
	}

	return runWithSignalHandling(signalCtx, sup, cliCfg.ShutdownTimeout)
}

// initializeCLI parses flags and sets up logging
func initializeCLI(args []string) (*CLIConfig, *slog.Logger, bool, error) {
	cliCfg, err := parseFlags(args)
	if err != nil {
		return nil, nil, false, fmt.Errorf("invalid flags: %w", err)
	}
	if err := validateFlags(cliCfg); err != nil {
		return nil, nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowHelp {
		return nil, nil, true, nil
	}
	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s (build %s)\n", appName, Version, BuildTime)
		return nil, nil, true, nil
	}

	logger := setupLogger(os.Stdout, cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting citystreams",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	return cliCfg, logger, false, nil
}

// loadConfig loads the optional config file, applies the environment and
// validates the result.
func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	if path != "" {
		loader.AddLayer(path)
	}
	loader.EnableValidation(true)

	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// runWithSignalHandling starts the pipelines and stops them on a signal or
// once every pipeline has ended on its own.
func runWithSignalHandling(ctx context.Context, sup *supervisor.Supervisor, shutdownTimeout time.Duration) error {
	// Pipelines run under their own context so a signal triggers the
	// graceful StopAll instead of abandoning in-flight batches.
	if err := sup.Start(context.Background()); err != nil {
		return fmt.Errorf("start pipelines: %w", err)
	}
	slog.Info("citystreams started")

	select {
	case <-ctx.Done():
		slog.Info("Received shutdown signal")
	case <-sup.Done():
		slog.Warn("All pipelines ended")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := sup.StopAll(shutdownCtx); err != nil {
		slog.Error("Graceful shutdown incomplete", "error", err)
	}

	return reportStatuses(sup)
}

// reportStatuses logs the terminal state of every stream and returns an
// error naming the failed ones.
func reportStatuses(sup *supervisor.Supervisor) error {
	for _, st := range sup.Statuses() {
		attrs := []any{
			"stream", st.Stream.String(),
			"state", st.State.String(),
			"offset", st.Offset,
			"records_parsed", st.Counters.Parsed,
			"parse_errors", st.Counters.ParseErrors,
			"late", st.Counters.Late,
			"batches", st.Counters.Batches,
		}
		if st.LastError != "" {
			slog.Error("Stream terminated", append(attrs, "error", st.LastError)...)
			continue
		}
		slog.Info("Stream terminated", attrs...)
	}

	failed := sup.Failed()
	if len(failed) == 0 {
		slog.Info("citystreams shutdown complete")
		return nil
	}
	names := make([]string, 0, len(failed))
	for _, kind := range failed {
		names = append(names, kind.String())
	}
	return fmt.Errorf("%w: %s", errPipelinesFailed, strings.Join(names, ", "))
}
