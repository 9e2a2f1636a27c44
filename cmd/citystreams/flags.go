package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"github.com/spf13/cast"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	MetricsPort     int
	ShutdownTimeout time.Duration
	ShowVersion     bool
	ShowHelp        bool
	Validate        bool
}

func parseFlags(args []string) (*CLIConfig, error) {
	cfg := &CLIConfig{}
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)

	fs.StringVar(&cfg.ConfigPath, "config",
		getEnv("CITYSTREAMS_CONFIG", ""),
		"Path to a JSON or YAML configuration file (env: CITYSTREAMS_CONFIG)")
	fs.StringVar(&cfg.ConfigPath, "c",
		getEnv("CITYSTREAMS_CONFIG", ""),
		"Path to a JSON or YAML configuration file (env: CITYSTREAMS_CONFIG)")

	fs.StringVar(&cfg.LogLevel, "log-level",
		getEnv("CITYSTREAMS_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: CITYSTREAMS_LOG_LEVEL)")

	fs.StringVar(&cfg.LogFormat, "log-format",
		getEnv("CITYSTREAMS_LOG_FORMAT", "json"),
		"Log format: json, text (env: CITYSTREAMS_LOG_FORMAT)")

	fs.IntVar(&cfg.MetricsPort, "metrics-port",
		getEnvInt("CITYSTREAMS_METRICS_PORT", 9090),
		"Port serving /metrics and /health, 0 to disable (env: CITYSTREAMS_METRICS_PORT)")

	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("CITYSTREAMS_SHUTDOWN_TIMEOUT", 30*time.Second),
		"Time allowed for in-flight batches to commit on shutdown (env: CITYSTREAMS_SHUTDOWN_TIMEOUT)")

	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	fs.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	fs.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	fs.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	fs.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	fs.Usage = func() { printDetailedHelp(fs.Output(), fs) }

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if cfg.ShowHelp {
		fs.Usage()
	}
	return cfg, nil
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	if cfg.ConfigPath != "" {
		if _, err := os.Stat(cfg.ConfigPath); err != nil {
			return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
		}
	}
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	if !slices.Contains([]string{"json", "text"}, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}
	if cfg.MetricsPort < 0 || cfg.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.MetricsPort)
	}
	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive: %s", cfg.ShutdownTimeout)
	}
	return nil
}

func printDetailedHelp(w io.Writer, fs *flag.FlagSet) {
	_, _ = fmt.Fprintf(w, `%s - city telemetry ingestion

Reads the vehicle, gps, traffic, weather and emergency topics, writes
validated batches to storage and checkpoints each stream.

Usage: %s [options]

Options:
`, appName, os.Args[0])
	fs.PrintDefaults()
	_, _ = fmt.Fprintf(w, `
Examples:
  # Run against a local NATS server with defaults
  %s

  # Run with a config file and text logs
  %s --config=/etc/citystreams/config.yaml --log-format=text

  # Run only two streams from Kafka
  export CITYSTREAMS_BROKER_TYPE=kafka
  export CITYSTREAMS_KAFKA_BROKERS=localhost:9092
  export CITYSTREAMS_STREAMS=gps,weather
  %s

  # Validate configuration only
  %s --validate --config=config.yaml

Exit codes: 0 all streams stopped cleanly, 1 a stream failed or startup
failed, 2 panic.

Version: %s
Build: %s
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], Version, BuildTime)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := cast.ToIntE(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := cast.ToDurationE(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
