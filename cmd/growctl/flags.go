package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"time"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	Debug           bool
	MetricsPort     int
	ShutdownTimeout time.Duration
	WatchConfig     bool
	ShowVersion     bool
	ShowHelp        bool
	Validate        bool
}

// metricsPortFromConfig means --metrics-port was not given
const metricsPortFromConfig = -1

func parseFlags(args []string, getenv func(string) string) (*CLIConfig, error) {
	cfg := &CLIConfig{}
	env := envReader{getenv: getenv}

	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.ConfigPath, "config",
		env.str("GROWCTL_CONFIG", "configs/grow_a_plant.json"),
		"Path to configuration file, JSON or YAML (env: GROWCTL_CONFIG)")
	fs.StringVar(&cfg.ConfigPath, "c",
		env.str("GROWCTL_CONFIG", "configs/grow_a_plant.json"),
		"Path to configuration file (env: GROWCTL_CONFIG)")

	fs.StringVar(&cfg.LogLevel, "log-level",
		env.str("GROWCTL_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: GROWCTL_LOG_LEVEL)")
	fs.StringVar(&cfg.LogFormat, "log-format",
		env.str("GROWCTL_LOG_FORMAT", "json"),
		"Log format: json, text (env: GROWCTL_LOG_FORMAT)")
	fs.BoolVar(&cfg.Debug, "debug",
		env.boolean("GROWCTL_DEBUG", false),
		"Shorthand for --log-level=debug (env: GROWCTL_DEBUG)")

	fs.IntVar(&cfg.MetricsPort, "metrics-port",
		env.integer("GROWCTL_METRICS_PORT", metricsPortFromConfig),
		"Metrics and health port, 0 to disable; defaults to metrics.port from the config (env: GROWCTL_METRICS_PORT)")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		env.duration("GROWCTL_SHUTDOWN_TIMEOUT", 10*time.Second),
		"Graceful shutdown timeout (env: GROWCTL_SHUTDOWN_TIMEOUT)")
	fs.BoolVar(&cfg.WatchConfig, "watch-config",
		env.boolean("GROWCTL_WATCH_CONFIG", true),
		"Warn when the config file changes on disk (env: GROWCTL_WATCH_CONFIG)")

	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	fs.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	fs.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	fs.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	fs.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			cfg.ShowHelp = true
			return cfg, nil
		}
		return nil, err
	}

	if cfg.Debug {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	if _, err := os.Stat(cfg.ConfigPath); err != nil {
		return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
	}
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	if !slices.Contains([]string{"json", "text"}, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}
	if cfg.MetricsPort < metricsPortFromConfig || cfg.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.MetricsPort)
	}
	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive: %v", cfg.ShutdownTimeout)
	}
	return nil
}

func printHelp(w io.Writer) {
	_, _ = fmt.Fprintf(w, `%s - plant health monitor and faucet controller

Usage: %s [options]

Options:
  -c, --config PATH          configuration file, JSON or YAML (env: GROWCTL_CONFIG)
      --log-level LEVEL      debug, info, warn, error (env: GROWCTL_LOG_LEVEL)
      --log-format FORMAT    json, text (env: GROWCTL_LOG_FORMAT)
      --debug                same as --log-level=debug (env: GROWCTL_DEBUG)
      --metrics-port PORT    /metrics and /health port, 0 disables (env: GROWCTL_METRICS_PORT)
      --shutdown-timeout D   graceful shutdown timeout (env: GROWCTL_SHUTDOWN_TIMEOUT)
      --watch-config         warn when the config file changes (env: GROWCTL_WATCH_CONFIG)
      --validate             validate configuration and exit
  -v, --version              show version
  -h, --help                 show this help

Broker settings can be overridden with GROWCTL_BROKER_HOST, GROWCTL_BROKER_PORT,
GROWCTL_BROKER_USERNAME, GROWCTL_BROKER_PASSWORD and GROWCTL_BROKER_TOKEN.

Examples:
  %s --config=/etc/growctl/grow_a_plant.yaml
  %s --log-level=debug --log-format=text
  %s --validate

Version: %s
Build: %s
`, appName, appName, appName, appName, appName, Version, BuildTime)
}

type envReader struct {
	getenv func(string) string
}

func (e envReader) str(key, def string) string {
	if v := e.getenv(key); v != "" {
		return v
	}
	return def
}

func (e envReader) boolean(key string, def bool) bool {
	if v := e.getenv(key); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return def
}

func (e envReader) integer(key string, def int) int {
	if v := e.getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return def
}

func (e envReader) duration(key string, def time.Duration) time.Duration {
	if v := e.getenv(key); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return def
}
