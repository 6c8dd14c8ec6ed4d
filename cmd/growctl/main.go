// Package main implements growctl, the plant health monitor and faucet
// controller. It connects to the broker, builds the monitors named in the
// configuration and supervises them until interrupted.
package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/growctl/config"
	"github.com/c360/growctl/errors"
	"github.com/c360/growctl/health"
	"github.com/c360/growctl/metric"
	"github.com/c360/growctl/monitor"
	"github.com/c360/growctl/monitorregistry"
	"github.com/c360/growctl/natsclient"
	"github.com/c360/growctl/pkg/retry"
	"github.com/c360/growctl/pkg/tlsutil"
	"github.com/c360/growctl/service"
)

// Build information, set by ldflags
var (
	Version   = "dev"
	BuildTime = "unknown"
)

const (
	appName = "growctl"

	busHealthKey      = "bus"
	busHealthInterval = 5 * time.Second
)

// errNoMonitors is returned when no configured monitor could be built
var errNoMonitors = stderrors.New("no monitors could be built from the configuration")

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "FATAL: Unrecovered panic in main: %v\n", r)
			os.Exit(2)
		}
	}()

	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cliCfg, err := parseFlags(args, os.Getenv)
	if err != nil {
		printHelp(os.Stderr)
		return err
	}
	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s (built %s)\n", appName, Version, BuildTime)
		return nil
	}
	if cliCfg.ShowHelp {
		printHelp(os.Stdout)
		return nil
	}
	if err := validateFlags(cliCfg); err != nil {
		return err
	}

	logger := setupLogger(os.Stdout, cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	cfg, err := loadConfig(cliCfg.ConfigPath)
	if err != nil {
		return err
	}
	if cliCfg.MetricsPort != metricsPortFromConfig {
		cfg.Metrics.Port = cliCfg.MetricsPort
	}

	registry := monitor.NewRegistry()
	if err := monitorregistry.Register(registry); err != nil {
		return fmt.Errorf("register monitor types: %w", err)
	}

	if cliCfg.Validate {
		return validateMonitors(os.Stdout, registry, cfg)
	}

	logger.Info("Starting growctl",
		"config", cliCfg.ConfigPath,
		"broker", cfg.Broker.URL(),
		"monitors", len(cfg.MessageFlows))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return runWithConfig(ctx, cliCfg, cfg, registry, logger)
}

func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	loader.EnableValidation(true)
	cfg, err := loader.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// validateMonitors builds every configured monitor without a bus and reports
// each result to w.
func validateMonitors(w io.Writer, registry *monitor.Registry, cfg *config.Config) error {
	var errs []error
	for _, entry := range cfg.MessageFlows {
		if _, err := registry.Create(entry, monitor.Dependencies{}); err != nil {
			_, _ = fmt.Fprintf(w, "✗ %s (%s): %v\n", entry.Name, entry.Type, err)
			errs = append(errs, err)
			continue
		}
		_, _ = fmt.Fprintf(w, "✓ %s (%s)\n", entry.Name, entry.Type)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%d of %d monitors invalid: %w", len(errs), len(cfg.MessageFlows), stderrors.Join(errs...))
	}
	if len(cfg.MessageFlows) == 0 {
		return errNoMonitors
	}
	_, _ = fmt.Fprintln(w, "Configuration is valid")
	return nil
}

func runWithConfig(
	ctx context.Context,
	cliCfg *CLIConfig,
	cfg *config.Config,
	registry *monitor.Registry,
	logger *slog.Logger,
) error {
	metrics := metric.NewMetricsRegistry()
	healthMonitor := health.NewMonitor()

	client, err := connectToBroker(ctx, cfg.Broker, metrics, logger)
	if err != nil {
		return err
	}
	defer disconnect(client, cliCfg.ShutdownTimeout, logger)

	supervisor := service.NewSupervisor(registry,
		monitor.Dependencies{Bus: client, Logger: logger, Metrics: metrics},
		service.WithHealthMonitor(healthMonitor),
		service.WithStopTimeout(cliCfg.ShutdownTimeout),
	)
	if supervisor.Build(cfg.MessageFlows) == 0 {
		return errNoMonitors
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		reportBusHealth(gctx, client, healthMonitor)
		return nil
	})

	if cfg.Metrics.Port > 0 {
		server := metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, metrics, healthMonitor.Handler(appName))
		served := make(chan struct{})
		g.Go(func() error {
			defer close(served)
			return server.Start()
		})
		g.Go(func() error {
			<-gctx.Done()
			// Stop is a no-op until Start has bound the listener
			for {
				if err := server.Stop(); err != nil {
					return err
				}
				select {
				case <-served:
					return nil
				case <-time.After(50 * time.Millisecond):
				}
			}
		})
		logger.Info("Metrics server started", "address", server.Address())
	}

	if cliCfg.WatchConfig {
		startConfigWatcher(gctx, cliCfg.ConfigPath, logger)
	}

	g.Go(func() error {
		// Monitors finishing on their own end the process too
		defer cancel()
		logger.Info("growctl running", "monitors", len(supervisor.Monitors()))
		if err := supervisor.Run(gctx); err != nil {
			return fmt.Errorf("supervisor: %w", err)
		}
		return nil
	})

	err = g.Wait()
	logger.Info("growctl stopped")
	return err
}

func connectToBroker(
	ctx context.Context,
	broker config.BrokerConfig,
	metrics *metric.MetricsRegistry,
	logger *slog.Logger,
) (*natsclient.Client, error) {
	opts := []natsclient.ClientOption{
		natsclient.WithName(appName),
		natsclient.WithLogger(logger),
		natsclient.WithMetrics(metrics),
	}
	if broker.Name != "" {
		opts[0] = natsclient.WithName(broker.Name)
	}
	if t := broker.Timeout.Duration(); t > 0 {
		opts = append(opts, natsclient.WithTimeout(t))
	}
	if broker.RetainedBucket != "" {
		opts = append(opts, natsclient.WithRetainedBucket(broker.RetainedBucket))
	}
	if broker.Username != "" {
		opts = append(opts, natsclient.WithCredentials(broker.Username, broker.Password))
	}
	if broker.Token != "" {
		opts = append(opts, natsclient.WithToken(broker.Token))
	}
	tlsConfig, err := tlsutil.LoadClientTLSConfig(broker.TLS)
	if err != nil {
		return nil, fmt.Errorf("broker TLS: %w", err)
	}
	opts = append(opts, natsclient.WithTLS(tlsConfig))

	client, err := natsclient.NewClient(broker.URL(), opts...)
	if err != nil {
		return nil, fmt.Errorf("create broker client: %w", err)
	}

	logger.Info("Connecting to broker", "url", broker.URL())
	err = retry.Do(ctx, retry.Quick(), func() error {
		return client.Connect(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("connect to broker at %s: %w", broker.URL(), err)
	}
	logger.Info("Connected to broker", "url", broker.URL())
	return client, nil
}

func disconnect(client *natsclient.Client, timeout time.Duration, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := client.Disconnect(ctx); err != nil && !errors.IsLifecycleNoop(err) {
		logger.Warn("Broker disconnect failed", "error", err)
	}
}

// reportBusHealth mirrors the broker connection state into the health monitor.
func reportBusHealth(ctx context.Context, client *natsclient.Client, hm *health.Monitor) {
	ticker := time.NewTicker(busHealthInterval)
	defer ticker.Stop()

	for {
		status := client.GetStatus()
		switch {
		case client.IsHealthy():
			hm.UpdateHealthy(busHealthKey, "connected")
		case status.Status == natsclient.StatusReconnecting:
			hm.UpdateDegraded(busHealthKey, "reconnecting")
		default:
			hm.UpdateUnhealthy(busHealthKey, status.Status.String())
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func startConfigWatcher(ctx context.Context, path string, logger *slog.Logger) {
	watcher, err := config.NewWatcher(path, 0, logger)
	if err != nil {
		logger.Warn("Config watcher disabled", "error", err)
		return
	}
	if err := watcher.WatchAndWarn(ctx); err != nil {
		logger.Warn("Config watcher disabled", "error", err)
	}
}
