// Package main implements plantsim, a simulated plant bed that publishes soil
// moisture and temperature readings and obeys faucet commands.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/c360/growctl/config"
	"github.com/c360/growctl/errors"
	"github.com/c360/growctl/natsclient"
	"github.com/c360/growctl/pkg/retry"
	"github.com/c360/growctl/pkg/tlsutil"
	"github.com/c360/growctl/simulator"
)

const appName = "plantsim"

type options struct {
	configPath      string
	interval        time.Duration
	moisture        float64
	baseTemperature float64
	flowRate        float64
	logLevel        string
	logFormat       string
	sim             simulator.Config
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (*options, error) {
	opts := &options{sim: simulator.DefaultConfig()}

	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	fs.StringVar(&opts.configPath, "config", os.Getenv("GROWCTL_CONFIG"),
		"growctl configuration file to read the broker section from (env: GROWCTL_CONFIG)")
	fs.DurationVar(&opts.interval, "interval", simulator.DefaultInterval, "Time between readings")
	fs.Float64Var(&opts.moisture, "moisture", simulator.DefaultInitialMoisture, "Initial soil moisture percentage")
	fs.Float64Var(&opts.baseTemperature, "temperature", simulator.DefaultBaseTemperature, "Base temperature in Celsius")
	fs.Float64Var(&opts.flowRate, "flow-rate", simulator.DefaultFlowRate, "Faucet flow in litres per second")
	fs.StringVar(&opts.sim.MoistureTopic, "moisture-topic", opts.sim.MoistureTopic, "Soil moisture topic")
	fs.StringVar(&opts.sim.TemperatureTopic, "temperature-topic", opts.sim.TemperatureTopic, "Temperature topic")
	fs.StringVar(&opts.sim.CommandTopic, "command-topic", opts.sim.CommandTopic, "Faucet command topic")
	fs.StringVar(&opts.logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	fs.StringVar(&opts.logFormat, "log-format", "text", "Log format: json, text")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	opts.sim.Interval = opts.interval
	if err := opts.sim.Validate(); err != nil {
		return nil, err
	}
	return opts, nil
}

func run(args []string) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}
	logger := newLogger(opts.logLevel, opts.logFormat)

	loader := config.NewLoader()
	if opts.configPath != "" {
		loader.AddLayer(opts.configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clientOpts := []natsclient.ClientOption{
		natsclient.WithName(appName),
		natsclient.WithLogger(logger),
	}
	if cfg.Broker.Username != "" {
		clientOpts = append(clientOpts, natsclient.WithCredentials(cfg.Broker.Username, cfg.Broker.Password))
	}
	if cfg.Broker.Token != "" {
		clientOpts = append(clientOpts, natsclient.WithToken(cfg.Broker.Token))
	}
	if cfg.Broker.RetainedBucket != "" {
		clientOpts = append(clientOpts, natsclient.WithRetainedBucket(cfg.Broker.RetainedBucket))
	}
	tlsConfig, err := tlsutil.LoadClientTLSConfig(cfg.Broker.TLS)
	if err != nil {
		return fmt.Errorf("broker TLS: %w", err)
	}
	clientOpts = append(clientOpts, natsclient.WithTLS(tlsConfig))

	client, err := natsclient.NewClient(cfg.Broker.URL(), clientOpts...)
	if err != nil {
		return err
	}
	if err := retry.Do(ctx, retry.Quick(), func() error { return client.Connect(ctx) }); err != nil {
		return fmt.Errorf("connect to broker at %s: %w", cfg.Broker.URL(), err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Disconnect(shutdownCtx); err != nil && !errors.IsLifecycleNoop(err) {
			logger.Warn("Broker disconnect failed", "error", err)
		}
	}()

	plant := simulator.NewPlant(time.Now(),
		simulator.WithInitialMoisture(opts.moisture),
		simulator.WithBaseTemperature(opts.baseTemperature),
		simulator.WithFlowRate(opts.flowRate),
	)
	sim, err := simulator.New(opts.sim, client, plant, logger)
	if err != nil {
		return err
	}
	return sim.Run(ctx)
}

func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler).With("service", appName, "pid", os.Getpid())
}
