package simulator

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/c360/growctl/errors"
	"github.com/c360/growctl/message"
	"github.com/c360/growctl/monitor"
	"github.com/c360/growctl/natsclient"
	"github.com/c360/growctl/topic"
)

// Default topics, matching the example controller configuration
const (
	DefaultMoistureTopic    = "sensors/soil_moisture"
	DefaultTemperatureTopic = "sensors/temperature"
	DefaultCommandTopic     = "faucet/command"
)

// Config holds the simulator topics and tick interval.
type Config struct {
	MoistureTopic    string
	TemperatureTopic string
	CommandTopic     string
	Interval         time.Duration
}

// DefaultConfig returns the configuration used by cmd/plantsim.
func DefaultConfig() Config {
	return Config{
		MoistureTopic:    DefaultMoistureTopic,
		TemperatureTopic: DefaultTemperatureTopic,
		CommandTopic:     DefaultCommandTopic,
		Interval:         DefaultInterval,
	}
}

// Validate checks the topics and interval.
func (c Config) Validate() error {
	for _, t := range []string{c.MoistureTopic, c.TemperatureTopic, c.CommandTopic} {
		if err := topic.Validate(t); err != nil {
			return errors.WrapInvalid(err, "Simulator", "Validate", "topic check")
		}
	}
	for _, t := range []string{c.MoistureTopic, c.TemperatureTopic} {
		if !topic.IsExact(t) {
			return errors.WrapInvalid(fmt.Errorf("%w: cannot publish to wildcard topic %q", errors.ErrInvalidConfig, t),
				"Simulator", "Validate", "topic check")
		}
	}
	if c.Interval <= 0 {
		return errors.WrapInvalid(fmt.Errorf("%w: interval must be positive", errors.ErrInvalidConfig),
			"Simulator", "Validate", "interval check")
	}
	return nil
}

// Simulator publishes a Plant's readings on every tick and applies faucet
// commands it receives.
type Simulator struct {
	cfg    Config
	bus    monitor.Bus
	plant  *Plant
	logger *slog.Logger
	now    func() time.Time

	ticks    atomic.Int64
	commands atomic.Int64
	failures atomic.Int64
}

// New creates a simulator for plant on bus.
func New(cfg Config, bus monitor.Bus, plant *Plant, logger *slog.Logger) (*Simulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if bus == nil {
		return nil, errors.WrapFatal(errors.ErrNoConnection, "Simulator", "New", "bus check")
	}
	if plant == nil {
		plant = NewPlant(time.Now())
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Simulator{
		cfg:    cfg,
		bus:    bus,
		plant:  plant,
		logger: logger.With("component", "simulator"),
		now:    time.Now,
	}, nil
}

// Plant returns the simulated plant.
func (s *Simulator) Plant() *Plant {
	return s.plant
}

// Ticks returns how many readings pairs were produced.
func (s *Simulator) Ticks() int64 {
	return s.ticks.Load()
}

// Commands returns how many valid faucet commands were applied.
func (s *Simulator) Commands() int64 {
	return s.commands.Load()
}

// PublishFailures returns how many reading publishes failed.
func (s *Simulator) PublishFailures() int64 {
	return s.failures.Load()
}

// Run subscribes to the command topic and publishes readings every interval
// until ctx is done.
func (s *Simulator) Run(ctx context.Context) error {
	if err := s.bus.Subscribe(s.cfg.CommandTopic, s.handleCommand, natsclient.WithRetained()); err != nil {
		return errors.WrapTransient(err, "Simulator", "Run", "subscribe to commands")
	}
	defer func() {
		if err := s.bus.Unsubscribe(s.cfg.CommandTopic); err != nil {
			s.logger.Warn("Unsubscribe failed", "topic", s.cfg.CommandTopic, "error", err)
		}
	}()

	s.logger.Info("Simulator started",
		"moisture_topic", s.cfg.MoistureTopic,
		"temperature_topic", s.cfg.TemperatureTopic,
		"command_topic", s.cfg.CommandTopic,
		"interval", s.cfg.Interval)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		s.Tick(ctx)
		select {
		case <-ctx.Done():
			s.logger.Info("Simulator stopped", "ticks", s.ticks.Load())
			return nil
		case <-ticker.C:
		}
	}
}

// Tick advances the plant once and publishes both readings.
func (s *Simulator) Tick(ctx context.Context) Sample {
	sample := s.plant.Step(s.now())
	s.ticks.Add(1)

	s.publish(ctx, s.cfg.MoistureTopic, sample.Moisture)
	s.publish(ctx, s.cfg.TemperatureTopic, sample.Temperature)

	s.logger.Debug("Readings published",
		"moisture", sample.Moisture,
		"temperature", sample.Temperature,
		"faucet_on", s.plant.FaucetOn())
	return sample
}

func (s *Simulator) publish(ctx context.Context, t string, v float64) {
	if err := s.bus.Publish(ctx, t, message.NewReading(v), 0, false); err != nil {
		s.failures.Add(1)
		s.logger.Warn("Publish failed", "topic", t, "error", err)
	}
}

func (s *Simulator) handleCommand(_ context.Context, msg message.Message) {
	cmd, err := message.DecodeCommand(msg.Topic, msg.Payload)
	if err != nil {
		s.logger.Warn("Ignoring faucet command", "topic", msg.Topic, "error", err)
		return
	}
	s.commands.Add(1)

	on := cmd == message.CommandOn
	if s.plant.SetFaucet(on) {
		state := "OFF"
		if on {
			state = "ON"
		}
		s.logger.Info("Faucet turned "+state, "retained", msg.Retained)
	}
}
