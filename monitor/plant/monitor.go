// Package plant implements the plant health monitor: it correlates soil
// moisture and temperature readings, publishes watering hours, a watering
// demand flag and a health score, and drives the faucet with a two-threshold
// hysteresis.
package plant

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/c360/growctl/config"
	"github.com/c360/growctl/health"
	"github.com/c360/growctl/message"
	"github.com/c360/growctl/monitor"
	"github.com/c360/growctl/natsclient"
)

// Type is the configuration type string for this monitor.
const Type = "plant"

// Value store keys
const (
	keyMoisture    = "moisture"
	keyTemperature = "temperature"
)

// Monitor is the plant health monitor.
type Monitor struct {
	*monitor.Base

	cfg     Config
	store   *monitor.ValueStore
	metrics *plantMetrics

	// faucetOn is written only inside Exclusive
	faucetOn atomic.Bool
}

// New builds a plant monitor from a parsed configuration.
func New(cfg Config, deps monitor.Dependencies) (*Monitor, error) {
	if err := cfg.Thresholds.Validate(); err != nil {
		return nil, err
	}
	metrics, err := newPlantMetrics(deps.Metrics)
	if err != nil {
		return nil, err
	}

	m := &Monitor{
		Base:    monitor.NewBase(cfg.Name, Type, deps),
		cfg:     cfg,
		store:   monitor.NewValueStore(),
		metrics: metrics,
	}
	m.Handle(cfg.Topics.SoilMoisture, m.reading(keyMoisture))
	m.Handle(cfg.Topics.Temperature, m.reading(keyTemperature))

	m.Logger().Info("Plant monitor configured",
		"moisture_topic", cfg.Topics.SoilMoisture,
		"temperature_topic", cfg.Topics.Temperature,
		"faucet_topic", cfg.Topics.FaucetCommand,
		"moisture_low", cfg.Thresholds.MoistureLow,
		"moisture_optimal", cfg.Thresholds.MoistureOptimal,
		"temp_low", cfg.Thresholds.TempLow,
		"temp_high", cfg.Thresholds.TempHigh)
	return m, nil
}

// Factory builds a plant monitor from a message flow entry.
func Factory(mc config.MonitorConfig, deps monitor.Dependencies) (monitor.Monitor, error) {
	cfg, err := ParseConfig(mc)
	if err != nil {
		return nil, err
	}
	return New(cfg, deps)
}

// Register adds the plant type to registry.
func Register(registry *monitor.Registry) error {
	return registry.Register(monitor.Registration{
		Type:        Type,
		Description: "Soil moisture and temperature health monitor with hysteresis faucet control",
		Factory:     Factory,
	})
}

// FaucetOn reports the faucet state last commanded by the monitor.
func (m *Monitor) FaucetOn() bool {
	return m.faucetOn.Load()
}

// Values returns the latest readings.
func (m *Monitor) Values() map[string]float64 {
	return m.store.Snapshot()
}

// Health adds the faucet state to the base status.
func (m *Monitor) Health() health.Status {
	status := m.Base.Health()
	if status.IsHealthy() {
		status.Message = fmt.Sprintf("running, faucet %s", onOff(m.FaucetOn()))
	}
	return status
}

func (m *Monitor) reading(key string) message.Handler {
	return func(ctx context.Context, msg message.Message) {
		value, err := message.DecodeReading(msg.Topic, msg.Payload)
		if err != nil {
			m.Logger().Warn("Dropping malformed reading", "topic", msg.Topic, "error", err)
			m.metrics.recordDecodeError(m.Name(), msg.Topic)
			m.RecordError(err)
			return
		}

		m.metrics.recordReading(m.Name(), key)
		ok := true
		ran := m.Exclusive(func() {
			m.store.Set(key, value)
			m.Logger().Debug("Reading updated", "sensor", key, "value", value)
			ok = m.evaluate(ctx)
		})
		if ran && ok {
			m.RecordProcessed()
		}
	}
}

// evaluate runs inside Exclusive. It reports false when any publish failed.
func (m *Monitor) evaluate(ctx context.Context) bool {
	if !m.store.AllPresent(keyMoisture, keyTemperature) {
		m.Logger().Debug("Waiting for all sensor data", "have", m.store.Snapshot())
		return true
	}
	start := time.Now()
	moisture, _ := m.store.Get(keyMoisture)
	temperature, _ := m.store.Get(keyTemperature)

	th := m.cfg.Thresholds
	a := th.Analyze(moisture, temperature)

	ok := m.publish(ctx, m.cfg.Topics.WateringHours, message.NewReading(a.WateringHours), natsclient.QoSAtMostOnce, false)
	ok = m.publish(ctx, m.cfg.Topics.CurrentlyWatering, message.NewReading(float64(a.CurrentlyWatering)), natsclient.QoSAtMostOnce, false) && ok
	ok = m.publish(ctx, m.cfg.Topics.PlantHealth, message.NewReading(float64(a.Health)), natsclient.QoSAtMostOnce, false) && ok

	switch action := th.Actuate(moisture, m.faucetOn.Load()); action {
	case ActionFaucetOn:
		m.Logger().Warn("Critical moisture, turning faucet on", "moisture", moisture)
		ok = m.actuate(ctx, action, true) && ok
	case ActionFaucetOff:
		m.Logger().Info("Target moisture reached, turning faucet off", "moisture", moisture)
		ok = m.actuate(ctx, action, false) && ok
	}

	m.metrics.recordEvaluation(m.Name(), a, time.Since(start).Seconds())
	m.Logger().Info("Plant status",
		"moisture", moisture,
		"temperature", temperature,
		"watering_hours", a.WateringHours,
		"currently_watering", a.CurrentlyWatering,
		"health", a.Health,
		"faucet", onOff(m.faucetOn.Load()))
	return ok
}

// actuate sends the faucet command and takes the new state whether or not the
// send succeeded; a failed command is logged and counted, never resent.
// Commands are retained so a faucet that connects later picks up the state.
func (m *Monitor) actuate(ctx context.Context, action Action, on bool) bool {
	ok := m.publish(ctx, m.cfg.Topics.FaucetCommand, message.NewCommand(on), natsclient.QoSAtLeastOnce, true)
	m.faucetOn.Store(on)
	m.metrics.recordActuation(m.Name(), action, on)
	return ok
}

func (m *Monitor) publish(ctx context.Context, topic string, payload any, qos int, retain bool) bool {
	if err := m.Bus().Publish(ctx, topic, payload, qos, retain); err != nil {
		m.Logger().Error("Publish failed", "topic", topic, "error", err)
		m.metrics.recordPublishFailure(m.Name(), topic)
		m.RecordError(err)
		return false
	}
	return true
}

func onOff(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}
