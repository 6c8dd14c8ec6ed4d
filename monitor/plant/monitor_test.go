package plant

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/growctl/config"
	"github.com/c360/growctl/errors"
	"github.com/c360/growctl/message"
	"github.com/c360/growctl/metric"
	"github.com/c360/growctl/monitor"
	"github.com/c360/growctl/natsclient"
	mocks "github.com/c360/growctl/testutil"
)

const (
	moistureTopic = "sensors/soil_moisture"
	tempTopic     = "sensors/temperature"
	hoursTopic    = "plant/watering_hours"
	wateringTopic = "plant/currently_watering"
	healthTopic   = "plant/health"
	faucetTopic   = "faucet/command"
)

func plantEntry(th Thresholds) config.MonitorConfig {
	return config.MonitorConfig{
		Name: "plant_monitor",
		Type: Type,
		Input: map[string]string{
			InputSoilMoisture: moistureTopic,
			InputTemperature:  tempTopic,
		},
		Output: map[string]string{
			OutputWateringHours:     hoursTopic,
			OutputCurrentlyWatering: wateringTopic,
			OutputPlantHealth:       healthTopic,
		},
		Thresholds: map[string]float64{
			ThresholdMoistureLow:     th.MoistureLow,
			ThresholdMoistureOptimal: th.MoistureOptimal,
			ThresholdTempLow:         th.TempLow,
			ThresholdTempHigh:        th.TempHigh,
		},
	}
}

type harness struct {
	bus     *mocks.MockBus
	mon     *Monitor
	metrics *metric.MetricsRegistry
	errCh   chan error
}

func startMonitor(t *testing.T, th Thresholds) *harness {
	t.Helper()

	h := &harness{
		bus:     mocks.NewMockBus(),
		metrics: metric.NewMetricsRegistry(),
		errCh:   make(chan error, 1),
	}
	m, err := Factory(plantEntry(th), monitor.Dependencies{Bus: h.bus, Metrics: h.metrics})
	require.NoError(t, err)
	h.mon = m.(*Monitor)

	go func() { h.errCh <- h.mon.Start(context.Background()) }()
	require.Eventually(t, func() bool {
		return h.bus.Subscribed(moistureTopic) && h.bus.Subscribed(tempTopic)
	}, time.Second, 5*time.Millisecond)

	t.Cleanup(func() {
		err := h.mon.Stop(time.Second)
		if err != nil && !errors.IsLifecycleNoop(err) {
			t.Errorf("Stop: %v", err)
		}
	})
	return h
}

func (h *harness) send(t *testing.T, topic string, value float64) {
	t.Helper()
	require.True(t, h.bus.Deliver(context.Background(), topic, []byte(fmt.Sprintf(`{"value": %v}`, value))))
}

func (h *harness) lastValue(t *testing.T, topic string) float64 {
	t.Helper()
	msgs := h.bus.MessagesOn(topic)
	require.NotEmpty(t, msgs, "nothing published on %s", topic)
	v, err := message.DecodeReading(topic, msgs[len(msgs)-1].Payload)
	require.NoError(t, err)
	return v
}

func (h *harness) commands(t *testing.T) []int {
	t.Helper()
	var out []int
	for _, p := range h.bus.MessagesOn(faucetTopic) {
		cmd, err := message.DecodeCommand(faucetTopic, p.Payload)
		require.NoError(t, err)
		assert.Equal(t, natsclient.QoSAtLeastOnce, p.QoS, "commands request at-least-once delivery")
		assert.True(t, p.Retain, "commands are retained")
		out = append(out, cmd)
	}
	return out
}

func TestMonitor_SkipsUntilBothReadingsPresent(t *testing.T) {
	h := startMonitor(t, th70)

	h.send(t, moistureTopic, 20)
	h.send(t, moistureTopic, 25)
	assert.Empty(t, h.bus.Messages(), "no publish with only moisture known")

	h.send(t, tempTopic, 22)
	assert.Len(t, h.bus.MessagesOn(hoursTopic), 1)
	assert.Len(t, h.bus.MessagesOn(wateringTopic), 1)
	assert.Len(t, h.bus.MessagesOn(healthTopic), 1)
}

func TestMonitor_PublishesDerivedMetrics(t *testing.T) {
	h := startMonitor(t, th70)

	h.send(t, tempTopic, 22)
	h.send(t, moistureTopic, 65)

	assert.Equal(t, 22.5, h.lastValue(t, hoursTopic))
	assert.Equal(t, 1.0, h.lastValue(t, wateringTopic))
	assert.Equal(t, 95.0, h.lastValue(t, healthTopic))
	assert.Empty(t, h.commands(t), "65 is inside the band, faucet stays off")

	for _, p := range h.bus.MessagesOn(hoursTopic) {
		assert.Equal(t, natsclient.QoSAtMostOnce, p.QoS)
		assert.False(t, p.Retain)
	}

	h.send(t, moistureTopic, 45)
	assert.Equal(t, 16.5, h.lastValue(t, hoursTopic))

	assert.Equal(t, 2.0, testutil.ToFloat64(h.mon.metrics.evaluations.WithLabelValues("plant_monitor")))
	assert.Equal(t, 83.0, testutil.ToFloat64(h.mon.metrics.healthScore.WithLabelValues("plant_monitor")))
}

func TestMonitor_DryPlantTurnsFaucetOn(t *testing.T) {
	h := startMonitor(t, th70)

	h.send(t, moistureTopic, 20)
	h.send(t, tempTopic, 25)

	assert.InDelta(t, 8.0, h.lastValue(t, hoursTopic), 1e-9)
	assert.Equal(t, []int{message.CommandOn}, h.commands(t))
	assert.True(t, h.mon.FaucetOn())
	assert.Contains(t, h.mon.Health().Message, "faucet ON")
}

func TestMonitor_HysteresisCycle(t *testing.T) {
	h := startMonitor(t, th70)
	h.send(t, tempTopic, 22)

	h.send(t, moistureTopic, 20)
	assert.True(t, h.mon.FaucetOn())

	for _, m := range []float64{35, 50, 69.9} {
		h.send(t, moistureTopic, m)
		assert.True(t, h.mon.FaucetOn(), "no toggle at %v inside the band", m)
	}

	h.send(t, moistureTopic, 70)
	assert.False(t, h.mon.FaucetOn())

	h.send(t, moistureTopic, 50)
	assert.False(t, h.mon.FaucetOn(), "no restart until the low threshold is breached")

	assert.Equal(t, []int{message.CommandOn, message.CommandOff}, h.commands(t))
	assert.Equal(t, 1.0, testutil.ToFloat64(
		h.mon.metrics.actuations.WithLabelValues("plant_monitor", ActionFaucetOn.String())))
	assert.Equal(t, 0.0, testutil.ToFloat64(h.mon.metrics.faucetOn.WithLabelValues("plant_monitor")))
}

func TestMonitor_MalformedPayloadIgnored(t *testing.T) {
	h := startMonitor(t, th70)
	h.send(t, tempTopic, 22)
	h.send(t, moistureTopic, 50)
	h.bus.Reset()

	for _, payload := range []string{`not json`, `{"reading": 10}`, `{"value": "wet"}`, ``} {
		require.True(t, h.bus.Deliver(context.Background(), moistureTopic, []byte(payload)))
	}

	assert.Empty(t, h.bus.Messages(), "malformed payloads never trigger an evaluation")
	assert.Equal(t, map[string]float64{"moisture": 50, "temperature": 22}, h.mon.Values())
	assert.Equal(t, 4.0, testutil.ToFloat64(
		h.mon.metrics.decodeErrors.WithLabelValues("plant_monitor", moistureTopic)))

	status := h.mon.Health()
	assert.True(t, status.IsDegraded())
	assert.Equal(t, 4, status.Metrics.ErrorCount)

	h.send(t, moistureTopic, 55)
	assert.True(t, h.mon.Health().IsHealthy(), "monitor keeps working after bad input")
}

func TestMonitor_FailedCommandIsNotResent(t *testing.T) {
	h := startMonitor(t, th70)
	h.send(t, tempTopic, 22)

	h.bus.FailPublish(faucetTopic, fmt.Errorf("broker unavailable"))
	h.send(t, moistureTopic, 20)
	assert.True(t, h.mon.FaucetOn(), "state follows the decision even when the send fails")
	assert.Len(t, h.bus.MessagesOn(healthTopic), 1, "telemetry still published")
	assert.True(t, h.mon.Health().IsDegraded())

	h.send(t, moistureTopic, 21)
	assert.Equal(t, 1.0, testutil.ToFloat64(
		h.mon.metrics.publishFailures.WithLabelValues("plant_monitor", faucetTopic)), "one attempt only")

	h.bus.FailPublish(faucetTopic, nil)
	h.send(t, moistureTopic, 25)
	assert.Empty(t, h.commands(t), "no command while the faucet is believed on")
	assert.True(t, h.mon.FaucetOn())

	h.send(t, moistureTopic, 70)
	assert.Equal(t, []int{message.CommandOff}, h.commands(t))
	assert.False(t, h.mon.FaucetOn())
}

func TestMonitor_NonFiniteReadingIgnored(t *testing.T) {
	h := startMonitor(t, th70)
	h.send(t, tempTopic, 22)
	h.send(t, moistureTopic, 50)
	h.bus.Reset()

	for _, payload := range []string{`{"value": "NaN"}`, `{"value": "Inf"}`, `{"value": "-Infinity"}`} {
		require.True(t, h.bus.Deliver(context.Background(), moistureTopic, []byte(payload)))
		require.True(t, h.bus.Deliver(context.Background(), tempTopic, []byte(payload)))
	}

	assert.Empty(t, h.bus.Messages(), "nothing is derived from a non-finite reading")
	assert.Equal(t, map[string]float64{"moisture": 50, "temperature": 22}, h.mon.Values())
	assert.Equal(t, 3.0, testutil.ToFloat64(
		h.mon.metrics.decodeErrors.WithLabelValues("plant_monitor", moistureTopic)))
}

func TestMonitor_LateFaucetSubscriberSeesLastCommand(t *testing.T) {
	h := startMonitor(t, th70)
	h.send(t, tempTopic, 22)
	h.send(t, moistureTopic, 20)
	require.True(t, h.mon.FaucetOn())

	var got []int
	require.NoError(t, h.bus.Subscribe(faucetTopic, func(_ context.Context, msg message.Message) {
		cmd, err := message.DecodeCommand(msg.Topic, msg.Payload)
		require.NoError(t, err)
		assert.True(t, msg.Retained)
		got = append(got, cmd)
	}, natsclient.WithRetained()))

	assert.Equal(t, []int{message.CommandOn}, got)
}

func TestMonitor_FaucetTopicOverride(t *testing.T) {
	entry := plantEntry(th70)
	entry.Output[OutputFaucetCommand] = "greenhouse/faucet"

	bus := mocks.NewMockBus()
	m, err := Factory(entry, monitor.Dependencies{Bus: bus})
	require.NoError(t, err)
	mon := m.(*Monitor)

	go func() { _ = mon.Start(context.Background()) }()
	defer func() { _ = mon.Stop(time.Second) }()
	require.Eventually(t, func() bool { return bus.Subscribed(tempTopic) }, time.Second, 5*time.Millisecond)

	bus.Deliver(context.Background(), tempTopic, []byte(`{"value": 22}`))
	bus.Deliver(context.Background(), moistureTopic, []byte(`{"value": 10}`))

	assert.Len(t, bus.MessagesOn("greenhouse/faucet"), 1)
	assert.Empty(t, bus.MessagesOn(faucetTopic))
}

func TestMonitor_StopUnsubscribesAndHalts(t *testing.T) {
	h := startMonitor(t, th70)
	h.send(t, tempTopic, 22)

	require.NoError(t, h.mon.Stop(time.Second))
	require.NoError(t, <-h.errCh)
	assert.Empty(t, h.bus.Topics())
	assert.True(t, h.mon.Health().IsUnhealthy())
}

func TestMonitors_ShareMetricVectors(t *testing.T) {
	reg := metric.NewMetricsRegistry()
	bus := mocks.NewMockBus()

	first := plantEntry(th70)
	second := plantEntry(th60)
	second.Name = "basil"

	_, err := Factory(first, monitor.Dependencies{Bus: bus, Metrics: reg})
	require.NoError(t, err)
	_, err = Factory(second, monitor.Dependencies{Bus: bus, Metrics: reg})
	require.NoError(t, err)
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig(plantEntry(th70))
	require.NoError(t, err)
	assert.Equal(t, th70, cfg.Thresholds)
	assert.Equal(t, DefaultFaucetCommandTopic, cfg.Topics.FaucetCommand)
	assert.Equal(t, moistureTopic, cfg.Topics.SoilMoisture)

	tests := []struct {
		name   string
		mutate func(mc *config.MonitorConfig)
	}{
		{"missing moisture topic", func(mc *config.MonitorConfig) { delete(mc.Input, InputSoilMoisture) }},
		{"missing health topic", func(mc *config.MonitorConfig) { delete(mc.Output, OutputPlantHealth) }},
		{"missing threshold", func(mc *config.MonitorConfig) { delete(mc.Thresholds, ThresholdTempHigh) }},
		{"inverted moisture", func(mc *config.MonitorConfig) { mc.Thresholds[ThresholdMoistureLow] = 80 }},
		{"shared input topic", func(mc *config.MonitorConfig) { mc.Input[InputTemperature] = moistureTopic }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mc := plantEntry(th70)
			tt.mutate(&mc)
			_, err := ParseConfig(mc)
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestRegister(t *testing.T) {
	r := monitor.NewRegistry()
	require.NoError(t, Register(r))
	assert.Equal(t, []string{Type}, r.Types())

	m, err := r.Create(plantEntry(th70), monitor.Dependencies{Bus: mocks.NewMockBus()})
	require.NoError(t, err)
	assert.Equal(t, "plant_monitor", m.Name())
	assert.Equal(t, Type, m.Type())
}
