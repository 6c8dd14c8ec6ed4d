// Package faucet tracks the faucet's commanded state from the actuation topic
// and republishes it as retained telemetry, so late subscribers such as a
// dashboard see the current state immediately.
package faucet

import (
	"context"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/growctl/config"
	"github.com/c360/growctl/health"
	"github.com/c360/growctl/message"
	"github.com/c360/growctl/metric"
	"github.com/c360/growctl/monitor"
	"github.com/c360/growctl/natsclient"
)

// Type is the configuration type string for this monitor.
const Type = "faucet"

// Configuration keys and defaults
const (
	InputCommand = "command_topic"
	OutputStatus = "status_topic"

	DefaultCommandTopic = "faucet/command"
	DefaultStatusTopic  = "faucet/status"
)

// Tracker follows faucet commands.
type Tracker struct {
	*monitor.Base

	commandTopic string
	statusTopic  string

	known    bool
	on       atomic.Bool
	commands atomic.Int64

	commandsTotal *prometheus.CounterVec
	stateGauge    *prometheus.GaugeVec
}

// New builds a tracker from a message flow entry.
func New(mc config.MonitorConfig, deps monitor.Dependencies) (*Tracker, error) {
	t := &Tracker{
		Base:         monitor.NewBase(mc.Name, Type, deps),
		commandTopic: mc.InputTopic(InputCommand, DefaultCommandTopic),
		statusTopic:  mc.OutputTopic(OutputStatus, DefaultStatusTopic),
	}

	if deps.Metrics != nil {
		var err error
		t.commandsTotal, err = metric.Shared(deps.Metrics, Type, "commands_total",
			prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: metric.Namespace,
				Subsystem: Type,
				Name:      "commands_total",
				Help:      "Faucet commands observed on the actuation topic",
			}, []string{"monitor", "command"}))
		if err != nil {
			return nil, err
		}
		t.stateGauge, err = metric.Shared(deps.Metrics, Type, "on",
			prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: metric.Namespace,
				Subsystem: Type,
				Name:      "on",
				Help:      "Last commanded faucet state (1 on, 0 off)",
			}, []string{"monitor"}))
		if err != nil {
			return nil, err
		}
	}

	// Retained replay picks up the last command sent before we started
	t.Handle(t.commandTopic, t.handleCommand, natsclient.WithRetained())
	return t, nil
}

// Factory adapts New to monitor.Factory.
func Factory(mc config.MonitorConfig, deps monitor.Dependencies) (monitor.Monitor, error) {
	return New(mc, deps)
}

// Register adds the faucet type to registry.
func Register(registry *monitor.Registry) error {
	return registry.Register(monitor.Registration{
		Type:        Type,
		Description: "Tracks faucet commands and republishes the state as retained telemetry",
		Factory:     Factory,
	})
}

// On reports the last commanded state.
func (t *Tracker) On() bool { return t.on.Load() }

// Commands returns the number of valid commands seen.
func (t *Tracker) Commands() int64 { return t.commands.Load() }

// Health reports the faucet state alongside the base status.
func (t *Tracker) Health() health.Status {
	status := t.Base.Health()
	if status.IsHealthy() {
		if t.on.Load() {
			status.Message = "running, faucet on"
		} else {
			status.Message = "running, faucet off"
		}
	}
	return status
}

func (t *Tracker) handleCommand(ctx context.Context, msg message.Message) {
	cmd, err := message.DecodeCommand(msg.Topic, msg.Payload)
	if err != nil {
		t.Logger().Warn("Ignoring malformed faucet command", "topic", msg.Topic, "error", err)
		t.RecordError(err)
		return
	}

	on := cmd == message.CommandOn
	t.Exclusive(func() {
		t.commands.Add(1)
		if t.commandsTotal != nil {
			t.commandsTotal.WithLabelValues(t.Name(), label(on)).Inc()
		}

		if t.known && t.on.Load() == on {
			t.RecordProcessed()
			return
		}
		t.known = true
		t.on.Store(on)
		if t.stateGauge != nil {
			v := 0.0
			if on {
				v = 1
			}
			t.stateGauge.WithLabelValues(t.Name()).Set(v)
		}

		t.Logger().Info("Faucet state changed", "on", on, "retained", msg.Retained)
		value := float64(message.CommandOff)
		if on {
			value = float64(message.CommandOn)
		}
		if err := t.Bus().Publish(ctx, t.statusTopic, message.NewReading(value),
			natsclient.QoSAtLeastOnce, true); err != nil {
			t.Logger().Error("Failed to publish faucet status", "topic", t.statusTopic, "error", err)
			t.RecordError(err)
			return
		}
		t.RecordProcessed()
	})
}

func label(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
