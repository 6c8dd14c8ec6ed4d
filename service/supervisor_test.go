package service

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/growctl/config"
	"github.com/c360/growctl/metric"
	"github.com/c360/growctl/monitor"
	mocks "github.com/c360/growctl/testutil"
)

type fakeRegistry struct {
	*monitor.Registry
	built map[string]*mocks.MockMonitor
}

func newFakeRegistry(t *testing.T) *fakeRegistry {
	t.Helper()
	fr := &fakeRegistry{Registry: monitor.NewRegistry(), built: make(map[string]*mocks.MockMonitor)}
	require.NoError(t, fr.Register(monitor.Registration{
		Type: "plant",
		Factory: func(cfg config.MonitorConfig, _ monitor.Dependencies) (monitor.Monitor, error) {
			if cfg.Thresholds["broken"] == 1 {
				return nil, stderrors.New("moisture_low must be positive")
			}
			m := mocks.NewMockMonitor(cfg.Name, cfg.Type)
			for _, key := range []string{"soil_moisture", "temperature"} {
				if t, ok := cfg.Input[key]; ok {
					m.InputTopics = append(m.InputTopics, t)
				}
			}
			fr.built[cfg.Name] = m
			return m, nil
		},
	}))
	return fr
}

func entries(specs ...[2]string) []config.MonitorConfig {
	out := make([]config.MonitorConfig, 0, len(specs))
	for _, s := range specs {
		out = append(out, config.MonitorConfig{Name: s[0], Type: s[1]})
	}
	return out
}

func TestSupervisor_BuildSkipsBadEntries(t *testing.T) {
	fr := newFakeRegistry(t)
	s := NewSupervisor(fr.Registry, monitor.Dependencies{})

	cfgs := entries([2]string{"basil", "plant"}, [2]string{"mystery", "greenhouse"}, [2]string{"fern", "plant"})
	cfgs = append(cfgs, config.MonitorConfig{Name: "bad", Type: "plant", Thresholds: map[string]float64{"broken": 1}})

	assert.Equal(t, 2, s.Build(cfgs), "unknown type and failing factory do not abort the rest")

	names := []string{}
	for _, m := range s.Monitors() {
		names = append(names, m.Name())
	}
	assert.Equal(t, []string{"basil", "fern"}, names)

	st, ok := s.Health().Get("monitor/mystery")
	require.True(t, ok)
	assert.True(t, st.IsDegraded())
	assert.Contains(t, st.Message, "greenhouse")

	st, ok = s.Health().Get("monitor/bad")
	require.True(t, ok)
	assert.True(t, st.IsDegraded())
}

func TestSupervisor_BuildRefusesSharedInputTopic(t *testing.T) {
	fr := newFakeRegistry(t)
	s := NewSupervisor(fr.Registry, monitor.Dependencies{})

	cfgs := []config.MonitorConfig{
		{Name: "basil", Type: "plant", Input: map[string]string{
			"soil_moisture": "sensors/basil/soil_moisture", "temperature": "sensors/temperature"}},
		{Name: "fern", Type: "plant", Input: map[string]string{
			"soil_moisture": "sensors/fern/soil_moisture", "temperature": "sensors/temperature"}},
		{Name: "cactus", Type: "plant", Input: map[string]string{
			"soil_moisture": "sensors/cactus/soil_moisture", "temperature": "sensors/cactus/temperature"}},
	}

	assert.Equal(t, 2, s.Build(cfgs))

	names := []string{}
	for _, m := range s.Monitors() {
		names = append(names, m.Name())
	}
	assert.Equal(t, []string{"basil", "cactus"}, names)

	st, ok := s.Health().Get("monitor/fern")
	require.True(t, ok)
	assert.True(t, st.IsDegraded())
	assert.Contains(t, st.Message, "sensors/temperature")
	assert.Contains(t, st.Message, "basil")
}

func TestSupervisor_RunUntilCancelled(t *testing.T) {
	fr := newFakeRegistry(t)
	reg := metric.NewMetricsRegistry()
	s := NewSupervisor(fr.Registry, monitor.Dependencies{Metrics: reg},
		WithStopTimeout(time.Second), WithHealthInterval(10*time.Millisecond))
	require.Equal(t, 2, s.Build(entries([2]string{"basil", "plant"}, [2]string{"fern", "plant"})))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	for _, m := range fr.built {
		select {
		case <-m.Started():
		case <-time.After(time.Second):
			t.Fatalf("%s never started", m.Name())
		}
	}

	require.Eventually(t, func() bool {
		return s.Health().AggregateHealth("growctl").IsHealthy()
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(
		reg.CoreMetrics().HealthCheckStatus.WithLabelValues("monitor/basil")))

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	for name, m := range fr.built {
		start, stop := m.Calls()
		assert.Equal(t, 1, start, name)
		assert.Equal(t, 1, stop, name)
	}
	assert.True(t, s.Health().AggregateHealth("growctl").IsUnhealthy(), "stopped monitors report unhealthy")
}

func TestSupervisor_RunAlreadyRunning(t *testing.T) {
	fr := newFakeRegistry(t)
	s := NewSupervisor(fr.Registry, monitor.Dependencies{})
	s.Build(entries([2]string{"basil", "plant"}))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()
	<-fr.built["basil"].Started()

	assert.Error(t, s.Run(context.Background()))

	cancel()
	require.NoError(t, <-errCh)
}

func TestSupervisor_RunWithNoMonitors(t *testing.T) {
	s := NewSupervisor(monitor.NewRegistry(), monitor.Dependencies{})
	assert.NoError(t, s.Run(context.Background()))
}

func TestSupervisor_StartFailureDoesNotBlockOthers(t *testing.T) {
	fr := newFakeRegistry(t)
	s := NewSupervisor(fr.Registry, monitor.Dependencies{}, WithStopTimeout(time.Second))
	s.Build(entries([2]string{"basil", "plant"}, [2]string{"fern", "plant"}))
	fr.built["fern"].StartErr = stderrors.New("subscribe to sensors/temperature failed")

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	<-fr.built["basil"].Started()
	require.Eventually(t, func() bool {
		st, ok := s.Health().Get("monitor/fern")
		return ok && st.IsUnhealthy()
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-errCh)
}

func TestSupervisor_StopAllContinuesPastFailures(t *testing.T) {
	fr := newFakeRegistry(t)
	s := NewSupervisor(fr.Registry, monitor.Dependencies{})
	s.Build(entries([2]string{"a", "plant"}, [2]string{"b", "plant"}, [2]string{"c", "plant"}))

	fr.built["a"].StopErr = stderrors.New("shutdown timeout")
	fr.built["c"].StopErr = stderrors.New("unsubscribe failed")

	err := s.StopAll(time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stop monitor a")
	assert.Contains(t, err.Error(), "stop monitor c")
	assert.NotContains(t, err.Error(), "stop monitor b")

	for name, m := range fr.built {
		_, stop := m.Calls()
		assert.Equal(t, 1, stop, name)
	}

	assert.NoError(t, s.StopAll(time.Second), "second StopAll only sees no-ops")
}

func TestSupervisor_StopAllRunsInParallel(t *testing.T) {
	fr := newFakeRegistry(t)
	s := NewSupervisor(fr.Registry, monitor.Dependencies{})
	s.Build(entries([2]string{"a", "plant"}, [2]string{"b", "plant"}, [2]string{"c", "plant"}))
	for _, m := range fr.built {
		m.StopDelay = 100 * time.Millisecond
	}

	start := time.Now()
	require.NoError(t, s.StopAll(time.Second))
	assert.Less(t, time.Since(start), 250*time.Millisecond)
}
