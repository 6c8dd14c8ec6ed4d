// Package service runs the configured monitors: it builds one monitor per
// message flow, starts them together, keeps the health view current and stops
// them all on shutdown.
package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/growctl/config"
	"github.com/c360/growctl/errors"
	"github.com/c360/growctl/health"
	"github.com/c360/growctl/metric"
	"github.com/c360/growctl/monitor"
)

// Defaults
const (
	DefaultStopTimeout    = 10 * time.Second
	DefaultHealthInterval = 5 * time.Second
)

// Option configures a Supervisor
type Option func(*Supervisor)

// WithHealthMonitor publishes per-monitor health into hm.
func WithHealthMonitor(hm *health.Monitor) Option {
	return func(s *Supervisor) {
		s.health = hm
	}
}

// WithStopTimeout bounds each monitor's Stop during shutdown.
func WithStopTimeout(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.stopTimeout = d
		}
	}
}

// WithHealthInterval sets how often monitor health is refreshed while running.
func WithHealthInterval(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.healthInterval = d
		}
	}
}

// Supervisor owns the monitors built from configuration.
type Supervisor struct {
	registry *monitor.Registry
	deps     monitor.Dependencies
	logger   *slog.Logger
	metrics  *metric.Metrics
	health   *health.Monitor

	stopTimeout    time.Duration
	healthInterval time.Duration

	mu       sync.RWMutex
	monitors []monitor.Monitor
	claimed  map[string]string // input topic -> monitor name
	running  bool
}

// NewSupervisor creates a supervisor that builds monitors from registry and
// hands them deps.
func NewSupervisor(registry *monitor.Registry, deps monitor.Dependencies, opts ...Option) *Supervisor {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Supervisor{
		registry:       registry,
		deps:           deps,
		logger:         logger.With("component", "supervisor"),
		health:         health.NewMonitor(),
		stopTimeout:    DefaultStopTimeout,
		healthInterval: DefaultHealthInterval,
		claimed:        make(map[string]string),
	}
	if deps.Metrics != nil {
		s.metrics = deps.Metrics.CoreMetrics()
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Build creates one monitor per entry. An entry that fails, including one with
// an unknown type or an input topic another monitor already reads, is logged
// and skipped. It returns how many were built.
func (s *Supervisor) Build(entries []config.MonitorConfig) int {
	built := 0
	for _, entry := range entries {
		m, err := s.registry.Create(entry, s.deps)
		if err != nil {
			reason := "invalid configuration"
			var unsupported *errors.UnsupportedTypeError
			if stderrors.As(err, &unsupported) {
				reason = fmt.Sprintf("unsupported type %q", unsupported.Type)
				s.logger.Error("Skipping monitor with unsupported type",
					"monitor", entry.Name, "type", unsupported.Type, "known_types", s.registry.Types())
			} else {
				s.logger.Error("Skipping monitor that failed to build",
					"monitor", entry.Name, "type", entry.Type, "error", err)
			}
			// Skipped entries degrade the process without failing it
			s.health.Update(monitorKey(entry.Name), health.NewDegraded(entry.Name, "not built: "+reason))
			continue
		}

		// The bus holds one handler per topic
		if topic, owner, clash := s.claim(m); clash {
			s.logger.Error("Skipping monitor whose input topic is already in use",
				"monitor", entry.Name, "topic", topic, "owner", owner)
			s.health.Update(monitorKey(entry.Name),
				health.NewDegraded(entry.Name, fmt.Sprintf("not built: topic %s already read by %s", topic, owner)))
			continue
		}

		s.mu.Lock()
		s.monitors = append(s.monitors, m)
		s.mu.Unlock()
		s.updateHealth(m)
		built++

		s.logger.Info("Monitor built", "monitor", m.Name(), "type", m.Type())
	}
	return built
}

// claim records m's input topics. If one is already held by another monitor
// nothing is recorded and the first clashing topic and its owner are returned.
func (s *Supervisor) claim(m monitor.Monitor) (topic, owner string, clash bool) {
	sub, ok := m.(monitor.Subscriber)
	if !ok {
		return "", "", false
	}
	topics := sub.Topics()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range topics {
		if owner, taken := s.claimed[t]; taken {
			return t, owner, true
		}
	}
	for _, t := range topics {
		s.claimed[t] = m.Name()
	}
	return "", "", false
}

// Monitors returns the built monitors in configuration order.
func (s *Supervisor) Monitors() []monitor.Monitor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]monitor.Monitor, len(s.monitors))
	copy(out, s.monitors)
	return out
}

// Health returns the health view the supervisor maintains.
func (s *Supervisor) Health() *health.Monitor {
	return s.health
}

// Run starts every monitor concurrently and blocks until they have all
// finished or ctx is done, then stops them all.
func (s *Supervisor) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.Wrap(errors.ErrAlreadyStarted, "Supervisor", "Run", "check running state")
	}
	s.running = true
	monitors := make([]monitor.Monitor, len(s.monitors))
	copy(monitors, s.monitors)
	s.mu.Unlock()

	if len(monitors) == 0 {
		s.logger.Warn("No monitors to run")
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for _, m := range monitors {
		wg.Add(1)
		go func(m monitor.Monitor) {
			defer wg.Done()
			s.runMonitor(runCtx, m)
		}(m)
	}

	allDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(allDone)
	}()

	s.logger.Info("Monitors running", "count", len(monitors))

	ticker := time.NewTicker(s.healthInterval)
	defer ticker.Stop()

wait:
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Shutdown requested", "reason", context.Cause(ctx))
			break wait
		case <-allDone:
			s.logger.Info("All monitors finished")
			break wait
		case <-ticker.C:
			for _, m := range monitors {
				s.updateHealth(m)
			}
		}
	}

	err := s.StopAll(s.stopTimeout)
	cancel()

	select {
	case <-allDone:
	case <-time.After(s.stopTimeout):
		s.logger.Warn("Monitors still running after shutdown timeout", "timeout", s.stopTimeout)
	}
	for _, m := range monitors {
		s.updateHealth(m)
	}
	return err
}

func (s *Supervisor) runMonitor(ctx context.Context, m monitor.Monitor) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Monitor panicked", "monitor", m.Name(), "panic", r)
			s.health.Update(monitorKey(m.Name()), health.NewUnhealthy(m.Name(), fmt.Sprintf("panic: %v", r)))
			s.recordStatus(m.Name(), metric.MonitorFailed)
		}
	}()

	err := m.Start(ctx)
	switch {
	case err == nil:
	case errors.IsLifecycleNoop(err):
		s.logger.Debug("Monitor start was a no-op", "monitor", m.Name(), "reason", err)
	default:
		s.logger.Error("Monitor failed", "monitor", m.Name(), "error", err)
		s.health.Update(monitorKey(m.Name()), health.FromError(m.Name(), err))
		s.recordStatus(m.Name(), metric.MonitorFailed)
		return
	}
	s.updateHealth(m)
}

// StopAll stops every monitor in parallel. A failure is logged and does not
// prevent the others from stopping; all failures are returned joined.
func (s *Supervisor) StopAll(timeout time.Duration) error {
	monitors := s.Monitors()
	logger := s.logger.With("operation", "monitors-shutdown")
	logger.Debug("Stopping monitors", "count", len(monitors), "timeout", timeout)
	start := time.Now()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, m := range monitors {
		wg.Add(1)
		go func(m monitor.Monitor) {
			defer wg.Done()
			stopStart := time.Now()

			err := m.Stop(timeout)
			switch {
			case err == nil, errors.IsLifecycleNoop(err):
				logger.Debug("Monitor stopped", "monitor", m.Name(),
					"duration_ms", time.Since(stopStart).Milliseconds())
			default:
				logger.Error("Monitor stop failed", "monitor", m.Name(),
					"duration_ms", time.Since(stopStart).Milliseconds(), "error", err)
				mu.Lock()
				errs = append(errs, fmt.Errorf("stop monitor %s: %w", m.Name(), err))
				mu.Unlock()
			}
		}(m)
	}
	wg.Wait()

	logger.Info("Monitors stopped", "count", len(monitors), "failures", len(errs),
		"duration_ms", time.Since(start).Milliseconds())
	return stderrors.Join(errs...)
}

func (s *Supervisor) updateHealth(m monitor.Monitor) {
	status := m.Health()
	s.health.Update(monitorKey(m.Name()), status)
	if s.metrics != nil {
		s.metrics.RecordHealthStatus(monitorKey(m.Name()), status.IsHealthy())
	}
}

func (s *Supervisor) recordStatus(name string, status int) {
	if s.metrics != nil {
		s.metrics.RecordMonitorStatus(name, status)
	}
}

func monitorKey(name string) string {
	return "monitor/" + name
}
