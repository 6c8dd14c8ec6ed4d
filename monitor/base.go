package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/growctl/errors"
	"github.com/c360/growctl/health"
	"github.com/c360/growctl/message"
	"github.com/c360/growctl/metric"
	"github.com/c360/growctl/natsclient"
)

type lifecycle int

const (
	stateCreated lifecycle = iota
	stateRunning
	stateStopping
	stateStopped
)

type route struct {
	topic   string
	handler message.Handler
	opts    []natsclient.SubscribeOption
}

// Base implements the Monitor lifecycle for embedding. The concrete monitor
// declares its input topics with Handle and runs each evaluation through
// Exclusive so Stop never interrupts one halfway.
type Base struct {
	name    string
	typ     string
	bus     Bus
	logger  *slog.Logger
	metrics *metric.Metrics

	routes []route

	lifecycleMu sync.Mutex
	state       lifecycle
	shutdown    chan struct{}
	done        chan struct{}
	startTime   time.Time

	// evalMu serializes evaluations and lets Stop wait for the one in flight
	evalMu sync.Mutex
	halted bool

	processed    atomic.Int64
	errorCount   atomic.Int64
	lastActivity atomic.Int64
	lastFailed   atomic.Bool
	lastError    atomic.Value
}

// NewBase creates the lifecycle core for a monitor called name of type typ.
func NewBase(name, typ string, deps Dependencies) *Base {
	b := &Base{
		name:     name,
		typ:      typ,
		bus:      deps.Bus,
		logger:   deps.logger().With("component", "monitor", "monitor", name, "type", typ),
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}
	if deps.Metrics != nil {
		b.metrics = deps.Metrics.CoreMetrics()
	}
	b.recordStatus(metric.MonitorStopped)
	return b
}

// Name returns the configured monitor name
func (b *Base) Name() string { return b.name }

// Type returns the registered monitor type
func (b *Base) Type() string { return b.typ }

// Logger returns the monitor's logger
func (b *Base) Logger() *slog.Logger { return b.logger }

// Bus returns the bus the monitor publishes on
func (b *Base) Bus() Bus { return b.bus }

// Handle routes messages on topic to handler once the monitor starts. It must
// be called before Start.
func (b *Base) Handle(topic string, handler message.Handler, opts ...natsclient.SubscribeOption) {
	b.routes = append(b.routes, route{topic: topic, handler: handler, opts: opts})
}

// Topics returns the input topics in registration order.
func (b *Base) Topics() []string {
	topics := make([]string, 0, len(b.routes))
	for _, r := range b.routes {
		topics = append(topics, r.topic)
	}
	return topics
}

// Start subscribes every routed topic and blocks until Stop is called or ctx
// is done, then unsubscribes.
func (b *Base) Start(ctx context.Context) error {
	b.lifecycleMu.Lock()
	switch b.state {
	case stateRunning:
		b.lifecycleMu.Unlock()
		return errors.Wrap(errors.ErrAlreadyStarted, b.name, "Start", "check running state")
	case stateStopping, stateStopped:
		b.lifecycleMu.Unlock()
		return errors.Wrap(errors.ErrAlreadyStopped, b.name, "Start", "check running state")
	}
	if b.bus == nil {
		b.lifecycleMu.Unlock()
		return errors.WrapFatal(errors.ErrMissingConfig, b.name, "Start", "bus required")
	}

	b.recordStatus(metric.MonitorStarting)
	subscribed := make([]string, 0, len(b.routes))
	for _, r := range b.routes {
		if err := b.bus.Subscribe(r.topic, r.handler, r.opts...); err != nil {
			b.unsubscribe(subscribed)
			b.recordStatus(metric.MonitorFailed)
			b.lifecycleMu.Unlock()
			return errors.WrapTransient(err, b.name, "Start", fmt.Sprintf("subscribe to %s", r.topic))
		}
		subscribed = append(subscribed, r.topic)
	}

	b.state = stateRunning
	b.startTime = time.Now()
	b.recordStatus(metric.MonitorRunning)
	b.lifecycleMu.Unlock()

	b.logger.Info("Monitor started", "inputs", subscribed)

	select {
	case <-ctx.Done():
		b.logger.Debug("Monitor context done", "reason", ctx.Err())
	case <-b.shutdown:
	}

	b.halt()
	b.unsubscribe(subscribed)

	b.lifecycleMu.Lock()
	b.state = stateStopped
	b.recordStatus(metric.MonitorStopped)
	close(b.done)
	b.lifecycleMu.Unlock()

	b.logger.Info("Monitor stopped",
		"processed", b.processed.Load(),
		"errors", b.errorCount.Load())
	return nil
}

// Stop ends a running monitor and waits up to timeout for Start to return.
// Stop before Start marks the monitor stopped so a later Start is a no-op.
func (b *Base) Stop(timeout time.Duration) error {
	b.lifecycleMu.Lock()
	switch b.state {
	case stateCreated:
		b.state = stateStopped
		b.halt()
		close(b.done)
		b.lifecycleMu.Unlock()
		return nil
	case stateStopping, stateStopped:
		b.lifecycleMu.Unlock()
		return errors.Wrap(errors.ErrAlreadyStopped, b.name, "Stop", "check running state")
	}
	b.state = stateStopping
	b.recordStatus(metric.MonitorStopping)
	close(b.shutdown)
	b.lifecycleMu.Unlock()

	waitCh := make(chan struct{})
	go func() {
		b.halt()
		<-b.done
		close(waitCh)
	}()

	select {
	case <-waitCh:
		return nil
	case <-time.After(timeout):
		return errors.WrapTransient(
			fmt.Errorf("shutdown timeout after %v", timeout),
			b.name, "Stop", "graceful shutdown")
	}
}

// Done is closed once the monitor has fully stopped.
func (b *Base) Done() <-chan struct{} {
	return b.done
}

// Exclusive runs fn unless the monitor is halting. It reports whether fn ran.
// Calls never overlap, and once Stop returns no further call runs.
func (b *Base) Exclusive(fn func()) bool {
	b.evalMu.Lock()
	defer b.evalMu.Unlock()
	if b.halted {
		return false
	}
	fn()
	return true
}

func (b *Base) halt() {
	b.evalMu.Lock()
	b.halted = true
	b.evalMu.Unlock()
}

func (b *Base) unsubscribe(topics []string) {
	for _, t := range topics {
		if err := b.bus.Unsubscribe(t); err != nil {
			b.logger.Warn("Failed to unsubscribe", "topic", t, "error", err)
		}
	}
}

// RecordProcessed counts a message that was handled.
func (b *Base) RecordProcessed() {
	b.processed.Add(1)
	b.lastActivity.Store(time.Now().UnixNano())
	b.lastFailed.Store(false)
}

// RecordError counts a failure and keeps it for Health.
func (b *Base) RecordError(err error) {
	b.errorCount.Add(1)
	b.lastActivity.Store(time.Now().UnixNano())
	b.lastFailed.Store(true)
	if err != nil {
		b.lastError.Store(err.Error())
	}
}

// Health reports running monitors as healthy, degraded when the most recent
// message failed, and stopped or unstarted monitors as unhealthy.
func (b *Base) Health() health.Status {
	b.lifecycleMu.Lock()
	state := b.state
	started := b.startTime
	b.lifecycleMu.Unlock()

	var status health.Status
	switch state {
	case stateRunning:
		status = health.NewHealthy(b.name, "running")
	case stateCreated:
		status = health.NewUnhealthy(b.name, "not started")
	default:
		status = health.NewUnhealthy(b.name, "stopped")
	}

	m := &health.Metrics{
		ErrorCount:        int(b.errorCount.Load()),
		MessagesProcessed: b.processed.Load(),
	}
	if !started.IsZero() {
		m.Uptime = time.Since(started)
	}
	if ns := b.lastActivity.Load(); ns != 0 {
		m.LastActivity = time.Unix(0, ns)
	}
	if state == stateRunning && b.lastFailed.Load() {
		if msg, ok := b.lastError.Load().(string); ok {
			status = health.NewDegraded(b.name, msg)
		}
	}
	return status.WithMetrics(m)
}

func (b *Base) recordStatus(status int) {
	if b.metrics != nil {
		b.metrics.RecordMonitorStatus(b.name, status)
	}
}
