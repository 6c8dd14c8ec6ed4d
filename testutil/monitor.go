package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/c360/growctl/errors"
	"github.com/c360/growctl/health"
)

// MockMonitor is a monitor whose lifecycle is driven by the test. Start blocks
// until Stop or ctx cancellation like a real monitor.
type MockMonitor struct {
	MonitorName string
	MonitorType string

	// StartErr is returned by Start immediately when set
	StartErr error
	// StopErr is returned by Stop when set
	StopErr error
	// StopDelay delays Stop's return
	StopDelay time.Duration
	// InputTopics is returned by Topics
	InputTopics []string

	mu         sync.Mutex
	started    bool
	stopped    bool
	startCalls int
	stopCalls  int
	shutdown   chan struct{}
	startedCh  chan struct{}
}

// NewMockMonitor creates a mock monitor.
func NewMockMonitor(name, monitorType string) *MockMonitor {
	return &MockMonitor{
		MonitorName: name,
		MonitorType: monitorType,
		shutdown:    make(chan struct{}),
		startedCh:   make(chan struct{}),
	}
}

// Name returns the monitor name
func (m *MockMonitor) Name() string { return m.MonitorName }

// Type returns the monitor type
func (m *MockMonitor) Type() string { return m.MonitorType }

// Topics returns InputTopics.
func (m *MockMonitor) Topics() []string { return m.InputTopics }

// Start blocks until Stop or ctx is done.
func (m *MockMonitor) Start(ctx context.Context) error {
	m.mu.Lock()
	m.startCalls++
	if m.StartErr != nil {
		m.mu.Unlock()
		return m.StartErr
	}
	if m.started {
		m.mu.Unlock()
		return errors.ErrAlreadyStarted
	}
	m.started = true
	close(m.startedCh)
	m.mu.Unlock()

	select {
	case <-ctx.Done():
	case <-m.shutdown:
	}
	return nil
}

// Stop releases Start.
func (m *MockMonitor) Stop(_ time.Duration) error {
	m.mu.Lock()
	m.stopCalls++
	if m.stopped {
		m.mu.Unlock()
		return errors.ErrAlreadyStopped
	}
	m.stopped = true
	close(m.shutdown)
	m.mu.Unlock()

	if m.StopDelay > 0 {
		time.Sleep(m.StopDelay)
	}
	return m.StopErr
}

// Health reports running mocks as healthy.
func (m *MockMonitor) Health() health.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started && !m.stopped {
		return health.NewHealthy(m.MonitorName, "running")
	}
	return health.NewUnhealthy(m.MonitorName, "not running")
}

// Started is closed once Start has begun blocking.
func (m *MockMonitor) Started() <-chan struct{} {
	return m.startedCh
}

// Calls returns how often Start and Stop were called.
func (m *MockMonitor) Calls() (start, stop int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startCalls, m.stopCalls
}
