package health

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

func TestMonitor_UpdateAndGet(t *testing.T) {
	monitor := NewMonitor()

	monitor.Update("bus", Status{Component: "wrong-name", Status: StateHealthy})

	got, ok := monitor.Get("bus")
	if !ok {
		t.Fatal("bus should be tracked after Update")
	}
	if got.Component != "bus" {
		t.Errorf("Component = %q, want bus", got.Component)
	}
	if got.Timestamp.IsZero() {
		t.Error("Update should stamp a missing timestamp")
	}

	monitor.Remove("bus")
	if _, ok := monitor.Get("bus"); ok {
		t.Error("bus should be gone after Remove")
	}
}

func TestMonitor_AggregateHealth(t *testing.T) {
	tests := []struct {
		name  string
		setup func(m *Monitor)
		want  string
	}{
		{"empty", func(*Monitor) {}, StateHealthy},
		{"all healthy", func(m *Monitor) {
			m.UpdateHealthy("bus", "connected")
			m.UpdateHealthy("plant", "running")
		}, StateHealthy},
		{"one degraded", func(m *Monitor) {
			m.UpdateHealthy("bus", "connected")
			m.UpdateDegraded("plant", "waiting for readings")
		}, StateDegraded},
		{"unhealthy wins", func(m *Monitor) {
			m.UpdateDegraded("plant", "waiting for readings")
			m.UpdateUnhealthy("bus", "disconnected")
		}, StateUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMonitor()
			tt.setup(m)
			got := m.AggregateHealth("growctl")
			if got.Status != tt.want {
				t.Errorf("AggregateHealth() = %s, want %s", got.Status, tt.want)
			}
			if got.Healthy != (tt.want == StateHealthy) {
				t.Errorf("Healthy flag inconsistent with status %s", got.Status)
			}
		})
	}
}

func TestMonitor_ListComponentsSorted(t *testing.T) {
	m := NewMonitor()
	m.UpdateHealthy("plant", "")
	m.UpdateHealthy("bus", "")
	m.UpdateHealthy("faucet", "")

	got := strings.Join(m.ListComponents(), ",")
	if got != "bus,faucet,plant" {
		t.Errorf("ListComponents() = %s", got)
	}
}

func TestMonitor_Handler(t *testing.T) {
	m := NewMonitor()
	m.UpdateHealthy("bus", "connected")

	rec := httptest.NewRecorder()
	m.Handler("growctl").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("healthy code = %d", rec.Code)
	}

	var body Status
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Component != "growctl" || len(body.SubStatuses) != 1 {
		t.Errorf("unexpected body: %+v", body)
	}

	m.UpdateUnhealthy("bus", "disconnected")
	rec = httptest.NewRecorder()
	m.Handler("growctl").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("unhealthy code = %d", rec.Code)
	}
}

func TestMonitor_ConcurrentAccess(t *testing.T) {
	m := NewMonitor()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			m.UpdateHealthy("plant", "running")
		}()
		go func() {
			defer wg.Done()
			_ = m.AggregateHealth("growctl")
		}()
	}
	wg.Wait()
}

func TestFromError_Sanitizes(t *testing.T) {
	err := errors.New("connect to nats://admin:pw@10.0.0.5:4222 failed, token=abc123")
	got := FromError("bus", err)

	if !got.IsUnhealthy() {
		t.Errorf("status = %s, want unhealthy", got.Status)
	}
	for _, leak := range []string{"10.0.0.5", "admin:pw", "abc123"} {
		if strings.Contains(got.Message, leak) {
			t.Errorf("message %q leaks %q", got.Message, leak)
		}
	}

	if FromError("bus", nil).Message != "unknown error" {
		t.Error("nil error should produce a placeholder message")
	}
}
