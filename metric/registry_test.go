package metric

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/growctl/errors"
)

func gatheredFamily(t *testing.T, r *MetricsRegistry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := r.PrometheusRegistry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("metric family %s not gathered", name)
	return nil
}

func gatheredNames(t *testing.T, r *MetricsRegistry) map[string]bool {
	t.Helper()
	families, err := r.PrometheusRegistry().Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	return names
}

func TestNewMetricsRegistry(t *testing.T) {
	registry := NewMetricsRegistry()

	assert.NotNil(t, registry.PrometheusRegistry())
	assert.Same(t, registry.Metrics, registry.CoreMetrics())

	names := gatheredNames(t, registry)
	assert.True(t, names["go_goroutines"], "go collector should be registered")
}

func TestMetricsRegistry_RegisterAndUnregister(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace, Subsystem: "plant", Name: "evaluations_total", Help: "test",
	})
	require.NoError(t, registry.RegisterCounter("plant-1", "evaluations", counter))
	counter.Inc()

	assert.True(t, gatheredNames(t, registry)["growctl_plant_evaluations_total"])

	assert.True(t, registry.Unregister("plant-1", "evaluations"))
	assert.False(t, registry.Unregister("plant-1", "evaluations"))
	assert.False(t, gatheredNames(t, registry)["growctl_plant_evaluations_total"])
}

func TestMetricsRegistry_PreventDuplicateRegistration(t *testing.T) {
	registry := NewMetricsRegistry()

	newGauge := func() prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Name: "dup_gauge", Help: "test"})
	}

	require.NoError(t, registry.RegisterGauge("svc", "dup", newGauge()))

	err := registry.RegisterGauge("svc", "dup", newGauge())
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.Contains(t, err.Error(), "already registered")

	// Same prometheus name under a different owner key
	err = registry.RegisterGauge("other", "dup", newGauge())
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestMetricsRegistry_ThreadSafety(t *testing.T) {
	registry := NewMetricsRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			vec := prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "concurrent_total",
				Help: "test",
				ConstLabels: prometheus.Labels{
					"worker": string(rune('a' + i)),
				},
			}, []string{"topic"})
			_ = registry.RegisterCounterVec(string(rune('a'+i)), "concurrent", vec)
		}(i)
	}
	wg.Wait()

	assert.True(t, gatheredNames(t, registry)["concurrent_total"])
}

func TestCoreMetrics_RecordMethods(t *testing.T) {
	registry := NewMetricsRegistry()
	m := registry.CoreMetrics()

	m.RecordMonitorStatus("plant", MonitorRunning)
	m.RecordHealthStatus("bus", true)
	m.RecordBusConnected(true)
	m.RecordBusRTT(15 * time.Millisecond)
	m.RecordBusReconnect()
	m.RecordCircuitBreaker(true)
	m.RecordMessageReceived("sensors/temperature")
	m.RecordMessageReceived("sensors/temperature")
	m.RecordMessageDropped("sensors/temperature")
	m.RecordMessagePublished("plant/health")
	m.RecordPublishFailure("faucet/command")
	m.RecordHandlerDuration("sensors/temperature", time.Millisecond)
	m.RecordRetainedReplay()
	m.RecordSubscriptions(3)

	assert.Equal(t, float64(MonitorRunning), testutil.ToFloat64(m.MonitorStatus.WithLabelValues("plant")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HealthCheckStatus.WithLabelValues("bus")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BusConnected))
	assert.Equal(t, 15.0, testutil.ToFloat64(m.BusRTT))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BusReconnects))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BusCircuitBreaker))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.MessagesReceived.WithLabelValues("sensors/temperature")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesDropped.WithLabelValues("sensors/temperature")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesPublished.WithLabelValues("plant/health")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PublishFailures.WithLabelValues("faucet/command")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RetainedReplays))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.SubscriptionsActive))

	m.RecordBusConnected(false)
	m.RecordCircuitBreaker(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.BusConnected))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.BusCircuitBreaker))
}

func TestServer_Handler(t *testing.T) {
	registry := NewMetricsRegistry()
	registry.CoreMetrics().RecordBusConnected(true)

	health := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	srv := NewServer(0, "", registry, health)
	h := srv.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "growctl_bus_connected 1")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	assert.Equal(t, "http://localhost:9090/metrics", srv.Address())
}

func TestServer_DefaultHealth(t *testing.T) {
	srv := NewServer(9191, "/m", NewMetricsRegistry(), nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestServer_StopWithoutStart(t *testing.T) {
	srv := NewServer(0, "", NewMetricsRegistry(), nil)
	assert.NoError(t, srv.Stop())
}

func TestShared_ReusesRegisteredVector(t *testing.T) {
	registry := NewMetricsRegistry()

	newVec := func() *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace, Subsystem: "plant", Name: "readings_total", Help: "test",
		}, []string{"monitor"})
	}

	first, err := Shared(registry, "plant", "readings", newVec())
	require.NoError(t, err)
	second, err := Shared(registry, "plant", "readings", newVec())
	require.NoError(t, err)
	assert.Same(t, first, second)

	first.WithLabelValues("a").Inc()
	second.WithLabelValues("b").Inc()
	assert.Equal(t, 2, testutil.CollectAndCount(first))

	_, err = Shared(registry, "plant", "readings", prometheus.NewGauge(prometheus.GaugeOpts{Name: "x", Help: "x"}))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestCoreMetrics_HandlerDurationHistogram(t *testing.T) {
	registry := NewMetricsRegistry()
	m := registry.CoreMetrics()

	m.RecordHandlerDuration("sensors/soil_moisture", 2*time.Millisecond)
	m.RecordHandlerDuration("sensors/soil_moisture", 3*time.Second)

	mf := gatheredFamily(t, registry, "growctl_bus_handler_duration_seconds")
	assert.Equal(t, dto.MetricType_HISTOGRAM, mf.GetType())
	require.Len(t, mf.GetMetric(), 1)

	metric := mf.GetMetric()[0]
	require.Len(t, metric.GetLabel(), 1)
	assert.Equal(t, "topic", metric.GetLabel()[0].GetName())
	assert.Equal(t, "sensors/soil_moisture", metric.GetLabel()[0].GetValue())

	hist := metric.GetHistogram()
	assert.Equal(t, uint64(2), hist.GetSampleCount())
	assert.InDelta(t, 3.002, hist.GetSampleSum(), 1e-9)
}

func TestServer_MetricsParseAsExpositionFormat(t *testing.T) {
	registry := NewMetricsRegistry()
	registry.CoreMetrics().RecordMessagePublished("plant/health")
	registry.CoreMetrics().RecordMessagePublished("plant/health")

	rec := httptest.NewRecorder()
	NewServer(0, "/metrics", registry, nil).Handler().ServeHTTP(rec,
		httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(rec.Body)
	require.NoError(t, err)

	published, ok := families["growctl_bus_messages_published_total"]
	require.True(t, ok, "published counter exposed")
	require.Len(t, published.GetMetric(), 1)
	assert.Equal(t, 2.0, published.GetMetric()[0].GetCounter().GetValue())
	assert.Contains(t, families, "go_goroutines")
}
