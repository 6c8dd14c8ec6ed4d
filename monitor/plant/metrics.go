package plant

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/growctl/metric"
)

const subsystem = "plant"

// plantMetrics is shared by every plant monitor on a registry; series are
// labelled by monitor name.
type plantMetrics struct {
	readings        *prometheus.CounterVec   // monitor, sensor
	decodeErrors    *prometheus.CounterVec   // monitor, topic
	evaluations     *prometheus.CounterVec   // monitor
	publishFailures *prometheus.CounterVec   // monitor, topic
	actuations      *prometheus.CounterVec   // monitor, action
	faucetOn        *prometheus.GaugeVec     // monitor
	healthScore     *prometheus.GaugeVec     // monitor
	wateringHours   *prometheus.GaugeVec     // monitor
	evalDuration    *prometheus.HistogramVec // monitor
}

func newPlantMetrics(registry *metric.MetricsRegistry) (*plantMetrics, error) {
	if registry == nil {
		return nil, nil // Metrics disabled
	}

	counter := func(name, help string, labels ...string) (*prometheus.CounterVec, error) {
		return metric.Shared(registry, subsystem, name, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		}, labels))
	}
	gauge := func(name, help string) (*prometheus.GaugeVec, error) {
		return metric.Shared(registry, subsystem, name, prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		}, []string{"monitor"}))
	}

	m := &plantMetrics{}
	var err error
	if m.readings, err = counter("readings_total", "Sensor readings accepted", "monitor", "sensor"); err != nil {
		return nil, err
	}
	if m.decodeErrors, err = counter("decode_errors_total", "Payloads dropped as malformed", "monitor", "topic"); err != nil {
		return nil, err
	}
	if m.evaluations, err = counter("evaluations_total", "Completed plant evaluations", "monitor"); err != nil {
		return nil, err
	}
	if m.publishFailures, err = counter("publish_failures_total", "Outputs the bus rejected", "monitor", "topic"); err != nil {
		return nil, err
	}
	if m.actuations, err = counter("actuations_total", "Faucet commands sent", "monitor", "action"); err != nil {
		return nil, err
	}
	if m.faucetOn, err = gauge("faucet_on", "Faucet state as commanded by the monitor (1 on, 0 off)"); err != nil {
		return nil, err
	}
	if m.healthScore, err = gauge("health_score", "Latest plant health score (0-100)"); err != nil {
		return nil, err
	}
	if m.wateringHours, err = gauge("watering_hours", "Latest hours-until-watering estimate"); err != nil {
		return nil, err
	}
	m.evalDuration, err = metric.Shared(registry, subsystem, "evaluation_duration_seconds",
		prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metric.Namespace,
			Subsystem: subsystem,
			Name:      "evaluation_duration_seconds",
			Help:      "Time to evaluate and publish one reading",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"monitor"}))
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (m *plantMetrics) recordReading(monitor, sensor string) {
	if m != nil {
		m.readings.WithLabelValues(monitor, sensor).Inc()
	}
}

func (m *plantMetrics) recordDecodeError(monitor, topic string) {
	if m != nil {
		m.decodeErrors.WithLabelValues(monitor, topic).Inc()
	}
}

func (m *plantMetrics) recordPublishFailure(monitor, topic string) {
	if m != nil {
		m.publishFailures.WithLabelValues(monitor, topic).Inc()
	}
}

func (m *plantMetrics) recordEvaluation(monitor string, a Analysis, seconds float64) {
	if m == nil {
		return
	}
	m.evaluations.WithLabelValues(monitor).Inc()
	m.healthScore.WithLabelValues(monitor).Set(float64(a.Health))
	m.wateringHours.WithLabelValues(monitor).Set(a.WateringHours)
	m.evalDuration.WithLabelValues(monitor).Observe(seconds)
}

func (m *plantMetrics) recordActuation(monitor string, action Action, faucetOn bool) {
	if m == nil {
		return
	}
	m.actuations.WithLabelValues(monitor, action.String()).Inc()
	v := 0.0
	if faucetOn {
		v = 1
	}
	m.faucetOn.WithLabelValues(monitor).Set(v)
}
