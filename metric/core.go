package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Monitor status values reported by RecordMonitorStatus
const (
	MonitorStopped  = 0
	MonitorStarting = 1
	MonitorRunning  = 2
	MonitorStopping = 3
	MonitorFailed   = 4
)

// Metrics contains the process-level metrics shared by the bus and the supervisor.
type Metrics struct {
	// Monitors
	MonitorStatus     *prometheus.GaugeVec
	HealthCheckStatus *prometheus.GaugeVec

	// Bus
	BusConnected        prometheus.Gauge
	BusRTT              prometheus.Gauge
	BusReconnects       prometheus.Counter
	BusCircuitBreaker   prometheus.Gauge
	MessagesReceived    *prometheus.CounterVec
	MessagesDropped     *prometheus.CounterVec
	MessagesPublished   *prometheus.CounterVec
	PublishFailures     *prometheus.CounterVec
	HandlerDuration     *prometheus.HistogramVec
	RetainedReplays     prometheus.Counter
	SubscriptionsActive prometheus.Gauge
}

// NewMetrics creates the core metrics; NewMetricsRegistry registers them.
func NewMetrics() *Metrics {
	return &Metrics{
		MonitorStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "monitor",
				Name:      "status",
				Help:      "Monitor status (0=stopped, 1=starting, 2=running, 3=stopping, 4=failed)",
			},
			[]string{"monitor"},
		),

		HealthCheckStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "health",
				Name:      "status",
				Help:      "Health check status (0=unhealthy, 1=healthy)",
			},
			[]string{"component"},
		),

		BusConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "bus",
				Name:      "connected",
				Help:      "Broker connection status (0=disconnected, 1=connected)",
			},
		),

		BusRTT: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "bus",
				Name:      "rtt_milliseconds",
				Help:      "Broker round-trip time in milliseconds",
			},
		),

		BusReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "bus",
				Name:      "reconnects_total",
				Help:      "Total number of broker reconnections",
			},
		),

		BusCircuitBreaker: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "bus",
				Name:      "circuit_breaker",
				Help:      "Connect circuit breaker (0=closed, 1=open)",
			},
		),

		MessagesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "bus",
				Name:      "messages_received_total",
				Help:      "Messages delivered to a topic handler",
			},
			[]string{"topic"},
		),

		MessagesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "bus",
				Name:      "messages_dropped_total",
				Help:      "Messages dropped because the topic mailbox was full",
			},
			[]string{"topic"},
		),

		MessagesPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "bus",
				Name:      "messages_published_total",
				Help:      "Messages published",
			},
			[]string{"topic"},
		),

		PublishFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "bus",
				Name:      "publish_failures_total",
				Help:      "Publishes rejected by the transport",
			},
			[]string{"topic"},
		),

		HandlerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "bus",
				Name:      "handler_duration_seconds",
				Help:      "Time spent in topic handlers",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"topic"},
		),

		RetainedReplays: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "bus",
				Name:      "retained_replays_total",
				Help:      "Retained messages replayed to new subscriptions",
			},
		),

		SubscriptionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "bus",
				Name:      "subscriptions",
				Help:      "Registered topic subscriptions",
			},
		),
	}
}

func (c *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.MonitorStatus,
		c.HealthCheckStatus,
		c.BusConnected,
		c.BusRTT,
		c.BusReconnects,
		c.BusCircuitBreaker,
		c.MessagesReceived,
		c.MessagesDropped,
		c.MessagesPublished,
		c.PublishFailures,
		c.HandlerDuration,
		c.RetainedReplays,
		c.SubscriptionsActive,
	}
}

// RecordMonitorStatus records a monitor lifecycle state
func (c *Metrics) RecordMonitorStatus(monitor string, status int) {
	c.MonitorStatus.WithLabelValues(monitor).Set(float64(status))
}

// RecordHealthStatus records a component health check result
func (c *Metrics) RecordHealthStatus(component string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1.0
	}
	c.HealthCheckStatus.WithLabelValues(component).Set(v)
}

// RecordBusConnected records the broker connection state
func (c *Metrics) RecordBusConnected(connected bool) {
	v := 0.0
	if connected {
		v = 1.0
	}
	c.BusConnected.Set(v)
}

// RecordBusRTT records the broker round-trip time
func (c *Metrics) RecordBusRTT(rtt time.Duration) {
	c.BusRTT.Set(float64(rtt.Milliseconds()))
}

// RecordBusReconnect counts a reconnection
func (c *Metrics) RecordBusReconnect() {
	c.BusReconnects.Inc()
}

// RecordCircuitBreaker records whether the connect circuit is open
func (c *Metrics) RecordCircuitBreaker(open bool) {
	v := 0.0
	if open {
		v = 1.0
	}
	c.BusCircuitBreaker.Set(v)
}

// RecordMessageReceived counts a message handed to a handler
func (c *Metrics) RecordMessageReceived(topic string) {
	c.MessagesReceived.WithLabelValues(topic).Inc()
}

// RecordMessageDropped counts a message lost to a full mailbox
func (c *Metrics) RecordMessageDropped(topic string) {
	c.MessagesDropped.WithLabelValues(topic).Inc()
}

// RecordMessagePublished counts a successful publish
func (c *Metrics) RecordMessagePublished(topic string) {
	c.MessagesPublished.WithLabelValues(topic).Inc()
}

// RecordPublishFailure counts a rejected publish
func (c *Metrics) RecordPublishFailure(topic string) {
	c.PublishFailures.WithLabelValues(topic).Inc()
}

// RecordHandlerDuration observes how long a handler ran
func (c *Metrics) RecordHandlerDuration(topic string, d time.Duration) {
	c.HandlerDuration.WithLabelValues(topic).Observe(d.Seconds())
}

// RecordRetainedReplay counts a replayed retained message
func (c *Metrics) RecordRetainedReplay() {
	c.RetainedReplays.Inc()
}

// RecordSubscriptions records the registered subscription count
func (c *Metrics) RecordSubscriptions(n int) {
	c.SubscriptionsActive.Set(float64(n))
}
