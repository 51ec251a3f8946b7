// Package metrics provides Prometheus metrics for the PLC link service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds all Prometheus metrics for the service.
type Registry struct {
	// Connection metrics
	Connected           prometheus.Gauge
	ConnectionsTotal    prometheus.Counter
	ConnectionErrors    prometheus.Counter
	ConnectionThrottled prometheus.Counter
	ConnectionLatency   prometheus.Histogram
	ConsecutiveFailures prometheus.Gauge

	// Read/write metrics
	ReadsTotal      *prometheus.CounterVec
	ReadErrors      *prometheus.CounterVec
	WritesTotal     *prometheus.CounterVec
	WriteErrors     *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	FallbacksTotal  prometheus.Counter
	BreakerRejected prometheus.Counter

	// Watchdog metrics
	WatchdogChecks      prometheus.Counter
	WatchdogInterval    prometheus.Gauge
	WatchdogTransitions *prometheus.CounterVec
	ReconnectsTotal     prometheus.Counter

	// MQTT metrics
	MQTTStatePublished prometheus.Counter
	MQTTPublishFailed  prometheus.Counter
	MQTTReconnects     prometheus.Counter
}

// NewRegistry creates a new metrics registry with all metrics registered.
func NewRegistry() *Registry {
	r := &Registry{
		// Connection metrics
		Connected: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "plclink",
			Subsystem: "connection",
			Name:      "up",
			Help:      "Whether the PLC session is currently up (1) or down (0)",
		}),
		ConnectionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "plclink",
			Subsystem: "connection",
			Name:      "attempts_total",
			Help:      "Total number of PLC connection attempts",
		}),
		ConnectionErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "plclink",
			Subsystem: "connection",
			Name:      "errors_total",
			Help:      "Total number of failed PLC connection attempts",
		}),
		ConnectionThrottled: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "plclink",
			Subsystem: "connection",
			Name:      "throttled_total",
			Help:      "Connection attempts skipped by the minimum retry interval",
		}),
		ConnectionLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "plclink",
			Subsystem: "connection",
			Name:      "latency_seconds",
			Help:      "PLC connection establishment latency",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		ConsecutiveFailures: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "plclink",
			Subsystem: "connection",
			Name:      "consecutive_failures",
			Help:      "Consecutive failed health checks since the last success",
		}),

		// Read/write metrics
		ReadsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "plclink",
			Subsystem: "modbus",
			Name:      "reads_total",
			Help:      "Total read operations by register kind and tier",
		}, []string{"kind", "tier"}),
		ReadErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "plclink",
			Subsystem: "modbus",
			Name:      "read_errors_total",
			Help:      "Total failed read operations by register kind and tier",
		}, []string{"kind", "tier"}),
		WritesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "plclink",
			Subsystem: "modbus",
			Name:      "writes_total",
			Help:      "Total write operations by register kind and tier",
		}, []string{"kind", "tier"}),
		WriteErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "plclink",
			Subsystem: "modbus",
			Name:      "write_errors_total",
			Help:      "Total failed write operations by register kind and tier",
		}, []string{"kind", "tier"}),
		RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "plclink",
			Subsystem: "modbus",
			Name:      "request_duration_seconds",
			Help:      "Modbus request round-trip duration",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"operation", "tier"}),
		FallbacksTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "plclink",
			Subsystem: "modbus",
			Name:      "fallbacks_total",
			Help:      "Operations that fell through to the legacy tier",
		}),
		BreakerRejected: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "plclink",
			Subsystem: "modbus",
			Name:      "breaker_rejected_total",
			Help:      "Legacy tier operations rejected by the open circuit breaker",
		}),

		// Watchdog metrics
		WatchdogChecks: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "plclink",
			Subsystem: "watchdog",
			Name:      "checks_total",
			Help:      "Total watchdog health checks",
		}),
		WatchdogInterval: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "plclink",
			Subsystem: "watchdog",
			Name:      "poll_interval_seconds",
			Help:      "Current watchdog poll interval after backoff",
		}),
		WatchdogTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "plclink",
			Subsystem: "watchdog",
			Name:      "transitions_total",
			Help:      "Watchdog state transitions by target state",
		}, []string{"state"}),
		ReconnectsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "plclink",
			Subsystem: "watchdog",
			Name:      "reconnects_total",
			Help:      "Background reconnection attempts started by the watchdog",
		}),

		// MQTT metrics
		MQTTStatePublished: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "plclink",
			Subsystem: "mqtt",
			Name:      "state_published_total",
			Help:      "Connection state messages published to MQTT",
		}),
		MQTTPublishFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "plclink",
			Subsystem: "mqtt",
			Name:      "publish_failed_total",
			Help:      "Failed MQTT state publishes",
		}),
		MQTTReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "plclink",
			Subsystem: "mqtt",
			Name:      "reconnects_total",
			Help:      "Total MQTT reconnection attempts",
		}),
	}

	return r
}

// RecordConnection records a connection attempt outcome.
func (r *Registry) RecordConnection(success bool, latency float64) {
	if r == nil {
		return
	}
	r.ConnectionsTotal.Inc()
	if success {
		r.Connected.Set(1)
	} else {
		r.ConnectionErrors.Inc()
		r.Connected.Set(0)
	}
	r.ConnectionLatency.Observe(latency)
}

// RecordThrottled records a connect attempt skipped by the retry interval.
func (r *Registry) RecordThrottled() {
	if r == nil {
		return
	}
	r.ConnectionThrottled.Inc()
}

// RecordRead records a read operation outcome.
func (r *Registry) RecordRead(kind, tier string, success bool) {
	if r == nil {
		return
	}
	r.ReadsTotal.WithLabelValues(kind, tier).Inc()
	if !success {
		r.ReadErrors.WithLabelValues(kind, tier).Inc()
	}
}

// RecordWrite records a write operation outcome.
func (r *Registry) RecordWrite(kind, tier string, success bool) {
	if r == nil {
		return
	}
	r.WritesTotal.WithLabelValues(kind, tier).Inc()
	if !success {
		r.WriteErrors.WithLabelValues(kind, tier).Inc()
	}
}

// RecordFallback records an operation falling through to the legacy tier.
func (r *Registry) RecordFallback() {
	if r == nil {
		return
	}
	r.FallbacksTotal.Inc()
}

// RecordBreakerRejected records a legacy call rejected by the open breaker.
func (r *Registry) RecordBreakerRejected() {
	if r == nil {
		return
	}
	r.BreakerRejected.Inc()
}

// RecordWatchdogCheck records one health check and the failure streak.
func (r *Registry) RecordWatchdogCheck(consecutiveFailures uint) {
	if r == nil {
		return
	}
	r.WatchdogChecks.Inc()
	r.ConsecutiveFailures.Set(float64(consecutiveFailures))
}

// RecordWatchdogTransition records a watchdog state change.
func (r *Registry) RecordWatchdogTransition(state string) {
	if r == nil {
		return
	}
	r.WatchdogTransitions.WithLabelValues(state).Inc()
}

// UpdateWatchdogInterval publishes the current poll interval.
func (r *Registry) UpdateWatchdogInterval(seconds float64) {
	if r == nil {
		return
	}
	r.WatchdogInterval.Set(seconds)
}

// RecordReconnect records a background reconnection attempt.
func (r *Registry) RecordReconnect() {
	if r == nil {
		return
	}
	r.ReconnectsTotal.Inc()
}

// RecordMQTTPublish records an MQTT state publish outcome.
func (r *Registry) RecordMQTTPublish(success bool) {
	if r == nil {
		return
	}
	if success {
		r.MQTTStatePublished.Inc()
	} else {
		r.MQTTPublishFailed.Inc()
	}
}
