// Package monitoring collects Prometheus metrics for the daemon.
package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Session metrics
	SessionsActive     prometheus.Gauge
	SessionsCreated    prometheus.Counter
	SessionsDestroyed  prometheus.Counter
	ForegroundSwitches prometheus.Counter

	// Shared state metrics
	MergesTotal     *prometheus.CounterVec
	StateRecoveries prometheus.Counter

	// Signal metrics
	SignalsRouted  *prometheus.CounterVec
	SignalsDropped prometheus.Counter

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time
}

// NewMetrics creates a metrics collector on the given registerer. Tests
// pass a fresh registry to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	m := &Metrics{
		startTime: time.Now(),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shmux_http_requests_total",
				Help: "Total number of control API requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shmux_http_request_duration_seconds",
				Help:    "Control API request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"method", "path"},
		),

		SessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "shmux_sessions_active",
				Help: "Number of registered sessions",
			},
		),
		SessionsCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "shmux_sessions_created_total",
				Help: "Total number of sessions created",
			},
		),
		SessionsDestroyed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "shmux_sessions_destroyed_total",
				Help: "Total number of sessions destroyed",
			},
		),
		ForegroundSwitches: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "shmux_foreground_switches_total",
				Help: "Total number of foreground handoffs",
			},
		),

		MergesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shmux_state_merges_total",
				Help: "Total number of completed shared-state merges",
			},
			[]string{"op"},
		),
		StateRecoveries: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "shmux_state_recoveries_total",
				Help: "Total number of snapshot recoveries after failed merges",
			},
		),

		SignalsRouted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shmux_signals_routed_total",
				Help: "Total number of signals dispatched to the foreground session",
			},
			[]string{"signal"},
		),
		SignalsDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "shmux_signals_dropped_total",
				Help: "Total number of signals dropped with no stable foreground",
			},
		),

		Uptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "shmux_uptime_seconds",
				Help: "Daemon uptime in seconds",
			},
		),
	}

	go m.updateUptime()
	return m
}

// updateUptime continuously updates the uptime metric.
func (m *Metrics) updateUptime() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for range ticker.C {
		m.Uptime.Set(time.Since(m.startTime).Seconds())
	}
}

// RecordHTTPRequest records a control API request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// IncMerge increments the merge counter for one named operation.
func (m *Metrics) IncMerge(op string) {
	m.MergesTotal.WithLabelValues(op).Inc()
}

// IncStateRecovery increments the snapshot recovery counter.
func (m *Metrics) IncStateRecovery() {
	m.StateRecoveries.Inc()
}

// SetSessionsActive sets the number of registered sessions.
func (m *Metrics) SetSessionsActive(count int) {
	m.SessionsActive.Set(float64(count))
}

// IncSessionsCreated increments the created sessions counter.
func (m *Metrics) IncSessionsCreated() {
	m.SessionsCreated.Inc()
}

// IncSessionsDestroyed increments the destroyed sessions counter.
func (m *Metrics) IncSessionsDestroyed() {
	m.SessionsDestroyed.Inc()
}

// IncForegroundSwitch increments the foreground handoff counter.
func (m *Metrics) IncForegroundSwitch() {
	m.ForegroundSwitches.Inc()
}

// IncSignalRouted increments the routed signal counter.
func (m *Metrics) IncSignalRouted(signal string) {
	m.SignalsRouted.WithLabelValues(signal).Inc()
}

// IncSignalDropped increments the dropped signal counter.
func (m *Metrics) IncSignalDropped() {
	m.SignalsDropped.Inc()
}
