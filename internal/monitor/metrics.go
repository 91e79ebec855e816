// Package monitor exposes Prometheus metrics and watches the event bus.
package monitor

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "authority"

// Metrics groups every collector on a private registry. All methods are nil-safe so
// components can run without metrics in tests.
type Metrics struct {
	Registry *prometheus.Registry

	executions        *prometheus.CounterVec
	executionLatency  *prometheus.HistogramVec
	modeSwitches      *prometheus.CounterVec
	configWrites      *prometheus.CounterVec
	configVersion     prometheus.Gauge
	settlementRetries *prometheus.CounterVec
	auditFailures     prometheus.Counter
	eventsDropped     *prometheus.CounterVec
}

// NewMetrics creates and registers all collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Swap executions by mode used and terminal status.",
		}, []string{"mode", "status"}),
		executionLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Wall time of one ExecuteSwap call.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 15, 60},
		}, []string{"mode"}),
		modeSwitches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mode_switches_total",
			Help:      "Committed operating mode switches by target mode.",
		}, []string{"to"}),
		configWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "config_writes_total",
			Help:      "Committed configuration writes by category.",
		}, []string{"category"}),
		configVersion: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "configuration_version",
			Help:      "Latest committed configuration version.",
		}),
		settlementRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlement_retries_total",
			Help:      "Retries of transient settlement failures by operation.",
		}, []string{"op"}),
		auditFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_append_failures_total",
			Help:      "Transaction records that could not be persisted.",
		}),
		eventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Bus payloads dropped for slow subscribers.",
		}, []string{"event"}),
	}

	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.executions,
		m.executionLatency,
		m.modeSwitches,
		m.configWrites,
		m.configVersion,
		m.settlementRetries,
		m.auditFailures,
		m.eventsDropped,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

func (m *Metrics) ObserveExecution(mode, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.executions.WithLabelValues(mode, status).Inc()
	m.executionLatency.WithLabelValues(mode).Observe(d.Seconds())
}

func (m *Metrics) ModeSwitched(to string) {
	if m == nil {
		return
	}
	m.modeSwitches.WithLabelValues(to).Inc()
}

func (m *Metrics) ConfigWritten(category string) {
	if m == nil {
		return
	}
	m.configWrites.WithLabelValues(category).Inc()
}

func (m *Metrics) SetConfigVersion(v int64) {
	if m == nil {
		return
	}
	m.configVersion.Set(float64(v))
}

func (m *Metrics) SettlementRetry(op string) {
	if m == nil {
		return
	}
	m.settlementRetries.WithLabelValues(op).Inc()
}

func (m *Metrics) AuditAppendFailed() {
	if m == nil {
		return
	}
	m.auditFailures.Inc()
}

func (m *Metrics) EventDropped(event string) {
	if m == nil {
		return
	}
	m.eventsDropped.WithLabelValues(event).Inc()
}
