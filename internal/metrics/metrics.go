// Package metrics records connection lifecycle and operation timings.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Close reasons.
const (
	CloseExplicit = "explicit"
	CloseIdle     = "idle"
	CloseOwner    = "owner"
	CloseShutdown = "shutdown"
)

// Operation results.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Recorder receives lifecycle events from the connection manager.
type Recorder interface {
	ConnectionOpened(engine string)
	ConnectionClosed(engine, reason string)
	ConnectFailed(engine, reason string)
	ObserveOperation(engine, operation, result string, d time.Duration)
}

// Nop discards everything.
type Nop struct{}

func (Nop) ConnectionOpened(string)                                {}
func (Nop) ConnectionClosed(string, string)                        {}
func (Nop) ConnectFailed(string, string)                           {}
func (Nop) ObserveOperation(string, string, string, time.Duration) {}

// Prometheus is a Recorder backed by its own registry, so tests and
// embedding applications never collide on the default one.
type Prometheus struct {
	registry *prometheus.Registry

	opened    *prometheus.CounterVec
	closed    *prometheus.CounterVec
	failures  *prometheus.CounterVec
	active    *prometheus.GaugeVec
	durations *prometheus.HistogramVec
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	p := &Prometheus{
		registry: registry,
		opened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "connhub_connections_opened_total",
			Help: "Connections established, by engine.",
		}, []string{"engine"}),
		closed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "connhub_connections_closed_total",
			Help: "Connections closed, by engine and reason.",
		}, []string{"engine", "reason"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "connhub_connect_failures_total",
			Help: "Failed connection attempts, by engine and reason code.",
		}, []string{"engine", "reason"}),
		active: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "connhub_active_connections",
			Help: "Live registry entries, by engine.",
		}, []string{"engine"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "connhub_operation_duration_seconds",
			Help:    "Duration of connect, query and schema operations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"engine", "operation", "result"}),
	}

	registry.MustRegister(p.opened, p.closed, p.failures, p.active, p.durations)
	return p
}

// Registry exposes the underlying registry.
func (p *Prometheus) Registry() *prometheus.Registry { return p.registry }

// Handler serves the registry in the Prometheus text format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

func (p *Prometheus) ConnectionOpened(engine string) {
	p.opened.WithLabelValues(engine).Inc()
	p.active.WithLabelValues(engine).Inc()
}

func (p *Prometheus) ConnectionClosed(engine, reason string) {
	p.closed.WithLabelValues(engine, reason).Inc()
	p.active.WithLabelValues(engine).Dec()
}

func (p *Prometheus) ConnectFailed(engine, reason string) {
	p.failures.WithLabelValues(engine, reason).Inc()
}

func (p *Prometheus) ObserveOperation(engine, operation, result string, d time.Duration) {
	p.durations.WithLabelValues(engine, operation, result).Observe(d.Seconds())
}
