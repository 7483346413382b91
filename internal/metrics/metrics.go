// Package metrics defines the Prometheus collectors exported by the gateway.
//
// A nil *Metrics is valid and records nothing, so components can take one
// unconditionally.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "audiofork"

// Auth decision labels.
const (
	DecisionExempt  = "exempt"
	DecisionAllowed = "allowed"
	DecisionDenied  = "denied"
)

// Session outcome labels.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeAborted   = "aborted"
	OutcomeRefused   = "refused"
)

// Metrics groups the gateway collectors.
type Metrics struct {
	registry *prometheus.Registry

	authDecisions *prometheus.CounterVec
	sessions      *prometheus.CounterVec
	chunks        prometheus.Counter
	bytesWritten  prometheus.Counter
	openSessions  prometheus.Gauge
	openChannels  prometheus.Gauge
}

// New creates the collectors and registers them on a fresh registry together
// with the Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		authDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_decisions_total",
			Help:      "Authentication gate decisions by outcome.",
		}, []string{"decision"}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Fork sessions by terminal outcome.",
		}, []string{"outcome"}),
		chunks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_total",
			Help:      "Audio chunks acknowledged.",
		}),
		bytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_written_total",
			Help:      "Audio bytes written to the object store.",
		}),
		openSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_sessions",
			Help:      "Fork sessions currently open.",
		}),
		openChannels: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_role_channels",
			Help:      "Role channels currently holding an open write handle.",
		}),
	}

	m.registry.MustRegister(
		m.authDecisions,
		m.sessions,
		m.chunks,
		m.bytesWritten,
		m.openSessions,
		m.openChannels,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// AuthDecision counts one gate decision.
func (m *Metrics) AuthDecision(decision string) {
	if m == nil {
		return
	}
	m.authDecisions.WithLabelValues(decision).Inc()
}

// SessionStarted marks a session as open.
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.openSessions.Inc()
}

// SessionEnded records the session outcome and marks it closed.
func (m *Metrics) SessionEnded(outcome string) {
	if m == nil {
		return
	}
	m.openSessions.Dec()
	m.sessions.WithLabelValues(outcome).Inc()
}

// SessionRefused records a stream refused before a session was created.
func (m *Metrics) SessionRefused() {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(OutcomeRefused).Inc()
}

// ChunkWritten records one acknowledged chunk of n bytes.
func (m *Metrics) ChunkWritten(n int) {
	if m == nil {
		return
	}
	m.chunks.Inc()
	m.bytesWritten.Add(float64(n))
}

// ChannelOpened increments the open channel gauge.
func (m *Metrics) ChannelOpened() {
	if m == nil {
		return
	}
	m.openChannels.Inc()
}

// ChannelClosed decrements the open channel gauge.
func (m *Metrics) ChannelClosed() {
	if m == nil {
		return
	}
	m.openChannels.Dec()
}
