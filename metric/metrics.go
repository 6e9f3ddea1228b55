// Package metric exposes Prometheus collectors for the requester core.
//
// A nil *Metrics is valid and records nothing, so components can be built
// without a registry in tests.
package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "itemrsocket"

type Metrics struct {
	ConnectAttempts prometheus.Counter
	Connections     *prometheus.CounterVec // result = established | failed | lost
	Requests        *prometheus.CounterVec // pattern, outcome
	ActiveStreams   *prometheus.GaugeVec   // pattern
	StreamItems     *prometheus.CounterVec // pattern
}

// New creates the collectors and registers them with reg. A nil reg skips
// registration.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_attempts_total",
			Help:      "Transport dial attempts made by the connection supplier.",
		}),
		Connections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Shared connection lifecycle events by result.",
		}, []string{"result"}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Interactions by pattern and terminal outcome.",
		}, []string{"pattern", "outcome"}),
		ActiveStreams: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_streams",
			Help:      "Open request-stream and subscribe interactions.",
		}, []string{"pattern"}),
		StreamItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_items_total",
			Help:      "Elements delivered to stream consumers.",
		}, []string{"pattern"}),
	}
	if reg != nil {
		reg.MustRegister(m.ConnectAttempts, m.Connections, m.Requests, m.ActiveStreams, m.StreamItems)
	}
	return m
}

func (m *Metrics) ConnectAttempt() {
	if m == nil {
		return
	}
	m.ConnectAttempts.Inc()
}

func (m *Metrics) Connection(result string) {
	if m == nil {
		return
	}
	m.Connections.WithLabelValues(result).Inc()
}

func (m *Metrics) Request(pattern, outcome string) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(pattern, outcome).Inc()
}

func (m *Metrics) StreamOpened(pattern string) {
	if m == nil {
		return
	}
	m.ActiveStreams.WithLabelValues(pattern).Inc()
}

func (m *Metrics) StreamClosed(pattern string) {
	if m == nil {
		return
	}
	m.ActiveStreams.WithLabelValues(pattern).Dec()
}

func (m *Metrics) StreamItem(pattern string) {
	if m == nil {
		return
	}
	m.StreamItems.WithLabelValues(pattern).Inc()
}
