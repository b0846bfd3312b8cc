package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Rejection reasons used as the "reason" label of RejectedTotal.
const (
	ReasonForbidden   = "forbidden"
	ReasonInvalid     = "invalid"
	ReasonUnavailable = "unavailable"
)

// Metrics is the relay's counter set on its own registry, so tests can build
// as many as they like without clashing on the global one.
type Metrics struct {
	registry *prometheus.Registry

	Joins         prometheus.Counter
	Leaves        prometheus.Counter
	Heartbeats    prometheus.Counter
	Polls         prometheus.Counter
	Messages      *prometheus.CounterVec
	Rejected      *prometheus.CounterVec
	StreamClients prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Joins: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mesh_relay_joins_total",
			Help: "Successful room joins.",
		}),
		Leaves: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mesh_relay_leaves_total",
			Help: "Leave requests.",
		}),
		Heartbeats: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mesh_relay_heartbeats_total",
			Help: "Presence heartbeats recorded.",
		}),
		Polls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mesh_relay_polls_total",
			Help: "Message log reads.",
		}),
		Messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mesh_relay_messages_total",
			Help: "Messages appended to room logs by type.",
		}, []string{"type"}),
		Rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mesh_relay_rejected_total",
			Help: "Requests rejected by the relay by reason.",
		}, []string{"reason"}),
		StreamClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mesh_relay_stream_clients",
			Help: "Open websocket signal streams.",
		}),
	}
	m.registry.MustRegister(
		m.Joins, m.Leaves, m.Heartbeats, m.Polls, m.Messages, m.Rejected, m.StreamClients,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler exposes the registry in Prometheus' text exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
