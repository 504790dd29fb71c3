// Package observability holds the Prometheus instrumentation shared by the
// agent runtime. Counters are safe for lock-free concurrent increment; no
// other state crosses connection boundaries.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the agent's Prometheus collectors.
type Metrics struct {
	// ConnectionsTotal counts accepted engine connections.
	ConnectionsTotal prometheus.Counter
	// ActiveConnections tracks engine connections currently served.
	ActiveConnections prometheus.Gauge
	// ConnectionsRejected counts connections refused at the
	// max-connections cap.
	ConnectionsRejected prometheus.Counter
	// FramesTotal counts inbound frames by frame type.
	FramesTotal *prometheus.CounterVec
	// AcksTotal counts ACK frames queued for the engine.
	AcksTotal prometheus.Counter
	// HandlerErrors counts application handler failures (each one
	// answered by a fail-open empty ACK).
	HandlerErrors prometheus.Counter
	// OpenStreams tracks streams dispatched and not yet ACKed.
	OpenStreams prometheus.Gauge
}

// NewMetrics registers the agent collectors with reg and returns them.
// Pass prometheus.DefaultRegisterer in production; tests use a private
// registry so servers can be created repeatedly.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "spop",
			Name:      "connections_total",
			Help:      "Engine connections accepted.",
		}),
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "spop",
			Name:      "active_connections",
			Help:      "Engine connections currently served.",
		}),
		ConnectionsRejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "spop",
			Name:      "connections_rejected_total",
			Help:      "Connections refused at the max-connections cap.",
		}),
		FramesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spop",
			Name:      "frames_total",
			Help:      "Inbound frames by type.",
		}, []string{"type"}),
		AcksTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "spop",
			Name:      "acks_total",
			Help:      "ACK frames queued for the engine.",
		}),
		HandlerErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "spop",
			Name:      "handler_errors_total",
			Help:      "Application handler failures answered fail-open.",
		}),
		OpenStreams: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "spop",
			Name:      "open_streams",
			Help:      "Streams dispatched and not yet ACKed.",
		}),
	}
}
