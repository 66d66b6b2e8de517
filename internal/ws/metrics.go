package ws

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus collectors for the realtime transport. Label cardinality is
// bounded: event names come from the fixed dispatch table and outcomes are
// ok|error.
var (
	// connectionsGauge tracks currently connected clients.
	connectionsGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ws_connections",
			Help: "Current number of connected WebSocket clients.",
		},
	)

	// eventsTotal counts processed inbound events by name and outcome.
	eventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ws_events_total",
			Help: "Total number of inbound WebSocket events.",
		},
		[]string{"event", "outcome"},
	)

	// eventsDropped counts outbound frames dropped on full client queues.
	eventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ws_frames_dropped_total",
			Help: "Outbound frames dropped because a client queue was full.",
		},
	)

	// broadcastFanout records how many clients each room broadcast reached.
	broadcastFanout = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ws_broadcast_fanout",
			Help:    "Number of clients reached per room broadcast.",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100, 250, 500},
		},
	)
)

func init() {
	prometheus.MustRegister(connectionsGauge, eventsTotal, eventsDropped, broadcastFanout)
}
