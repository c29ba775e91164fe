package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Transport metrics
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatrelay_connections_active",
			Help: "Open WebSocket connections",
		},
	)

	UsersOnline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatrelay_users_online",
			Help: "Users with at least one joined connection",
		},
	)

	PresenceTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_presence_transitions_total",
			Help: "Online/offline transitions",
		},
		[]string{"state"}, // "online" or "offline"
	)

	// Protocol metrics
	EventsHandled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_events_total",
			Help: "Inbound events by name and outcome",
		},
		[]string{"event", "result"},
	)

	MessagesRelayed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatrelay_messages_relayed_total",
			Help: "Messages persisted and fanned out",
		},
	)

	// Fan-out metrics
	Deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_deliveries_total",
			Help: "Per-connection fan-out writes",
		},
		[]string{"result"}, // "sent", "dropped"
	)

	DeferredDeliveries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatrelay_deferred_deliveries_total",
			Help: "Fan-outs addressed to a room with no live connection",
		},
	)

	// Infrastructure metrics
	StoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatrelay_store_latency_seconds",
			Help:    "Message store operation latency",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .5},
		},
		[]string{"op"},
	)
)
