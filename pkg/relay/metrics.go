package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wabridge_relay_active_connections",
		Help: "Number of currently connected dashboard clients.",
	})

	eventsBroadcast = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wabridge_relay_events_broadcast_total",
		Help: "Total events broadcast to all connected clients.",
	})

	eventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wabridge_relay_events_dropped_total",
		Help: "Events dropped because a client send buffer was full.",
	})

	messagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wabridge_messages_sent_total",
		Help: "Total messages successfully dispatched to WhatsApp.",
	})

	incomingObserved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wabridge_incoming_messages_total",
		Help: "Total inbound messages observed in the driven session.",
	})
)
