// Package metrics exposes Prometheus collectors for the realtime gateway.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionsOpen is the number of live websocket connections.
	ConnectionsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pulse",
		Subsystem: "gateway",
		Name:      "connections_open",
		Help:      "Number of live websocket connections.",
	})

	// IdentitiesOnline is the number of identities with at least one connection.
	IdentitiesOnline = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pulse",
		Subsystem: "gateway",
		Name:      "identities_online",
		Help:      "Number of identities with at least one live connection.",
	})

	// MessagesSent counts persisted chat messages.
	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pulse",
		Subsystem: "chat",
		Name:      "messages_sent_total",
		Help:      "Number of chat messages persisted and fanned out.",
	})

	// EventsDropped counts events dropped for saturated connections.
	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pulse",
		Subsystem: "gateway",
		Name:      "events_dropped_total",
		Help:      "Number of events dropped because a connection's buffer was full.",
	})

	// HeartbeatTimeouts counts connections closed by the heartbeat monitor.
	HeartbeatTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pulse",
		Subsystem: "gateway",
		Name:      "heartbeat_timeouts_total",
		Help:      "Number of connections force-closed after a missed heartbeat.",
	})
)
