// Package metrics holds the Prometheus collectors exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionsActive counts currently open WebSocket connections.
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "teamchat",
		Name:      "connections_active",
		Help:      "Number of currently open WebSocket connections.",
	})

	// EventsReceived counts inbound socket events by event name.
	EventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "teamchat",
		Name:      "events_received_total",
		Help:      "Inbound WebSocket events by event name.",
	}, []string{"event"})
)
