// Package metrics provides Prometheus instrumentation for sessiontag. It
// counts tagging decisions, minted markers, session records and websocket
// connections, and times session store round trips.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TagDecisions counts middleware outcomes, labeled by result:
	// "tagged", "present", "skipped", "rate_limited" or "error".
	TagDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sessiontag_decisions_total",
		Help: "Tagging decisions taken by the HTTP middleware",
	}, []string{"result"})

	// SessionsCreated counts session records created on first sight of a sid.
	SessionsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sessiontag_sessions_created_total",
		Help: "Session records created",
	})

	// StoreLatency records session store round trips in seconds, labeled by op.
	StoreLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sessiontag_store_latency_seconds",
		Help:    "Session store operation latency in seconds",
		Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"op"})

	// EventsPublished counts tagged events sent to NATS, labeled by outcome.
	EventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sessiontag_events_published_total",
		Help: "Tagged events published to the message bus",
	}, []string{"outcome"}) // outcome = "ok", "error"

	// Workspaces tracks the number of live per-tab workspaces.
	Workspaces = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sessiontag_workspaces",
		Help: "Current number of per-tab workspaces held in memory",
	})

	// WebsocketConnections tracks the number of open websocket connections.
	WebsocketConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sessiontag_websocket_connections",
		Help: "Current number of open websocket connections",
	})
)

func init() {
	prometheus.MustRegister(
		TagDecisions,
		SessionsCreated,
		StoreLatency,
		EventsPublished,
		Workspaces,
		WebsocketConnections,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
