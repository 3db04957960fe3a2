// Package metrics holds the prometheus collectors shared by the client packages.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "phantomchat"

var (
	FramesDecoded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "frames_total",
		Help:      "Push-protocol frames decoded, by event kind.",
	}, []string{"kind"})

	Turns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "chat",
		Name:      "turns_total",
		Help:      "Conversation turns by outcome.",
	}, []string{"outcome"})

	HistoryRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "history",
		Name:      "requests_total",
		Help:      "History page requests by outcome (fetched, dropped, failed, stale).",
	}, []string{"outcome"})

	StatusConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "status",
		Name:      "connections_active",
		Help:      "Open resource status push connections.",
	})

	StatusMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "status",
		Name:      "messages_total",
		Help:      "Resource status messages received, by status value.",
	}, []string{"status"})
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
