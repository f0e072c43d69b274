// Package metrics exposes the agent's Prometheus counters.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RunsTotal counts completed supervised runs by terminal status.
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spruce_runs_total",
		Help: "Completed task runs by terminal status",
	}, []string{"status"})

	// HeartbeatsTotal counts heartbeat patches sent to the coordination API.
	HeartbeatsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spruce_heartbeats_total",
		Help: "Heartbeat updates reported to the Spruce API",
	})

	// NotificationsTotal counts notification delivery attempts by mode and
	// outcome.
	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spruce_notifications_total",
		Help: "Notification delivery attempts by mode and outcome",
	}, []string{"mode", "outcome"})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
