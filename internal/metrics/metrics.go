// Package metrics registers the relay's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Classified = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalrelay_messages_classified_total",
			Help: "Classified messages by dialect and action",
		},
		[]string{"dialect", "action"},
	)

	Unroutable = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "signalrelay_messages_unroutable_total",
			Help: "Messages from channels without a route",
		},
	)

	Notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalrelay_notifications_total",
			Help: "Notification attempts by action and result",
		},
		[]string{"action", "result"},
	)

	// Suppressed counts TP/SL repeats swallowed by the gate.
	Suppressed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalrelay_notifications_suppressed_total",
			Help: "Outcome notifications suppressed as repeats",
		},
		[]string{"action"},
	)

	Executions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalrelay_executions_total",
			Help: "Execution webhook calls by result",
		},
		[]string{"result"},
	)

	Queue = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalrelay_queue_items_total",
			Help: "Queue items by terminal outcome (done, retry, dead, released)",
		},
		[]string{"outcome"},
	)

	StreamClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "signalrelay_stream_clients",
			Help: "Connected websocket stream clients",
		},
	)
)

func init() {
	prometheus.MustRegister(Classified, Unroutable, Notifications, Suppressed)
	prometheus.MustRegister(Executions, Queue, StreamClients)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
