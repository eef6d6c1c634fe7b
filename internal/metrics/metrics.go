package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "messaging_active_connections",
		Help: "Live websocket connections registered with the relay.",
	})

	RelayOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "messaging_relay_outcomes_total",
		Help: "Relay attempts by outcome.",
	}, []string{"outcome"})

	PersistedMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "messaging_persisted_messages_total",
		Help: "Messages durably stored.",
	})

	DuplicateSends = promauto.NewCounter(prometheus.CounterOpts{
		Name: "messaging_duplicate_sends_total",
		Help: "Retried sends suppressed by the idempotency token.",
	})

	PersistFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "messaging_persist_failures_total",
		Help: "Messages that could not be stored.",
	})
)

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
