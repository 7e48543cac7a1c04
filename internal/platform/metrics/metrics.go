package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the scrobble orchestrator.
type Metrics struct {
	registry          *prometheus.Registry
	requestsTotal     prometheus.Counter
	errorsTotal       prometheus.Counter
	eventsTotal       *prometheus.CounterVec
	finalizedTotal    prometheus.Counter
	discardedTotal    prometheus.Counter
	duplicatesTotal   prometheus.Counter
	deliveriesTotal   *prometheus.CounterVec
	queueDroppedTotal prometheus.Counter
	activePlayers     prometheus.Gauge
}

// New creates and registers Prometheus metrics for the orchestrator.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scrobble_requests_total",
		Help: "Total number of HTTP requests received",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scrobble_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})
	eventsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scrobble_events_total",
		Help: "Play events handled, by outcome",
	}, []string{"outcome"})
	finalizedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scrobble_listens_finalized_total",
		Help: "Listens that met the completion policy and were finalized",
	})
	discardedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scrobble_listens_discarded_total",
		Help: "Completed plays discarded because they were too short",
	})
	duplicatesTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scrobble_duplicates_total",
		Help: "Events suppressed as cross-source duplicates",
	})
	deliveriesTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scrobble_deliveries_total",
		Help: "Listen deliveries to clients, by client and result",
	}, []string{"client", "result"})
	queueDroppedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scrobble_queue_dropped_total",
		Help: "Events dropped because an ingest queue was full",
	})
	activePlayers := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "scrobble_active_players",
		Help: "Number of players currently tracked",
	})

	registry.MustRegister(
		requestsTotal,
		errorsTotal,
		eventsTotal,
		finalizedTotal,
		discardedTotal,
		duplicatesTotal,
		deliveriesTotal,
		queueDroppedTotal,
		activePlayers,
	)

	return &Metrics{
		registry:          registry,
		requestsTotal:     requestsTotal,
		errorsTotal:       errorsTotal,
		eventsTotal:       eventsTotal,
		finalizedTotal:    finalizedTotal,
		discardedTotal:    discardedTotal,
		duplicatesTotal:   duplicatesTotal,
		deliveriesTotal:   deliveriesTotal,
		queueDroppedTotal: queueDroppedTotal,
		activePlayers:     activePlayers,
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// IncEvent counts one handled event with the given outcome.
func (m *Metrics) IncEvent(outcome string) {
	m.eventsTotal.WithLabelValues(outcome).Inc()
}

// IncFinalized counts one finalized listen.
func (m *Metrics) IncFinalized() {
	m.finalizedTotal.Inc()
}

// IncDiscarded counts one play discarded as too short.
func (m *Metrics) IncDiscarded() {
	m.discardedTotal.Inc()
}

// IncDuplicates counts one suppressed duplicate.
func (m *Metrics) IncDuplicates() {
	m.duplicatesTotal.Inc()
}

// IncDelivery counts one delivery attempt to client; result is "ok",
// "failed" or "skipped".
func (m *Metrics) IncDelivery(client, result string) {
	m.deliveriesTotal.WithLabelValues(client, result).Inc()
}

// IncQueueDropped counts one event dropped by backpressure.
func (m *Metrics) IncQueueDropped() {
	m.queueDroppedTotal.Inc()
}

// SetActivePlayers sets the tracked players gauge.
func (m *Metrics) SetActivePlayers(n int) {
	m.activePlayers.Set(float64(n))
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g. active players).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
