// Package metrics holds the Prometheus collectors shared across the app.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BackendRequests counts calls to the movie service by endpoint and outcome.
	BackendRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "movierec_backend_requests_total",
		Help: "Requests sent to the movie service",
	}, []string{"endpoint", "outcome"}) // outcome: success|error|rejected|cached

	// BackendDuration observes round-trip latency to the movie service.
	BackendDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "movierec_backend_request_duration_seconds",
		Help:    "Latency of requests to the movie service",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"endpoint"})

	// CircuitBreakerState is 0 closed, 1 half-open, 2 open.
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "movierec_circuit_breaker_state",
		Help: "Circuit breaker state per upstream",
	}, []string{"name"})

	// SessionEvents counts reducer events by type.
	SessionEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "movierec_session_events_total",
		Help: "Session events applied",
	}, []string{"event"})

	// StaleResponses counts resolved requests discarded by the sequence guard.
	StaleResponses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "movierec_stale_responses_total",
		Help: "Responses discarded because a newer request was issued",
	}, []string{"kind"})

	// DroppedUpdates counts state updates not delivered to a slow subscriber.
	DroppedUpdates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "movierec_dropped_updates_total",
		Help: "State updates dropped for slow subscribers",
	})

	// ActiveSessions tracks live sessions in the web registry.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "movierec_active_sessions",
		Help: "Current number of live sessions",
	})

	// CacheLookups counts search cache hits and misses.
	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "movierec_cache_lookups_total",
		Help: "Search cache lookups",
	}, []string{"result"}) // hit|miss|error

	// PosterLoads counts poster fetches by outcome.
	PosterLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "movierec_poster_loads_total",
		Help: "Poster fetches from the image CDN",
	}, []string{"outcome"})
)
