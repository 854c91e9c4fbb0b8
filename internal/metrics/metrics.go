// Package metrics registers the Prometheus collectors of the engine and
// the HTTP API.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ContributionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "territory_contributions_total",
		Help: "Accepted activity contributions",
	})
	ContributedKm = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "territory_contributed_km_total",
		Help: "Kilometres applied through activity contributions",
	})
	MovesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "territory_moves_total",
		Help: "Tactical moves by type and outcome",
	}, []string{"type", "outcome"})
	BattlesOpened = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "territory_battles_opened_total",
		Help: "Battles created when a challenger crossed the battle threshold",
	})
	BattlesClosed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "territory_battles_closed_total",
		Help: "Battles removed from the active set, by reason",
	}, []string{"reason"})
	ActiveBattles = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "territory_active_battles",
		Help: "Battles currently active",
	})
	ConquestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "territory_conquests_total",
		Help: "Control transfers performed by the conquest resolver",
	})
	ConflictRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "territory_conflict_retries_total",
		Help: "Events retried after a store conflict",
	})
	InvariantViolations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "territory_invariant_violations_total",
		Help: "Entities quarantined after an invariant violation",
	})
	EventDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "territory_event_duration_ms",
		Help:    "Time to apply one engine event, in milliseconds",
		Buckets: []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000},
	}, []string{"kind"})
	RequestDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "territory_http_request_duration_ms",
		Help:    "HTTP request duration in milliseconds",
		Buckets: []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000},
	}, []string{"route"})
	CacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "territory_read_cache_hits_total",
		Help: "Read model responses served from redis",
	})
	CacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "territory_read_cache_misses_total",
		Help: "Read model responses rebuilt from engine state",
	})
)

func init() {
	prometheus.MustRegister(ContributionsTotal)
	prometheus.MustRegister(ContributedKm)
	prometheus.MustRegister(MovesTotal)
	prometheus.MustRegister(BattlesOpened)
	prometheus.MustRegister(BattlesClosed)
	prometheus.MustRegister(ActiveBattles)
	prometheus.MustRegister(ConquestsTotal)
	prometheus.MustRegister(ConflictRetries)
	prometheus.MustRegister(InvariantViolations)
	prometheus.MustRegister(EventDurationMs)
	prometheus.MustRegister(RequestDurationMs)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
}

// Handler exposes the registered collectors for scraping at /metrics.
func Handler() http.Handler { return promhttp.Handler() }
