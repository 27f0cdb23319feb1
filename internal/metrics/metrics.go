// Package metrics provides Prometheus metrics for the lot monitor.
// Scrape these at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"lot_monitor/internal/model"
)

var (
	// HTTP Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lotmon_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lotmon_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Ingestion Metrics
	LotsIngestedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lotmon_lots_ingested_total",
			Help: "Incoming lots by ingestion outcome (added, updated, enriched, skipped)",
		},
		[]string{"outcome"},
	)

	ReEvaluationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lotmon_reevaluations_total",
			Help: "Number of full re-evaluation sweeps after a filter change",
		},
	)

	HighScoreNotificationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lotmon_high_score_notifications_total",
			Help: "Notifications sent for lots above the score threshold",
		},
	)

	// Store Metrics
	ItemsByState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lotmon_items",
			Help: "Number of indexed lots per user state",
		},
		[]string{"state"},
	)

	TotalLots = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lotmon_lots_total",
			Help: "Number of stored lots",
		},
	)

	CleanupDeletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lotmon_cleanup_deleted_total",
			Help: "Lots removed by the periodic cleanup",
		},
	)

	// City Resolver Metrics
	CityLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lotmon_city_lookups_total",
			Help: "Auction house city lookups by result (memory, cache, fetched, missing, error)",
		},
		[]string{"result"},
	)
)

// RecordCounts publishes the derived counters as gauges.
func RecordCounts(m model.Metadata) {
	TotalLots.Set(float64(m.TotalLots))
	ItemsByState.WithLabelValues(string(model.StateNew)).Set(float64(m.NewCount))
	ItemsByState.WithLabelValues(string(model.StateSeen)).Set(float64(m.SeenCount))
	ItemsByState.WithLabelValues(string(model.StateFavorite)).Set(float64(m.FavoriteCount))
	ItemsByState.WithLabelValues(string(model.StateIgnored)).Set(float64(m.IgnoredCount))
}
