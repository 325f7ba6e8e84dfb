// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Analyzer metrics
	ScansTotal          prometheus.Counter
	ScanDuration        prometheus.Histogram
	CandidatesEvaluated *prometheus.CounterVec
	CombinationsSkipped *prometheus.CounterVec

	// Ledger metrics
	PositionsOpened     prometheus.Counter
	RebalancesTotal     *prometheus.CounterVec
	PositionsClosed     prometheus.Counter
	PositionsLiquidated prometheus.Counter
	VersionConflicts    prometheus.Counter

	// Allocator metrics
	AllocationRunsTotal *prometheus.CounterVec
	AllocatedUSD        prometheus.Gauge
	SelectedStrategies  prometheus.Gauge

	// Storage metrics
	SnapshotsStored   prometheus.Counter
	BasisPricesStored prometheus.Counter
	DBQueryDuration   *prometheus.HistogramVec
	DBQueryErrors     *prometheus.CounterVec

	// Health metrics
	LastSuccessfulScan       prometheus.Gauge
	LastSuccessfulAllocation prometheus.Gauge
	UptimeSeconds            prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "lending_strategy_lab"
	}

	return &Metrics{
		// Analyzer metrics
		ScansTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analyzer",
			Name:      "scans_total",
			Help:      "Total number of market scans executed",
		}),
		ScanDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "analyzer",
			Name:      "scan_duration_seconds",
			Help:      "Market scan duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		CandidatesEvaluated: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analyzer",
			Name:      "candidates_evaluated_total",
			Help:      "Total number of strategy candidates evaluated by variant",
		}, []string{"variant"}),
		CombinationsSkipped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analyzer",
			Name:      "combinations_skipped_total",
			Help:      "Total number of combinations skipped by reason",
		}, []string{"reason"}),

		// Ledger metrics
		PositionsOpened: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "positions_opened_total",
			Help:      "Total number of positions opened",
		}),
		RebalancesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "rebalances_total",
			Help:      "Total number of rebalances recorded by reason",
		}, []string{"reason"}),
		PositionsClosed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "positions_closed_total",
			Help:      "Total number of positions closed",
		}),
		PositionsLiquidated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "positions_liquidated_total",
			Help:      "Total number of positions marked liquidated",
		}),
		VersionConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "version_conflicts_total",
			Help:      "Total number of optimistic concurrency conflicts",
		}),

		// Allocator metrics
		AllocationRunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "allocator",
			Name:      "runs_total",
			Help:      "Total number of allocation runs by status",
		}, []string{"status"}),
		AllocatedUSD: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "allocator",
			Name:      "allocated_usd",
			Help:      "Capital allocated by the most recent allocation run",
		}),
		SelectedStrategies: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "allocator",
			Name:      "selected_strategies",
			Help:      "Strategies selected by the most recent allocation run",
		}),

		// Storage metrics
		SnapshotsStored: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "snapshots_stored_total",
			Help:      "Total number of rate snapshots stored",
		}),
		BasisPricesStored: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "basis_prices_stored_total",
			Help:      "Total number of basis price rows stored",
		}),
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Health metrics
		LastSuccessfulScan: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_scan_timestamp",
			Help:      "Unix timestamp of last successful scan",
		}),
		LastSuccessfulAllocation: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_allocation_timestamp",
			Help:      "Unix timestamp of last successful allocation run",
		}),
		UptimeSeconds: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "uptime_seconds_total",
			Help:      "Total uptime in seconds",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordScan records a completed market scan and the candidate counts it
// produced.
func RecordScan(durationSeconds float64, candidatesByVariant map[string]int) {
	DefaultMetrics.ScansTotal.Inc()
	DefaultMetrics.ScanDuration.Observe(durationSeconds)
	for variant, n := range candidatesByVariant {
		DefaultMetrics.CandidatesEvaluated.WithLabelValues(variant).Add(float64(n))
	}
}

// RecordSkippedCombination increments the skipped-combination counter.
func RecordSkippedCombination(reason string) {
	DefaultMetrics.CombinationsSkipped.WithLabelValues(reason).Inc()
}

// RecordPositionOpened increments the positions opened counter.
func RecordPositionOpened() {
	DefaultMetrics.PositionsOpened.Inc()
}

// RecordRebalance increments the rebalance counter for a reason code.
func RecordRebalance(reason string) {
	DefaultMetrics.RebalancesTotal.WithLabelValues(reason).Inc()
}

// RecordPositionClosed increments the positions closed counter.
func RecordPositionClosed() {
	DefaultMetrics.PositionsClosed.Inc()
}

// RecordLiquidation increments the liquidation counter.
func RecordLiquidation() {
	DefaultMetrics.PositionsLiquidated.Inc()
}

// RecordVersionConflict increments the optimistic concurrency conflict counter.
func RecordVersionConflict() {
	DefaultMetrics.VersionConflicts.Inc()
}

// RecordAllocation records an allocation run outcome.
func RecordAllocation(status string, allocatedUSD float64, selected int) {
	DefaultMetrics.AllocationRunsTotal.WithLabelValues(status).Inc()
	if status == "success" {
		DefaultMetrics.AllocatedUSD.Set(allocatedUSD)
		DefaultMetrics.SelectedStrategies.Set(float64(selected))
	}
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
