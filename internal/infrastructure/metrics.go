package infrastructure

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments shared across the service.
type Metrics struct {
	SnapshotCacheHits   *prometheus.CounterVec
	SnapshotCacheMisses *prometheus.CounterVec
	SnapshotPuts        *prometheus.CounterVec
	DownloadsTotal      *prometheus.CounterVec
	DownloadDuration    prometheus.Histogram
	ConsolidateDuration *prometheus.HistogramVec
	ConsolidateRows     *prometheus.GaugeVec
	EnrichErrors        prometheus.Counter
	EnrichSkipped       prometheus.Counter
	QuoteFetchDuration  prometheus.Histogram
	ReportsExported     prometheus.Counter
}

// NewMetrics registers the service instruments on the given registerer.
// Pass prometheus.DefaultRegisterer in main; tests use a fresh registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SnapshotCacheHits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nse_snapshot_cache_hits_total",
			Help: "Snapshot cache hits by report type",
		}, []string{"type"}),
		SnapshotCacheMisses: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nse_snapshot_cache_misses_total",
			Help: "Snapshot cache misses by report type",
		}, []string{"type"}),
		SnapshotPuts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nse_snapshot_puts_total",
			Help: "Snapshot store writes by report type",
		}, []string{"type"}),
		DownloadsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nse_downloads_total",
			Help: "Daily report download attempts by outcome",
		}, []string{"outcome"}),
		DownloadDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "nse_download_duration_seconds",
			Help:    "Daily report download latency",
			Buckets: prometheus.DefBuckets,
		}),
		ConsolidateDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nse_consolidate_duration_seconds",
			Help:    "Consolidation run latency by report type",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"type"}),
		ConsolidateRows: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "nse_consolidate_rows",
			Help: "Row count of the most recent consolidated table by type",
		}, []string{"type"}),
		EnrichErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "nse_enrich_errors_total",
			Help: "Per-symbol enrichment lookup failures",
		}),
		EnrichSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "nse_enrich_skipped_total",
			Help: "Symbols skipped because an enrichment batch ran out of time",
		}),
		QuoteFetchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "nse_quote_fetch_duration_seconds",
			Help:    "Per-symbol quote fetch latency",
			Buckets: prometheus.DefBuckets,
		}),
		ReportsExported: factory.NewCounter(prometheus.CounterOpts{
			Name: "nse_reports_exported_total",
			Help: "Spreadsheet reports written",
		}),
	}
}
