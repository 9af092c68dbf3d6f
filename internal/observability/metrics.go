package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "datastream"

// Metrics holds the Prometheus counters, histograms, and gauges for the explorer.
type Metrics struct {
	// Catalog metrics.
	CatalogRequests *prometheus.CounterVec // labels: outcome={success,error,empty}
	CatalogDuration prometheus.Histogram
	ListingCache    *prometheus.CounterVec // labels: result={hit,miss}
	StaleResponses  prometheus.Counter
	QueryDuration   *prometheus.HistogramVec // labels: query

	// Content cache metrics.
	CacheLookups      *prometheus.CounterVec // labels: result={hit,miss}
	CacheBytesWritten prometheus.Counter
	CacheEvictions    prometheus.Counter

	// Materialization and load pipeline metrics.
	Materializations    *prometheus.CounterVec // labels: result={created,exists,error}
	MaterializeDuration prometheus.Histogram
	LoadDuration        prometheus.Histogram
	LoadsRejected       prometheus.Counter
	LoadInProgress      prometheus.Gauge

	// Animation metrics.
	ResidentVariables prometheus.Gauge
}

func newMetrics() *Metrics {
	return &Metrics{
		CatalogRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_requests_total",
			Help:      "Catalog listings by outcome.",
		}, []string{"outcome"}),
		CatalogDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "catalog_request_duration_seconds",
			Help:      "Duration of a catalog listing in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		ListingCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listing_cache_total",
			Help:      "Listing cache lookups by result.",
		}, []string{"result"}),
		StaleResponses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_responses_total",
			Help:      "Option fetches discarded because the selection changed while they were in flight.",
		}),
		QueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "Duration of extraction queries in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"query"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Content cache lookups by result.",
		}, []string{"result"}),
		CacheBytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_bytes_written_total",
			Help:      "Bytes persisted into the content cache.",
		}),
		CacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Cache entries removed by delete or reset.",
		}),
		Materializations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "materializations_total",
			Help:      "Table materializations by result.",
		}, []string{"result"}),
		MaterializeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "materialize_duration_seconds",
			Help:      "Duration of importing a cached blob into a table.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}),
		LoadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "load_duration_seconds",
			Help:      "Duration of a complete fetch, cache, materialize, and extract run.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		LoadsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loads_rejected_total",
			Help:      "Load requests rejected because another load was running.",
		}),
		LoadInProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "load_in_progress",
			Help:      "1 while a load pipeline run is active.",
		}),
		ResidentVariables: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "resident_variables",
			Help:      "Flattened variable arrays currently held in memory.",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.CatalogRequests,
		m.CatalogDuration,
		m.ListingCache,
		m.StaleResponses,
		m.QueryDuration,
		m.CacheLookups,
		m.CacheBytesWritten,
		m.CacheEvictions,
		m.Materializations,
		m.MaterializeDuration,
		m.LoadDuration,
		m.LoadsRejected,
		m.LoadInProgress,
		m.ResidentVariables,
	}
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}
