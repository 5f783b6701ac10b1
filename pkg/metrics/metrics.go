// Package metrics defines the Prometheus metric collectors used across the
// pipeline stages and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the pipeline.
type Metrics struct {
	KeysScanned       prometheus.Counter
	FeaturesFiltered  *prometheus.CounterVec
	PairsEmitted      prometheus.Counter
	PairsMerged       prometheus.Counter
	AlignmentsTotal   *prometheus.CounterVec
	AlignmentDuration prometheus.Histogram
	CacheHitsTotal    prometheus.Counter
	CacheMissesTotal  prometheus.Counter
	ClustersBuilt     prometheus.Counter
	ClustersDropped   *prometheus.CounterVec
	QuoteHitsTotal    prometheus.Counter
}

// New creates and registers all pipeline metrics on the default registerer.
func New() *Metrics {
	m := &Metrics{
		KeysScanned: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "passim_index_keys_scanned_total",
				Help: "Total number of index keys walked by the pairs stage.",
			},
		),
		FeaturesFiltered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "passim_features_filtered_total",
				Help: "Features dropped during enumeration by reason (stopword, word_length, cross_count, modp).",
			},
			[]string{"reason"},
		),
		PairsEmitted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "passim_pairs_emitted_total",
				Help: "Candidate document pairs emitted by the pairs stage.",
			},
		),
		PairsMerged: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "passim_pairs_merged_total",
				Help: "Merged pair records forwarded by the merge stage.",
			},
		),
		AlignmentsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "passim_alignments_total",
				Help: "Alignment outcomes by kind (ok, fallback, empty).",
			},
			[]string{"outcome"},
		),
		AlignmentDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "passim_alignment_duration_seconds",
				Help:    "Wall time spent aligning one candidate pair.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "passim_doc_cache_hits_total",
				Help: "Document token fetches served from the cache.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "passim_doc_cache_misses_total",
				Help: "Document token fetches that went to the index.",
			},
		),
		ClustersBuilt: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "passim_clusters_built_total",
				Help: "Clusters present before quota filtering.",
			},
		),
		ClustersDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "passim_clusters_dropped_total",
				Help: "Clusters removed by quota filters (proportion, repeats).",
			},
			[]string{"reason"},
		),
		QuoteHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "passim_quote_hits_total",
				Help: "Quote spans emitted by the quotes stage.",
			},
		),
	}
	prometheus.MustRegister(
		m.KeysScanned,
		m.FeaturesFiltered,
		m.PairsEmitted,
		m.PairsMerged,
		m.AlignmentsTotal,
		m.AlignmentDuration,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.ClustersBuilt,
		m.ClustersDropped,
		m.QuoteHitsTotal,
	)
	return m
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
