package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Knowledge engine metrics
var (
	// Embedding metrics
	EncodeRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resolvekb_encode_requests_total",
			Help: "Total number of encoder invocations",
		},
		[]string{"status"},
	)

	EncodeTextsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "resolvekb_encode_texts_total",
			Help: "Total number of texts sent to the encoder",
		},
	)

	EncodeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "resolvekb_encode_duration_seconds",
			Help:    "Encoder call duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		},
	)

	EmbeddingCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resolvekb_embedding_cache_total",
			Help: "Embedding cache lookups",
		},
		[]string{"result"}, // result: hit/miss/error
	)

	ModelLoadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resolvekb_model_loads_total",
			Help: "Total number of embedding model load attempts",
		},
		[]string{"status"},
	)

	// Knowledge store metrics
	StoreMutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resolvekb_store_mutations_total",
			Help: "Knowledge base mutations by operation and outcome",
		},
		[]string{"operation", "outcome"}, // outcome: accepted/duplicate/rejected/failed
	)

	StoreIncidents = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "resolvekb_store_incidents",
			Help: "Number of incidents in the published knowledge base",
		},
	)

	StoreVersion = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "resolvekb_store_version",
			Help: "Version of the published knowledge base",
		},
	)

	StoreCorruptLoadsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "resolvekb_store_corrupt_loads_total",
			Help: "Loads that found a corrupted persisted knowledge base",
		},
	)

	PersistDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "resolvekb_persist_duration_seconds",
			Help:    "Knowledge base save duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
	)

	// Retrieval metrics
	SuggestionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resolvekb_suggestions_total",
			Help: "Resolution lookups by result status",
		},
		[]string{"status"}, // status: matched/no_confident_match/error
	)

	SuggestionBestScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "resolvekb_suggestion_best_score",
			Help:    "Best similarity score per lookup",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		},
	)

	// Clustering metrics
	ClusterRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resolvekb_cluster_runs_total",
			Help: "Clustering passes by outcome",
		},
		[]string{"status"},
	)

	ClusterNoiseRatio = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "resolvekb_cluster_noise_ratio",
			Help:    "Share of batch items labeled noise",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		},
	)

	ClustersFound = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "resolvekb_clusters_found",
			Help:    "Number of non-noise clusters per pass",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8),
		},
	)
)

// Status label values shared by the counters above
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// StatusOf maps an error to a status label
func StatusOf(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusSuccess
}

// WriteTextfile writes every registered metric to path in the Prometheus text
// format, for pickup by the node exporter textfile collector.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}
