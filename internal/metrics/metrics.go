// Package metrics defines the service's Prometheus instruments.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Embedding metrics.
var (
	EmbeddingRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "siftd",
			Name:      "embedding_requests_total",
			Help:      "Total number of embedding API requests",
		},
		[]string{"provider", "model", "status"},
	)

	EmbeddingRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "siftd",
			Name:      "embedding_request_duration_seconds",
			Help:      "Embedding API request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"provider", "model"},
	)

	EmbeddingTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "siftd",
			Name:      "embedding_tokens_total",
			Help:      "Total embedding tokens consumed",
		},
		[]string{"provider", "model", "type"},
	)

	EmbeddingRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "siftd",
			Name:      "embedding_retries_total",
			Help:      "Total embedding request retries",
		},
		[]string{"provider", "model"},
	)

	EmbeddingCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "siftd",
			Name:      "embedding_cache_total",
			Help:      "Embedding cache hits and misses",
		},
		[]string{"tier", "result"}, // tier: "lru"/"store", result: "hit"/"miss"
	)
)

// Indexing metrics.
var (
	IndexFilesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "siftd",
			Name:      "index_files_total",
			Help:      "Files submitted for indexing by outcome",
		},
		[]string{"outcome"}, // "indexed" / "unchanged" / "error"
	)

	IndexChunksWritten = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "siftd",
			Name:      "index_chunks_written_total",
			Help:      "Chunk records written to the content index",
		},
	)

	QueryRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "siftd",
			Name:      "query_requests_total",
			Help:      "Similarity queries by outcome",
		},
		[]string{"outcome"}, // "ok" / "error"
	)
)

// Lock coordination metrics.
var (
	LocksHeld = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "siftd",
			Name:      "locks_held",
			Help:      "Resources currently locked",
		},
	)

	LockAcquireTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "siftd",
			Name:      "lock_acquire_total",
			Help:      "Lock acquisition attempts by result",
		},
		[]string{"result"}, // "granted" / "contended"
	)
)

var registered bool

// Register registers all service metrics. Must be called once from main.
func Register() {
	if registered {
		return
	}
	prometheus.MustRegister(
		EmbeddingRequestsTotal,
		EmbeddingRequestDuration,
		EmbeddingTokensTotal,
		EmbeddingRetriesTotal,
		EmbeddingCacheTotal,
		IndexFilesTotal,
		IndexChunksWritten,
		QueryRequestsTotal,
		LocksHeld,
		LockAcquireTotal,
	)
	registered = true
}
