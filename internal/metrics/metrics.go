package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Write pipeline metrics
	MemoriesWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recall_memories_written_total",
			Help: "Total number of memories persisted",
		},
		[]string{"trust_level"},
	)

	DuplicatesDetected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recall_duplicates_detected_total",
			Help: "Total number of writes auto-marked as duplicate of an existing memory",
		},
	)

	LinksCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recall_memory_links_created_total",
			Help: "Total number of similarity links created during writes",
		},
		[]string{"relation"},
	)

	WriteDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "recall_write_duration_seconds",
			Help:    "End-to-end write pipeline duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Search pipeline metrics
	Searches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recall_searches_total",
			Help: "Total number of semantic searches served",
		},
		[]string{"cache"},
	)

	SearchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "recall_search_duration_seconds",
			Help:    "End-to-end search pipeline duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	RetrievalEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recall_retrieval_events_total",
			Help: "Total number of retrieval events recorded",
		},
	)

	// Rate limiter metrics
	RateLimitDenials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recall_rate_limit_denials_total",
			Help: "Total number of requests denied by the rate limiter",
		},
		[]string{"endpoint"},
	)

	// Embedding provider metrics
	EmbeddingRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recall_embedding_requests_total",
			Help: "Total number of embedding provider calls",
		},
		[]string{"provider", "status"},
	)

	EmbeddingLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "recall_embedding_latency_seconds",
			Help:    "Embedding provider call latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"provider"},
	)

	// HTTP surface metrics
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recall_http_requests_total",
			Help: "Total number of HTTP requests served",
		},
		[]string{"method", "path", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "recall_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Agent metrics
	AgentsRegistered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recall_agents_registered_total",
			Help: "Total number of agents registered",
		},
	)

	AgentsQuarantined = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recall_agents_quarantined_total",
			Help: "Total number of agents quarantined by admins",
		},
	)
)

// RecordWrite records a completed write with its outcome.
func RecordWrite(trustLevel int, durationSeconds float64, duplicate bool) {
	MemoriesWritten.WithLabelValues(trustLabel(trustLevel)).Inc()
	WriteDuration.Observe(durationSeconds)
	if duplicate {
		DuplicatesDetected.Inc()
	}
}

// RecordSearch records a completed search and whether the cache served it.
func RecordSearch(cacheHit bool, durationSeconds float64) {
	if cacheHit {
		Searches.WithLabelValues("hit").Inc()
	} else {
		Searches.WithLabelValues("miss").Inc()
	}
	SearchDuration.Observe(durationSeconds)
}

// RecordEmbedding records one provider round trip.
func RecordEmbedding(provider, status string, durationSeconds float64) {
	EmbeddingRequests.WithLabelValues(provider, status).Inc()
	if durationSeconds > 0 {
		EmbeddingLatency.WithLabelValues(provider).Observe(durationSeconds)
	}
}

func trustLabel(level int) string {
	switch level {
	case 0:
		return "0"
	case 1:
		return "1"
	case 2:
		return "2"
	default:
		return "other"
	}
}
