package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MessageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trackbot_message_duration_seconds",
			Help:    "Chat message processing duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"intent"},
	)

	MessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trackbot_messages_total",
			Help: "Total number of chat messages processed",
		},
		[]string{"intent", "status"},
	)

	ClassifierFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trackbot_classifier_failures_total",
			Help: "Classifier failures by kind",
		},
		[]string{"kind"},
	)

	ProjectMatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trackbot_project_matches_total",
			Help: "Fuzzy project resolutions by outcome",
		},
		[]string{"outcome"},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trackbot_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"model", "type"},
	)

	VectorResultsCount = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "trackbot_vector_results_count",
			Help:    "Number of vector results per query",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50, 100},
		},
	)

	SyncRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trackbot_sync_runs_total",
			Help: "Index rebuilds by outcome",
		},
		[]string{"outcome"},
	)

	SyncDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "trackbot_sync_duration_seconds",
			Help:    "Index rebuild duration in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
		},
	)

	SyncCoalesced = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "trackbot_sync_schedules_coalesced_total",
			Help: "Schedule calls that pushed back an already pending rebuild",
		},
	)

	DocumentsIndexed = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "trackbot_documents_indexed",
			Help: "Documents written by the last successful rebuild",
		},
	)

	EmbeddingRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "trackbot_embedding_retries_total",
			Help: "Embedding batch retries after a rate limit",
		},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trackbot_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trackbot_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)
)

var registerOnce sync.Once

// Init registers the collectors with the default registry. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			MessageDuration,
			MessagesTotal,
			ClassifierFailures,
			ProjectMatches,
			LLMTokensUsed,
			VectorResultsCount,
			SyncRuns,
			SyncDuration,
			SyncCoalesced,
			DocumentsIndexed,
			EmbeddingRetries,
			CacheHits,
			CacheMisses,
		)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
