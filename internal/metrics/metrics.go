package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pq_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pq_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	ContextCacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pq_memory_context_cache_lookups_total",
			Help: "Context cache lookups by result (hit or miss).",
		},
		[]string{"result"},
	)

	ContextLevelSelected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pq_memory_context_level_total",
			Help: "Context assemblies by selected level.",
		},
		[]string{"level"},
	)

	ContextTruncations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pq_memory_context_truncations_total",
			Help: "Assembled contexts cut to the plan token budget.",
		},
	)

	ContextAssemblyFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pq_memory_context_failures_total",
			Help: "Context assemblies that failed and served no personalization.",
		},
	)

	ExtractionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pq_memory_extractions_total",
			Help: "Extraction runs by outcome.",
		},
		[]string{"outcome"},
	)

	FactsSaved = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pq_memory_facts_saved_total",
			Help: "Facts written by extraction.",
		},
	)

	FactsRejected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pq_memory_facts_rejected_total",
			Help: "Extracted facts dropped by validation.",
		},
	)

	FactsPruned = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pq_memory_facts_pruned_total",
			Help: "Facts deleted by plan limits or retention.",
		},
		[]string{"reason"},
	)

	ExtractionJobsQueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pq_memory_extraction_jobs_queued_total",
			Help: "Extraction jobs accepted by the API, by transport.",
		},
		[]string{"transport"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ContextCacheLookups,
		ContextLevelSelected,
		ContextTruncations,
		ContextAssemblyFailures,
		ExtractionsTotal,
		FactsSaved,
		FactsRejected,
		FactsPruned,
		ExtractionJobsQueued,
	)
}
