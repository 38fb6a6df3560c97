package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	recommendationRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recommendation_requests_total",
		Help: "Recommendation requests by serving path",
	}, []string{"algorithm"})

	recommendationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "recommendation_latency_seconds",
		Help:    "End-to-end recommendation latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"algorithm"})

	recommendationFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recommendation_fallbacks_total",
		Help: "Degradations absorbed while serving recommendations",
	}, []string{"reason"})

	recommendationCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recommendation_cache_total",
		Help: "Recommendation cache lookups by outcome",
	}, []string{"outcome"})

	interactionsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interactions_recorded_total",
		Help: "Interactions appended to the log",
	}, []string{"type"})

	preferenceUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "preference_updates_total",
		Help: "Preference rows written",
	}, []string{"operation"})

	experimentAssignments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "experiment_assignments_total",
		Help: "Variant assignments served",
	}, []string{"experiment", "variant"})

	experimentMetricsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "experiment_metrics_recorded_total",
		Help: "Experiment metric observations appended",
	}, []string{"experiment", "metric_type"})
)
