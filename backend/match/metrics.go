package match

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	compatibilityTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "match_compatibility_total",
			Help: "Compatibility verdicts served, by source",
		},
		[]string{"source"},
	)

	fallbackTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "match_llm_fallback_total",
			Help: "LLM calls that fell back to local answers",
		},
		[]string{"operation"},
	)

	llmDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "match_llm_call_duration_seconds",
			Help:    "Duration of LLM calls in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 8),
		},
		[]string{"operation"},
	)
)
