package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ModelCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ecoloop_model_calls_total",
			Help: "Generative API calls by feature and outcome",
		},
		[]string{"feature", "outcome"},
	)

	ModelRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ecoloop_model_retries_total",
			Help: "Backoff waits taken after 429/503 replies",
		},
		[]string{"feature", "status"},
	)

	ModelLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ecoloop_model_call_duration_seconds",
			Help:    "Wall time of a generative call including retries",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40},
		},
		[]string{"feature"},
	)

	Fallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ecoloop_fallbacks_total",
			Help: "Heuristic results served instead of model output",
		},
		[]string{"feature", "reason"},
	)

	ClampedFields = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ecoloop_clamped_fields_total",
			Help: "Numeric fields forced into their declared range",
		},
		[]string{"feature", "field"},
	)

	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ecoloop_result_cache_lookups_total",
			Help: "Result cache lookups by feature and hit/miss",
		},
		[]string{"feature", "result"},
	)

	TokensUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ecoloop_model_tokens_total",
			Help: "Tokens reported by the generative API",
		},
		[]string{"feature", "kind"},
	)
)

// ObserveUsage records a usage sample against the token counter.
func ObserveUsage(feature string, u TokenUsage) {
	if u.IsZero() {
		return
	}
	TokensUsed.WithLabelValues(feature, "prompt").Add(float64(u.PromptTokens))
	TokensUsed.WithLabelValues(feature, "completion").Add(float64(u.CompletionTokens))
}
