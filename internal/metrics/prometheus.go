package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TurnDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "voicerag_turn_duration_seconds",
			Help:    "End-to-end turn processing duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
	)

	TurnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voicerag_turns_total",
			Help: "Total turns processed",
		},
		[]string{"status"},
	)

	PersonaElicitations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "voicerag_persona_elicitations_total",
			Help: "Total persona choice prompts emitted",
		},
	)

	FeedbackTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voicerag_feedback_total",
			Help: "Total feedback submissions by satisfaction rating",
		},
		[]string{"satisfaction"},
	)

	RerankBoost = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "voicerag_rerank_boost",
			Help:    "Boost factors applied during feedback reranking",
			Buckets: []float64{0.5, 0.75, 0.9, 1.0, 1.1, 1.25, 1.5},
		},
	)

	EmbeddingCacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voicerag_embedding_cache_total",
			Help: "Embedding cache lookups by outcome",
		},
		[]string{"outcome"},
	)

	VectorResultsCount = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "voicerag_vector_results_count",
			Help:    "Number of candidate passages per retrieval",
			Buckets: []float64{0, 1, 2, 5, 10, 20},
		},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voicerag_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"model", "type"},
	)
)

func Init() {
	prometheus.MustRegister(TurnDuration)
	prometheus.MustRegister(TurnsTotal)
	prometheus.MustRegister(PersonaElicitations)
	prometheus.MustRegister(FeedbackTotal)
	prometheus.MustRegister(RerankBoost)
	prometheus.MustRegister(EmbeddingCacheHits)
	prometheus.MustRegister(VectorResultsCount)
	prometheus.MustRegister(LLMTokensUsed)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
