package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mira_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mira_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	TurnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mira_turns_total",
		Help: "Completed orchestrated turns",
	}, []string{"status"})

	TurnDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mira_turn_duration_seconds",
		Help:    "End-to-end turn processing duration",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
	})

	LLMRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mira_llm_requests_total",
		Help: "Total LLM requests",
	}, []string{"provider", "model", "status"})

	LLMRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mira_llm_request_duration_seconds",
		Help:    "LLM request duration",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"provider", "model"})

	LLMTokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mira_llm_tokens_total",
		Help: "Token usage reported by providers",
	}, []string{"model", "direction"})

	MemoriesSurfaced = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mira_memories_surfaced",
		Help:    "Memories surfaced per turn",
		Buckets: []float64{0, 1, 2, 4, 8, 12, 16, 24},
	})

	OverflowRemediations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mira_overflow_remediations_total",
		Help: "Context-overflow remediations by tier",
	}, []string{"tier"})

	SegmentsCollapsed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mira_segments_collapsed_total",
		Help: "Segments collapsed into summaries",
	})

	ToolExecutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mira_tool_executions_total",
		Help: "Tool executions by outcome",
	}, []string{"tool", "status"})

	EmbeddingRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mira_embedding_request_duration_seconds",
		Help:    "Embedding encode duration",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
	}, []string{"tier"})
)
