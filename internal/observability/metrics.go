package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// -- Prometheus Metrics --

var (
	// stageDuration measures each pipeline stage.
	// Labels: stage (retrieve, reflect, expand, ...), status (ok, error)
	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "lancet",
		Subsystem: "pipeline",
		Name:      "stage_duration_seconds",
		Help:      "Duration of pipeline stages in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	}, []string{"stage", "status"})

	// requestsTotal counts finished requests by outcome (answered, no_plan, error).
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lancet",
		Subsystem: "pipeline",
		Name:      "requests_total",
		Help:      "Total pipeline requests by outcome.",
	}, []string{"outcome"})

	// llmCallsTotal counts LLM calls by tier and status.
	llmCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lancet",
		Subsystem: "llm",
		Name:      "calls_total",
		Help:      "Total number of LLM API calls.",
	}, []string{"model", "status"})

	llmCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "lancet",
		Subsystem: "llm",
		Name:      "call_duration_seconds",
		Help:      "Duration of LLM API calls in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"model"})

	llmTokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lancet",
		Subsystem: "llm",
		Name:      "tokens_total",
		Help:      "Total tokens consumed by LLM calls.",
	}, []string{"model", "direction"})

	// planStepsTotal counts plan steps by terminal status (completed, failed, skipped).
	planStepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lancet",
		Subsystem: "execution",
		Name:      "plan_steps_total",
		Help:      "Plan steps by terminal status.",
	}, []string{"status"})

	recoveryAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "lancet",
		Subsystem: "execution",
		Name:      "recovery_attempts_total",
		Help:      "LLM-guided recovery attempts after a failed step.",
	})

	// embeddingCacheTotal counts persisted-embedding lookups (hit, miss).
	embeddingCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lancet",
		Subsystem: "embedding",
		Name:      "cache_lookups_total",
		Help:      "Entry embedding cache lookups by result.",
	}, []string{"result"})
)

// Step statuses.
const (
	StepCompleted = "completed"
	StepFailed    = "failed"
	StepSkipped   = "skipped"
)

// Request outcomes.
const (
	OutcomeAnswered = "answered"
	OutcomeNoPlan   = "no_plan"
	OutcomeError    = "error"
)

// ObserveStage records a stage duration.
func ObserveStage(stage string, err error, d time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	stageDuration.WithLabelValues(stage, status).Observe(d.Seconds())
}

// RecordRequest counts a finished request.
func RecordRequest(outcome string) {
	requestsTotal.WithLabelValues(outcome).Inc()
}

// RecordLLMCall records one LLM round trip.
func RecordLLMCall(model string, err error, d time.Duration, promptTokens, outputTokens int) {
	status := "success"
	if err != nil {
		status = "error"
	}
	llmCallsTotal.WithLabelValues(model, status).Inc()
	llmCallDuration.WithLabelValues(model).Observe(d.Seconds())
	if promptTokens > 0 {
		llmTokensTotal.WithLabelValues(model, "input").Add(float64(promptTokens))
	}
	if outputTokens > 0 {
		llmTokensTotal.WithLabelValues(model, "output").Add(float64(outputTokens))
	}
}

// RecordPlanStep counts a step by terminal status.
func RecordPlanStep(status string) {
	planStepsTotal.WithLabelValues(status).Inc()
}

// RecordRecoveryAttempt counts a recovery attempt.
func RecordRecoveryAttempt() {
	recoveryAttemptsTotal.Inc()
}

// RecordCacheLookup counts an embedding cache lookup.
func RecordCacheLookup(hit bool) {
	if hit {
		embeddingCacheTotal.WithLabelValues("hit").Inc()
		return
	}
	embeddingCacheTotal.WithLabelValues("miss").Inc()
}
