// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// LLMRequestDuration tracks provider call duration.
	LLMRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_request_duration_seconds",
			Help:    "LLM provider call duration",
			Buckets: []float64{.25, .5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"provider", "model", "status"},
	)

	// LLMTokensTotal tracks total LLM tokens processed.
	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Total LLM tokens processed",
		},
		[]string{"model", "direction"},
	)

	// LLMCostTotal tracks the estimated provider spend in USD.
	LLMCostTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_cost_usd_total",
			Help: "Estimated LLM spend in USD",
		},
		[]string{"model"},
	)

	// SSEConnectionsActive tracks active SSE connections.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	// ConversationsTotal tracks total conversations created.
	ConversationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversations_total",
			Help: "Total conversations created",
		},
		[]string{"organization_id", "mode"},
	)

	// MessagesTotal tracks total messages written.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_total",
			Help: "Total messages written",
		},
		[]string{"organization_id", "sender_type", "status"},
	)

	// AgentResponsesTotal tracks agent turns by kind and outcome.
	AgentResponsesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_responses_total",
			Help: "Agent turns by kind (full, acknowledgment) and status",
		},
		[]string{"kind", "status"},
	)

	// RelevanceScores tracks the distribution of relevance scores.
	RelevanceScores = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agent_relevance_score",
			Help:    "Relevance scores produced by the scorer",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		},
	)

	// RelevanceFailuresTotal counts scoring calls that degraded to no-response.
	RelevanceFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agent_relevance_failures_total",
			Help: "Relevance scoring calls that failed and were excluded",
		},
	)

	// InvocationRounds tracks how many rounds each emergent invocation ran.
	InvocationRounds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "orchestrator_invocation_rounds",
			Help:    "Rounds run per emergent invocation",
			Buckets: []float64{0, 1, 2, 3, 4, 5, 8},
		},
	)

	// BroadcastFailuresTotal counts fan-out publish failures.
	BroadcastFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_failures_total",
			Help: "Real-time fan-out publish failures",
		},
		[]string{"channel"},
	)

	// NATSReconnectsTotal counts NATS reconnections.
	NATSReconnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nats_reconnects_total",
			Help: "NATS client reconnections",
		},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordLLMCall records metrics for one provider call.
func RecordLLMCall(provider, model, status string, duration float64, tokensIn, tokensOut int, cost float64) {
	LLMRequestDuration.WithLabelValues(provider, model, status).Observe(duration)
	if status != "success" {
		return
	}
	LLMTokensTotal.WithLabelValues(model, "in").Add(float64(tokensIn))
	LLMTokensTotal.WithLabelValues(model, "out").Add(float64(tokensOut))
	LLMCostTotal.WithLabelValues(model).Add(cost)
}

// RecordAgentResponse records one agent turn.
func RecordAgentResponse(kind, status string) {
	AgentResponsesTotal.WithLabelValues(kind, status).Inc()
}

// IncrementSSEConnections increments the active SSE connection count.
func IncrementSSEConnections() {
	SSEConnectionsActive.Inc()
}

// DecrementSSEConnections decrements the active SSE connection count.
func DecrementSSEConnections() {
	SSEConnectionsActive.Dec()
}
