// Package metrics exposes the process-wide metrics registry. The registry is
// created once at startup and passed by handle into the scheduler, decomposer,
// and feedback loop rather than accessed as ambient global state.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every collector the orchestration core emits.
type Registry struct {
	reg *prometheus.Registry

	taskDuration   *prometheus.HistogramVec
	toolCalls      *prometheus.CounterVec
	toolResults    *prometheus.CounterVec
	taskRetries    *prometheus.CounterVec
	guardrailBlock *prometheus.CounterVec

	decompDuration *prometheus.HistogramVec
	fallbacks      *prometheus.CounterVec

	llmTokens *prometheus.CounterVec
	llmCost   *prometheus.CounterVec

	feedback *prometheus.CounterVec
}

// New creates a registry with all collectors registered.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kubepilot_task_duration_seconds",
			Help:    "Execution duration of one task attempt.",
			Buckets: prometheus.DefBuckets,
		}, []string{"plan_id", "task_id", "tool", "goal_category", "priority"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kubepilot_tool_calls_total",
			Help: "Tool invocations dispatched to the cluster.",
		}, []string{"tool", "goal_category"}),
		toolResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kubepilot_tool_results_total",
			Help: "Tool invocation outcomes.",
		}, []string{"tool", "goal_category", "success"}),
		taskRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kubepilot_task_retries_total",
			Help: "Task execution retries.",
		}, []string{"plan_id", "task_id"}),
		guardrailBlock: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kubepilot_guardrail_blocks_total",
			Help: "Tasks denied by the guardrail engine.",
		}, []string{"goal_category", "risk"}),
		decompDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kubepilot_decomposition_duration_seconds",
			Help:    "Time spent decomposing a goal into a plan.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "goal_category"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kubepilot_fallback_decompositions_total",
			Help: "Plans produced by the deterministic template fallback.",
		}, []string{"goal_category"}),
		llmTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kubepilot_llm_tokens_total",
			Help: "LLM tokens consumed by the decomposition provider.",
		}, []string{"model", "direction"}),
		llmCost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kubepilot_llm_cost_dollars_total",
			Help: "Estimated LLM spend in dollars.",
		}, []string{"model"}),
		feedback: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kubepilot_feedback_total",
			Help: "Collected feedback by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		r.taskDuration, r.toolCalls, r.toolResults, r.taskRetries, r.guardrailBlock,
		r.decompDuration, r.fallbacks, r.llmTokens, r.llmCost, r.feedback,
	)
	return r
}

// Handler returns the scrape endpoint for this registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry for tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// Close is the explicit shutdown step. Pull-based collectors have nothing to
// flush; the method exists so callers shut the registry down deliberately.
func (r *Registry) Close() error {
	return nil
}

// ObserveTaskDuration records one task execution attempt.
func (r *Registry) ObserveTaskDuration(planID, taskID, tool, category string, priority int, d time.Duration) {
	r.taskDuration.WithLabelValues(planID, taskID, tool, category, strconv.Itoa(priority)).Observe(d.Seconds())
}

// RecordToolCall counts one dispatch to the tool invoker.
func (r *Registry) RecordToolCall(tool, category string) {
	r.toolCalls.WithLabelValues(tool, category).Inc()
}

// RecordToolResult counts one tool outcome.
func (r *Registry) RecordToolResult(tool, category string, success bool) {
	r.toolResults.WithLabelValues(tool, category, strconv.FormatBool(success)).Inc()
}

// RecordRetry counts one retry of a task.
func (r *Registry) RecordRetry(planID, taskID string) {
	r.taskRetries.WithLabelValues(planID, taskID).Inc()
}

// RecordGuardrailBlock counts one guardrail denial.
func (r *Registry) RecordGuardrailBlock(category, risk string) {
	r.guardrailBlock.WithLabelValues(category, risk).Inc()
}

// ObserveDecomposition records how long a decomposition took.
func (r *Registry) ObserveDecomposition(method, category string, d time.Duration) {
	r.decompDuration.WithLabelValues(method, category).Observe(d.Seconds())
}

// RecordFallback counts one fallback decomposition.
func (r *Registry) RecordFallback(category string) {
	r.fallbacks.WithLabelValues(category).Inc()
}

// RecordLLMTokens counts provider token usage.
func (r *Registry) RecordLLMTokens(model string, input, output int64) {
	r.llmTokens.WithLabelValues(model, "input").Add(float64(input))
	r.llmTokens.WithLabelValues(model, "output").Add(float64(output))
}

// RecordLLMCost adds estimated spend for a provider call.
func (r *Registry) RecordLLMCost(model string, dollars float64) {
	r.llmCost.WithLabelValues(model).Add(dollars)
}

// RecordFeedback counts one collected feedback result.
func (r *Registry) RecordFeedback(result string) {
	r.feedback.WithLabelValues(result).Inc()
}
