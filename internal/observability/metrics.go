package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting application metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - Agent turn throughput and step counts
//   - LLM request performance and token consumption
//   - Tool execution patterns and latencies
//   - Sandbox lifecycle transitions and boot times
//   - Dev-server start outcomes and readiness latency
//   - Error rates categorized by type and component
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.RecordToolExecution("writeFile", "success", time.Since(start).Seconds())
type Metrics struct {
	// TurnCounter counts orchestrator turns by outcome.
	// Labels: outcome (completed|cancelled|error)
	TurnCounter *prometheus.CounterVec

	// TurnSteps measures how many steps each turn used.
	// Buckets: 1, 2, 3, 5, 8, 13, 21, 34
	TurnSteps prometheus.Histogram

	// LLMRequestDuration measures LLM API call latency in seconds.
	// Labels: provider, model
	// Buckets: 0.1s, 0.5s, 1s, 2s, 5s, 10s, 30s, 60s
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM requests by provider and model.
	// Labels: provider, model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (prompt|completion)
	LLMTokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	// Buckets: 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s, 10s, 30s, 60s
	ToolExecutionDuration *prometheus.HistogramVec

	// SandboxTransitions counts sandbox state-machine transitions.
	// Labels: from, event, to
	SandboxTransitions *prometheus.CounterVec

	// SandboxBootDuration measures VM create-to-active time in seconds.
	// Buckets: 0.5s, 1s, 2s, 5s, 10s, 15s, 30s, 60s
	SandboxBootDuration prometheus.Histogram

	// ActiveSandboxes is a gauge of sandboxes currently active or paused.
	ActiveSandboxes prometheus.Gauge

	// DevServerStarts counts dev-server start attempts by outcome.
	// Labels: outcome (started|already_running|timeout|error)
	DevServerStarts *prometheus.CounterVec

	// DevServerReadyDuration measures start-to-listening time in seconds.
	// Buckets: 0.5s, 1s, 2s, 5s, 10s, 15s, 30s
	DevServerReadyDuration prometheus.Histogram

	// FilesWritten counts files pushed into sandboxes.
	// Labels: status (created|updated)
	FilesWritten *prometheus.CounterVec

	// ErrorCounter tracks errors by type and component.
	// Labels: component (orchestrator|sandbox|devserver|contextstore|tool), error_type
	ErrorCounter *prometheus.CounterVec

	// DatabaseQueryDuration measures durable-store query latency.
	// Labels: operation (select|insert|update|delete), table
	// Buckets: 0.001s, 0.005s, 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s
	DatabaseQueryDuration *prometheus.HistogramVec

	// DatabaseQueryCounter counts durable-store queries.
	// Labels: operation, table, status (success|error)
	DatabaseQueryCounter *prometheus.CounterVec

	// RunAttempts counts sandbox provisioning attempts (for retry tracking).
	// Labels: status (success|retry|failed)
	RunAttempts *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
// This should be called once at application startup.
//
// All metrics are automatically registered with Prometheus's default registry
// and will be available at the /metrics endpoint when using prometheus HTTP handler.
func NewMetrics() *Metrics {
	return &Metrics{
		TurnCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forgekit_turns_total",
				Help: "Total number of orchestrator turns by outcome",
			},
			[]string{"outcome"},
		),

		TurnSteps: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "forgekit_turn_steps",
				Help:    "Steps used per orchestrator turn",
				Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 34},
			},
		),

		LLMRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "forgekit_llm_request_duration_seconds",
				Help:    "Duration of LLM API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		LLMRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forgekit_llm_requests_total",
				Help: "Total number of LLM requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		LLMTokensUsed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forgekit_llm_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),

		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forgekit_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "forgekit_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),

		SandboxTransitions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forgekit_sandbox_transitions_total",
				Help: "Sandbox state machine transitions by from-state, event, and to-state",
			},
			[]string{"from", "event", "to"},
		),

		SandboxBootDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "forgekit_sandbox_boot_duration_seconds",
				Help:    "Time from VM create to active in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 15, 30, 60},
			},
		),

		ActiveSandboxes: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "forgekit_active_sandboxes",
				Help: "Current number of active or paused sandboxes",
			},
		),

		DevServerStarts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forgekit_devserver_starts_total",
				Help: "Dev-server start attempts by outcome",
			},
			[]string{"outcome"},
		),

		DevServerReadyDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "forgekit_devserver_ready_duration_seconds",
				Help:    "Time from dev-server start to a listening port in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 15, 30},
			},
		),

		FilesWritten: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forgekit_files_written_total",
				Help: "Files written into sandboxes by status",
			},
			[]string{"status"},
		),

		ErrorCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forgekit_errors_total",
				Help: "Total number of errors by component and error type",
			},
			[]string{"component", "error_type"},
		),

		DatabaseQueryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "forgekit_database_query_duration_seconds",
				Help:    "Duration of durable-store queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"operation", "table"},
		),

		DatabaseQueryCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forgekit_database_queries_total",
				Help: "Total number of durable-store queries",
			},
			[]string{"operation", "table", "status"},
		),

		RunAttempts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forgekit_sandbox_provision_attempts_total",
				Help: "Sandbox provisioning attempts by status",
			},
			[]string{"status"},
		),
	}
}

// RecordTurn records an orchestrator turn's outcome and step count.
func (m *Metrics) RecordTurn(outcome string, steps int) {
	m.TurnCounter.WithLabelValues(outcome).Inc()
	m.TurnSteps.Observe(float64(steps))
}

// RecordLLMRequest records metrics for an LLM API request.
//
// Example:
//
//	start := time.Now()
//	// ... make LLM request ...
//	metrics.RecordLLMRequest("anthropic", "claude-sonnet", "success", time.Since(start).Seconds(), 100, 500)
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64, promptTokens, completionTokens int) {
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if promptTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordToolExecution records metrics for a tool execution.
//
// Example:
//
//	start := time.Now()
//	// ... execute tool ...
//	metrics.RecordToolExecution("writeFile", "success", time.Since(start).Seconds())
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordSandboxTransition records one accepted state-machine transition.
//
// Example:
//
//	metrics.RecordSandboxTransition("creating", "CREATED", "active")
func (m *Metrics) RecordSandboxTransition(from, event, to string) {
	m.SandboxTransitions.WithLabelValues(from, event, to).Inc()
}

// RecordSandboxBoot records a VM reaching active and its boot latency.
func (m *Metrics) RecordSandboxBoot(durationSeconds float64) {
	m.SandboxBootDuration.Observe(durationSeconds)
	m.ActiveSandboxes.Inc()
}

// RecordSandboxReleased records a sandbox leaving active/paused.
func (m *Metrics) RecordSandboxReleased() {
	m.ActiveSandboxes.Dec()
}

// RecordDevServerStart records a dev-server start attempt.
//
// Example:
//
//	metrics.RecordDevServerStart("started", 4.2)
//	metrics.RecordDevServerStart("timeout", 15.0)
func (m *Metrics) RecordDevServerStart(outcome string, durationSeconds float64) {
	m.DevServerStarts.WithLabelValues(outcome).Inc()
	if outcome == "started" {
		m.DevServerReadyDuration.Observe(durationSeconds)
	}
}

// RecordFilesWritten records files pushed into a sandbox by status.
func (m *Metrics) RecordFilesWritten(created, updated int) {
	if created > 0 {
		m.FilesWritten.WithLabelValues("created").Add(float64(created))
	}
	if updated > 0 {
		m.FilesWritten.WithLabelValues("updated").Add(float64(updated))
	}
}

// RecordError increments the error counter for a given component and error type.
//
// Example:
//
//	metrics.RecordError("sandbox", "provider_unavailable")
//	metrics.RecordError("devserver", "ready_timeout")
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}

// RecordDatabaseQuery records metrics for a durable-store query.
//
// Example:
//
//	start := time.Now()
//	// ... execute database query ...
//	metrics.RecordDatabaseQuery("select", "agent_context", "success", time.Since(start).Seconds())
func (m *Metrics) RecordDatabaseQuery(operation, table, status string, durationSeconds float64) {
	m.DatabaseQueryCounter.WithLabelValues(operation, table, status).Inc()
	m.DatabaseQueryDuration.WithLabelValues(operation, table).Observe(durationSeconds)
}

// RecordRunAttempt records a sandbox provisioning attempt.
//
// Example:
//
//	metrics.RecordRunAttempt("success")
//	metrics.RecordRunAttempt("retry")
//	metrics.RecordRunAttempt("failed")
func (m *Metrics) RecordRunAttempt(status string) {
	m.RunAttempts.WithLabelValues(status).Inc()
}
