// Package orchestrator implements the Agent Orchestrator: the streaming
// tool-calling step loop that drives a project from a user request to a
// finished turn, gating which tools are active per step, repairing
// malformed tool calls before execution, and compressing the transcript
// once it grows long.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/forgekit/agentcore/internal/agent"
	"github.com/forgekit/agentcore/internal/contextstore"
	"github.com/forgekit/agentcore/internal/jobs"
	"github.com/forgekit/agentcore/internal/observability"
	"github.com/forgekit/agentcore/internal/tools/project"
	"github.com/forgekit/agentcore/pkg/models"
)

const defaultMaxSteps = 25

// Config wires an Orchestrator to the components it drives.
type Config struct {
	Provider agent.LLMProvider
	Registry *agent.ToolRegistry
	ToolExec *agent.ToolExecutor
	Store    contextstore.Store

	Model    string
	System   string
	MaxSteps int
	Logger   *slog.Logger

	// Options carries the tool-policy knobs (approval gate, result guard,
	// async job dispatch, per-turn tool budget). Zero fields fall back to
	// agent.DefaultRuntimeOptions.
	Options agent.RuntimeOptions

	// Sink, when set, receives agent lifecycle events (run/step/tool) for
	// tracing and live streaming.
	Sink agent.EventSink
}

// Orchestrator runs one project turn at a time: build a request scoped to
// the current step's active tools, call the model, execute any tool calls
// it asks for, and repeat until the model stops calling tools or the step
// budget runs out.
type Orchestrator struct {
	provider agent.LLMProvider
	registry *agent.ToolRegistry
	toolExec *agent.ToolExecutor
	store    contextstore.Store

	model    string
	system   string
	maxSteps int
	opts     agent.RuntimeOptions
	sink     agent.EventSink
	logger   *slog.Logger
	tracer   trace.Tracer
}

// New returns a ready-to-use Orchestrator.
func New(cfg Config) *Orchestrator {
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = defaultMaxSteps
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Orchestrator{
		provider: cfg.Provider,
		registry: cfg.Registry,
		toolExec: cfg.ToolExec,
		store:    cfg.Store,
		model:    cfg.Model,
		system:   cfg.System,
		maxSteps: cfg.MaxSteps,
		opts:     agent.MergeRuntimeOptions(agent.DefaultRuntimeOptions(), cfg.Options),
		sink:     cfg.Sink,
		logger:   cfg.Logger,
		tracer:   otel.Tracer("forgekit/orchestrator"),
	}
}

// RunOptions scopes a single orchestrator run to one project turn.
type RunOptions struct {
	ProjectID   string
	UserMessage string
	// History, if non-empty, seeds the transcript before UserMessage. Pass
	// the project's prior turns to continue a conversation.
	History []*models.Message
}

// RunResult is the terminal outcome of a run.
type RunResult struct {
	Messages      []*models.Message
	StepsUsed     int
	ToolCallsUsed int
	Cancelled     bool
}

// Run drives the step loop to completion (or cancellation, or the step
// budget running out) and returns the full resulting transcript.
func (o *Orchestrator) Run(ctx context.Context, opts RunOptions) (*RunResult, error) {
	if opts.ProjectID == "" {
		return nil, fmt.Errorf("orchestrator: project id is required")
	}
	ctx = project.WithProjectID(ctx, opts.ProjectID)

	runID := uuid.NewString()
	ctx = observability.AddProjectID(ctx, opts.ProjectID)
	ctx = observability.AddRunID(ctx, runID)
	started := time.Now()
	emitter := agent.NewEventEmitter(runID, o.sink)
	finish := func(result *RunResult, outcome string) {
		observability.EmitTurnFinished(&observability.TurnFinishedEvent{
			RunID:      runID,
			ProjectID:  opts.ProjectID,
			Steps:      result.StepsUsed,
			ToolCalls:  result.ToolCallsUsed,
			Outcome:    outcome,
			DurationMs: time.Since(started).Milliseconds(),
		})
	}
	ctx, runSpan := o.tracer.Start(ctx, "agent.turn", trace.WithAttributes(
		attribute.String("project.id", opts.ProjectID),
		attribute.String("llm.model", o.model),
	))
	defer runSpan.End()
	emitter.RunStarted(ctx)

	if len(opts.History) == 0 {
		if err := o.applyTitleDerivation(ctx, opts.ProjectID, opts.UserMessage); err != nil {
			o.logger.Warn("orchestrator: title derivation failed", "project_id", opts.ProjectID, "error", err)
		}
	}

	history := append([]*models.Message{}, opts.History...)
	history = append(history, &models.Message{
		ID:        uuid.NewString(),
		ProjectID: opts.ProjectID,
		Role:      models.RoleUser,
		Content:   opts.UserMessage,
		CreatedAt: time.Now(),
	})

	result := &RunResult{}

	for step := 0; step < o.maxSteps; step++ {
		select {
		case <-ctx.Done():
			result.Cancelled = true
			result.Messages = history
			emitter.RunCancelled(ctx)
			finish(result, "cancelled")
			return result, ctx.Err()
		default:
		}

		ctxt, err := o.store.Get(ctx, opts.ProjectID)
		if err != nil {
			result.Messages = history
			emitter.RunError(ctx, err, false)
			finish(result, "error")
			return result, fmt.Errorf("orchestrator: load project state: %w", err)
		}

		history = o.compress(history)

		emitter.SetIter(step)
		emitter.IterStarted(ctx)
		stepCtx, stepSpan := o.tracer.Start(ctx, "agent.step", trace.WithAttributes(
			attribute.Int("step.number", step),
		))

		req := o.buildRequest(ctxt, step, history)
		assistant, err := o.complete(stepCtx, req)
		if err != nil {
			stepSpan.End()
			result.Messages = history
			emitter.RunError(ctx, err, true)
			finish(result, "error")
			return result, fmt.Errorf("orchestrator: model completion: %w", err)
		}
		emitter.ModelCompleted(stepCtx, o.provider.Name(), o.model, 0, 0)
		assistant.ID = uuid.NewString()
		assistant.ProjectID = opts.ProjectID
		assistant.CreatedAt = time.Now()
		history = append(history, assistant)
		result.StepsUsed++

		if len(assistant.ToolCalls) == 0 {
			stepSpan.End()
			emitter.IterFinished(ctx)
			break
		}

		history = append(history, o.runTools(stepCtx, opts.ProjectID, assistant.ToolCalls, emitter, &result.ToolCallsUsed))
		stepSpan.End()
		emitter.IterFinished(ctx)
	}

	history = ensureFinalText(opts.ProjectID, history)
	result.Messages = history
	emitter.RunFinished(ctx, nil)
	finish(result, "completed")
	return result, nil
}

// runTools repairs, gates, executes, and records one assistant step's tool
// calls, returning the resulting tool-role message. Gating happens before
// execution: per-turn budget, approval policy, and async dispatch each turn
// a call into an immediate result instead of an execution.
func (o *Orchestrator) runTools(ctx context.Context, projectID string, calls []models.ToolCall, emitter *agent.EventEmitter, used *int) *models.Message {
	repaired, rejected := o.repairToolCalls(calls)
	toolResults := append([]models.ToolResult{}, rejected...)

	runnable := make([]models.ToolCall, 0, len(repaired))
	for _, call := range repaired {
		if o.opts.MaxToolCalls > 0 && *used >= o.opts.MaxToolCalls {
			toolResults = append(toolResults, models.ToolResult{
				ToolCallID: call.ID,
				Content:    fmt.Sprintf("tool call budget of %d exhausted for this turn", o.opts.MaxToolCalls),
				IsError:    true,
			})
			continue
		}
		*used++

		if o.opts.ApprovalChecker != nil {
			decision, reason := o.opts.ApprovalChecker.Check(ctx, projectID, call)
			if decision != agent.ApprovalAllowed {
				msg := "tool call denied by approval policy"
				if decision == agent.ApprovalPending {
					msg = "tool call requires approval"
				}
				if reason != "" {
					msg += ": " + reason
				}
				toolResults = append(toolResults, models.ToolResult{ToolCallID: call.ID, Content: msg, IsError: true})
				continue
			}
		}

		if o.opts.JobStore != nil && agent.MatchesToolPatterns(o.opts.AsyncTools, call.Name) {
			toolResults = append(toolResults, o.dispatchAsync(ctx, projectID, call))
			continue
		}

		runnable = append(runnable, call)
	}

	if len(runnable) > 0 {
		for _, call := range runnable {
			emitter.ToolStarted(ctx, call.ID, call.Name, call.Input)
		}
		execResults := o.toolExec.ExecuteConcurrently(ctx, runnable, nil)
		for _, er := range execResults {
			guarded := o.opts.ToolResultGuard.Apply(er.ToolCall.Name, er.Result)
			toolResults = append(toolResults, guarded)
			emitter.ToolFinished(ctx, er.ToolCall.ID, er.ToolCall.Name, !guarded.IsError, nil, er.EndTime.Sub(er.StartTime))

			record := models.ToolExecution{
				Name:       er.ToolCall.Name,
				Input:      string(er.ToolCall.Input),
				Output:     guarded.Content,
				Success:    !guarded.IsError,
				StartedAt:  er.StartTime,
				DurationMs: er.EndTime.Sub(er.StartTime).Milliseconds(),
			}
			if guarded.IsError {
				record.Error = guarded.Content
				if err := o.store.AppendError(ctx, projectID, fmt.Sprintf("%s: %s", er.ToolCall.Name, guarded.Content)); err != nil {
					o.logger.Warn("orchestrator: failed to append error history", "project_id", projectID, "error", err)
				}
			}
			if err := o.store.AppendToolExecution(ctx, projectID, record); err != nil {
				o.logger.Warn("orchestrator: failed to append tool history", "project_id", projectID, "error", err)
			}
		}
	}

	return &models.Message{
		ID:          uuid.NewString(),
		ProjectID:   projectID,
		Role:        models.RoleTool,
		ToolResults: toolResults,
		CreatedAt:   time.Now(),
	}
}

// dispatchAsync queues call as a background job and returns an immediate
// result carrying the job id. The job runs detached from the turn: turn
// cancellation doesn't kill it, job_cancel does.
func (o *Orchestrator) dispatchAsync(ctx context.Context, projectID string, call models.ToolCall) models.ToolResult {
	job := &jobs.Job{
		ID:         uuid.NewString(),
		ToolName:   call.Name,
		ToolCallID: call.ID,
		Status:     jobs.StatusQueued,
		CreatedAt:  time.Now(),
	}
	if err := o.opts.JobStore.Create(ctx, job); err != nil {
		return models.ToolResult{ToolCallID: call.ID, Content: "failed to queue async job: " + err.Error(), IsError: true}
	}

	jobCtx, cancel := context.WithCancel(project.WithProjectID(context.Background(), projectID))
	if ms, ok := o.opts.JobStore.(*jobs.MemoryStore); ok {
		ms.SetCancelFunc(job.ID, cancel)
	}

	go func() {
		defer cancel()
		job.Status = jobs.StatusRunning
		job.StartedAt = time.Now()
		_ = o.opts.JobStore.Update(jobCtx, job)

		results := o.toolExec.ExecuteSequentially(jobCtx, []models.ToolCall{call})
		r := o.opts.ToolResultGuard.Apply(call.Name, results[0].Result)

		// job_cancel may have marked the job failed while we ran; don't
		// resurrect it.
		if current, err := o.opts.JobStore.Get(context.Background(), job.ID); err == nil && current != nil && current.Status == jobs.StatusFailed {
			return
		}
		job.Result = &r
		job.FinishedAt = time.Now()
		if r.IsError {
			job.Status = jobs.StatusFailed
			job.Error = r.Content
		} else {
			job.Status = jobs.StatusSucceeded
		}
		_ = o.opts.JobStore.Update(context.Background(), job)
	}()

	return models.ToolResult{
		ToolCallID: call.ID,
		Content:    fmt.Sprintf("started async job %s for %s; poll job_status with this id to collect the result", job.ID, call.Name),
	}
}

func (o *Orchestrator) buildRequest(ctxt *models.ProjectContext, step int, history []*models.Message) *agent.CompletionRequest {
	return &agent.CompletionRequest{
		Model:     o.model,
		System:    o.system,
		Messages:  toCompletionMessages(history),
		Tools:     o.activeTools(step, ctxt),
		MaxTokens: 4096,
	}
}

func toCompletionMessages(history []*models.Message) []agent.CompletionMessage {
	msgs := make([]agent.CompletionMessage, 0, len(history))
	for _, m := range history {
		msgs = append(msgs, agent.CompletionMessage{
			Role:        string(m.Role),
			Content:     m.Content,
			ToolCalls:   m.ToolCalls,
			ToolResults: m.ToolResults,
			Attachments: m.Attachments,
		})
	}
	return msgs
}

// complete drains the provider's streaming response into a single assistant
// message, aggregating text deltas and collecting every tool call chunk.
func (o *Orchestrator) complete(ctx context.Context, req *agent.CompletionRequest) (*models.Message, error) {
	chunks, err := o.provider.Complete(ctx, req)
	if err != nil {
		return nil, err
	}

	var text strings.Builder
	var calls []models.ToolCall
	for chunk := range chunks {
		if chunk == nil {
			continue
		}
		if chunk.Error != nil {
			return nil, chunk.Error
		}
		if chunk.Text != "" {
			text.WriteString(chunk.Text)
		}
		if chunk.ToolCall != nil {
			calls = append(calls, *chunk.ToolCall)
		}
		if chunk.Done {
			break
		}
	}

	return &models.Message{
		Role:      models.RoleAssistant,
		Content:   text.String(),
		ToolCalls: calls,
	}, nil
}
