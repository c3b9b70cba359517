package project

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/forgekit/agentcore/internal/agent"
	"github.com/forgekit/agentcore/pkg/models"
)

// AnalyzeProjectStateTool returns a composite snapshot the orchestrator uses
// to decide which tools to activate for the next step: build status, server
// state, task graph, file count, and dependencies.
type AnalyzeProjectStateTool struct{ deps Deps }

func NewAnalyzeProjectStateTool(deps Deps) *AnalyzeProjectStateTool {
	return &AnalyzeProjectStateTool{deps: deps}
}

func (t *AnalyzeProjectStateTool) Name() string { return "analyzeProjectState" }

func (t *AnalyzeProjectStateTool) Description() string {
	return "Return the project's current build status, dev server state, task graph, and file summary."
}

func (t *AnalyzeProjectStateTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type": "object", "properties": {}}`)
}

func (t *AnalyzeProjectStateTool) Execute(ctx context.Context, _ json.RawMessage) (*agent.ToolResult, error) {
	projectID, err := ProjectIDFromContext(ctx)
	if err != nil {
		return toolError(err.Error()), nil
	}
	ctxt, err := t.deps.Store.Get(ctx, projectID)
	if err != nil {
		return toolError(fmt.Sprintf("load project: %v", err)), nil
	}

	return toolJSON(map[string]any{
		"projectId":      projectID,
		"projectName":    ctxt.ProjectName,
		"fileCount":      len(ctxt.Files),
		"dependencies":   ctxt.Dependencies,
		"buildStatus":    ctxt.BuildStatus,
		"serverState":    ctxt.ServerState,
		"taskGraph":      ctxt.TaskGraph,
		"completedSteps": ctxt.CompletedSteps,
	}), nil
}

// GetBuildStatusTool refreshes the project's build status by asking the Dev
// Server Supervisor for the latest status and persists the result.
type GetBuildStatusTool struct{ deps Deps }

func NewGetBuildStatusTool(deps Deps) *GetBuildStatusTool { return &GetBuildStatusTool{deps: deps} }

func (t *GetBuildStatusTool) Name() string { return "getBuildStatus" }

func (t *GetBuildStatusTool) Description() string {
	return "Check the dev server's latest output for errors and warnings."
}

func (t *GetBuildStatusTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type": "object", "properties": {}}`)
}

func (t *GetBuildStatusTool) Execute(ctx context.Context, _ json.RawMessage) (*agent.ToolResult, error) {
	projectID, err := ProjectIDFromContext(ctx)
	if err != nil {
		return toolError(err.Error()), nil
	}

	status, err := t.deps.DevServer.Status(ctx, projectID)
	if err != nil {
		return toolError(fmt.Sprintf("check dev server: %v", err)), nil
	}

	buildStatus := &models.BuildStatus{
		HasErrors:   len(status.Errors) > 0,
		HasWarnings: false,
		Errors:      status.Errors,
		LastChecked: status.LastChecked,
	}
	serverState := &models.ServerState{
		IsRunning: status.IsRunning,
		Port:      status.Port,
		URL:       status.URL,
	}

	if _, err := t.deps.Store.Update(ctx, projectID, models.ContextPatch{
		BuildStatus: buildStatus,
		ServerState: serverState,
	}); err != nil {
		return toolError(fmt.Sprintf("update context: %v", err)), nil
	}

	return toolJSON(map[string]any{
		"buildStatus": buildStatus,
		"serverState": serverState,
	}), nil
}

// PlanChangesTool replaces the project's task graph with a freshly proposed
// plan. The model supplies only the ordered step titles; task ids are
// generated and each task's dependsOn is derived from its position in the
// array (task i depends on task i-1), so the model cannot hand-wire an
// inconsistent or cyclic graph.
type PlanChangesTool struct{ deps Deps }

func NewPlanChangesTool(deps Deps) *PlanChangesTool { return &PlanChangesTool{deps: deps} }

func (t *PlanChangesTool) Name() string { return "planChanges" }

func (t *PlanChangesTool) Description() string {
	return "Propose the ordered set of steps needed to satisfy the current request."
}

func (t *PlanChangesTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"steps": {
				"type": "array",
				"items": {"type": "string"}
			}
		},
		"required": ["steps"]
	}`)
}

func (t *PlanChangesTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Steps []string `json:"steps"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if len(input.Steps) == 0 {
		return toolError("steps are required"), nil
	}
	projectID, err := ProjectIDFromContext(ctx)
	if err != nil {
		return toolError(err.Error()), nil
	}

	graph := &models.TaskGraph{Tasks: make([]models.Task, 0, len(input.Steps))}
	var previousID string
	for _, title := range input.Steps {
		if title == "" {
			return toolError("every step needs a non-empty title"), nil
		}
		var dependsOn []string
		if previousID != "" {
			dependsOn = []string{previousID}
		}
		id := uuid.NewString()
		graph.Tasks = append(graph.Tasks, models.Task{
			ID:        id,
			Title:     title,
			DependsOn: dependsOn,
			Status:    models.TaskPending,
		})
		previousID = id
	}

	if err := t.deps.Store.SetTaskGraph(ctx, projectID, graph); err != nil {
		return toolError(fmt.Sprintf("set task graph: %v", err)), nil
	}
	return toolJSON(map[string]any{"taskGraph": graph}), nil
}

// MarkStepCompleteTool transitions one task to completed.
type MarkStepCompleteTool struct{ deps Deps }

func NewMarkStepCompleteTool(deps Deps) *MarkStepCompleteTool {
	return &MarkStepCompleteTool{deps: deps}
}

func (t *MarkStepCompleteTool) Name() string { return "markStepComplete" }

func (t *MarkStepCompleteTool) Description() string {
	return "Mark a task in the current plan as completed."
}

func (t *MarkStepCompleteTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {"taskId": {"type": "string"}},
		"required": ["taskId"]
	}`)
}

func (t *MarkStepCompleteTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		TaskID string `json:"taskId"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if input.TaskID == "" {
		return toolError("taskId is required"), nil
	}
	projectID, err := ProjectIDFromContext(ctx)
	if err != nil {
		return toolError(err.Error()), nil
	}

	if err := t.deps.Store.MarkStepComplete(ctx, projectID, input.TaskID); err != nil {
		return toolError(fmt.Sprintf("mark step complete: %v", err)), nil
	}

	ctxt, err := t.deps.Store.Get(ctx, projectID)
	if err != nil {
		return toolError(fmt.Sprintf("load project: %v", err)), nil
	}
	return toolJSON(map[string]any{
		"taskId":         input.TaskID,
		"completedSteps": ctxt.CompletedSteps,
	}), nil
}
