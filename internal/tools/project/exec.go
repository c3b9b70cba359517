package project

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/forgekit/agentcore/internal/agent"
	"github.com/forgekit/agentcore/internal/devserver"
	"github.com/forgekit/agentcore/internal/exec"
	"github.com/forgekit/agentcore/internal/process"
	"github.com/forgekit/agentcore/internal/sandboxmgr"
	"github.com/forgekit/agentcore/internal/tools/security"
	"github.com/forgekit/agentcore/pkg/models"
)

// RunCommandTool executes an arbitrary command inside the project's
// sandbox. Commands are not blocked for shell metacharacters (build
// tooling routinely pipes and redirects), but a quote-aware risk analysis
// rides along in the result so the model can see what it just ran.
type RunCommandTool struct {
	deps    Deps
	timeout time.Duration
}

func NewRunCommandTool(deps Deps, timeout time.Duration) *RunCommandTool {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &RunCommandTool{deps: deps, timeout: timeout}
}

func (t *RunCommandTool) Name() string { return "runCommand" }

func (t *RunCommandTool) Description() string {
	return "Run a shell command inside the project's sandbox and return its output."
}

func (t *RunCommandTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"command": {"type": "string"},
			"cwd": {"type": "string", "description": "Optional working directory relative to the project root."}
		},
		"required": ["command"]
	}`)
}

func (t *RunCommandTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Command string `json:"command"`
		Cwd     string `json:"cwd"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if input.Command == "" {
		return toolError("command is required"), nil
	}
	projectID, err := ProjectIDFromContext(ctx)
	if err != nil {
		return toolError(err.Error()), nil
	}

	cwd := ""
	if input.Cwd != "" {
		clean, err := validatePath(input.Cwd)
		if err != nil {
			return toolError(err.Error()), nil
		}
		cwd = t.deps.Sandbox.ProjectDir(projectID) + "/" + clean
	}

	result, err := t.deps.Sandbox.Exec(ctx, projectID, input.Command, cwd, t.timeout)
	if err != nil && !result.TimedOut {
		return toolError(fmt.Sprintf("run command: %v", err)), nil
	}

	if result.ExitCode != 0 {
		_ = t.deps.Store.AppendError(ctx, projectID, fmt.Sprintf("command failed (%d): %s", result.ExitCode, input.Command))
	}

	analysis := security.AnalyzeCommandQuoteAware(input.Command)
	return toolJSON(map[string]any{
		"stdout":     result.Stdout,
		"stderr":     result.Stderr,
		"exitCode":   result.ExitCode,
		"timedOut":   result.TimedOut,
		"durationMs": result.DurationMs,
		"isSafe":     analysis.IsSafe,
	}), nil
}

// InstallPackageTool adds a dependency using the package manager detected
// from the project's lockfile and records it in the Context Store. Installs
// for the same project serialize through a per-project queue lane, since
// two package managers mutating one node_modules concurrently corrupt it.
// A running dev server is stopped for the install and restarted after.
type InstallPackageTool struct {
	deps  Deps
	queue *process.CommandQueue
}

func NewInstallPackageTool(deps Deps) *InstallPackageTool {
	return &InstallPackageTool{deps: deps, queue: process.NewCommandQueue()}
}

func (t *InstallPackageTool) Name() string { return "installPackage" }

func (t *InstallPackageTool) Description() string {
	return "Install an npm package into the project using its detected package manager."
}

func (t *InstallPackageTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"packageName": {"type": "string"},
			"dev": {"type": "boolean", "description": "Install as a dev dependency."}
		},
		"required": ["packageName"]
	}`)
}

func (t *InstallPackageTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		PackageName string `json:"packageName"`
		Dev         bool   `json:"dev"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if input.PackageName == "" {
		return toolError("packageName is required"), nil
	}
	packageName, err := exec.SanitizeExecutableValue(input.PackageName)
	if err != nil {
		return toolError(fmt.Sprintf("unsafe packageName: %v", err)), nil
	}
	input.PackageName = packageName

	projectID, err := ProjectIDFromContext(ctx)
	if err != nil {
		return toolError(err.Error()), nil
	}

	lane := process.CommandLane(string(process.LaneInstall) + ":" + projectID)
	t.queue.SetLaneConcurrency(lane, 1)
	return process.EnqueueInLane(t.queue, lane, func(context.Context) (*agent.ToolResult, error) {
		return t.install(ctx, projectID, input.PackageName, input.Dev)
	}, &process.EnqueueOptions{Context: ctx})
}

func (t *InstallPackageTool) install(ctx context.Context, projectID, pkg string, dev bool) (*agent.ToolResult, error) {
	ctxt, err := t.deps.Store.Get(ctx, projectID)
	if err != nil {
		return toolError(fmt.Sprintf("load project: %v", err)), nil
	}

	// The dev server holds file watchers over node_modules; stop it for the
	// install and bring it back after.
	wasRunning := ctxt.ServerState != nil && ctxt.ServerState.IsRunning
	if wasRunning {
		if err := t.deps.DevServer.Stop(ctx, projectID); err != nil {
			return toolError(fmt.Sprintf("stop dev server before install: %v", err)), nil
		}
	}

	pmName, _, _ := sandboxmgr.DetectPackageManager(ctxt.Files)
	cmd := addCommand(pmName, pkg, dev)

	result, err := t.deps.Sandbox.Exec(ctx, projectID, cmd, "", 3*time.Minute)
	if err != nil && !result.TimedOut {
		return toolError(fmt.Sprintf("install package: %v", err)), nil
	}

	out := map[string]any{
		"packageManager": pmName,
		"command":        cmd,
		"exitCode":       result.ExitCode,
	}
	if result.ExitCode != 0 {
		out["stderr"] = result.Stderr
		return toolJSON(out), nil
	}

	if _, err := t.deps.Store.Update(ctx, projectID, models.ContextPatch{
		Dependencies: map[string]string{pkg: "latest"},
	}); err != nil {
		return toolError(fmt.Sprintf("update dependencies: %v", err)), nil
	}

	if wasRunning {
		start, startErr := t.deps.DevServer.Start(ctx, projectID, devserver.StartOptions{})
		if startErr != nil {
			out["devServerError"] = startErr.Error()
			return toolJSON(out), nil
		}
		serverState := &models.ServerState{IsRunning: true, Port: start.Port, URL: start.URL}
		if _, err := t.deps.Store.Update(ctx, projectID, models.ContextPatch{ServerState: serverState}); err != nil {
			return toolError(fmt.Sprintf("update server state: %v", err)), nil
		}
		out["serverState"] = serverState
	}
	return toolJSON(out), nil
}

// addCommand returns the package-manager-specific command to add a single
// dependency, given the package manager name sandboxmgr.DetectPackageManager
// returned.
func addCommand(pmName, pkg string, dev bool) string {
	switch pmName {
	case "bun":
		if dev {
			return "bun add -d " + pkg
		}
		return "bun add " + pkg
	case "pnpm":
		if dev {
			return "pnpm add -D " + pkg
		}
		return "pnpm add " + pkg
	default:
		if dev {
			return "npm install --save-dev " + pkg
		}
		return "npm install " + pkg
	}
}

// SyncProjectTool pushes the Context Store's current file snapshot into the
// sandbox, overwriting whatever is there, then brings the dev server up
// against that snapshot so the project has a live preview. Used after a
// sandbox has been (re)created, and as the usual last step of a build turn,
// to make sure the file tree and running server both match the canonical
// state.
type SyncProjectTool struct{ deps Deps }

func NewSyncProjectTool(deps Deps) *SyncProjectTool { return &SyncProjectTool{deps: deps} }

func (t *SyncProjectTool) Name() string { return "syncProject" }

func (t *SyncProjectTool) Description() string {
	return "Push the project's current tracked files into its sandbox and (re)start the dev server."
}

func (t *SyncProjectTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type": "object", "properties": {}}`)
}

func (t *SyncProjectTool) Execute(ctx context.Context, _ json.RawMessage) (*agent.ToolResult, error) {
	projectID, err := ProjectIDFromContext(ctx)
	if err != nil {
		return toolError(err.Error()), nil
	}
	ctxt, err := t.deps.Store.Get(ctx, projectID)
	if err != nil {
		return toolError(fmt.Sprintf("load project: %v", err)), nil
	}
	if len(ctxt.Files) == 0 {
		return toolJSON(map[string]any{"synced": 0}), nil
	}

	files := make(map[string]string, len(ctxt.Files))
	for path, entry := range ctxt.Files {
		files[path] = entry.Content
	}
	if err := t.deps.Sandbox.WriteFiles(ctx, projectID, files); err != nil {
		return toolError(fmt.Sprintf("sync project: %v", err)), nil
	}

	result := map[string]any{"synced": len(files)}
	start, startErr := t.deps.DevServer.Start(ctx, projectID, devserver.StartOptions{})
	if startErr != nil {
		result["devServerError"] = startErr.Error()
		return toolJSON(result), nil
	}

	serverState := &models.ServerState{IsRunning: true, Port: start.Port, URL: start.URL}
	if _, err := t.deps.Store.Update(ctx, projectID, models.ContextPatch{ServerState: serverState}); err != nil {
		return toolError(fmt.Sprintf("update server state: %v", err)), nil
	}
	result["serverState"] = serverState
	return toolJSON(result), nil
}
