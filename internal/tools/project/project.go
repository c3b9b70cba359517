// Package project implements the minimum tool set the Agent Orchestrator
// drives against a project: planChanges, markStepComplete,
// analyzeProjectState, getProjectStructure, readFile, writeFile, editFile,
// batchWriteFiles, runCommand, installPackage, getBuildStatus, and
// syncProject. Every tool reads and writes through the Context Store and the
// Sandbox Manager rather than the local filesystem, so a tool call's effects
// are visible to every other component immediately.
package project

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/forgekit/agentcore/internal/agent"
	"github.com/forgekit/agentcore/internal/contextstore"
	"github.com/forgekit/agentcore/internal/devserver"
	"github.com/forgekit/agentcore/internal/sandboxmgr"
)

// Deps are the components every project tool is wired against.
type Deps struct {
	Store     contextstore.Store
	Sandbox   *sandboxmgr.Manager
	DevServer *devserver.Supervisor
}

type projectIDKey struct{}

// WithProjectID attaches the project a tool call is scoped to. The
// orchestrator sets this once per run before handing the context down to
// ToolRegistry.Execute, the same way internal/observability's AddRunID and
// AddToolCallID thread correlation ids through context.
func WithProjectID(ctx context.Context, projectID string) context.Context {
	return context.WithValue(ctx, projectIDKey{}, projectID)
}

// ProjectIDFromContext returns the project id a tool call is scoped to.
func ProjectIDFromContext(ctx context.Context) (string, error) {
	id, _ := ctx.Value(projectIDKey{}).(string)
	if id == "" {
		return "", fmt.Errorf("project tools: no project id in context")
	}
	return id, nil
}

func toolError(message string) *agent.ToolResult {
	return &agent.ToolResult{Content: message, IsError: true}
}

func toolJSON(v interface{}) *agent.ToolResult {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return toolError(fmt.Sprintf("encode result: %v", err))
	}
	return &agent.ToolResult{Content: string(payload)}
}

// validatePath strips any leading slashes so a model-supplied absolute path
// (e.g. "/app/page.tsx") normalizes to a path relative to the project root
// instead of erroring, then rejects only paths that still escape the root
// after cleaning (a literal ".." or a "../" prefix).
func validatePath(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", fmt.Errorf("path is required")
	}
	p = strings.TrimLeft(p, "/")
	clean := path.Clean(p)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("path must not escape the project root")
	}
	return clean, nil
}

func detectLanguage(p string) string {
	switch path.Ext(p) {
	case ".ts":
		return "typescript"
	case ".tsx":
		return "typescriptreact"
	case ".js":
		return "javascript"
	case ".jsx":
		return "javascriptreact"
	case ".json":
		return "json"
	case ".css":
		return "css"
	case ".html":
		return "html"
	case ".md":
		return "markdown"
	case ".yaml", ".yml":
		return "yaml"
	default:
		return ""
	}
}

func now() time.Time { return time.Now() }
