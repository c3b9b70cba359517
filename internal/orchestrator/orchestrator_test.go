package orchestrator

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgekit/agentcore/internal/agent"
	"github.com/forgekit/agentcore/internal/config"
	"github.com/forgekit/agentcore/internal/contextstore"
	"github.com/forgekit/agentcore/internal/devserver"
	"github.com/forgekit/agentcore/internal/sandboxmgr"
	"github.com/forgekit/agentcore/internal/tools/project"
	"github.com/forgekit/agentcore/pkg/models"
)

// scriptedProvider returns one fixed step from its script per Complete
// call, in order, the same call-counted fake pattern
// internal/agent/failover_test.go uses for its provider doubles.
type scriptedProvider struct {
	steps []scriptedStep
	calls int
}

// scriptedStep is one assistant turn: optional text and any tool calls the
// model "decided" to make.
type scriptedStep struct {
	text  string
	calls []models.ToolCall
}

func (p *scriptedProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	if p.calls >= len(p.steps) {
		p.calls++
		ch := make(chan *agent.CompletionChunk, 1)
		ch <- &agent.CompletionChunk{Text: "done", Done: true}
		close(ch)
		return ch, nil
	}
	step := p.steps[p.calls]
	p.calls++

	ch := make(chan *agent.CompletionChunk, len(step.calls)+2)
	if step.text != "" {
		ch <- &agent.CompletionChunk{Text: step.text}
	}
	for i := range step.calls {
		call := step.calls[i]
		ch <- &agent.CompletionChunk{ToolCall: &call}
	}
	ch <- &agent.CompletionChunk{Done: true}
	close(ch)
	return ch, nil
}

func (p *scriptedProvider) Name() string          { return "scripted" }
func (p *scriptedProvider) Models() []agent.Model { return nil }
func (p *scriptedProvider) SupportsTools() bool   { return true }

func toolCallJSON(t *testing.T, id, name string, input map[string]any) models.ToolCall {
	t.Helper()
	raw, err := json.Marshal(input)
	require.NoError(t, err)
	return models.ToolCall{ID: id, Name: name, Input: raw}
}

// testHarness wires a real Context Store, Sandbox Manager (backed by a
// FakeProvider), Dev-Server Supervisor, and project tool registry together,
// the same in-process components Run drives in production.
type testHarness struct {
	store    *contextstore.MemoryStore
	sandbox  *sandboxmgr.Manager
	devSrv   *devserver.Supervisor
	registry *agent.ToolRegistry
}

func newTestHarness(t *testing.T, execFunc func(command string) sandboxmgr.ExecResult) *testHarness {
	t.Helper()
	store := contextstore.New(nil, contextstore.DefaultConfig())

	provider := sandboxmgr.NewFakeProvider()
	provider.ExecFunc = execFunc

	sandboxCfg := config.SandboxConfig{
		BootTimeout: time.Second,
		ExecTimeout: 2 * time.Second,
		MaxRetries:  3,
	}
	sandbox := sandboxmgr.New(provider, store, sandboxCfg, slog.Default())

	devCfg := config.DevServerConfig{
		PortRangeStart: 3000,
		PortRangeEnd:   3005,
		StatusCacheTTL: time.Millisecond,
		StartTimeout:   2 * time.Second,
		LogTailLines:   30,
	}
	devSrv := devserver.NewSupervisor(sandbox, store, devCfg, slog.Default())

	registry := agent.NewToolRegistry()
	project.Register(registry, project.Deps{Store: store, Sandbox: sandbox, DevServer: devSrv})

	return &testHarness{store: store, sandbox: sandbox, devSrv: devSrv, registry: registry}
}

// portProbeExec answers the dev server supervisor's /dev/tcp port probes by
// reporting readyPort as open and every other candidate port as closed, and
// answers log-tail/truncate commands with empty output.
func portProbeExec(readyPort int) func(string) sandboxmgr.ExecResult {
	marker := func(port int) string {
		if port == readyPort {
			return "FORGEKIT_OPEN"
		}
		return "FORGEKIT_CLOSED"
	}
	return func(command string) sandboxmgr.ExecResult {
		if strings.Contains(command, "/dev/tcp/127.0.0.1/") {
			for port := 3000; port <= 3005; port++ {
				if strings.Contains(command, strconv.Itoa(port)) {
					return sandboxmgr.ExecResult{Stdout: marker(port) + "\n", ExitCode: 0}
				}
			}
		}
		return sandboxmgr.ExecResult{Stdout: "", ExitCode: 0}
	}
}

func TestOrchestrator_ColdBuildStartsDevServer(t *testing.T) {
	h := newTestHarness(t, portProbeExec(3000))
	ctx := context.Background()
	const projectID = "proj-cold-build"

	_, err := h.store.Update(ctx, projectID, contextstore.Patch{})
	require.NoError(t, err)

	provider := &scriptedProvider{steps: []scriptedStep{
		{calls: []models.ToolCall{toolCallJSON(t, "call-1", "planChanges", map[string]any{
			"steps": []string{"Scaffold the landing page"},
		})}},
		{calls: []models.ToolCall{toolCallJSON(t, "call-2", "writeFile", map[string]any{
			"path":    "app/page.tsx",
			"content": "export default function Page() { return <main>Coffee shop</main> }",
		})}},
		{calls: []models.ToolCall{toolCallJSON(t, "call-3", "syncProject", map[string]any{})}},
		{text: "Built the coffee-shop landing page."},
	}}

	orch := New(Config{
		Provider: provider,
		Registry: h.registry,
		ToolExec: agent.NewToolExecutor(h.registry, agent.DefaultToolExecConfig()),
		Store:    h.store,
		Model:    "test-model",
		Logger:   slog.Default(),
	})

	result, err := orch.Run(ctx, RunOptions{
		ProjectID:   projectID,
		UserMessage: "Build me a coffee-shop landing page",
	})
	require.NoError(t, err)
	assert.False(t, result.Cancelled)

	ctxt, err := h.store.Get(ctx, projectID)
	require.NoError(t, err)
	assert.Contains(t, ctxt.Files, "app/page.tsx")
	require.NotNil(t, ctxt.ServerState)
	assert.True(t, ctxt.ServerState.IsRunning)
	assert.Equal(t, 3000, ctxt.ServerState.Port)

	var sawWriteFile, sawSyncProject bool
	for _, msg := range result.Messages {
		for _, call := range msg.ToolCalls {
			switch call.Name {
			case "writeFile":
				sawWriteFile = true
			case "syncProject":
				sawSyncProject = true
			}
		}
	}
	assert.True(t, sawWriteFile, "expected at least one writeFile call")
	assert.True(t, sawSyncProject, "expected a syncProject call")
}

func TestOrchestrator_PlaceholderNameResolvesToTitle(t *testing.T) {
	h := newTestHarness(t, portProbeExec(3000))
	ctx := context.Background()
	const projectID = "proj-placeholder"

	_, err := h.store.Update(ctx, projectID, contextstore.Patch{})
	require.NoError(t, err)

	provider := &scriptedProvider{steps: []scriptedStep{
		{text: "Here's your photography portfolio."},
	}}

	orch := New(Config{
		Provider: provider,
		Registry: h.registry,
		ToolExec: agent.NewToolExecutor(h.registry, agent.DefaultToolExecConfig()),
		Store:    h.store,
		Model:    "test-model",
		Logger:   slog.Default(),
	})

	_, err = orch.Run(ctx, RunOptions{
		ProjectID:   projectID,
		UserMessage: "create a portfolio for a photographer",
	})
	require.NoError(t, err)

	ctxt, err := h.store.Get(ctx, projectID)
	require.NoError(t, err)
	assert.Equal(t, "Portfolio", ctxt.ProjectName)
	assert.LessOrEqual(t, len(ctxt.ProjectName), 50)
}

func TestOrchestrator_RepairsLeadingSlashPath(t *testing.T) {
	h := newTestHarness(t, portProbeExec(3000))
	ctx := context.Background()
	const projectID = "proj-repair-path"

	_, err := h.store.Update(ctx, projectID, contextstore.Patch{})
	require.NoError(t, err)

	provider := &scriptedProvider{steps: []scriptedStep{
		{calls: []models.ToolCall{toolCallJSON(t, "call-1", "writeFile", map[string]any{
			"path":    "/app/page.tsx",
			"content": "export default function Page() { return null }",
		})}},
		{text: "Done."},
	}}

	orch := New(Config{
		Provider: provider,
		Registry: h.registry,
		ToolExec: agent.NewToolExecutor(h.registry, agent.DefaultToolExecConfig()),
		Store:    h.store,
		Model:    "test-model",
		Logger:   slog.Default(),
	})

	result, err := orch.Run(ctx, RunOptions{
		ProjectID:   projectID,
		UserMessage: "fix the page",
		History: []*models.Message{{
			ID:      "seed",
			Role:    models.RoleUser,
			Content: "previous turn",
		}},
	})
	require.NoError(t, err)

	for _, msg := range result.Messages {
		for _, tr := range msg.ToolResults {
			assert.False(t, tr.IsError, "tool result should not be an error: %s", tr.Content)
		}
	}

	ctxt, err := h.store.Get(ctx, projectID)
	require.NoError(t, err)
	assert.Contains(t, ctxt.Files, "app/page.tsx")
	assert.NotContains(t, ctxt.Files, "/app/page.tsx")
}
