package project

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgekit/agentcore/internal/agent"
	"github.com/forgekit/agentcore/internal/config"
	"github.com/forgekit/agentcore/internal/contextstore"
	"github.com/forgekit/agentcore/internal/devserver"
	"github.com/forgekit/agentcore/internal/sandboxmgr"
	"github.com/forgekit/agentcore/pkg/models"
)

func newTestDeps(t *testing.T) (Deps, *sandboxmgr.FakeProvider) {
	t.Helper()

	store := contextstore.New(nil, contextstore.DefaultConfig())
	provider := sandboxmgr.NewFakeProvider()
	manager := sandboxmgr.New(provider, store, config.SandboxConfig{
		BootTimeout: 5 * time.Second,
		ExecTimeout: 5 * time.Second,
		MaxRetries:  3,
	}, nil)
	supervisor := devserver.NewSupervisor(manager, store, config.DevServerConfig{
		PortRangeStart: 3000,
		PortRangeEnd:   3005,
		StatusCacheTTL: 1500 * time.Millisecond,
		StartTimeout:   time.Second,
		LogTailLines:   30,
	}, nil)

	return Deps{Store: store, Sandbox: manager, DevServer: supervisor}, provider
}

func projCtx(projectID string) context.Context {
	return WithProjectID(context.Background(), projectID)
}

func decodeResult(t *testing.T, res *agent.ToolResult) map[string]any {
	t.Helper()
	require.False(t, res.IsError, "unexpected tool error: %s", res.Content)
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(res.Content), &out))
	return out
}

func TestWriteFile_NormalizesLeadingSlash(t *testing.T) {
	deps, _ := newTestDeps(t)
	tool := NewWriteFileTool(deps)

	res, err := tool.Execute(projCtx("p1"), json.RawMessage(`{"path": "/app/page.tsx", "content": "export default function Page() {}"}`))
	require.NoError(t, err)
	out := decodeResult(t, res)
	assert.Equal(t, "app/page.tsx", out["path"])
	assert.Equal(t, "created", out["status"])

	ctxt, err := deps.Store.Get(context.Background(), "p1")
	require.NoError(t, err)
	assert.Contains(t, ctxt.Files, "app/page.tsx")
	assert.NotContains(t, ctxt.Files, "/app/page.tsx")
}

func TestWriteFile_RejectsEscapingPath(t *testing.T) {
	deps, _ := newTestDeps(t)
	tool := NewWriteFileTool(deps)

	res, err := tool.Execute(projCtx("p1"), json.RawMessage(`{"path": "../../etc/passwd", "content": "x"}`))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content, "escape")
}

func TestWriteFile_SecondWriteIsUpdate(t *testing.T) {
	deps, _ := newTestDeps(t)
	tool := NewWriteFileTool(deps)

	res, err := tool.Execute(projCtx("p1"), json.RawMessage(`{"path": "a.ts", "content": "v1"}`))
	require.NoError(t, err)
	assert.Equal(t, "created", decodeResult(t, res)["status"])

	res, err = tool.Execute(projCtx("p1"), json.RawMessage(`{"path": "a.ts", "content": "v2"}`))
	require.NoError(t, err)
	assert.Equal(t, "updated", decodeResult(t, res)["status"])

	ctxt, err := deps.Store.Get(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, "v2", ctxt.Files["a.ts"].Content)
}

func TestWriteThenRead_RoundTrips(t *testing.T) {
	deps, _ := newTestDeps(t)
	write := NewWriteFileTool(deps)
	read := NewReadFileTool(deps)

	content := "const x = 42\n"
	payload, _ := json.Marshal(map[string]string{"path": "lib/x.ts", "content": content})
	res, err := write.Execute(projCtx("p1"), payload)
	require.NoError(t, err)
	decodeResult(t, res)

	res, err = read.Execute(projCtx("p1"), json.RawMessage(`{"path": "lib/x.ts"}`))
	require.NoError(t, err)
	out := decodeResult(t, res)
	assert.Equal(t, content, out["content"])
}

func TestReadFile_NotFound(t *testing.T) {
	deps, _ := newTestDeps(t)
	// Seed the project so Get succeeds but the file is absent.
	_, err := deps.Store.Update(context.Background(), "p1", contextstore.Patch{})
	require.NoError(t, err)

	res, err := NewReadFileTool(deps).Execute(projCtx("p1"), json.RawMessage(`{"path": "missing.ts"}`))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content, "not found")
}

func TestEditFile_AppliesEdits(t *testing.T) {
	deps, _ := newTestDeps(t)
	write := NewWriteFileTool(deps)
	edit := NewEditFileTool(deps)

	_, err := write.Execute(projCtx("p1"), json.RawMessage(`{"path": "a.ts", "content": "let color = 'red'; paint(color); paint(color)"}`))
	require.NoError(t, err)

	res, err := edit.Execute(projCtx("p1"), json.RawMessage(`{
		"path": "a.ts",
		"edits": [{"old_text": "color", "new_text": "shade", "replace_all": true}]
	}`))
	require.NoError(t, err)
	out := decodeResult(t, res)
	assert.Equal(t, float64(4), out["replacements"])

	ctxt, err := deps.Store.Get(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, "let shade = 'red'; paint(shade); paint(shade)", ctxt.Files["a.ts"].Content)
}

func TestEditFile_OldTextMissing(t *testing.T) {
	deps, _ := newTestDeps(t)
	_, err := NewWriteFileTool(deps).Execute(projCtx("p1"), json.RawMessage(`{"path": "a.ts", "content": "hello"}`))
	require.NoError(t, err)

	res, err := NewEditFileTool(deps).Execute(projCtx("p1"), json.RawMessage(`{
		"path": "a.ts",
		"edits": [{"old_text": "goodbye", "new_text": "x"}]
	}`))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content, "old_text not found")
}

func TestBatchWriteFiles_PartitionsOutcomes(t *testing.T) {
	deps, _ := newTestDeps(t)
	write := NewWriteFileTool(deps)
	batch := NewBatchWriteFilesTool(deps)

	// One pre-existing file so the batch reports it as updated.
	_, err := write.Execute(projCtx("p1"), json.RawMessage(`{"path": "app/page.tsx", "content": "old"}`))
	require.NoError(t, err)

	res, err := batch.Execute(projCtx("p1"), json.RawMessage(`{
		"files": [
			{"path": "app/page.tsx", "content": "new"},
			{"path": "/app/layout.tsx", "content": "layout"},
			{"path": "lib/utils.ts", "content": "utils"},
			{"path": "../outside.ts", "content": "bad"}
		]
	}`))
	require.NoError(t, err)
	out := decodeResult(t, res)

	assert.ElementsMatch(t, []any{"app/layout.tsx", "lib/utils.ts"}, out["created"])
	assert.ElementsMatch(t, []any{"app/page.tsx"}, out["updated"])
	failed := out["failed"].([]any)
	require.Len(t, failed, 1)
	assert.Equal(t, "../outside.ts", failed[0].(map[string]any)["path"])
}

func TestBatchWriteFiles_PublishesSingleEvent(t *testing.T) {
	deps, _ := newTestDeps(t)
	batch := NewBatchWriteFilesTool(deps)

	events := make(chan models.Event, 16)
	sub := deps.Store.Bus().Subscribe(
		contextstore.And(contextstore.ForProject("p1"), contextstore.ForType(models.EventFilesChanged)),
		func(e models.Event) { events <- e },
	)
	defer sub.Unsubscribe()

	res, err := batch.Execute(projCtx("p1"), json.RawMessage(`{
		"files": [
			{"path": "a.ts", "content": "a"},
			{"path": "b.ts", "content": "b"},
			{"path": "c.ts", "content": "c"}
		]
	}`))
	require.NoError(t, err)
	decodeResult(t, res)

	select {
	case e := <-events:
		assert.Equal(t, 3, e.Payload, "the one FilesChanged event carries the batch size")
	case <-time.After(time.Second):
		t.Fatal("expected a FilesChanged event within 1s")
	}

	select {
	case <-events:
		t.Fatal("expected exactly one FilesChanged event for the whole batch")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestGetProjectStructure_SortedListing(t *testing.T) {
	deps, _ := newTestDeps(t)
	batch := NewBatchWriteFilesTool(deps)

	_, err := batch.Execute(projCtx("p1"), json.RawMessage(`{
		"files": [
			{"path": "src/z.ts", "content": "zz"},
			{"path": "src/a.ts", "content": "a"},
			{"path": "README.md", "content": "readme"}
		]
	}`))
	require.NoError(t, err)

	res, err := NewGetProjectStructureTool(deps).Execute(projCtx("p1"), nil)
	require.NoError(t, err)
	out := decodeResult(t, res)

	assert.Equal(t, float64(3), out["fileCount"])
	files := out["files"].([]any)
	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.(map[string]any)["path"].(string)
	}
	assert.Equal(t, []string{"README.md", "src/a.ts", "src/z.ts"}, paths)
}

func TestPlanChanges_BuildsChainedGraph(t *testing.T) {
	deps, _ := newTestDeps(t)
	plan := NewPlanChangesTool(deps)

	res, err := plan.Execute(projCtx("p1"), json.RawMessage(`{"steps": ["scaffold", "style", "wire up data"]}`))
	require.NoError(t, err)
	decodeResult(t, res)

	ctxt, err := deps.Store.Get(context.Background(), "p1")
	require.NoError(t, err)
	require.NotNil(t, ctxt.TaskGraph)
	tasks := ctxt.TaskGraph.Tasks
	require.Len(t, tasks, 3)

	assert.Empty(t, tasks[0].DependsOn)
	assert.Equal(t, []string{tasks[0].ID}, tasks[1].DependsOn)
	assert.Equal(t, []string{tasks[1].ID}, tasks[2].DependsOn)
	for _, task := range tasks {
		assert.Equal(t, models.TaskPending, task.Status)
		assert.NotEmpty(t, task.ID)
	}
}

func TestMarkStepComplete_Records(t *testing.T) {
	deps, _ := newTestDeps(t)
	plan := NewPlanChangesTool(deps)
	complete := NewMarkStepCompleteTool(deps)

	_, err := plan.Execute(projCtx("p1"), json.RawMessage(`{"steps": ["only step"]}`))
	require.NoError(t, err)
	ctxt, err := deps.Store.Get(context.Background(), "p1")
	require.NoError(t, err)
	taskID := ctxt.TaskGraph.Tasks[0].ID

	payload, _ := json.Marshal(map[string]string{"taskId": taskID})
	res, err := complete.Execute(projCtx("p1"), payload)
	require.NoError(t, err)
	decodeResult(t, res)

	ctxt, err = deps.Store.Get(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskCompleted, ctxt.TaskGraph.Tasks[0].Status)
	assert.Equal(t, []string{taskID}, ctxt.CompletedSteps)
}

func TestAnalyzeProjectState_Summary(t *testing.T) {
	deps, _ := newTestDeps(t)
	_, err := deps.Store.Update(context.Background(), "p1", contextstore.Patch{
		Files: map[string]models.FileEntry{
			"package.json": {Content: "{}", Status: models.FileCreated},
		},
		Dependencies: map[string]string{"react": "19.0.0"},
	})
	require.NoError(t, err)

	res, err := NewAnalyzeProjectStateTool(deps).Execute(projCtx("p1"), nil)
	require.NoError(t, err)
	out := decodeResult(t, res)

	assert.Equal(t, float64(1), out["fileCount"])
	depsOut := out["dependencies"].(map[string]any)
	assert.Equal(t, "19.0.0", depsOut["react"])
}

func TestRunCommand_RecordsFailureInErrorHistory(t *testing.T) {
	deps, provider := newTestDeps(t)
	provider.ExecFunc = func(command string) sandboxmgr.ExecResult {
		return sandboxmgr.ExecResult{Stderr: "command not found", ExitCode: 127}
	}

	res, err := NewRunCommandTool(deps, time.Second).Execute(projCtx("p1"), json.RawMessage(`{"command": "definitely-not-a-binary"}`))
	require.NoError(t, err)
	out := decodeResult(t, res)
	assert.Equal(t, float64(127), out["exitCode"])

	ctxt, err := deps.Store.Get(context.Background(), "p1")
	require.NoError(t, err)
	require.NotEmpty(t, ctxt.ErrorHistory)
	assert.Contains(t, ctxt.ErrorHistory[0], "command failed (127)")
}

func TestInstallPackage_RecordsDependency(t *testing.T) {
	deps, provider := newTestDeps(t)
	var ranCommand string
	provider.ExecFunc = func(command string) sandboxmgr.ExecResult {
		ranCommand = command
		return sandboxmgr.ExecResult{ExitCode: 0}
	}

	_, err := deps.Store.Update(context.Background(), "p1", contextstore.Patch{
		Files: map[string]models.FileEntry{
			"pnpm-lock.yaml": {Content: "", Status: models.FileCreated},
		},
	})
	require.NoError(t, err)

	res, err := NewInstallPackageTool(deps).Execute(projCtx("p1"), json.RawMessage(`{"packageName": "zod", "dev": true}`))
	require.NoError(t, err)
	out := decodeResult(t, res)
	assert.Equal(t, "pnpm", out["packageManager"])
	assert.Equal(t, "pnpm add -D zod", ranCommand)

	ctxt, err := deps.Store.Get(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, "latest", ctxt.Dependencies["zod"])
}

func TestInstallPackage_RejectsShellMetacharacters(t *testing.T) {
	deps, _ := newTestDeps(t)
	res, err := NewInstallPackageTool(deps).Execute(projCtx("p1"), json.RawMessage(`{"packageName": "zod; rm -rf /"}`))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content, "unsafe packageName")
}

func TestValidatePath(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"app/page.tsx", "app/page.tsx", false},
		{"/app/page.tsx", "app/page.tsx", false},
		{"//double/slash.ts", "double/slash.ts", false},
		{"a/./b.ts", "a/b.ts", false},
		{"a/../b.ts", "b.ts", false},
		{"..", "", true},
		{"../outside.ts", "", true},
		{"a/../../outside.ts", "", true},
		{"", "", true},
		{"   ", "", true},
	}
	for _, tc := range cases {
		got, err := validatePath(tc.in)
		if tc.wantErr {
			assert.Error(t, err, "input %q", tc.in)
			continue
		}
		require.NoError(t, err, "input %q", tc.in)
		assert.Equal(t, tc.want, got, "input %q", tc.in)
	}
}

func TestProjectIDFromContext(t *testing.T) {
	_, err := ProjectIDFromContext(context.Background())
	assert.Error(t, err)

	id, err := ProjectIDFromContext(WithProjectID(context.Background(), "p9"))
	require.NoError(t, err)
	assert.Equal(t, "p9", id)
}

func TestRegister_CoversSpecToolSet(t *testing.T) {
	deps, _ := newTestDeps(t)
	registry := agent.NewToolRegistry()
	Register(registry, deps)

	for _, name := range []string{
		ToolPlanChanges, ToolMarkStepComplete, ToolAnalyzeProjectState,
		ToolGetProjectStructure, ToolReadFile, ToolWriteFile, ToolEditFile,
		ToolBatchWriteFiles, ToolRunCommand, ToolInstallPackage,
		ToolGetBuildStatus, ToolSyncProject,
	} {
		_, ok := registry.Get(name)
		assert.True(t, ok, "tool %s must be registered", name)
	}
}

func TestRegistry_ResolvesAliasAndCanonical(t *testing.T) {
	deps, _ := newTestDeps(t)
	registry := agent.NewToolRegistry()
	Register(registry, deps)

	tool, ok := registry.Get("core.writeFile")
	require.True(t, ok)
	assert.Equal(t, "writeFile", tool.Name())

	tool, ok = registry.Get("write")
	require.True(t, ok)
	assert.Equal(t, "writeFile", tool.Name())
}
