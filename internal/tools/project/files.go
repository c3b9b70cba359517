package project

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/forgekit/agentcore/internal/agent"
	"github.com/forgekit/agentcore/pkg/models"
)

// ReadFileTool reads a tracked file's content from the Context Store, which
// mirrors the sandbox's file tree without a round trip into the VM.
type ReadFileTool struct{ deps Deps }

func NewReadFileTool(deps Deps) *ReadFileTool { return &ReadFileTool{deps: deps} }

func (t *ReadFileTool) Name() string { return "readFile" }

func (t *ReadFileTool) Description() string {
	return "Read a tracked file's current content from the project context."
}

func (t *ReadFileTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "Path relative to the project root."}
		},
		"required": ["path"]
	}`)
}

func (t *ReadFileTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	clean, err := validatePath(input.Path)
	if err != nil {
		return toolError(err.Error()), nil
	}
	projectID, err := ProjectIDFromContext(ctx)
	if err != nil {
		return toolError(err.Error()), nil
	}

	ctxt, err := t.deps.Store.Get(ctx, projectID)
	if err != nil {
		return toolError(fmt.Sprintf("load project: %v", err)), nil
	}
	entry, ok := ctxt.Files[clean]
	if !ok {
		return toolError(fmt.Sprintf("file not found: %s", clean)), nil
	}
	return toolJSON(map[string]any{
		"path":    clean,
		"content": entry.Content,
		"status":  entry.Status,
	}), nil
}

// WriteFileTool writes a file into the sandbox and records the result in
// the Context Store with created|updated status.
type WriteFileTool struct{ deps Deps }

func NewWriteFileTool(deps Deps) *WriteFileTool { return &WriteFileTool{deps: deps} }

func (t *WriteFileTool) Name() string { return "writeFile" }

func (t *WriteFileTool) Description() string {
	return "Write a file's full content into the project's sandbox and context."
}

func (t *WriteFileTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "Path relative to the project root."},
			"content": {"type": "string", "description": "Full file content."}
		},
		"required": ["path", "content"]
	}`)
}

func (t *WriteFileTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	clean, err := validatePath(input.Path)
	if err != nil {
		return toolError(err.Error()), nil
	}
	projectID, err := ProjectIDFromContext(ctx)
	if err != nil {
		return toolError(err.Error()), nil
	}

	status, err := writeProjectFile(ctx, t.deps, projectID, clean, input.Content)
	if err != nil {
		return toolError(err.Error()), nil
	}
	return toolJSON(map[string]any{"path": clean, "status": status}), nil
}

// writeProjectFile is the shared write path for writeFile, editFile, and
// batchWriteFiles: it pushes content into the sandbox and mirrors it into
// the Context Store, returning the resulting created|updated status.
func writeProjectFile(ctx context.Context, deps Deps, projectID, path, content string) (models.FileStatus, error) {
	ctxt, err := deps.Store.Get(ctx, projectID)
	if err != nil {
		return "", fmt.Errorf("load project: %w", err)
	}
	status := models.FileCreated
	if _, existed := ctxt.Files[path]; existed {
		status = models.FileUpdated
	}

	if err := deps.Sandbox.WriteFiles(ctx, projectID, map[string]string{path: content}); err != nil {
		return "", fmt.Errorf("write to sandbox: %w", err)
	}

	entry := models.FileEntry{
		Content:      content,
		Language:     detectLanguage(path),
		LastModified: now(),
		Status:       status,
	}
	if _, err := deps.Store.Update(ctx, projectID, models.ContextPatch{
		Files: map[string]models.FileEntry{path: entry},
	}); err != nil {
		return "", fmt.Errorf("update context: %w", err)
	}
	return status, nil
}

// EditFileTool applies a list of find/replace edits to a tracked file,
// mirroring internal/tools/files.EditTool's old_text/new_text shape but
// reading and writing through the Context Store and sandbox instead of the
// local disk.
type EditFileTool struct{ deps Deps }

func NewEditFileTool(deps Deps) *EditFileTool { return &EditFileTool{deps: deps} }

func (t *EditFileTool) Name() string { return "editFile" }

func (t *EditFileTool) Description() string {
	return "Apply one or more find/replace edits to a tracked file."
}

func (t *EditFileTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string"},
			"edits": {
				"type": "array",
				"items": {
					"type": "object",
					"properties": {
						"old_text": {"type": "string"},
						"new_text": {"type": "string"},
						"replace_all": {"type": "boolean"}
					},
					"required": ["old_text", "new_text"]
				}
			}
		},
		"required": ["path", "edits"]
	}`)
}

func (t *EditFileTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Path  string `json:"path"`
		Edits []struct {
			OldText    string `json:"old_text"`
			NewText    string `json:"new_text"`
			ReplaceAll bool   `json:"replace_all"`
		} `json:"edits"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	clean, err := validatePath(input.Path)
	if err != nil {
		return toolError(err.Error()), nil
	}
	if len(input.Edits) == 0 {
		return toolError("edits are required"), nil
	}
	projectID, err := ProjectIDFromContext(ctx)
	if err != nil {
		return toolError(err.Error()), nil
	}

	ctxt, err := t.deps.Store.Get(ctx, projectID)
	if err != nil {
		return toolError(fmt.Sprintf("load project: %v", err)), nil
	}
	entry, ok := ctxt.Files[clean]
	if !ok {
		return toolError(fmt.Sprintf("file not found: %s", clean)), nil
	}

	content := entry.Content
	replacements := 0
	for _, edit := range input.Edits {
		if edit.OldText == "" {
			return toolError("old_text is required"), nil
		}
		if !strings.Contains(content, edit.OldText) {
			return toolError(fmt.Sprintf("old_text not found: %q", edit.OldText)), nil
		}
		if edit.ReplaceAll {
			replacements += strings.Count(content, edit.OldText)
			content = strings.ReplaceAll(content, edit.OldText, edit.NewText)
		} else {
			content = strings.Replace(content, edit.OldText, edit.NewText, 1)
			replacements++
		}
	}

	status, err := writeProjectFile(ctx, t.deps, projectID, clean, content)
	if err != nil {
		return toolError(err.Error()), nil
	}
	return toolJSON(map[string]any{"path": clean, "status": status, "replacements": replacements}), nil
}

// BatchWriteFilesTool writes several files in one sandbox round trip and one
// Context Store patch.
type BatchWriteFilesTool struct{ deps Deps }

func NewBatchWriteFilesTool(deps Deps) *BatchWriteFilesTool { return &BatchWriteFilesTool{deps: deps} }

func (t *BatchWriteFilesTool) Name() string { return "batchWriteFiles" }

func (t *BatchWriteFilesTool) Description() string {
	return "Write several files into the project's sandbox and context in one call."
}

func (t *BatchWriteFilesTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"files": {
				"type": "array",
				"items": {
					"type": "object",
					"properties": {
						"path": {"type": "string"},
						"content": {"type": "string"}
					},
					"required": ["path", "content"]
				}
			}
		},
		"required": ["files"]
	}`)
}

// Execute pushes the whole batch into the sandbox in one bulk write and
// mirrors it into the Context Store with one patch, so subscribers see a
// single FilesChanged event carrying the batch size. Bad paths are isolated
// into the failed list instead of aborting the rest of the batch.
func (t *BatchWriteFilesTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Files []struct {
			Path    string `json:"path"`
			Content string `json:"content"`
		} `json:"files"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if len(input.Files) == 0 {
		return toolError("files are required"), nil
	}
	projectID, err := ProjectIDFromContext(ctx)
	if err != nil {
		return toolError(err.Error()), nil
	}

	type failedWrite struct {
		Path  string `json:"path"`
		Error string `json:"error"`
	}
	failed := make([]failedWrite, 0)

	contents := make(map[string]string, len(input.Files))
	for _, f := range input.Files {
		clean, err := validatePath(f.Path)
		if err != nil {
			failed = append(failed, failedWrite{Path: f.Path, Error: err.Error()})
			continue
		}
		contents[clean] = f.Content
	}

	ctxt, err := t.deps.Store.Get(ctx, projectID)
	if err != nil {
		return toolError(fmt.Sprintf("load project: %v", err)), nil
	}

	created := make([]string, 0, len(contents))
	updated := make([]string, 0, len(contents))
	entries := make(map[string]models.FileEntry, len(contents))
	for path, content := range contents {
		status := models.FileCreated
		if _, existed := ctxt.Files[path]; existed {
			status = models.FileUpdated
		}
		entries[path] = models.FileEntry{
			Content:      content,
			Language:     detectLanguage(path),
			LastModified: now(),
			Status:       status,
		}
		if status == models.FileUpdated {
			updated = append(updated, path)
		} else {
			created = append(created, path)
		}
	}
	sort.Strings(created)
	sort.Strings(updated)

	if len(entries) > 0 {
		if err := t.deps.Sandbox.WriteFiles(ctx, projectID, contents); err != nil {
			return toolError(fmt.Sprintf("write to sandbox: %v", err)), nil
		}
		if _, err := t.deps.Store.Update(ctx, projectID, models.ContextPatch{Files: entries}); err != nil {
			return toolError(fmt.Sprintf("update context: %v", err)), nil
		}
	}

	return toolJSON(map[string]any{
		"created": created,
		"updated": updated,
		"failed":  failed,
	}), nil
}

// GetProjectStructureTool returns the tracked file tree, sorted, with sizes.
type GetProjectStructureTool struct{ deps Deps }

func NewGetProjectStructureTool(deps Deps) *GetProjectStructureTool {
	return &GetProjectStructureTool{deps: deps}
}

func (t *GetProjectStructureTool) Name() string { return "getProjectStructure" }

func (t *GetProjectStructureTool) Description() string {
	return "List every tracked file in the project, in path order."
}

func (t *GetProjectStructureTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type": "object", "properties": {}}`)
}

func (t *GetProjectStructureTool) Execute(ctx context.Context, _ json.RawMessage) (*agent.ToolResult, error) {
	projectID, err := ProjectIDFromContext(ctx)
	if err != nil {
		return toolError(err.Error()), nil
	}
	ctxt, err := t.deps.Store.Get(ctx, projectID)
	if err != nil {
		return toolError(fmt.Sprintf("load project: %v", err)), nil
	}

	type fileInfo struct {
		Path  string `json:"path"`
		Bytes int    `json:"bytes"`
	}
	files := make([]fileInfo, 0, len(ctxt.Files))
	for path, entry := range ctxt.Files {
		files = append(files, fileInfo{Path: path, Bytes: len(entry.Content)})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })

	return toolJSON(map[string]any{
		"projectId":    projectID,
		"fileCount":    len(files),
		"files":        files,
		"dependencies": ctxt.Dependencies,
	}), nil
}
