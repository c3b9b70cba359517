package models

import "time"

// FileStatus records the last mutation applied to a tracked file.
type FileStatus string

const (
	FileCreated FileStatus = "created"
	FileUpdated FileStatus = "updated"
	FileDeleted FileStatus = "deleted"
)

// FileEntry is one tracked file inside a project's sandbox, mirrored in the
// Context Store so it can be restored into a fresh VM without depending on
// the VM itself surviving.
type FileEntry struct {
	Content      string     `json:"content"`
	Language     string     `json:"language,omitempty"`
	LastModified time.Time  `json:"lastModified"`
	Status       FileStatus `json:"status"`
}

// BuildStatus is the last known result of checking the dev server's output
// for error- or warning-shaped lines.
type BuildStatus struct {
	HasErrors   bool      `json:"hasErrors"`
	HasWarnings bool      `json:"hasWarnings"`
	Errors      []string  `json:"errors,omitempty"`
	Warnings    []string  `json:"warnings,omitempty"`
	LastChecked time.Time `json:"lastChecked"`
}

// ServerState is the last known state of the project's dev server as
// recorded by the Context Store (authoritative status lives in the Dev
// Server Supervisor; this is the cached projection of it).
type ServerState struct {
	IsRunning bool      `json:"isRunning"`
	Port      int       `json:"port,omitempty"`
	URL       string    `json:"url,omitempty"`
	StartedAt time.Time `json:"startedAt,omitempty"`
}

// ToolExecution is one entry in a project's bounded tool history ring.
type ToolExecution struct {
	Name        string    `json:"name"`
	Input       string    `json:"input"`
	Output      string    `json:"output"`
	Success     bool      `json:"success"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"startedAt"`
	DurationMs  int64     `json:"durationMs"`
}

// ProjectContext is the canonical per-project state owned exclusively by the
// Context Store; every other component reads it through that store.
type ProjectContext struct {
	ProjectID      string               `json:"projectId"`
	ProjectName    string               `json:"projectName"`
	ProjectDir     string               `json:"projectDir"`
	SandboxID      string               `json:"sandboxId,omitempty"`
	Files          map[string]FileEntry `json:"files"`
	Dependencies   map[string]string    `json:"dependencies"`
	BuildStatus    *BuildStatus         `json:"buildStatus,omitempty"`
	ServerState    *ServerState         `json:"serverState,omitempty"`
	ToolHistory    []ToolExecution      `json:"toolHistory"`
	ErrorHistory   []string             `json:"errorHistory"`
	TaskGraph      *TaskGraph           `json:"taskGraph,omitempty"`
	CompletedSteps []string             `json:"completedSteps"`
	CreatedAt      time.Time            `json:"createdAt"`
	LastActivity   time.Time            `json:"lastActivity"`
}

// NewProjectContext returns an empty context ready for a freshly registered project.
func NewProjectContext(projectID, projectDir string) *ProjectContext {
	now := time.Now()
	return &ProjectContext{
		ProjectID:      projectID,
		ProjectName:    projectID,
		ProjectDir:     projectDir,
		Files:          make(map[string]FileEntry),
		Dependencies:   make(map[string]string),
		ToolHistory:    make([]ToolExecution, 0),
		ErrorHistory:   make([]string, 0),
		CompletedSteps: make([]string, 0),
		CreatedAt:      now,
		LastActivity:   now,
	}
}

// Clone returns a deep-enough copy safe to hand to a caller without sharing
// the store's internal maps/slices.
func (c *ProjectContext) Clone() *ProjectContext {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Files = make(map[string]FileEntry, len(c.Files))
	for k, v := range c.Files {
		clone.Files[k] = v
	}
	clone.Dependencies = make(map[string]string, len(c.Dependencies))
	for k, v := range c.Dependencies {
		clone.Dependencies[k] = v
	}
	clone.ToolHistory = append([]ToolExecution(nil), c.ToolHistory...)
	clone.ErrorHistory = append([]string(nil), c.ErrorHistory...)
	clone.CompletedSteps = append([]string(nil), c.CompletedSteps...)
	if c.BuildStatus != nil {
		bs := *c.BuildStatus
		clone.BuildStatus = &bs
	}
	if c.ServerState != nil {
		ss := *c.ServerState
		clone.ServerState = &ss
	}
	if c.TaskGraph != nil {
		tg := TaskGraph{Tasks: append([]Task(nil), c.TaskGraph.Tasks...)}
		clone.TaskGraph = &tg
	}
	return &clone
}

// ContextPatch is a partial update to a ProjectContext; nil fields are left
// untouched by Context Store's update().
type ContextPatch struct {
	ProjectName    *string
	SandboxID      *string
	Files          map[string]FileEntry
	Dependencies   map[string]string
	BuildStatus    *BuildStatus
	ServerState    *ServerState
	TaskGraph      *TaskGraph
	CompletedSteps []string
}
