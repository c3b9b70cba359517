package project

import "github.com/forgekit/agentcore/internal/agent"

// Register adds every project tool to registry, wired against deps.
func Register(registry *agent.ToolRegistry, deps Deps) {
	registry.Register(NewPlanChangesTool(deps))
	registry.Register(NewMarkStepCompleteTool(deps))
	registry.Register(NewAnalyzeProjectStateTool(deps))
	registry.Register(NewGetProjectStructureTool(deps))
	registry.Register(NewReadFileTool(deps))
	registry.Register(NewWriteFileTool(deps))
	registry.Register(NewEditFileTool(deps))
	registry.Register(NewBatchWriteFilesTool(deps))
	registry.Register(NewRunCommandTool(deps, 0))
	registry.Register(NewInstallPackageTool(deps))
	registry.Register(NewGetBuildStatusTool(deps))
	registry.Register(NewSyncProjectTool(deps))
}

// Names are the canonical spec tool set, used by the orchestrator's
// per-step activation rules to select subsets without hardcoding strings.
const (
	ToolPlanChanges         = "planChanges"
	ToolMarkStepComplete    = "markStepComplete"
	ToolAnalyzeProjectState = "analyzeProjectState"
	ToolGetProjectStructure = "getProjectStructure"
	ToolReadFile            = "readFile"
	ToolWriteFile           = "writeFile"
	ToolEditFile            = "editFile"
	ToolBatchWriteFiles     = "batchWriteFiles"
	ToolRunCommand          = "runCommand"
	ToolInstallPackage      = "installPackage"
	ToolGetBuildStatus      = "getBuildStatus"
	ToolSyncProject         = "syncProject"
)
