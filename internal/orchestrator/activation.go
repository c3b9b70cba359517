package orchestrator

import (
	"github.com/forgekit/agentcore/internal/agent"
	"github.com/forgekit/agentcore/internal/tools/project"
	"github.com/forgekit/agentcore/pkg/models"
)

// activeToolNames decides which tools the model may call for a given step,
// based on the project's current state:
//
//   - step 0 always gets the planning and read-only discovery tools, so the
//     model orients itself before touching anything.
//   - once the build is broken, only the file-editing and build-checking
//     tools are offered, to push the model toward fixing the break.
//   - once the dev server is up and a plan exists, markStepComplete joins
//     the file/build set so the model can retire tasks as it finishes them.
//   - otherwise every registered tool is available.
func (o *Orchestrator) activeToolNames(step int, ctxt *models.ProjectContext) []string {
	switch {
	case step == 0:
		// markStepComplete rides along with the planning tools: a resumed
		// conversation may already carry a task graph at step 0.
		return []string{
			project.ToolPlanChanges,
			project.ToolMarkStepComplete,
			project.ToolAnalyzeProjectState,
			project.ToolGetProjectStructure,
			project.ToolReadFile,
		}
	case ctxt.BuildStatus != nil && ctxt.BuildStatus.HasErrors:
		return []string{
			project.ToolReadFile,
			project.ToolWriteFile,
			project.ToolEditFile,
			project.ToolBatchWriteFiles,
			project.ToolGetBuildStatus,
			project.ToolRunCommand,
		}
	case ctxt.ServerState != nil && ctxt.ServerState.IsRunning && ctxt.TaskGraph != nil:
		return []string{
			project.ToolReadFile,
			project.ToolWriteFile,
			project.ToolEditFile,
			project.ToolBatchWriteFiles,
			project.ToolGetBuildStatus,
			project.ToolMarkStepComplete,
		}
	default:
		return o.registry.Names()
	}
}

// activeTools resolves activeToolNames against the registry, dropping any
// name that isn't actually registered instead of erroring.
func (o *Orchestrator) activeTools(step int, ctxt *models.ProjectContext) []agent.Tool {
	names := o.activeToolNames(step, ctxt)
	allowed := make(map[string]bool, len(names))
	for _, n := range names {
		allowed[n] = true
	}

	tools := make([]agent.Tool, 0, len(names))
	for _, t := range o.registry.AsLLMTools() {
		if allowed[t.Name()] {
			tools = append(tools, t)
		}
	}
	return tools
}
