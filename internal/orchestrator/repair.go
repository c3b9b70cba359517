package orchestrator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/forgekit/agentcore/pkg/models"
)

// repairToolCalls implements the validate -> repair -> revalidate contract
// in front of execution: strip the leading "/" a model reliably adds to
// tool names (copied from slash-command habits) and resolve the tool, then
// validate the call's input against the tool's JSON Schema. A call that
// fails validation gets one repair pass (currently: lowercase-hyphenating a
// malformed projectName field) and is revalidated; a call still invalid
// after that, or whose name never resolves to a registered tool, is
// rejected with a tool-error result instead of reaching Execute.
func (o *Orchestrator) repairToolCalls(calls []models.ToolCall) ([]models.ToolCall, []models.ToolResult) {
	repaired := make([]models.ToolCall, 0, len(calls))
	var rejected []models.ToolResult

	for _, call := range calls {
		call.Name = strings.TrimPrefix(call.Name, "/")

		tool, ok := o.registry.Get(call.Name)
		if !ok {
			rejected = append(rejected, models.ToolResult{
				ToolCallID: call.ID,
				Content:    fmt.Sprintf("unknown tool: %s", call.Name),
				IsError:    true,
			})
			continue
		}

		if err := validateToolInput(call.Name, tool.Schema(), call.Input); err != nil {
			call.Input = repairProjectName(call.Input)
			if err := validateToolInput(call.Name, tool.Schema(), call.Input); err != nil {
				rejected = append(rejected, models.ToolResult{
					ToolCallID: call.ID,
					Content:    fmt.Sprintf("invalid input for %s: %v", call.Name, err),
					IsError:    true,
				})
				continue
			}
		}

		repaired = append(repaired, call)
	}
	return repaired, rejected
}

// repairProjectName lowercase-hyphenates a top-level projectName string
// field if present, leaving every other field untouched. Returns the
// original input unchanged on any decode failure.
func repairProjectName(input json.RawMessage) json.RawMessage {
	if len(input) == 0 {
		return input
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(input, &obj); err != nil {
		return input
	}
	raw, ok := obj["projectName"]
	if !ok {
		return input
	}
	var name string
	if err := json.Unmarshal(raw, &name); err != nil {
		return input
	}

	fixed := slugifyProjectName(name)
	if fixed == name {
		return input
	}
	encoded, err := json.Marshal(fixed)
	if err != nil {
		return input
	}
	obj["projectName"] = encoded

	fixedInput, err := json.Marshal(obj)
	if err != nil {
		return input
	}
	return fixedInput
}

func slugifyProjectName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, "_", "-")
	name = strings.Join(strings.Fields(name), "-")
	return name
}
