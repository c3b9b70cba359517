package orchestrator

import (
	"time"

	"github.com/google/uuid"

	"github.com/forgekit/agentcore/internal/tools/project"
	"github.com/forgekit/agentcore/pkg/models"
)

// ensureFinalText guarantees a run ends on assistant text: if the loop exits
// mid tool-call (the step budget ran out right after a tool result, or the
// model returned an empty final message) a short synthesized summary is
// appended so the caller always has something to show the user.
func ensureFinalText(projectID string, history []*models.Message) []*models.Message {
	if len(history) == 0 {
		return history
	}
	last := history[len(history)-1]
	if last.Role == models.RoleAssistant && trimmed(last.Content) != "" {
		return history
	}

	return append(history, &models.Message{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		Role:      models.RoleAssistant,
		Content:   synthesizeSummary(history),
		CreatedAt: time.Now(),
	})
}

func trimmed(s string) string {
	start, end := 0, len(s)
	for start < end && (s[start] == ' ' || s[start] == '\n' || s[start] == '\t') {
		start++
	}
	for end > start && (s[end-1] == ' ' || s[end-1] == '\n' || s[end-1] == '\t') {
		end--
	}
	return s[start:end]
}

// synthesizeSummary builds a one-line fallback by scanning the transcript
// for which file-touching tools actually ran.
func synthesizeSummary(history []*models.Message) string {
	touchedFiles := false
	ranCommands := false
	for _, m := range history {
		for _, call := range m.ToolCalls {
			switch call.Name {
			case project.ToolWriteFile, project.ToolEditFile, project.ToolBatchWriteFiles, project.ToolSyncProject:
				touchedFiles = true
			case project.ToolRunCommand, project.ToolInstallPackage:
				ranCommands = true
			}
		}
	}

	switch {
	case touchedFiles && ranCommands:
		return "Applied the requested file changes and ran the needed commands."
	case touchedFiles:
		return "Applied the requested file changes."
	case ranCommands:
		return "Ran the requested commands."
	default:
		return "No changes were made."
	}
}
