package models

import "time"

// EventType enumerates the Context Store event bus's event kinds.
type EventType string

const (
	EventProjectUpdated     EventType = "ProjectUpdated"
	EventSandboxStateChanged EventType = "SandboxStateChanged"
	EventDevServerStateChanged EventType = "DevServerStateChanged"
	EventFilesChanged       EventType = "FilesChanged"
	EventContextChanged     EventType = "ContextChanged"
	EventToolExecuted       EventType = "ToolExecuted"
	EventBuildStatusChanged EventType = "BuildStatusChanged"
)

// Event is one message on the Context Store's event bus.
type Event struct {
	Type      EventType `json:"type"`
	ProjectID string    `json:"projectId"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}
