package models

import "time"

// SandboxState is a node in the sandbox lifecycle state machine.
type SandboxState string

const (
	SandboxIdle     SandboxState = "idle"
	SandboxCreating SandboxState = "creating"
	SandboxActive   SandboxState = "active"
	SandboxPaused   SandboxState = "paused"
	SandboxExpired  SandboxState = "expired"
	SandboxError    SandboxState = "error"
)

// SandboxEvent drives a transition in the sandbox state machine.
type SandboxEvent string

const (
	EventCreate  SandboxEvent = "CREATE"
	EventCreated SandboxEvent = "CREATED"
	EventError   SandboxEvent = "ERROR"
	EventPause   SandboxEvent = "PAUSE"
	EventExpire  SandboxEvent = "EXPIRE"
	EventCleanup SandboxEvent = "CLEANUP"
	EventResume  SandboxEvent = "RESUME"
	EventRetry   SandboxEvent = "RETRY"
)

// SandboxRecord is the per-project VM lifecycle record owned by the Sandbox Manager.
type SandboxRecord struct {
	ProjectID    string       `json:"projectId"`
	State        SandboxState `json:"state"`
	SandboxID    string       `json:"sandboxId,omitempty"`
	SandboxURL   string       `json:"sandboxUrl,omitempty"`
	Error        string       `json:"error,omitempty"`
	RetryCount   int          `json:"retryCount"`
	CreatedAt    time.Time    `json:"createdAt,omitempty"`
	PausedAt     time.Time    `json:"pausedAt,omitempty"`
	LastActivity time.Time    `json:"lastActivity"`
}
