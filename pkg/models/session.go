package models

// Session represents an active agent conversation session.
type Session struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id,omitempty"`
}
