package models

import "time"

// DevServerRecord is the dev server supervisor's view of a project's
// background `dev` process.
type DevServerRecord struct {
	ProjectID   string    `json:"projectId"`
	IsRunning   bool      `json:"isRunning"`
	Port        int       `json:"port,omitempty"`
	URL         string    `json:"url,omitempty"`
	Logs        []string  `json:"logs,omitempty"`
	Errors      []string  `json:"errors,omitempty"`
	LastChecked time.Time `json:"lastChecked"`
}
