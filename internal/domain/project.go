package domain

import "time"

// Project is a user-created workspace backed by a template.
type Project struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Template    string    `json:"template"`
	Description string    `json:"description,omitempty"`
	RootPath    string    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

// ProjectEnvVar stores an encrypted environment variable injected into
// the project's dev server process.
type ProjectEnvVar struct {
	ProjectID string
	Key       string
	Value     []byte
	CreatedAt time.Time
}

// FileNode describes one entry of a project's workspace tree.
type FileNode struct {
	Path        string `json:"path"`
	IsDirectory bool   `json:"is_directory"`
	Size        int64  `json:"size"`
}
