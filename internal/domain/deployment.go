package domain

import "time"

// Deployment statuses, ordered; a record never moves backwards and is
// immutable once terminal.
const (
	DeploymentPending   = "pending"
	DeploymentBuilding  = "building"
	DeploymentDeploying = "deploying"
	DeploymentSuccess   = "success"
	DeploymentFailed    = "failed"
)

// Deployment captures a single deployment attempt of a project to an
// environment.
type Deployment struct {
	ID          string     `json:"deployment_id"`
	ProjectID   string     `json:"project_id"`
	Environment string     `json:"environment"`
	Status      string     `json:"status"`
	URL         string     `json:"url,omitempty"`
	Error       string     `json:"error,omitempty"`
	Logs        []string   `json:"logs"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// DeploymentStatusUpdate carries the mutable fields for one forward
// transition of a deployment record.
type DeploymentStatusUpdate struct {
	DeploymentID string
	Status       string
	URL          string
	Error        string
	LogLine      string
	CompletedAt  *time.Time
}

// DeploymentRank orders statuses for forward-only enforcement. Unknown
// statuses rank below pending so they can never be applied.
func DeploymentRank(status string) int {
	switch status {
	case DeploymentPending:
		return 0
	case DeploymentBuilding:
		return 1
	case DeploymentDeploying:
		return 2
	case DeploymentSuccess, DeploymentFailed:
		return 3
	default:
		return -1
	}
}

// DeploymentTerminal reports whether a status ends the pipeline.
func DeploymentTerminal(status string) bool {
	return status == DeploymentSuccess || status == DeploymentFailed
}
