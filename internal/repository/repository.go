package repository

import (
	"context"

	"github.com/timomeintjes-cmd/oreus-api/internal/domain"
)

// ProjectRepository persists project metadata and env vars.
type ProjectRepository interface {
	CreateProject(ctx context.Context, project *domain.Project) error
	GetProjectByID(ctx context.Context, projectID string) (*domain.Project, error)
	ListProjects(ctx context.Context) ([]domain.Project, error)
	DeleteProject(ctx context.Context, projectID string) error
	UpsertEnvVar(ctx context.Context, envVar *domain.ProjectEnvVar) error
	ListProjectEnvVars(ctx context.Context, projectID string) ([]domain.ProjectEnvVar, error)
}

// DeploymentRepository stores deployment records and their progress log.
type DeploymentRepository interface {
	CreateDeployment(ctx context.Context, deployment *domain.Deployment) error
	GetDeploymentByID(ctx context.Context, deploymentID string) (*domain.Deployment, error)
	ListDeploymentsByProject(ctx context.Context, projectID string, limit int) ([]domain.Deployment, error)
	// UpdateDeploymentStatus applies one forward transition atomically.
	// Updates that would regress the stored status or touch a terminal
	// record report ErrConflict, even under concurrent callers.
	UpdateDeploymentStatus(ctx context.Context, update domain.DeploymentStatusUpdate) error
}
