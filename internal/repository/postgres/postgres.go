package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/timomeintjes-cmd/oreus-api/internal/domain"
	"github.com/timomeintjes-cmd/oreus-api/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.ProjectRepository    = (*Repository)(nil)
	_ repository.DeploymentRepository = (*Repository)(nil)
)

// CreateProject inserts a project row.
func (r *Repository) CreateProject(ctx context.Context, project *domain.Project) error {
	const query = `INSERT INTO projects (id, name, template, description, root_path, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.pool.Exec(ctx, query, project.ID, project.Name, project.Template, project.Description, project.RootPath, project.CreatedAt)
	if isUniqueViolation(err) {
		return repository.ErrConflict
	}
	return err
}

// GetProjectByID fetches a project by identifier.
func (r *Repository) GetProjectByID(ctx context.Context, projectID string) (*domain.Project, error) {
	const query = `SELECT id, name, template, description, root_path, created_at
		FROM projects WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, projectID)
	var p domain.Project
	if err := row.Scan(&p.ID, &p.Name, &p.Template, &p.Description, &p.RootPath, &p.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// ListProjects returns all projects, newest first.
func (r *Repository) ListProjects(ctx context.Context) ([]domain.Project, error) {
	const query = `SELECT id, name, template, description, root_path, created_at
		FROM projects ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var projects []domain.Project
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Template, &p.Description, &p.RootPath, &p.CreatedAt); err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// DeleteProject removes a project row and its env vars.
func (r *Repository) DeleteProject(ctx context.Context, projectID string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM projects WHERE id = $1`, projectID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// UpsertEnvVar stores an encrypted environment variable.
func (r *Repository) UpsertEnvVar(ctx context.Context, envVar *domain.ProjectEnvVar) error {
	const query = `INSERT INTO project_env_vars (project_id, key, value, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (project_id, key) DO UPDATE SET value = EXCLUDED.value`
	_, err := r.pool.Exec(ctx, query, envVar.ProjectID, envVar.Key, envVar.Value, envVar.CreatedAt)
	return err
}

// ListProjectEnvVars returns stored env vars for a project.
func (r *Repository) ListProjectEnvVars(ctx context.Context, projectID string) ([]domain.ProjectEnvVar, error) {
	const query = `SELECT project_id, key, value, created_at
		FROM project_env_vars WHERE project_id = $1 ORDER BY key`
	rows, err := r.pool.Query(ctx, query, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var vars []domain.ProjectEnvVar
	for rows.Next() {
		var v domain.ProjectEnvVar
		if err := rows.Scan(&v.ProjectID, &v.Key, &v.Value, &v.CreatedAt); err != nil {
			return nil, err
		}
		vars = append(vars, v)
	}
	return vars, rows.Err()
}

// CreateDeployment inserts a deployment record.
func (r *Repository) CreateDeployment(ctx context.Context, deployment *domain.Deployment) error {
	const query = `INSERT INTO deployments (id, project_id, environment, status, url, error, started_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.pool.Exec(ctx, query,
		deployment.ID, deployment.ProjectID, deployment.Environment, deployment.Status,
		deployment.URL, deployment.Error, deployment.StartedAt, deployment.UpdatedAt)
	if err != nil {
		return err
	}
	for _, line := range deployment.Logs {
		if err := r.appendDeploymentLog(ctx, deployment.ID, line); err != nil {
			return err
		}
	}
	return nil
}

// GetDeploymentByID fetches a deployment with its log lines.
func (r *Repository) GetDeploymentByID(ctx context.Context, deploymentID string) (*domain.Deployment, error) {
	const query = `SELECT id, project_id, environment, status, url, error, started_at, completed_at, updated_at
		FROM deployments WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, deploymentID)
	var d domain.Deployment
	if err := row.Scan(&d.ID, &d.ProjectID, &d.Environment, &d.Status, &d.URL, &d.Error, &d.StartedAt, &d.CompletedAt, &d.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	logs, err := r.deploymentLogs(ctx, deploymentID)
	if err != nil {
		return nil, err
	}
	d.Logs = logs
	return &d, nil
}

// ListDeploymentsByProject returns recent deployments, newest first.
func (r *Repository) ListDeploymentsByProject(ctx context.Context, projectID string, limit int) ([]domain.Deployment, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	const query = `SELECT id, project_id, environment, status, url, error, started_at, completed_at, updated_at
		FROM deployments WHERE project_id = $1 ORDER BY started_at DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, query, projectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var deployments []domain.Deployment
	for rows.Next() {
		var d domain.Deployment
		if err := rows.Scan(&d.ID, &d.ProjectID, &d.Environment, &d.Status, &d.URL, &d.Error, &d.StartedAt, &d.CompletedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		deployments = append(deployments, d)
	}
	return deployments, rows.Err()
}

// UpdateDeploymentStatus advances a deployment record. The ordering
// check lives in the WHERE clause so concurrent callbacks serialize on
// the row: terminal records are never touched and the stored status
// never moves backwards, no matter how updates interleave.
func (r *Repository) UpdateDeploymentStatus(ctx context.Context, update domain.DeploymentStatusUpdate) error {
	const query = `UPDATE deployments
		SET status = $2,
		    url = COALESCE(NULLIF($3, ''), url),
		    error = COALESCE(NULLIF($4, ''), error),
		    completed_at = COALESCE($5, completed_at),
		    updated_at = now()
		WHERE id = $1
		  AND status NOT IN ('success', 'failed')
		  AND CASE status
		        WHEN 'pending' THEN 0
		        WHEN 'building' THEN 1
		        WHEN 'deploying' THEN 2
		        ELSE 3
		      END <= CASE $2
		        WHEN 'pending' THEN 0
		        WHEN 'building' THEN 1
		        WHEN 'deploying' THEN 2
		        ELSE 3
		      END`
	tag, err := r.pool.Exec(ctx, query,
		update.DeploymentID, update.Status, update.URL, update.Error, update.CompletedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetDeploymentByID(ctx, update.DeploymentID); err != nil {
			return err
		}
		return repository.ErrConflict
	}
	if update.LogLine != "" {
		return r.appendDeploymentLog(ctx, update.DeploymentID, update.LogLine)
	}
	return nil
}

func (r *Repository) appendDeploymentLog(ctx context.Context, deploymentID, line string) error {
	const query = `INSERT INTO deployment_logs (deployment_id, line, created_at) VALUES ($1, $2, now())`
	_, err := r.pool.Exec(ctx, query, deploymentID, line)
	return err
}

func (r *Repository) deploymentLogs(ctx context.Context, deploymentID string) ([]string, error) {
	const query = `SELECT line FROM deployment_logs WHERE deployment_id = $1 ORDER BY id`
	rows, err := r.pool.Query(ctx, query, deploymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
