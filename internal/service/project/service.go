// Package project implements the project lifecycle: creation from a
// template, file access, env vars, dev-server control, and deletion.
package project

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/timomeintjes-cmd/oreus-api/internal/domain"
	"github.com/timomeintjes-cmd/oreus-api/internal/repository"
	"github.com/timomeintjes-cmd/oreus-api/internal/service/devserver"
	"github.com/timomeintjes-cmd/oreus-api/internal/template"
	"github.com/timomeintjes-cmd/oreus-api/internal/workspace"
	"github.com/timomeintjes-cmd/oreus-api/pkg/config"
	"github.com/timomeintjes-cmd/oreus-api/pkg/crypto"
)

// CreateInput encapsulates project creation attributes.
type CreateInput struct {
	Name        string
	Template    string
	Description string
}

// EnvVarInput holds one environment variable assignment.
type EnvVarInput struct {
	ProjectID string
	Key       string
	Value     string
}

// EnvVar is a decrypted environment variable for API responses.
type EnvVar struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// ListItem is a project enriched with its dev-server summary.
type ListItem struct {
	domain.Project
	domain.DevServerSummary
}

// ErrValidation marks rejected input; handlers map it to a client error.
var ErrValidation = errors.New("invalid input")

var (
	errInvalidProjectName = fmt.Errorf("%w: project name is required", ErrValidation)
	errInvalidEnvKey      = fmt.Errorf("%w: environment variable key is required", ErrValidation)
	errMissingProjectID   = fmt.Errorf("%w: project id required", ErrValidation)
)

// Service orchestrates the project lifecycle.
type Service struct {
	projects  repository.ProjectRepository
	store     *workspace.Store
	templates *template.Registry
	servers   *devserver.Registry
	logger    *slog.Logger
	cfg       config.Config
	now       func() time.Time
}

// New returns a project service.
func New(projects repository.ProjectRepository, store *workspace.Store, templates *template.Registry, servers *devserver.Registry, logger *slog.Logger, cfg config.Config) Service {
	return Service{
		projects:  projects,
		store:     store,
		templates: templates,
		servers:   servers,
		logger:    logger.With("component", "project"),
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Create registers a project and seeds its workspace from the template.
// The workspace is removed again if the database insert fails.
func (s Service) Create(ctx context.Context, input CreateInput) (*domain.Project, error) {
	if strings.TrimSpace(input.Name) == "" {
		return nil, errInvalidProjectName
	}
	tmpl, err := s.templates.Resolve(input.Template)
	if err != nil {
		return nil, err
	}

	projectID := uuid.NewString()
	rootPath, err := s.store.Create(projectID, tmpl.Files)
	if err != nil {
		return nil, fmt.Errorf("seed workspace: %w", err)
	}

	project := &domain.Project{
		ID:          projectID,
		Name:        strings.TrimSpace(input.Name),
		Template:    tmpl.ID,
		Description: strings.TrimSpace(input.Description),
		RootPath:    rootPath,
		CreatedAt:   s.now(),
	}
	if err := s.projects.CreateProject(ctx, project); err != nil {
		if destroyErr := s.store.Destroy(projectID); destroyErr != nil {
			s.logger.Error("workspace rollback failed", "project_id", projectID, "error", destroyErr)
		}
		return nil, err
	}

	s.logger.Info("project created", "project_id", projectID, "template", tmpl.ID)
	return project, nil
}

// List returns all projects with their live dev-server summaries.
func (s Service) List(ctx context.Context) ([]ListItem, error) {
	projects, err := s.projects.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	summaries := s.servers.Summaries()
	items := make([]ListItem, 0, len(projects))
	for _, p := range projects {
		items = append(items, ListItem{Project: p, DevServerSummary: summaries[p.ID]})
	}
	return items, nil
}

// Get fetches a single project.
func (s Service) Get(ctx context.Context, projectID string) (*domain.Project, error) {
	if projectID == "" {
		return nil, errMissingProjectID
	}
	return s.projects.GetProjectByID(ctx, projectID)
}

// Delete removes a project: any live dev server is stopped first, then
// the workspace is destroyed, then the row is deleted. Stop and destroy
// failures are logged, not fatal; the row delete decides the outcome.
func (s Service) Delete(ctx context.Context, projectID string) error {
	if _, err := s.Get(ctx, projectID); err != nil {
		return err
	}
	s.servers.Forget(ctx, projectID)
	if err := s.store.Destroy(projectID); err != nil {
		s.logger.Error("workspace destroy failed", "project_id", projectID, "error", err)
	}
	if err := s.projects.DeleteProject(ctx, projectID); err != nil {
		return err
	}
	s.logger.Info("project deleted", "project_id", projectID)
	return nil
}

// ReadFile returns the content of one workspace file.
func (s Service) ReadFile(ctx context.Context, projectID, path string) ([]byte, error) {
	if _, err := s.Get(ctx, projectID); err != nil {
		return nil, err
	}
	return s.store.ReadFile(projectID, path)
}

// WriteFile creates or overwrites one workspace file, creating parent
// directories as needed.
func (s Service) WriteFile(ctx context.Context, projectID, path string, content []byte) error {
	if _, err := s.Get(ctx, projectID); err != nil {
		return err
	}
	return s.store.WriteFile(projectID, path, content)
}

// DeleteFile removes a file or directory subtree from the workspace.
func (s Service) DeleteFile(ctx context.Context, projectID, path string) error {
	if _, err := s.Get(ctx, projectID); err != nil {
		return err
	}
	return s.store.Delete(projectID, path)
}

// Mkdir creates a directory inside the workspace.
func (s Service) Mkdir(ctx context.Context, projectID, path string) error {
	if _, err := s.Get(ctx, projectID); err != nil {
		return err
	}
	return s.store.Mkdir(projectID, path)
}

// ListTree lists the workspace contents, directories first.
func (s Service) ListTree(ctx context.Context, projectID string) ([]domain.FileNode, error) {
	if _, err := s.Get(ctx, projectID); err != nil {
		return nil, err
	}
	nodes, err := s.store.ListTree(projectID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.FileNode, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, domain.FileNode{Path: n.Path, IsDirectory: n.IsDirectory, Size: n.Size})
	}
	return out, nil
}

// ExportArchive streams the workspace as a zip archive.
func (s Service) ExportArchive(ctx context.Context, projectID string, w io.Writer) error {
	if _, err := s.Get(ctx, projectID); err != nil {
		return err
	}
	return s.store.ExportArchive(projectID, w)
}

// AddEnvVar stores an environment variable encrypted at rest.
func (s Service) AddEnvVar(ctx context.Context, input EnvVarInput) error {
	if strings.TrimSpace(input.Key) == "" {
		return errInvalidEnvKey
	}
	if _, err := s.Get(ctx, input.ProjectID); err != nil {
		return err
	}
	encrypted, err := crypto.EncryptString(s.cfg.EnvEncryptionKey, input.Value)
	if err != nil {
		return fmt.Errorf("encrypt env var: %w", err)
	}
	envVar := &domain.ProjectEnvVar{
		ProjectID: input.ProjectID,
		Key:       strings.TrimSpace(input.Key),
		Value:     encrypted,
		CreatedAt: s.now(),
	}
	return s.projects.UpsertEnvVar(ctx, envVar)
}

// ListEnvVars returns the project's env vars with decrypted values.
func (s Service) ListEnvVars(ctx context.Context, projectID string) ([]EnvVar, error) {
	if _, err := s.Get(ctx, projectID); err != nil {
		return nil, err
	}
	stored, err := s.projects.ListProjectEnvVars(ctx, projectID)
	if err != nil {
		return nil, err
	}
	out := make([]EnvVar, 0, len(stored))
	for _, item := range stored {
		value, err := crypto.DecryptToString(s.cfg.EnvEncryptionKey, item.Value)
		if err != nil {
			return nil, fmt.Errorf("decrypt env var %s: %w", item.Key, err)
		}
		out = append(out, EnvVar{Key: item.Key, Value: value})
	}
	return out, nil
}

// StartDevServer launches the project's dev server with its decrypted
// env vars injected into the child environment.
func (s Service) StartDevServer(ctx context.Context, projectID string) (domain.DevServerStatus, error) {
	proj, err := s.Get(ctx, projectID)
	if err != nil {
		return domain.DevServerStatus{}, err
	}
	envVars, err := s.ListEnvVars(ctx, projectID)
	if err != nil {
		return domain.DevServerStatus{}, err
	}
	extraEnv := make([]string, 0, len(envVars))
	for _, v := range envVars {
		extraEnv = append(extraEnv, v.Key+"="+v.Value)
	}
	return s.servers.Start(ctx, *proj, extraEnv)
}

// StopDevServer stops the project's dev server.
func (s Service) StopDevServer(ctx context.Context, projectID string) error {
	if _, err := s.Get(ctx, projectID); err != nil {
		return err
	}
	return s.servers.Stop(ctx, projectID)
}

// DevServerStatus reports the current run snapshot. A project that
// never started a server in this process reports stopped.
func (s Service) DevServerStatus(ctx context.Context, projectID string) (domain.DevServerStatus, error) {
	if _, err := s.Get(ctx, projectID); err != nil {
		return domain.DevServerStatus{}, err
	}
	status, _ := s.servers.Status(projectID)
	return status, nil
}
