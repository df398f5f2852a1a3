// Package deploy creates deployment records, hands archived workspaces
// to a backend, and tracks progress reported back through callbacks.
package deploy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/timomeintjes-cmd/oreus-api/internal/domain"
	"github.com/timomeintjes-cmd/oreus-api/internal/repository"
	"github.com/timomeintjes-cmd/oreus-api/internal/ws"
)

// Status constants for deployments.
const (
	StatusPending   = domain.DeploymentPending
	StatusBuilding  = domain.DeploymentBuilding
	StatusDeploying = domain.DeploymentDeploying
	StatusSuccess   = domain.DeploymentSuccess
	StatusFailed    = domain.DeploymentFailed
)

var (
	// ErrBackend wraps failures to hand work to the deployment backend.
	ErrBackend = errors.New("deploy: backend unavailable")
	// ErrStaleTransition rejects callbacks that would move a deployment
	// backwards or mutate a terminal record.
	ErrStaleTransition = errors.New("deploy: stale status transition")
	// ErrInvalidStatus rejects callbacks carrying an unknown status.
	ErrInvalidStatus = errors.New("deploy: invalid status")

	errMissingDeploymentID = errors.New("deployment_id required")
)

// Archiver streams a project workspace as a zip archive.
type Archiver interface {
	ExportArchive(projectID string, w io.Writer) error
}

// CallbackPayload is one progress event from the backend.
type CallbackPayload struct {
	DeploymentID string     `json:"deployment_id"`
	Status       string     `json:"status"`
	URL          string     `json:"url"`
	Error        string     `json:"error"`
	LogLine      string     `json:"log_line"`
	Timestamp    time.Time  `json:"timestamp"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// Service owns deployment records. All state changes flow through
// ProcessCallback so ordering rules live in one place.
type Service struct {
	projects    repository.ProjectRepository
	deployments repository.DeploymentRepository
	archiver    Archiver
	backend     Backend
	hub         *ws.Hub
	logger      *slog.Logger
	dispatchTTL time.Duration
	now         func() time.Time
}

// New returns a deployment service. A nil backend installs the
// simulator so deployments complete without external services.
func New(projects repository.ProjectRepository, deployments repository.DeploymentRepository, archiver Archiver, backend Backend, hub *ws.Hub, logger *slog.Logger) Service {
	s := Service{
		projects:    projects,
		deployments: deployments,
		archiver:    archiver,
		backend:     backend,
		hub:         hub,
		logger:      logger.With("component", "deploy"),
		dispatchTTL: 5 * time.Minute,
		now:         func() time.Time { return time.Now().UTC() },
	}
	if s.backend == nil {
		s.backend = NewSimulatedBackend(s.ProcessCallback, time.Second, logger)
	}
	return s
}

// Deploy archives the project workspace, records a pending deployment
// and dispatches the work asynchronously. The record is returned
// immediately; progress arrives through callbacks.
func (s Service) Deploy(ctx context.Context, projectID, environment string) (*domain.Deployment, error) {
	project, err := s.projects.GetProjectByID(ctx, projectID)
	if err != nil {
		return nil, err
	}
	environment = strings.TrimSpace(environment)
	if environment == "" {
		environment = "production"
	}

	var archive bytes.Buffer
	if err := s.archiver.ExportArchive(project.ID, &archive); err != nil {
		return nil, fmt.Errorf("archive workspace: %w", err)
	}

	now := s.now()
	deployment := &domain.Deployment{
		ID:          uuid.NewString(),
		ProjectID:   project.ID,
		Environment: environment,
		Status:      StatusPending,
		StartedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.deployments.CreateDeployment(ctx, deployment); err != nil {
		return nil, err
	}

	go s.dispatch(Request{
		DeploymentID: deployment.ID,
		ProjectID:    project.ID,
		Environment:  environment,
		Archive:      archive.Bytes(),
	})

	s.logger.Info("deployment queued", "deployment_id", deployment.ID, "project_id", project.ID, "environment", environment)
	return deployment, nil
}

// dispatch hands the archive to the backend outside the request that
// created the record. A dispatch failure is terminal for the record.
func (s Service) dispatch(req Request) {
	ctx, cancel := context.WithTimeout(context.Background(), s.dispatchTTL)
	defer cancel()

	if err := s.backend.Submit(ctx, req); err != nil {
		s.logger.Error("deployment dispatch failed", "deployment_id", req.DeploymentID, "error", err)
		completed := s.now()
		failure := CallbackPayload{
			DeploymentID: req.DeploymentID,
			Status:       StatusFailed,
			Error:        err.Error(),
			LogLine:      fmt.Sprintf("dispatch failed: %v", err),
			CompletedAt:  &completed,
		}
		if cbErr := s.ProcessCallback(ctx, failure); cbErr != nil && !errors.Is(cbErr, ErrStaleTransition) {
			s.logger.Error("failed to record dispatch failure", "deployment_id", req.DeploymentID, "error", cbErr)
		}
	}
}

// ProcessCallback applies one progress event. Transitions are forward
// only: pending, building, deploying, then success or failed. Events
// that would regress or touch a terminal record are rejected. The URL
// is only persisted on success.
func (s Service) ProcessCallback(ctx context.Context, payload CallbackPayload) error {
	if strings.TrimSpace(payload.DeploymentID) == "" {
		return errMissingDeploymentID
	}
	nextRank := domain.DeploymentRank(payload.Status)
	if nextRank < 0 {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, payload.Status)
	}

	// Early read for a descriptive rejection; the authoritative ordering
	// check is the repository's atomic compare-and-set below.
	current, err := s.deployments.GetDeploymentByID(ctx, payload.DeploymentID)
	if err != nil {
		return err
	}
	if domain.DeploymentTerminal(current.Status) || nextRank < domain.DeploymentRank(current.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrStaleTransition, current.Status, payload.Status)
	}

	update := domain.DeploymentStatusUpdate{
		DeploymentID: payload.DeploymentID,
		Status:       payload.Status,
		Error:        payload.Error,
		LogLine:      payload.LogLine,
		CompletedAt:  payload.CompletedAt,
	}
	if payload.Status == StatusSuccess {
		update.URL = payload.URL
	}
	if domain.DeploymentTerminal(payload.Status) && update.CompletedAt == nil {
		completed := payload.Timestamp
		if completed.IsZero() {
			completed = s.now()
		}
		update.CompletedAt = &completed
	}

	if err := s.deployments.UpdateDeploymentStatus(ctx, update); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return fmt.Errorf("%w: concurrent update won the race", ErrStaleTransition)
		}
		return err
	}

	s.logger.Info("deployment progress", "deployment_id", payload.DeploymentID, "status", payload.Status, "url", payload.URL)
	s.publish(payload)
	return nil
}

// Get fetches one deployment with its log lines.
func (s Service) Get(ctx context.Context, deploymentID string) (*domain.Deployment, error) {
	if deploymentID == "" {
		return nil, errMissingDeploymentID
	}
	return s.deployments.GetDeploymentByID(ctx, deploymentID)
}

// ListByProject returns recent deployments for a project, newest first.
func (s Service) ListByProject(ctx context.Context, projectID string, limit int) ([]domain.Deployment, error) {
	if _, err := s.projects.GetProjectByID(ctx, projectID); err != nil {
		return nil, err
	}
	return s.deployments.ListDeploymentsByProject(ctx, projectID, limit)
}

func (s Service) publish(payload CallbackPayload) {
	if s.hub == nil {
		return
	}
	event, err := json.Marshal(payload)
	if err != nil {
		return
	}
	s.hub.Publish(ws.DeploymentTopic(payload.DeploymentID), event)
}
