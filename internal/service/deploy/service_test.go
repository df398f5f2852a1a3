package deploy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/timomeintjes-cmd/oreus-api/internal/domain"
	"github.com/timomeintjes-cmd/oreus-api/internal/repository"
	"github.com/timomeintjes-cmd/oreus-api/internal/ws"
)

type stubProjects struct {
	projects map[string]*domain.Project
}

func (r *stubProjects) GetProjectByID(_ context.Context, projectID string) (*domain.Project, error) {
	project, ok := r.projects[projectID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	clone := *project
	return &clone, nil
}

func (r *stubProjects) CreateProject(context.Context, *domain.Project) error { return nil }
func (r *stubProjects) ListProjects(context.Context) ([]domain.Project, error) {
	return nil, nil
}
func (r *stubProjects) DeleteProject(context.Context, string) error { return nil }
func (r *stubProjects) UpsertEnvVar(context.Context, *domain.ProjectEnvVar) error {
	return nil
}
func (r *stubProjects) ListProjectEnvVars(context.Context, string) ([]domain.ProjectEnvVar, error) {
	return nil, nil
}

type stubDeployments struct {
	mu       sync.Mutex
	records  map[string]*domain.Deployment
	logs     map[string][]string
	conflict bool
}

func newStubDeployments() *stubDeployments {
	return &stubDeployments{
		records: make(map[string]*domain.Deployment),
		logs:    make(map[string][]string),
	}
}

func (r *stubDeployments) CreateDeployment(_ context.Context, deployment *domain.Deployment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *deployment
	r.records[deployment.ID] = &clone
	return nil
}

func (r *stubDeployments) GetDeploymentByID(_ context.Context, deploymentID string) (*domain.Deployment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[deploymentID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	clone := *record
	clone.Logs = append([]string(nil), r.logs[deploymentID]...)
	return &clone, nil
}

func (r *stubDeployments) ListDeploymentsByProject(_ context.Context, projectID string, limit int) ([]domain.Deployment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Deployment, 0)
	for _, record := range r.records {
		if record.ProjectID == projectID {
			out = append(out, *record)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// UpdateDeploymentStatus mirrors the postgres compare-and-set: the rank
// check and the write happen under one lock.
func (r *stubDeployments) UpdateDeploymentStatus(_ context.Context, update domain.DeploymentStatusUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conflict {
		return repository.ErrConflict
	}
	record, ok := r.records[update.DeploymentID]
	if !ok {
		return repository.ErrNotFound
	}
	if domain.DeploymentTerminal(record.Status) ||
		domain.DeploymentRank(update.Status) < domain.DeploymentRank(record.Status) {
		return repository.ErrConflict
	}
	record.Status = update.Status
	if update.URL != "" {
		record.URL = update.URL
	}
	if update.Error != "" {
		record.Error = update.Error
	}
	if update.CompletedAt != nil {
		record.CompletedAt = update.CompletedAt
	}
	if update.LogLine != "" {
		r.logs[update.DeploymentID] = append(r.logs[update.DeploymentID], update.LogLine)
	}
	return nil
}

var (
	_ repository.ProjectRepository    = (*stubProjects)(nil)
	_ repository.DeploymentRepository = (*stubDeployments)(nil)
)

type stubArchiver struct{ fail bool }

func (a stubArchiver) ExportArchive(projectID string, w io.Writer) error {
	if a.fail {
		return errors.New("archive failed")
	}
	_, err := w.Write([]byte("zipdata"))
	return err
}

type captureBackend struct {
	requests chan Request
	err      error
}

func (b *captureBackend) Submit(_ context.Context, req Request) error {
	b.requests <- req
	return b.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newService(t *testing.T, backend Backend) (Service, *stubProjects, *stubDeployments) {
	t.Helper()
	projects := &stubProjects{projects: map[string]*domain.Project{
		"p1": {ID: "p1", Name: "demo", Template: "fastapi"},
	}}
	deployments := newStubDeployments()
	svc := New(projects, deployments, stubArchiver{}, backend, ws.NewHub(), testLogger())
	return svc, projects, deployments
}

func TestDeployCreatesPendingAndDispatches(t *testing.T) {
	backend := &captureBackend{requests: make(chan Request, 1)}
	svc, _, repo := newService(t, backend)

	deployment, err := svc.Deploy(context.Background(), "p1", "")
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if deployment.Status != StatusPending {
		t.Fatalf("status = %s, want pending", deployment.Status)
	}
	if deployment.Environment != "production" {
		t.Fatalf("environment = %q, want production default", deployment.Environment)
	}
	if _, ok := repo.records[deployment.ID]; !ok {
		t.Fatal("record not persisted")
	}

	select {
	case req := <-backend.requests:
		if req.DeploymentID != deployment.ID || req.ProjectID != "p1" {
			t.Fatalf("unexpected request: %+v", req)
		}
		if string(req.Archive) != "zipdata" {
			t.Fatalf("archive = %q", req.Archive)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("backend never received the request")
	}
}

func TestDeployMissingProject(t *testing.T) {
	svc, _, _ := newService(t, &captureBackend{requests: make(chan Request, 1)})
	if _, err := svc.Deploy(context.Background(), "ghost", ""); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDispatchFailureMarksRecordFailed(t *testing.T) {
	backend := &captureBackend{requests: make(chan Request, 1), err: errors.New("connection refused")}
	svc, _, _ := newService(t, backend)

	deployment, err := svc.Deploy(context.Background(), "p1", "production")
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	<-backend.requests

	deadline := time.Now().Add(3 * time.Second)
	for {
		record, err := svc.Get(context.Background(), deployment.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if record.Status == StatusFailed {
			if record.Error == "" || record.CompletedAt == nil {
				t.Fatalf("incomplete failure record: %+v", record)
			}
			if !strings.Contains(strings.Join(record.Logs, "\n"), "dispatch failed") {
				t.Fatalf("missing diagnostic log, got %v", record.Logs)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("record never failed, status = %s", record.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func seedDeployment(t *testing.T, repo *stubDeployments, status string) *domain.Deployment {
	t.Helper()
	deployment := &domain.Deployment{
		ID:        "d1",
		ProjectID: "p1",
		Status:    status,
		StartedAt: time.Now().UTC(),
	}
	if err := repo.CreateDeployment(context.Background(), deployment); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return deployment
}

func TestProcessCallbackForwardOnly(t *testing.T) {
	svc, _, repo := newService(t, &captureBackend{requests: make(chan Request, 4)})
	seedDeployment(t, repo, StatusPending)
	ctx := context.Background()

	steps := []string{StatusBuilding, StatusDeploying}
	for _, status := range steps {
		if err := svc.ProcessCallback(ctx, CallbackPayload{DeploymentID: "d1", Status: status}); err != nil {
			t.Fatalf("advance to %s: %v", status, err)
		}
	}

	// Regression is rejected.
	err := svc.ProcessCallback(ctx, CallbackPayload{DeploymentID: "d1", Status: StatusBuilding})
	if !errors.Is(err, ErrStaleTransition) {
		t.Fatalf("expected ErrStaleTransition on regression, got %v", err)
	}

	if err := svc.ProcessCallback(ctx, CallbackPayload{DeploymentID: "d1", Status: StatusSuccess, URL: "https://demo.oreus.app"}); err != nil {
		t.Fatalf("success: %v", err)
	}
	record, err := svc.Get(ctx, "d1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if record.URL != "https://demo.oreus.app" {
		t.Fatalf("url = %q", record.URL)
	}
	if record.CompletedAt == nil {
		t.Fatal("terminal record missing completed_at")
	}

	// Terminal records are frozen.
	err = svc.ProcessCallback(ctx, CallbackPayload{DeploymentID: "d1", Status: StatusFailed})
	if !errors.Is(err, ErrStaleTransition) {
		t.Fatalf("expected ErrStaleTransition on terminal mutation, got %v", err)
	}
}

func TestProcessCallbackConcurrentNeverRegresses(t *testing.T) {
	for i := 0; i < 100; i++ {
		svc, _, repo := newService(t, &captureBackend{requests: make(chan Request, 1)})
		seedDeployment(t, repo, StatusPending)
		ctx := context.Background()

		start := make(chan struct{})
		var wg sync.WaitGroup
		for _, status := range []string{StatusBuilding, StatusDeploying} {
			wg.Add(1)
			go func(status string) {
				defer wg.Done()
				<-start
				_ = svc.ProcessCallback(ctx, CallbackPayload{DeploymentID: "d1", Status: status})
			}(status)
		}
		close(start)
		wg.Wait()

		record, err := svc.Get(ctx, "d1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		// deploying must survive no matter which callback lands first.
		if record.Status != StatusDeploying {
			t.Fatalf("iteration %d: status = %q after concurrent callbacks, want %q", i, record.Status, StatusDeploying)
		}
	}
}

func TestProcessCallbackIgnoresURLBeforeSuccess(t *testing.T) {
	svc, _, repo := newService(t, &captureBackend{requests: make(chan Request, 1)})
	seedDeployment(t, repo, StatusPending)

	if err := svc.ProcessCallback(context.Background(), CallbackPayload{DeploymentID: "d1", Status: StatusBuilding, URL: "https://early.oreus.app"}); err != nil {
		t.Fatalf("building: %v", err)
	}
	record, _ := svc.Get(context.Background(), "d1")
	if record.URL != "" {
		t.Fatalf("url set before success: %q", record.URL)
	}
}

func TestProcessCallbackValidation(t *testing.T) {
	svc, _, repo := newService(t, &captureBackend{requests: make(chan Request, 1)})
	seedDeployment(t, repo, StatusPending)
	ctx := context.Background()

	if err := svc.ProcessCallback(ctx, CallbackPayload{Status: StatusBuilding}); err == nil {
		t.Fatal("expected error for missing deployment_id")
	}
	if err := svc.ProcessCallback(ctx, CallbackPayload{DeploymentID: "d1", Status: "exploded"}); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
	if err := svc.ProcessCallback(ctx, CallbackPayload{DeploymentID: "ghost", Status: StatusBuilding}); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestProcessCallbackRepositoryConflict(t *testing.T) {
	svc, _, repo := newService(t, &captureBackend{requests: make(chan Request, 1)})
	seedDeployment(t, repo, StatusPending)
	repo.conflict = true

	err := svc.ProcessCallback(context.Background(), CallbackPayload{DeploymentID: "d1", Status: StatusBuilding})
	if !errors.Is(err, ErrStaleTransition) {
		t.Fatalf("expected ErrStaleTransition from repository conflict, got %v", err)
	}
}

func TestSimulatedBackendDrivesFullLifecycle(t *testing.T) {
	var seen []CallbackPayload
	sim := NewSimulatedBackend(func(_ context.Context, payload CallbackPayload) error {
		seen = append(seen, payload)
		return nil
	}, time.Millisecond, testLogger())

	err := sim.Submit(context.Background(), Request{DeploymentID: "d1", ProjectID: "p1", Archive: []byte("zipdata")})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(seen) == 0 {
		t.Fatal("no callbacks reported")
	}
	last := seen[len(seen)-1]
	if last.Status != StatusSuccess {
		t.Fatalf("final status = %s, want success", last.Status)
	}
	if last.URL == "" {
		t.Fatal("success callback missing url")
	}
	ranks := make([]int, 0, len(seen))
	for _, payload := range seen {
		ranks = append(ranks, domain.DeploymentRank(payload.Status))
	}
	if !sort.IntsAreSorted(ranks) {
		t.Fatalf("callbacks not forward-ordered: %v", seen)
	}
}

func TestListByProject(t *testing.T) {
	svc, _, repo := newService(t, &captureBackend{requests: make(chan Request, 1)})
	seedDeployment(t, repo, StatusPending)

	records, err := svc.ListByProject(context.Background(), "p1", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 1 || records[0].ID != "d1" {
		t.Fatalf("unexpected records: %+v", records)
	}
	if _, err := svc.ListByProject(context.Background(), "ghost", 10); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
