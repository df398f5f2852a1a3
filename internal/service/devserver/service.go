// Package devserver tracks at most one live dev server per project.
// Runs live only in memory; restarts of the API drop them by design of
// the lifecycle model, while project data stays durable.
package devserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/timomeintjes-cmd/oreus-api/internal/domain"
	"github.com/timomeintjes-cmd/oreus-api/internal/supervisor"
	"github.com/timomeintjes-cmd/oreus-api/internal/template"
	"github.com/timomeintjes-cmd/oreus-api/internal/ws"
)

var (
	// ErrAlreadyRunning is returned by Start when the project has a live run.
	ErrAlreadyRunning = errors.New("devserver: already running")
	// ErrNotRunning is returned by Stop when the project has no live run.
	ErrNotRunning = errors.New("devserver: not running")
)

// Config carries the tunables for supervised runs.
type Config struct {
	PortBase     int
	PortCount    int
	LogLines     int
	ReadyTimeout time.Duration
	StopTimeout  time.Duration
}

// Registry owns the dev-server run table. The registry mutex guards
// only the map; each run has its own mutex so one project's slow
// start or stop never blocks another's.
type Registry struct {
	mu        sync.Mutex
	runs      map[string]*run
	ports     *PortPool
	templates *template.Registry
	hub       *ws.Hub
	logger    *slog.Logger
	cfg       Config
}

// run is the record for one project's dev server. The record outlives
// the process: after a stop or crash it stays queryable until the next
// Start replaces it.
type run struct {
	mu        sync.Mutex
	projectID string
	port      int
	portOnce  sync.Once
	logs      *supervisor.LogBuffer
	handle    *supervisor.Handle
	failed    bool
}

// releasePort frees the run's port at most once. Both the stop path and
// the supervisor exit hook call it; whichever loses the race must not
// free a port that has since been handed to another run.
func (current *run) releasePort(pool *PortPool) {
	current.portOnce.Do(func() { pool.Release(current.port) })
}

// New creates an empty registry.
func New(templates *template.Registry, hub *ws.Hub, logger *slog.Logger, cfg Config) *Registry {
	if cfg.LogLines <= 0 {
		cfg.LogLines = 500
	}
	return &Registry{
		runs:      make(map[string]*run),
		ports:     NewPortPool(cfg.PortBase, cfg.PortCount),
		templates: templates,
		hub:       hub,
		logger:    logger.With("component", "devserver"),
		cfg:       cfg,
	}
}

// Start launches the project's dev server with its template start
// command. extraEnv holds KEY=VALUE pairs appended to the child
// environment, typically the project's decrypted env vars.
func (r *Registry) Start(ctx context.Context, project domain.Project, extraEnv []string) (domain.DevServerStatus, error) {
	tmpl, err := r.templates.Resolve(project.Template)
	if err != nil {
		return domain.DevServerStatus{}, err
	}

	r.mu.Lock()
	if existing, ok := r.runs[project.ID]; ok {
		// A held run mutex means a start or stop is still in flight;
		// treat that the same as a live run.
		if !existing.mu.TryLock() {
			r.mu.Unlock()
			return domain.DevServerStatus{}, ErrAlreadyRunning
		}
		alive := existing.live()
		existing.mu.Unlock()
		if alive {
			r.mu.Unlock()
			return domain.DevServerStatus{}, ErrAlreadyRunning
		}
	}
	current := &run{projectID: project.ID}
	current.mu.Lock()
	r.runs[project.ID] = current
	r.mu.Unlock()
	defer current.mu.Unlock()

	port, err := r.ports.Allocate()
	if err != nil {
		r.dropRun(project.ID, current)
		return domain.DevServerStatus{}, err
	}

	logs := supervisor.NewLogBuffer(r.cfg.LogLines)
	topic := ws.DevServerTopic(project.ID)
	logs.OnLine(func(line string) {
		r.hub.Publish(topic, []byte(line))
	})
	current.port = port
	current.logs = logs

	handle, err := supervisor.Launch(supervisor.Options{
		Command:      tmpl.StartCommand,
		Dir:          project.RootPath,
		Port:         port,
		Env:          extraEnv,
		Logs:         logs,
		ReadyTimeout: r.cfg.ReadyTimeout,
		StopTimeout:  r.cfg.StopTimeout,
		OnExit: func(code int) {
			current.releasePort(r.ports)
			r.logger.Info("dev server exited", "project_id", project.ID, "code", code)
		},
		Logger: r.logger.With("project_id", project.ID),
	})
	if err != nil {
		current.releasePort(r.ports)
		current.failed = true
		logs.Append(fmt.Sprintf("failed to start dev server: %v", err))
		r.logger.Error("dev server launch failed", "project_id", project.ID, "error", err)
		return snapshot(current), err
	}
	current.handle = handle

	r.logger.Info("dev server starting", "project_id", project.ID, "port", port, "template", project.Template)
	return snapshot(current), nil
}

// Stop terminates the project's live dev server. A project whose last
// run already stopped or crashed reports ErrNotRunning; its record
// stays queryable through Status.
func (r *Registry) Stop(ctx context.Context, projectID string) error {
	r.mu.Lock()
	current, ok := r.runs[projectID]
	r.mu.Unlock()
	if !ok {
		return ErrNotRunning
	}

	current.mu.Lock()
	defer current.mu.Unlock()
	if !current.live() {
		return ErrNotRunning
	}
	if err := current.handle.Terminate(ctx); err != nil {
		return fmt.Errorf("terminate dev server: %w", err)
	}
	current.releasePort(r.ports)
	r.logger.Info("dev server stopped", "project_id", projectID)
	return nil
}

// Status returns a snapshot of the project's most recent run. The
// second return is false when the project never started a dev server
// in this process.
func (r *Registry) Status(projectID string) (domain.DevServerStatus, bool) {
	r.mu.Lock()
	current, ok := r.runs[projectID]
	r.mu.Unlock()
	if !ok {
		return domain.DevServerStatus{ProjectID: projectID, Status: domain.DevServerStopped}, false
	}
	current.mu.Lock()
	defer current.mu.Unlock()
	return snapshot(current), true
}

// Summaries reports the live runs, keyed by project ID. Used to enrich
// project listings.
func (r *Registry) Summaries() map[string]domain.DevServerSummary {
	r.mu.Lock()
	runs := make([]*run, 0, len(r.runs))
	for _, current := range r.runs {
		runs = append(runs, current)
	}
	r.mu.Unlock()

	out := make(map[string]domain.DevServerSummary, len(runs))
	for _, current := range runs {
		current.mu.Lock()
		if current.live() {
			out[current.projectID] = domain.DevServerSummary{Running: true, Port: current.port}
		}
		current.mu.Unlock()
	}
	return out
}

// StopAll terminates every live run. Called on shutdown.
func (r *Registry) StopAll(ctx context.Context) {
	r.mu.Lock()
	ids := make([]string, 0, len(r.runs))
	for id := range r.runs {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		if err := r.Stop(ctx, id); err != nil && !errors.Is(err, ErrNotRunning) {
			r.logger.Warn("shutdown stop failed", "project_id", id, "error", err)
		}
	}
}

// Forget drops the project's run record after stopping any live
// process. Used when the project itself is deleted.
func (r *Registry) Forget(ctx context.Context, projectID string) {
	if err := r.Stop(ctx, projectID); err != nil && !errors.Is(err, ErrNotRunning) {
		r.logger.Warn("stop before forget failed", "project_id", projectID, "error", err)
	}
	r.mu.Lock()
	delete(r.runs, projectID)
	r.mu.Unlock()
}

func (r *Registry) dropRun(projectID string, current *run) {
	r.mu.Lock()
	if r.runs[projectID] == current {
		delete(r.runs, projectID)
	}
	r.mu.Unlock()
}

// live reports whether the run's process exists and has not exited.
// Callers hold run.mu.
func (current *run) live() bool {
	return current.handle != nil && current.handle.Running()
}

// snapshot builds the externally visible status. Callers hold run.mu.
func snapshot(current *run) domain.DevServerStatus {
	st := domain.DevServerStatus{ProjectID: current.projectID, Status: domain.DevServerStopped}
	if current.logs != nil {
		st.Logs = current.logs.Snapshot()
	}
	if current.failed {
		st.Status = domain.DevServerError
		return st
	}
	if current.handle == nil {
		return st
	}
	switch current.handle.State() {
	case supervisor.StateStarting:
		st.Status = domain.DevServerStarting
	case supervisor.StateRunning:
		st.Status = domain.DevServerRunning
	case supervisor.StateCrashed:
		st.Status = domain.DevServerError
	default:
		st.Status = domain.DevServerStopped
	}
	if st.Status == domain.DevServerStarting || st.Status == domain.DevServerRunning {
		st.Port = current.port
		st.URL = fmt.Sprintf("http://localhost:%d", current.port)
	}
	return st
}
