package devserver

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/timomeintjes-cmd/oreus-api/internal/domain"
	"github.com/timomeintjes-cmd/oreus-api/internal/template"
	"github.com/timomeintjes-cmd/oreus-api/internal/ws"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRegistry(t *testing.T, cmd string) *Registry {
	t.Helper()
	templates := template.NewRegistry()
	templates.Register(template.Template{ID: "stub", StartCommand: cmd})
	return New(templates, ws.NewHub(), testLogger(), Config{
		PortBase:     42000,
		PortCount:    4,
		LogLines:     50,
		ReadyTimeout: 500 * time.Millisecond,
		StopTimeout:  2 * time.Second,
	})
}

func stubProject(t *testing.T) domain.Project {
	t.Helper()
	return domain.Project{ID: "p1", Name: "demo", Template: "stub", RootPath: t.TempDir()}
}

func waitStatus(t *testing.T, reg *Registry, projectID, want string, timeout time.Duration) domain.DevServerStatus {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		st, _ := reg.Status(projectID)
		if st.Status == want {
			return st
		}
		if time.Now().After(deadline) {
			t.Fatalf("status = %s, want %s (logs: %v)", st.Status, want, st.Logs)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestStartAssignsPortAndURL(t *testing.T) {
	reg := testRegistry(t, "sleep 30")
	project := stubProject(t)
	ctx := context.Background()

	st, err := reg.Start(ctx, project, nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer reg.StopAll(ctx)

	if st.Status != domain.DevServerStarting {
		t.Fatalf("status = %s, want %s", st.Status, domain.DevServerStarting)
	}
	if st.Port != 42000 {
		t.Fatalf("port = %d, want 42000", st.Port)
	}
	if st.URL != "http://localhost:42000" {
		t.Fatalf("url = %q", st.URL)
	}
}

func TestStartSecondServerRejected(t *testing.T) {
	reg := testRegistry(t, "sleep 30")
	project := stubProject(t)
	ctx := context.Background()

	if _, err := reg.Start(ctx, project, nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer reg.StopAll(ctx)

	if _, err := reg.Start(ctx, project, nil); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
}

func TestStartUnknownTemplate(t *testing.T) {
	reg := testRegistry(t, "sleep 30")
	project := stubProject(t)
	project.Template = "django"
	if _, err := reg.Start(context.Background(), project, nil); !errors.Is(err, template.ErrUnknown) {
		t.Fatalf("expected template.ErrUnknown, got %v", err)
	}
}

func TestStopReleasesPortForReuse(t *testing.T) {
	reg := testRegistry(t, "sleep 30")
	project := stubProject(t)
	ctx := context.Background()

	first, err := reg.Start(ctx, project, nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := reg.Stop(ctx, project.ID); err != nil {
		t.Fatalf("stop: %v", err)
	}
	waitStatus(t, reg, project.ID, domain.DevServerStopped, 3*time.Second)

	second, err := reg.Start(ctx, project, nil)
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	defer reg.StopAll(ctx)

	if second.Port != first.Port {
		t.Fatalf("restart port = %d, want reused %d", second.Port, first.Port)
	}
}

func TestStopWithoutRun(t *testing.T) {
	reg := testRegistry(t, "sleep 30")
	if err := reg.Stop(context.Background(), "ghost"); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
}

func TestCrashedRunReportsErrorAndFreesPort(t *testing.T) {
	reg := testRegistry(t, `sh -c "echo boom; exit 9"`)
	project := stubProject(t)
	ctx := context.Background()

	if _, err := reg.Start(ctx, project, nil); err != nil {
		t.Fatalf("start: %v", err)
	}

	st := waitStatus(t, reg, project.ID, domain.DevServerError, 5*time.Second)
	joined := strings.Join(st.Logs, "\n")
	if !strings.Contains(joined, "boom") {
		t.Fatalf("missing process output in logs: %v", st.Logs)
	}
	if !strings.Contains(joined, "exited with code 9") {
		t.Fatalf("missing exit diagnostic in logs: %v", st.Logs)
	}

	// The crashed run is not stoppable but its record is retained.
	if err := reg.Stop(ctx, project.ID); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning for crashed run, got %v", err)
	}
	if got := reg.ports.InUse(); got != 0 {
		t.Fatalf("ports in use after crash = %d, want 0", got)
	}
}

func TestPortPoolExhaustion(t *testing.T) {
	pool := NewPortPool(5000, 2)
	a, err := pool.Allocate()
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if _, err := pool.Allocate(); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if _, err := pool.Allocate(); !errors.Is(err, ErrNoPorts) {
		t.Fatalf("expected ErrNoPorts, got %v", err)
	}
	pool.Release(a)
	pool.Release(a) // releasing twice is harmless
	got, err := pool.Allocate()
	if err != nil {
		t.Fatalf("allocate after release: %v", err)
	}
	if got != a {
		t.Fatalf("reallocated port = %d, want %d", got, a)
	}
}

func TestRunReleasesPortOnlyOnce(t *testing.T) {
	pool := NewPortPool(5000, 2)
	port, err := pool.Allocate()
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	current := &run{projectID: "p1", port: port}

	current.releasePort(pool)
	other, err := pool.Allocate()
	if err != nil {
		t.Fatalf("allocate after release: %v", err)
	}
	if other != port {
		t.Fatalf("reallocated port = %d, want %d", other, port)
	}

	// The exit hook arriving after the stop path must not free the port
	// out from under its new owner.
	current.releasePort(pool)
	if got := pool.InUse(); got != 1 {
		t.Fatalf("ports in use = %d, want 1", got)
	}
	next, err := pool.Allocate()
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if next == other {
		t.Fatalf("port %d double allocated", next)
	}
}

func TestSummariesListLiveRunsOnly(t *testing.T) {
	reg := testRegistry(t, "sleep 30")
	ctx := context.Background()
	running := stubProject(t)
	stopped := domain.Project{ID: "p2", Name: "other", Template: "stub", RootPath: t.TempDir()}

	if _, err := reg.Start(ctx, running, nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer reg.StopAll(ctx)
	if _, err := reg.Start(ctx, stopped, nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := reg.Stop(ctx, stopped.ID); err != nil {
		t.Fatalf("stop: %v", err)
	}

	summaries := reg.Summaries()
	if _, ok := summaries[running.ID]; !ok {
		t.Fatal("live run missing from summaries")
	}
	if _, ok := summaries[stopped.ID]; ok {
		t.Fatal("stopped run should not appear in summaries")
	}
}

func TestLogLinesBroadcastOnHub(t *testing.T) {
	templates := template.NewRegistry()
	templates.Register(template.Template{ID: "stub", StartCommand: `sh -c "echo streamed"`})
	hub := ws.NewHub()
	reg := New(templates, hub, testLogger(), Config{PortBase: 42100, PortCount: 2, StopTimeout: time.Second})

	lines := make(chan string, 16)
	sub := subscriberFunc(func(p []byte) error {
		lines <- string(p)
		return nil
	})
	hub.Subscribe(ws.DevServerTopic("p1"), &sub)

	project := domain.Project{ID: "p1", Name: "demo", Template: "stub", RootPath: t.TempDir()}
	if _, err := reg.Start(context.Background(), project, nil); err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case line := <-lines:
			if line == "streamed" {
				return
			}
		case <-deadline:
			t.Fatal("log line never reached hub subscriber")
		}
	}
}

type subscriberFunc func([]byte) error

func (f *subscriberFunc) Send(p []byte) error { return (*f)(p) }
func (f *subscriberFunc) Close()              {}
