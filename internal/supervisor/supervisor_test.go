package supervisor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func waitDone(t *testing.T, h *Handle, timeout time.Duration) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(timeout):
		t.Fatalf("process did not exit within %s", timeout)
	}
}

func TestParseCommand(t *testing.T) {
	args, err := parseCommand(`node server.js --label "hello world" --single 'a b'`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := []string{"node", "server.js", "--label", "hello world", "--single", "a b"}
	if len(args) != len(want) {
		t.Fatalf("got %d tokens, want %d: %v", len(args), len(want), args)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Fatalf("token %d = %q, want %q", i, args[i], want[i])
		}
	}
}

func TestParseCommandUnterminated(t *testing.T) {
	if _, err := parseCommand(`echo "oops`); err == nil {
		t.Fatal("expected error for unterminated quote")
	}
}

func TestExpandPort(t *testing.T) {
	args := expandPort([]string{"uvicorn", "main:app", "--port", "$PORT", "--url", "http://x:${PORT}/"}, 3001)
	if args[3] != "3001" {
		t.Fatalf("expected $PORT expansion, got %q", args[3])
	}
	if args[5] != "http://x:3001/" {
		t.Fatalf("expected ${PORT} expansion, got %q", args[5])
	}
}

func TestLaunchEmptyCommand(t *testing.T) {
	if _, err := Launch(Options{Command: "   "}); !errors.Is(err, ErrLaunch) {
		t.Fatalf("expected ErrLaunch, got %v", err)
	}
}

func TestLaunchCapturesOutputAndExit(t *testing.T) {
	logs := NewLogBuffer(10)
	h, err := Launch(Options{
		Command: `sh -c "echo out line; echo err line >&2; exit 3"`,
		Port:    3000,
		Logs:    logs,
	})
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	waitDone(t, h, 5*time.Second)

	if got := h.State(); got != StateCrashed {
		t.Fatalf("state = %s, want %s", got, StateCrashed)
	}
	code, ok := h.ExitCode()
	if !ok || code != 3 {
		t.Fatalf("exit code = %d ok=%v, want 3", code, ok)
	}
	snapshot := strings.Join(logs.Snapshot(), "\n")
	if !strings.Contains(snapshot, "out line") || !strings.Contains(snapshot, "err line") {
		t.Fatalf("missing captured output: %q", snapshot)
	}
	if !strings.Contains(snapshot, "exited with code 3") {
		t.Fatalf("missing exit line: %q", snapshot)
	}
}

func TestTerminateMarksStopped(t *testing.T) {
	h, err := Launch(Options{Command: "sleep 30", Port: 3000, StopTimeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.Terminate(ctx); err != nil {
		t.Fatalf("terminate: %v", err)
	}
	if got := h.State(); got != StateStopped {
		t.Fatalf("state = %s, want %s", got, StateStopped)
	}
	// A second terminate on an exited process is a no-op.
	if err := h.Terminate(ctx); err != nil {
		t.Fatalf("repeat terminate: %v", err)
	}
}

func TestExitDetectedWithBackgroundChild(t *testing.T) {
	logs := NewLogBuffer(10)
	h, err := Launch(Options{
		Command: `sh -c "sleep 30 & echo spawned"`,
		Port:    3000,
		Logs:    logs,
	})
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	// The background sleep inherits the output pipes; exit of the shell
	// itself must still be detected promptly.
	waitDone(t, h, 3*time.Second)
	code, ok := h.ExitCode()
	if !ok || code != 0 {
		t.Fatalf("exit code = %d ok=%v, want 0", code, ok)
	}
	if !strings.Contains(strings.Join(logs.Snapshot(), "\n"), "spawned") {
		t.Fatalf("missing output before exit: %v", logs.Snapshot())
	}
}

func TestTerminateReapsProcessGroup(t *testing.T) {
	h, err := Launch(Options{
		Command:     `sh -c "sleep 30 & sleep 30"`,
		Port:        3000,
		StopTimeout: 500 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	start := time.Now()
	if err := h.Terminate(ctx); err != nil {
		t.Fatalf("terminate: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("terminate took %s, want well under the context deadline", elapsed)
	}
	if got := h.State(); got != StateStopped {
		t.Fatalf("state = %s, want %s", got, StateStopped)
	}
}

func TestEnvAndPortInjection(t *testing.T) {
	logs := NewLogBuffer(10)
	h, err := Launch(Options{
		Command: `sh -c "echo port=$PORT token=$APP_TOKEN"`,
		Port:    3456,
		Env:     []string{"APP_TOKEN=abc"},
		Logs:    logs,
	})
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	waitDone(t, h, 5*time.Second)

	snapshot := strings.Join(logs.Snapshot(), "\n")
	if !strings.Contains(snapshot, "port=3456") {
		t.Fatalf("PORT not injected: %q", snapshot)
	}
	if !strings.Contains(snapshot, "token=abc") {
		t.Fatalf("extra env not injected: %q", snapshot)
	}
}

func TestOnExitFires(t *testing.T) {
	exited := make(chan int, 1)
	h, err := Launch(Options{
		Command: `sh -c "exit 7"`,
		Port:    3000,
		OnExit:  func(code int) { exited <- code },
	})
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	waitDone(t, h, 5*time.Second)
	select {
	case code := <-exited:
		if code != 7 {
			t.Fatalf("OnExit code = %d, want 7", code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnExit was not invoked")
	}
}

func TestLogBufferEvictsOldest(t *testing.T) {
	b := NewLogBuffer(3)
	for _, line := range []string{"a", "b", "c", "d"} {
		b.Append(line)
	}
	got := b.Snapshot()
	if len(got) != 3 || got[0] != "b" || got[2] != "d" {
		t.Fatalf("snapshot = %v, want [b c d]", got)
	}
}

func TestLogBufferOnLine(t *testing.T) {
	b := NewLogBuffer(3)
	var seen []string
	b.OnLine(func(line string) { seen = append(seen, line) })
	b.Append("hello")
	if len(seen) != 1 || seen[0] != "hello" {
		t.Fatalf("callback saw %v", seen)
	}
}
