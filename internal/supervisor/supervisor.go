// Package supervisor launches and tracks long-running child processes.
// It owns the per-process state machine, drains output into a bounded
// log buffer, probes the advertised port for readiness, and shuts the
// process down with an escalating signal sequence.
package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"
)

// ErrLaunch wraps any failure to start the child process.
var ErrLaunch = errors.New("supervisor: launch failed")

// State is the lifecycle phase of a supervised process.
type State string

const (
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopped  State = "stopped"
	StateCrashed  State = "crashed"
)

const (
	defaultReadyTimeout = 10 * time.Second
	defaultStopTimeout  = 5 * time.Second
	probeInterval       = 250 * time.Millisecond
	// drainGrace bounds how long exit handling waits for the output
	// drains after the process is gone.
	drainGrace = 500 * time.Millisecond
)

// Options configures a single launch.
type Options struct {
	// Command is a shell-like command line. It is tokenized locally and
	// executed without a shell; $PORT references are expanded to Port.
	Command string
	// Dir is the working directory for the child.
	Dir string
	// Port is injected as the PORT environment variable and probed for
	// readiness.
	Port int
	// Env holds extra KEY=VALUE pairs appended to the parent environment.
	Env []string
	// Logs receives every stdout and stderr line. Required.
	Logs *LogBuffer
	// ReadyTimeout bounds how long the process may stay in the starting
	// state before it is promoted anyway.
	ReadyTimeout time.Duration
	// StopTimeout is the grace period between SIGTERM and SIGKILL.
	StopTimeout time.Duration
	// OnExit, when set, runs once after the process exits and the final
	// state is recorded.
	OnExit func(code int)
	Logger *slog.Logger
}

// Handle is a running (or exited) supervised process.
type Handle struct {
	mu       sync.Mutex
	cmd      *exec.Cmd
	logs     *LogBuffer
	logger   *slog.Logger
	port     int
	state    State
	exitCode int
	stopping bool
	onExit   func(code int)
	stopWait time.Duration
	done     chan struct{}
}

// Launch starts the configured command and begins supervising it. The
// returned handle is in the starting state; the readiness probe promotes
// it to running once the port accepts connections.
func Launch(opts Options) (*Handle, error) {
	args, err := parseCommand(opts.Command)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLaunch, err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: empty command", ErrLaunch)
	}
	args = expandPort(args, opts.Port)

	logs := opts.Logs
	if logs == nil {
		logs = NewLogBuffer(100)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	readyTimeout := opts.ReadyTimeout
	if readyTimeout <= 0 {
		readyTimeout = defaultReadyTimeout
	}
	stopTimeout := opts.StopTimeout
	if stopTimeout <= 0 {
		stopTimeout = defaultStopTimeout
	}

	cmd := exec.Command(args[0], args[1:]...)
	cmd.Dir = opts.Dir
	env := append(os.Environ(), opts.Env...)
	cmd.Env = append(env, "PORT="+strconv.Itoa(opts.Port))
	// Own process group, so stop signals reach forked descendants too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	// Plain pipes instead of StdoutPipe: exit detection must not depend
	// on the pipes reaching EOF, since descendants inherit the write
	// ends and can hold them open past the parent's exit.
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLaunch, err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdoutR.Close()
		stdoutW.Close()
		return nil, fmt.Errorf("%w: %v", ErrLaunch, err)
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		stdoutR.Close()
		stdoutW.Close()
		stderrR.Close()
		stderrW.Close()
		return nil, fmt.Errorf("%w: %v", ErrLaunch, err)
	}
	// The child owns its copies of the write ends now.
	stdoutW.Close()
	stderrW.Close()

	h := &Handle{
		cmd:      cmd,
		logs:     logs,
		logger:   logger,
		port:     opts.Port,
		state:    StateStarting,
		exitCode: -1,
		onExit:   opts.OnExit,
		stopWait: stopTimeout,
		done:     make(chan struct{}),
	}

	var drains sync.WaitGroup
	drains.Add(2)
	go h.drain(stdoutR, &drains)
	go h.drain(stderrR, &drains)
	go h.watch(&drains, stdoutR, stderrR)
	go h.probe(readyTimeout)

	logger.Debug("process launched", "pid", cmd.Process.Pid, "port", opts.Port)
	return h, nil
}

// State returns the current lifecycle phase.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Running reports whether the process has not yet exited.
func (h *Handle) Running() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// ExitCode returns the process exit code once it has exited.
func (h *Handle) ExitCode() (int, bool) {
	select {
	case <-h.done:
	default:
		return 0, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitCode, true
}

// Port returns the port the process was launched with.
func (h *Handle) Port() int { return h.port }

// Logs exposes the buffer collecting the process output.
func (h *Handle) Logs() *LogBuffer { return h.logs }

// Done is closed after the process exits and its state is final.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Terminate stops the process: SIGTERM, a bounded wait, then SIGKILL.
// It is safe to call on an already-exited handle and from multiple
// goroutines.
func (h *Handle) Terminate(ctx context.Context) error {
	h.mu.Lock()
	select {
	case <-h.done:
		h.mu.Unlock()
		return nil
	default:
	}
	h.stopping = true
	proc := h.cmd.Process
	h.mu.Unlock()

	if proc != nil {
		// Negative pid addresses the whole process group.
		_ = syscall.Kill(-proc.Pid, syscall.SIGTERM)
	}

	timer := time.NewTimer(h.stopWait)
	defer timer.Stop()
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	h.logger.Warn("process group ignored SIGTERM, killing", "pid", proc.Pid)
	_ = syscall.Kill(-proc.Pid, syscall.SIGKILL)
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handle) drain(r io.Reader, wg *sync.WaitGroup) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for scanner.Scan() {
		h.logs.Append(scanner.Text())
	}
}

// watch finalizes the handle as soon as the process itself exits.
// Drain completion must not gate this: descendants can keep the pipes
// open indefinitely.
func (h *Handle) watch(drains *sync.WaitGroup, pipes ...*os.File) {
	err := h.cmd.Wait()

	code := 0
	if h.cmd.ProcessState != nil {
		code = h.cmd.ProcessState.ExitCode()
	} else if err != nil {
		code = -1
	}

	// The run is over either way; kill the group so stragglers neither
	// outlive it nor hold the drains open.
	_ = syscall.Kill(-h.cmd.Process.Pid, syscall.SIGKILL)

	flushed := make(chan struct{})
	go func() {
		drains.Wait()
		close(flushed)
	}()
	select {
	case <-flushed:
	case <-time.After(drainGrace):
		for _, pipe := range pipes {
			pipe.Close()
		}
		<-flushed
	}

	h.mu.Lock()
	h.exitCode = code
	if h.stopping {
		h.state = StateStopped
	} else {
		h.state = StateCrashed
	}
	final := h.state
	h.mu.Unlock()

	h.logs.Append(fmt.Sprintf("dev server exited with code %d", code))
	h.logger.Info("process exited", "code", code, "state", string(final))
	close(h.done)

	if h.onExit != nil {
		h.onExit(code)
	}
}

// probe dials the advertised port until it accepts a connection, then
// promotes the handle to running. A process that never opens the port
// but stays alive past the deadline is promoted anyway; crash detection
// belongs to watch.
func (h *Handle) probe(readyTimeout time.Duration) {
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(h.port))
	deadline := time.NewTimer(readyTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(probeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.done:
			return
		case <-deadline.C:
			h.promote()
			return
		case <-ticker.C:
			conn, err := net.DialTimeout("tcp", addr, probeInterval)
			if err != nil {
				continue
			}
			conn.Close()
			h.promote()
			return
		}
	}
}

func (h *Handle) promote() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StateStarting {
		return
	}
	h.state = StateRunning
}
