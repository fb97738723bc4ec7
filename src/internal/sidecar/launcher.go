// Package sidecar spawns the managed API process and relays its output as events.
package sidecar

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"
)

const (
	// EnvPort and EnvMode are always set on the child, overriding inherited values.
	EnvPort = "PORT"
	EnvMode = "NODE_ENV"

	// DefaultMode is the deployment mode passed to the child.
	DefaultMode = "production"

	eventBuffer = 64

	// pipeDrainDelay bounds how long output is read after the sidecar exits.
	pipeDrainDelay = 500 * time.Millisecond
)

// ErrAlreadyExited is returned by Kill when the process had already finished.
var ErrAlreadyExited = errors.New("process already exited")

// SpawnError means the sidecar could not be created. It is fatal for startup.
type SpawnError struct {
	Executable string
	Err        error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to spawn sidecar %q: %v", e.Executable, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// Spec describes how to launch the sidecar.
type Spec struct {
	Name       string
	Executable string
	Args       []string
	// Dir is the working directory. Relative executables are looked up here first.
	Dir      string
	Port     int
	Mode     string
	ExtraEnv map[string]string
}

// Process is the handle to a spawned sidecar.
type Process struct {
	Name      string
	PID       int
	Port      int
	StartedAt time.Time

	process *os.Process
}

// Kill sends SIGKILL (TerminateProcess on Windows) to the sidecar.
func (p *Process) Kill() error {
	if p == nil || p.process == nil {
		return fmt.Errorf("process not started")
	}
	if err := p.process.Kill(); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return ErrAlreadyExited
		}
		return fmt.Errorf("failed to kill %s (pid %d): %w", p.Name, p.PID, err)
	}
	return nil
}

// Start launches the sidecar and returns its handle together with the event
// stream. The channel is closed right after the KindTerminated event.
//
// Each line is delivered in order within its stream. Stdout and stderr are
// copied independently, so lines written to both streams in quick succession
// may be observed in either order.
//
// Terminated follows the sidecar's own exit. If a descendant inherited the
// output pipes, its output is read for at most pipeDrainDelay afterwards.
func Start(spec Spec) (*Process, <-chan Event, error) {
	path, err := ResolveExecutable(spec.Executable, spec.Dir)
	if err != nil {
		return nil, nil, &SpawnError{Executable: spec.Executable, Err: err}
	}

	events := make(chan Event, eventBuffer)
	stdout := &lineWriter{stream: Stdout, events: events}
	stderr := &lineWriter{stream: Stderr, events: events}

	// #nosec G204 -- executable and args come from the supervisor configuration
	cmd := exec.Command(path, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = BuildEnv(os.Environ(), spec)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = pipeDrainDelay

	if err := cmd.Start(); err != nil {
		return nil, nil, &SpawnError{Executable: spec.Executable, Err: err}
	}

	proc := &Process{
		Name:      spec.Name,
		PID:       cmd.Process.Pid,
		Port:      spec.Port,
		StartedAt: time.Now(),
		process:   cmd.Process,
	}

	slog.Info("sidecar started",
		slog.String("name", spec.Name),
		slog.String("executable", path),
		slog.Int("pid", proc.PID),
		slog.Int("port", spec.Port))

	go func() {
		// Wait returns once the copy goroutines are done, so no Write races the flush.
		waitErr := cmd.Wait()
		stdout.Flush()
		stderr.Flush()

		var exitErr *exec.ExitError
		switch {
		case waitErr == nil, errors.As(waitErr, &exitErr):
		case errors.Is(waitErr, exec.ErrWaitDelay):
			slog.Debug("sidecar output pipes still held after exit",
				slog.Int("pid", proc.PID),
				slog.Duration("waited", pipeDrainDelay))
		default:
			events <- ErrorEvent(waitErr)
		}

		events <- terminated(cmd.ProcessState, waitErr)
		close(events)
	}()

	return proc, events, nil
}

// lineWriter turns a byte stream into one output event per line.
// A trailing partial line is held until Flush.
type lineWriter struct {
	stream Stream
	events chan<- Event
	buf    []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(w.buf[:i])
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

// Flush emits any buffered partial line.
func (w *lineWriter) Flush() {
	if len(w.buf) > 0 {
		w.emit(w.buf)
		w.buf = nil
	}
}

func (w *lineWriter) emit(line []byte) {
	line = bytes.TrimRight(line, "\r")
	w.events <- OutputEvent(w.stream, bytes.Clone(line))
}

func terminated(state *os.ProcessState, waitErr error) Event {
	if state == nil {
		status := "unknown"
		if waitErr != nil {
			status = waitErr.Error()
		}
		return TerminatedEvent(-1, status)
	}
	return TerminatedEvent(state.ExitCode(), state.String())
}

// BuildEnv merges base (KEY=VALUE entries), spec.ExtraEnv, and the fixed
// PORT/NODE_ENV entries, later sources winning. The result is sorted.
func BuildEnv(base []string, spec Spec) []string {
	env := make(map[string]string, len(base)+len(spec.ExtraEnv)+2)
	for _, kv := range base {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			continue
		}
		env[key] = value
	}
	for key, value := range spec.ExtraEnv {
		env[key] = value
	}

	mode := spec.Mode
	if mode == "" {
		mode = DefaultMode
	}
	env[EnvPort] = strconv.Itoa(spec.Port)
	env[EnvMode] = mode

	out := make([]string, 0, len(env))
	for key, value := range env {
		out = append(out, key+"="+value)
	}
	slices.Sort(out)
	return out
}

// ResolveExecutable finds the sidecar binary. A bare name is first looked up
// in dir (a sidecar bundled next to the application), then on PATH.
func ResolveExecutable(name, dir string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("no executable configured")
	}

	if dir != "" && !filepath.IsAbs(name) {
		candidate := filepath.Join(dir, name)
		if isExecutableFile(candidate) {
			return filepath.Abs(candidate)
		}
	}

	if strings.ContainsRune(name, filepath.Separator) || strings.ContainsRune(name, '/') {
		if !isExecutableFile(name) {
			return "", fmt.Errorf("%s: %w", name, exec.ErrNotFound)
		}
		// Relative paths would otherwise be resolved against cmd.Dir.
		return filepath.Abs(name)
	}

	path, err := exec.LookPath(name)
	if err != nil {
		return "", err
	}
	return path, nil
}

func isExecutableFile(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return true
}
