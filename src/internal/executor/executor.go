// Package executor runs short-lived external commands with context-aware timeouts.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// DefaultTimeout bounds commands run without an explicit deadline.
const DefaultTimeout = 30 * time.Second

// ErrNotFound is returned when the command is not on PATH.
var ErrNotFound = errors.New("command not found")

// RunWithContext runs a command and waits for it, discarding its output.
func RunWithContext(ctx context.Context, name string, args []string, dir string) error {
	_, err := RunCommandWithOutput(ctx, name, args, dir)
	return err
}

// RunCommandWithOutput runs a command and returns its standard output.
// Standard error is folded into the returned error when the command fails.
// A ctx without a deadline is bounded by DefaultTimeout.
func RunCommandWithOutput(ctx context.Context, name string, args []string, dir string) ([]byte, error) {
	if _, err := exec.LookPath(name); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}

	// #nosec G204 -- callers pass fixed tool names; arguments are validated ints or literals
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	slog.Debug("running command",
		slog.String("command", name),
		slog.String("args", strings.Join(args, " ")))

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return stdout.Bytes(), fmt.Errorf("%s: %w", name, ctxErr)
		}
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return stdout.Bytes(), fmt.Errorf("%s failed: %w: %s", name, err, msg)
		}
		return stdout.Bytes(), fmt.Errorf("%s failed: %w", name, err)
	}

	return stdout.Bytes(), nil
}

// Available reports whether a command can be found on PATH.
func Available(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}
