//go:build !windows

package portmanager

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/laborany/sidecar/src/internal/executor"
)

const platformTool = InspectorLsof

// LsofInspector discovers listeners with lsof and kills with SIGKILL.
type LsofInspector struct{}

func newPlatformInspector() Inspector {
	return LsofInspector{}
}

// ListeningPIDs implements Inspector.
func (LsofInspector) ListeningPIDs(ctx context.Context, port int) ([]int, error) {
	args := []string{"-nP", "-iTCP:" + strconv.Itoa(port), "-sTCP:LISTEN", "-t"}
	output, err := executor.RunCommandWithOutput(ctx, "lsof", args, "")
	if err != nil {
		// lsof exits 1 when nothing matched.
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 && len(output) == 0 {
			return nil, nil
		}
		return nil, err
	}
	return parseLsofPIDs(output), nil
}

// Kill implements Inspector.
func (LsofInspector) Kill(_ context.Context, pid int) error {
	if err := unix.Kill(pid, unix.SIGKILL); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return ErrProcessGone
		}
		return fmt.Errorf("kill -9 %d: %w", pid, err)
	}
	return nil
}
