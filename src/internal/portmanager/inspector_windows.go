//go:build windows

package portmanager

import (
	"context"
	"strconv"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/laborany/sidecar/src/internal/executor"
)

const platformTool = InspectorNetstat

// NetstatInspector discovers listeners with netstat and kills with taskkill.
type NetstatInspector struct{}

func newPlatformInspector() Inspector {
	return NetstatInspector{}
}

// ListeningPIDs implements Inspector.
func (NetstatInspector) ListeningPIDs(ctx context.Context, port int) ([]int, error) {
	output, err := executor.RunCommandWithOutput(ctx, "netstat", []string{"-ano", "-p", "TCP"}, "")
	if err != nil {
		return nil, err
	}
	return parseNetstatPIDs(output, port), nil
}

// Kill implements Inspector.
func (NetstatInspector) Kill(ctx context.Context, pid int) error {
	if err := executor.RunWithContext(ctx, "taskkill", []string{"/F", "/PID", strconv.Itoa(pid)}, ""); err != nil {
		if exists, perr := process.PidExistsWithContext(ctx, int32(pid)); perr == nil && !exists { // #nosec G115
			return ErrProcessGone
		}
		return err
	}
	return nil
}
