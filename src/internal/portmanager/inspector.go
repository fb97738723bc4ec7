package portmanager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	gnet "github.com/shirou/gopsutil/v4/net"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/laborany/sidecar/src/internal/executor"
)

// Inspector name constants accepted by NewInspector.
const (
	InspectorAuto    = "auto"
	InspectorPsutil  = "psutil"
	InspectorLsof    = "lsof"
	InspectorNetstat = "netstat"
)

// Inspector discovers listeners on a port and terminates processes by PID.
type Inspector interface {
	// ListeningPIDs returns the PIDs with a TCP socket in LISTEN state on port.
	ListeningPIDs(ctx context.Context, port int) ([]int, error)
	// Kill forcefully terminates pid. ErrProcessGone means it had already exited.
	Kill(ctx context.Context, pid int) error
}

// NewInspector returns the inspector registered under name.
// "auto" picks the platform command inspector when its tool is installed,
// and falls back to the gopsutil implementation otherwise.
func NewInspector(name string) (Inspector, error) {
	switch name {
	case "", InspectorAuto:
		if executor.Available(platformTool) {
			return newPlatformInspector(), nil
		}
		slog.Debug("platform port tool not found, using psutil inspector",
			slog.String("tool", platformTool))
		return PsutilInspector{}, nil
	case InspectorPsutil:
		return PsutilInspector{}, nil
	case InspectorLsof, InspectorNetstat:
		if name != platformTool {
			return nil, fmt.Errorf("inspector %q is not supported on this platform", name)
		}
		return newPlatformInspector(), nil
	default:
		return nil, fmt.Errorf("unknown inspector %q", name)
	}
}

// PsutilInspector reads socket tables through gopsutil. It works on every
// platform gopsutil supports and needs no external tools.
type PsutilInspector struct{}

// ListeningPIDs implements Inspector.
func (PsutilInspector) ListeningPIDs(ctx context.Context, port int) ([]int, error) {
	conns, err := gnet.ConnectionsWithContext(ctx, "tcp")
	if err != nil {
		return nil, fmt.Errorf("failed to list tcp connections: %w", err)
	}

	var pids []int
	for _, c := range conns {
		if c.Status != "LISTEN" || int(c.Laddr.Port) != port || c.Pid <= 0 {
			continue
		}
		pids = append(pids, int(c.Pid))
	}
	return pids, nil
}

// Kill implements Inspector.
func (PsutilInspector) Kill(ctx context.Context, pid int) error {
	p, err := process.NewProcessWithContext(ctx, int32(pid)) // #nosec G115 -- PIDs fit in int32
	if err != nil {
		if errors.Is(err, process.ErrorProcessNotRunning) {
			return ErrProcessGone
		}
		return fmt.Errorf("failed to open process %d: %w", pid, err)
	}
	if err := p.KillWithContext(ctx); err != nil {
		if running, rerr := p.IsRunningWithContext(ctx); rerr == nil && !running {
			return ErrProcessGone
		}
		return fmt.Errorf("failed to kill process %d: %w", pid, err)
	}
	return nil
}
