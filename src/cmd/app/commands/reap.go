package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/laborany/sidecar/src/internal/config"
	"github.com/laborany/sidecar/src/internal/output"
	"github.com/laborany/sidecar/src/internal/portmanager"

	"github.com/spf13/cobra"
)

var (
	reapConfigPath string
	reapPort       int
	reapInspector  string
	reapDryRun     bool
)

// ReapReport is the JSON shape of the reap command.
type ReapReport struct {
	Port      int    `json:"port"`
	Inspector string `json:"inspector"`
	DryRun    bool   `json:"dryRun"`
	Found     []int  `json:"found"`
	Killed    []int  `json:"killed,omitempty"`
	Failed    []int  `json:"failed,omitempty"`
	SettledMs int64  `json:"settledMs,omitempty"`
	Released  bool   `json:"released"`
}

// NewReapCommand creates the reap command.
func NewReapCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reap",
		Short: "Kill whatever is listening on the sidecar port",
		Long:  `Finds every process listening on the port, force-kills it, and waits for the OS to release the socket.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := resolveReapTarget(cmd)
			if err != nil {
				return err
			}
			return runReap(cmd.Context(), target, reapDryRun)
		},
	}

	cmd.Flags().StringVarP(&reapConfigPath, "config", "c", "", "Path to the sidecar config file")
	cmd.Flags().IntVarP(&reapPort, "port", "p", config.DefaultPort, "Port to free")
	cmd.Flags().StringVar(&reapInspector, "inspector", portmanager.InspectorAuto, "Port inspector: auto, psutil, lsof or netstat")
	cmd.Flags().BoolVar(&reapDryRun, "dry-run", false, "List listeners without killing them")

	return cmd
}

// reapTarget is what the reap command acts on.
type reapTarget struct {
	port           int
	inspector      string
	settleDelay    time.Duration
	releaseTimeout time.Duration
}

// resolveReapTarget takes port and inspector from flags when given, otherwise
// from config. Timing always comes from config.
func resolveReapTarget(cmd *cobra.Command) (reapTarget, error) {
	cfg, err := config.Load(reapConfigPath)
	if err != nil {
		return reapTarget{}, err
	}

	target := reapTarget{
		port:           cfg.Port,
		inspector:      cfg.Inspector,
		settleDelay:    cfg.SettleDelay,
		releaseTimeout: cfg.ReleaseTimeout,
	}
	if cmd.Flags().Changed("port") {
		target.port = reapPort
	}
	if cmd.Flags().Changed("inspector") {
		target.inspector = reapInspector
	}

	if err := validatePort(target.port); err != nil {
		return reapTarget{}, err
	}
	return target, nil
}

func validatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("invalid port %d: must be between 1 and 65535", port)
	}
	return nil
}

func runReap(ctx context.Context, target reapTarget, dryRun bool) error {
	if ctx == nil {
		ctx = context.Background()
	}

	inspector, err := portmanager.NewInspector(target.inspector)
	if err != nil {
		return err
	}
	reaper := portmanager.NewReaper(inspector,
		portmanager.WithSettleDelay(target.settleDelay),
		portmanager.WithReleaseTimeout(target.releaseTimeout))

	port := target.port
	report := ReapReport{Port: port, Inspector: target.inspector, DryRun: dryRun, Released: true}

	if dryRun {
		pids, err := reaper.Inspect(ctx, port)
		if err != nil {
			return err
		}
		report.Found = pids
		report.Released = len(pids) == 0
		return output.Print(report, func() { printReapReport(report) })
	}

	result := reaper.Reap(ctx, port)
	report.Found = result.Found
	report.Killed = result.Killed
	report.Failed = result.Failed
	report.SettledMs = result.Settled.Milliseconds()
	report.Released = result.Released

	return output.Print(report, func() { printReapReport(report) })
}

func printReapReport(r ReapReport) {
	if len(r.Found) == 0 {
		output.Success("Nothing is listening on port %d", r.Port)
		return
	}

	if r.DryRun {
		output.Header(fmt.Sprintf("Listeners on port %d", r.Port))
		output.Info("%s listening on port %d", output.Count(len(r.Found)), r.Port)
		for _, pid := range r.Found {
			output.Item("PID %d", pid)
		}
		return
	}

	output.Header(fmt.Sprintf("Reaped port %d", r.Port))
	for _, pid := range r.Killed {
		output.ItemSuccess("Killed PID %d", pid)
	}
	for _, pid := range r.Failed {
		output.ItemError("Could not kill PID %d", pid)
	}
	if r.Released {
		output.Success("Port %d is free", r.Port)
	} else {
		output.Warning("Port %d still has a listener after %dms", r.Port, r.SettledMs)
	}
}
