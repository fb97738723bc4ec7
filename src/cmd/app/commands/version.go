package commands

import (
	"runtime"

	"github.com/laborany/sidecar/src/internal/output"

	"github.com/spf13/cobra"
)

// Set at build time via -ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// VersionInfo is the JSON shape of the version command.
type VersionInfo struct {
	Version   string `json:"version"`
	BuildTime string `json:"buildTime"`
	GoVersion string `json:"goVersion"`
	Platform  string `json:"platform"`
}

// NewVersionCommand creates the version command.
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := VersionInfo{
				Version:   Version,
				BuildTime: BuildTime,
				GoVersion: runtime.Version(),
				Platform:  runtime.GOOS + "/" + runtime.GOARCH,
			}
			return output.Print(info, func() {
				output.Label("Version", info.Version)
				output.Label("Built", info.BuildTime)
				output.Label("Go", info.GoVersion)
				output.Label("Platform", info.Platform)
			})
		},
	}
}
