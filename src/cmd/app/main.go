package main

import (
	"fmt"
	"os"

	"github.com/laborany/sidecar/src/cmd/app/commands"
	"github.com/laborany/sidecar/src/internal/logging"
	"github.com/laborany/sidecar/src/internal/output"

	"github.com/spf13/cobra"
)

var (
	outputFormat   string
	debugMode      bool
	structuredLogs bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "sidecar",
		Short: "Sidecar - Supervise the local API server for a desktop app run",
		Long:  `Sidecar frees the API port, launches the API server, relays its output and kills it again when the app exits.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logging.SetupLogger(debugMode, structuredLogs)

			if debugMode {
				logging.Debug("Starting sidecar supervisor",
					"version", commands.Version,
					"command", cmd.Name(),
					"args", args,
				)
			}

			return output.SetFormat(outputFormat)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "default", "Output format (default, json)")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&structuredLogs, "structured-logs", false, "Enable structured JSON logging")

	rootCmd.AddCommand(
		commands.NewRunCommand(),
		commands.NewReapCommand(),
		commands.NewHistoryCommand(),
		commands.NewVersionCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
