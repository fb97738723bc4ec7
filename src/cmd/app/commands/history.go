package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/laborany/sidecar/src/internal/config"
	"github.com/laborany/sidecar/src/internal/history"
	"github.com/laborany/sidecar/src/internal/output"

	"github.com/spf13/cobra"
)

const defaultHistoryLimit = 20

var (
	historyConfigPath string
	historyLimit      int
)

// HistoryEntry is the JSON shape of one journal row.
type HistoryEntry struct {
	RunID  string    `json:"runId"`
	At     time.Time `json:"at"`
	Kind   string    `json:"kind"`
	PID    int       `json:"pid,omitempty"`
	Port   int       `json:"port"`
	Detail string    `json:"detail,omitempty"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent sidecar lifecycle events",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(historyConfigPath)
			if err != nil {
				return err
			}
			return showHistory(cmd.Context(), cfg.HistoryPath, historyLimit)
		},
	}

	cmd.Flags().StringVarP(&historyConfigPath, "config", "c", "", "Path to the sidecar config file")
	cmd.Flags().IntVarP(&historyLimit, "limit", "n", defaultHistoryLimit, "Number of events to show")

	return cmd
}

func showHistory(ctx context.Context, path string, limit int) error {
	if path == "" {
		return errors.New("history is disabled (history_path is empty)")
	}
	if limit < 1 {
		return fmt.Errorf("invalid limit %d: must be at least 1", limit)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	// Reading must not create the database.
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		view := []HistoryEntry{}
		return output.Print(view, func() { printHistory(view) })
	}

	journal, err := history.Open(path)
	if err != nil {
		return err
	}
	defer journal.Close()

	entries, err := journal.Recent(ctx, limit)
	if err != nil {
		return err
	}

	view := make([]HistoryEntry, 0, len(entries))
	for _, e := range entries {
		view = append(view, HistoryEntry{
			RunID:  e.RunID,
			At:     e.At,
			Kind:   e.Kind,
			PID:    e.PID,
			Port:   e.Port,
			Detail: e.Detail,
		})
	}

	return output.Print(view, func() { printHistory(view) })
}

func printHistory(entries []HistoryEntry) {
	if len(entries) == 0 {
		output.Info("No sidecar events recorded yet")
		return
	}

	output.Header(fmt.Sprintf("Sidecar history (%d events)", len(entries)))
	for _, e := range entries {
		line := fmt.Sprintf("%s %-11s port=%d", e.At.Local().Format("2006-01-02 15:04:05"), e.Kind, e.Port)
		if e.PID != 0 {
			line += fmt.Sprintf(" pid=%d", e.PID)
		}
		if e.Detail != "" {
			line += " " + output.Muted("%s", e.Detail)
		}

		switch e.Kind {
		case history.KindSpawnError:
			output.ItemError("%s", line)
		case history.KindKilled, history.KindReap:
			output.ItemWarning("%s", line)
		default:
			output.Item("%s", line)
		}
	}
}
