package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/laborany/sidecar/src/internal/config"
	"github.com/laborany/sidecar/src/internal/history"
	"github.com/laborany/sidecar/src/internal/logging"
	"github.com/laborany/sidecar/src/internal/metrics"
	"github.com/laborany/sidecar/src/internal/supervisor"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

var (
	runConfigPath       string
	runPort             int
	runExecutable       string
	runDev              bool
	runExitOnStdinClose bool
)

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the API sidecar and keep it alive until the app exits",
		Long: `Frees the configured port, launches the API sidecar with PORT and NODE_ENV set,
relays its output, and on SIGINT/SIGTERM (or stdin closing) kills it and frees the port again.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadRunConfig(cmd)
			if err != nil {
				return err
			}
			structured, _ := cmd.Flags().GetBool("structured-logs")

			var stdin io.Reader
			if runExitOnStdinClose {
				stdin = os.Stdin
			}
			return runSupervisor(cfg, structured, stdin)
		},
	}

	cmd.Flags().StringVarP(&runConfigPath, "config", "c", "", "Path to the sidecar config file (default ./"+config.DefaultConfigFile+")")
	cmd.Flags().IntVarP(&runPort, "port", "p", config.DefaultPort, "Port the sidecar listens on")
	cmd.Flags().StringVar(&runExecutable, "exe", "", "Sidecar executable (name on PATH or path)")
	cmd.Flags().BoolVar(&runDev, "dev", false, "Development mode: do not launch the sidecar")
	cmd.Flags().BoolVar(&runExitOnStdinClose, "exit-on-stdin-close", false, "Shut down when stdin reaches EOF (parent process exited)")

	return cmd
}

// loadRunConfig applies explicitly set flags on top of the file and environment.
func loadRunConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(runConfigPath)
	if err != nil {
		return nil, err
	}

	if cmd.Flags().Changed("port") {
		cfg.Port = runPort
	}
	if cmd.Flags().Changed("exe") {
		cfg.Executable = runExecutable
	}
	if runDev {
		cfg.Mode = config.DevelopmentMode
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// runSupervisor performs startup, blocks until the app's exit event, then
// performs shutdown. A nil stdin disables the EOF watcher.
func runSupervisor(cfg *config.Config, structured bool, stdin io.Reader) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	registry := prometheus.NewRegistry()
	opts := []supervisor.Option{
		supervisor.WithMetrics(metrics.New(registry)),
		supervisor.WithSink(logging.NewSidecarSink(structured)),
	}

	if journal := openJournal(cfg.HistoryPath); journal != nil {
		defer func() {
			if err := journal.Close(); err != nil {
				slog.Debug("failed to close history", slog.String("error", err.Error()))
			}
		}()
		opts = append(opts, supervisor.WithJournal(journal))
	}

	sup, err := supervisor.New(cfg, opts...)
	if err != nil {
		return err
	}

	if err := sup.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	// Goroutine 1: wait for the exit signal
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	// Goroutine 2: metrics endpoint
	if cfg.MetricsAddr != "" {
		server, err := metrics.Listen(cfg.MetricsAddr, registry)
		if err != nil {
			slog.Warn("metrics endpoint unavailable", slog.String("error", err.Error()))
		} else {
			slog.Info("serving metrics", slog.String("url", "http://"+server.Addr()+"/metrics"))
			g.Go(func() error {
				return server.Serve(gctx)
			})
		}
	}

	// Goroutine 3: parent liveness through stdin
	if stdin != nil {
		eof := watchEOF(stdin)
		g.Go(func() error {
			select {
			case <-eof:
				slog.Info("stdin closed, shutting down")
				cancel()
			case <-gctx.Done():
			}
			return nil
		})
	}

	err = g.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	sup.Shutdown(shutdownCtx)

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// watchEOF returns a channel closed once r is exhausted or fails.
// The read cannot be interrupted, so the goroutine may outlive the run.
func watchEOF(r io.Reader) <-chan struct{} {
	eof := make(chan struct{})
	go func() {
		defer close(eof)
		if _, err := io.Copy(io.Discard, r); err != nil {
			slog.Debug("stdin read failed", slog.String("error", err.Error()))
		}
	}()
	return eof
}

// openJournal opens the history journal; failures only disable it.
func openJournal(path string) *history.Journal {
	if path == "" {
		return nil
	}
	journal, err := history.Open(path)
	if err != nil {
		slog.Warn("history disabled", slog.String("path", path), slog.String("error", err.Error()))
		return nil
	}
	return journal
}
