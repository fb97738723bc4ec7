// Package supervisor owns the lifecycle of the single API sidecar for one
// application run. Startup frees the port and spawns the sidecar; a once-only
// shutdown kills it and frees the port again.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/laborany/sidecar/src/internal/config"
	"github.com/laborany/sidecar/src/internal/history"
	"github.com/laborany/sidecar/src/internal/logging"
	"github.com/laborany/sidecar/src/internal/metrics"
	"github.com/laborany/sidecar/src/internal/portmanager"
	"github.com/laborany/sidecar/src/internal/registry"
	"github.com/laborany/sidecar/src/internal/sidecar"
)

// ErrAlreadyStarted is returned when Start is called more than once.
var ErrAlreadyStarted = errors.New("supervisor already started")

const journalTimeout = 2 * time.Second

// Supervisor manages exactly one sidecar process bound to one port.
type Supervisor struct {
	cfg     *config.Config
	reaper  *portmanager.Reaper
	sink    sidecar.Sink
	metrics *metrics.Metrics
	journal *history.Journal
	runID   string

	slot registry.Slot[*sidecar.Process]

	mu    sync.Mutex
	state State
	pid   int
	done  <-chan struct{}

	shutdownOnce sync.Once
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithReaper replaces the reaper built from the configured inspector.
func WithReaper(r *portmanager.Reaper) Option {
	return func(s *Supervisor) { s.reaper = r }
}

// WithSink sets where relayed sidecar output goes.
func WithSink(sink sidecar.Sink) Option {
	return func(s *Supervisor) { s.sink = sink }
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Supervisor) { s.metrics = m }
}

// WithJournal enables the lifecycle history journal.
func WithJournal(j *history.Journal) Option {
	return func(s *Supervisor) { s.journal = j }
}

// WithRunID overrides the generated run identifier used in the journal.
func WithRunID(id string) Option {
	return func(s *Supervisor) { s.runID = id }
}

// New creates a supervisor for cfg. It does not touch any process.
func New(cfg *config.Config, opts ...Option) (*Supervisor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	s := &Supervisor{
		cfg:   cfg,
		runID: uuid.NewString(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.reaper == nil {
		inspector, err := portmanager.NewInspector(cfg.Inspector)
		if err != nil {
			return nil, err
		}
		s.reaper = portmanager.NewReaper(inspector,
			portmanager.WithSettleDelay(cfg.SettleDelay),
			portmanager.WithReleaseTimeout(cfg.ReleaseTimeout))
	}
	if s.sink == nil {
		s.sink = logging.NewSidecarSink(false)
	}
	return s, nil
}

// Start reaps the port, spawns the sidecar, stores its handle and starts
// relaying its output. A spawn failure is returned and is fatal for startup.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != NotStarted {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	if s.cfg.IsDevelopment() {
		s.state = Disabled
		s.done = closedChan()
		s.mu.Unlock()
		slog.Info(fmt.Sprintf("API sidecar disabled. Run the API server manually on port %d.", s.cfg.Port))
		return nil
	}
	s.state = Starting
	s.mu.Unlock()

	s.reap(ctx, "startup")

	proc, events, err := sidecar.Start(sidecar.Spec{
		Name:       s.cfg.Name,
		Executable: s.cfg.Executable,
		Args:       s.cfg.Args,
		Dir:        s.cfg.Dir,
		Port:       s.cfg.Port,
		Mode:       s.cfg.Mode,
		ExtraEnv:   s.cfg.Env,
	})
	if err != nil {
		s.mu.Lock()
		s.state = Failed
		s.done = closedChan()
		s.mu.Unlock()

		if s.metrics != nil {
			s.metrics.Spawns.WithLabelValues("error").Inc()
		}
		s.record(history.Entry{Kind: history.KindSpawnError, Detail: err.Error()})
		return fmt.Errorf("sidecar startup aborted: %w", err)
	}

	s.slot.Store(proc)

	pump := &sidecar.Pump{Sink: s.sink, Observe: s.observe}

	s.mu.Lock()
	s.state = Running
	s.pid = proc.PID
	s.done = pump.Run(events)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.Spawns.WithLabelValues("ok").Inc()
		s.metrics.Up.Set(1)
	}
	s.record(history.Entry{Kind: history.KindSpawn, PID: proc.PID})
	return nil
}

// observe runs on the pump goroutine for every sidecar event.
func (s *Supervisor) observe(ev sidecar.Event) {
	switch ev.Kind {
	case sidecar.KindOutput:
		if s.metrics != nil {
			s.metrics.OutputLines.WithLabelValues(ev.Stream.String()).Inc()
		}
	case sidecar.KindTerminated:
		s.mu.Lock()
		pid := s.pid
		if s.state == Running {
			s.state = Terminated
		}
		s.mu.Unlock()

		if s.metrics != nil {
			s.metrics.Up.Set(0)
		}
		s.record(history.Entry{Kind: history.KindTerminated, PID: pid, Detail: ev.Status})
	}
}

// Shutdown kills the sidecar if it is still registered and reaps the port.
// Only the first call does any work; later calls return immediately.
func (s *Supervisor) Shutdown(ctx context.Context) {
	s.shutdownOnce.Do(func() {
		s.shutdown(ctx)
	})
}

func (s *Supervisor) shutdown(ctx context.Context) {
	s.mu.Lock()
	disabled := s.state == Disabled
	s.mu.Unlock()
	if disabled {
		return
	}

	slog.Info("[App] Cleaning up API sidecar...")

	if proc, ok := s.slot.Take(); ok {
		s.mu.Lock()
		if s.state == Running {
			s.state = Killed
		}
		done := s.done
		s.mu.Unlock()

		slog.Info("[App] Killing API sidecar process...", slog.Int("pid", proc.PID))
		switch err := proc.Kill(); {
		case errors.Is(err, sidecar.ErrAlreadyExited):
			slog.Debug("sidecar already exited", slog.Int("pid", proc.PID))
			s.mu.Lock()
			if s.state == Killed {
				s.state = Terminated
			}
			s.mu.Unlock()
		case err != nil:
			slog.Warn("failed to kill sidecar",
				slog.Int("pid", proc.PID),
				slog.String("error", err.Error()))
			if s.metrics != nil {
				s.metrics.KillFailures.WithLabelValues(metrics.PhaseShutdown).Inc()
			}
		default:
			s.record(history.Entry{Kind: history.KindKilled, PID: proc.PID})
		}

		// Let the pump flush the final Terminated line.
		if done != nil && s.cfg.KillWait > 0 {
			select {
			case <-done:
			case <-time.After(s.cfg.KillWait):
				slog.Warn("sidecar output did not finish after kill",
					slog.Int("pid", proc.PID),
					slog.Duration("waited", s.cfg.KillWait))
			}
		}
	}

	s.reap(ctx, "shutdown")
}

// reap frees the configured port and accounts for the result.
func (s *Supervisor) reap(ctx context.Context, phase string) {
	result := s.reaper.Reap(ctx, s.cfg.Port)

	if s.metrics != nil {
		s.metrics.ReapedProcesses.Add(float64(len(result.Killed)))
		s.metrics.KillFailures.WithLabelValues(metrics.PhaseReap).Add(float64(len(result.Failed)))
	}
	if len(result.Found) > 0 {
		s.record(history.Entry{
			Kind:   history.KindReap,
			Detail: fmt.Sprintf("%s: killed %v failed %v", phase, result.Killed, result.Failed),
		})
	}
}

// record writes a journal entry; failures are logged only.
func (s *Supervisor) record(e history.Entry) {
	if s.journal == nil {
		return
	}
	e.RunID = s.runID
	e.Port = s.cfg.Port

	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()
	if err := s.journal.Record(ctx, e); err != nil {
		slog.Warn("failed to write history", slog.String("error", err.Error()))
	}
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PID returns the sidecar's PID, or 0 if none was spawned.
func (s *Supervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pid
}

// Done is closed once the sidecar's output relay has ended, or immediately
// when no sidecar was spawned. It is nil before Start.
func (s *Supervisor) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Port returns the port the sidecar owns.
func (s *Supervisor) Port() int {
	return s.cfg.Port
}

// RunID identifies this application run in the journal.
func (s *Supervisor) RunID() string {
	return s.runID
}

func closedChan() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
