package supervisor

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laborany/sidecar/src/internal/config"
	"github.com/laborany/sidecar/src/internal/history"
	"github.com/laborany/sidecar/src/internal/metrics"
	"github.com/laborany/sidecar/src/internal/portmanager"
	"github.com/laborany/sidecar/src/internal/sidecar"
)

// countingInspector reports no listeners and counts queries per port.
type countingInspector struct {
	mu      sync.Mutex
	queries map[int]int
}

func (c *countingInspector) ListeningPIDs(_ context.Context, port int) ([]int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.queries == nil {
		c.queries = make(map[int]int)
	}
	c.queries[port]++
	return nil, nil
}

func (c *countingInspector) Kill(context.Context, int) error {
	return errors.New("unexpected kill")
}

func (c *countingInspector) count(port int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queries[port]
}

type recordingSink struct {
	mu    sync.Mutex
	lines []string
}

func (s *recordingSink) Info(line string)  { s.add(line) }
func (s *recordingSink) Error(line string) { s.add(line) }

func (s *recordingSink) add(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, line)
}

func (s *recordingSink) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.lines)
}

func testConfig(executable string, args ...string) *config.Config {
	cfg := config.Default()
	cfg.Port = 3620
	cfg.Executable = executable
	cfg.Args = args
	cfg.SettleDelay = 10 * time.Millisecond
	cfg.HistoryPath = ""
	return cfg
}

func newTestSupervisor(t *testing.T, cfg *config.Config, inspector portmanager.Inspector, opts ...Option) (*Supervisor, *recordingSink) {
	t.Helper()
	sink := &recordingSink{}
	reaper := portmanager.NewReaper(inspector, portmanager.WithSettleDelay(cfg.SettleDelay))
	opts = append([]Option{WithReaper(reaper), WithSink(sink)}, opts...)
	s, err := New(cfg, opts...)
	require.NoError(t, err)
	return s, sink
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Port = 0
	_, err := New(cfg)
	assert.Error(t, err)
}

func TestNew_UnknownInspector(t *testing.T) {
	cfg := config.Default()
	cfg.Inspector = "ss"
	_, err := New(cfg)
	assert.Error(t, err)
}

func TestStart_SpawnFailureIsFatal(t *testing.T) {
	inspector := &countingInspector{}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	s, _ := newTestSupervisor(t, testConfig("nonexistent-sidecar-xyz-123"), inspector, WithMetrics(m))

	err := s.Start(context.Background())

	require.Error(t, err)
	var spawnErr *sidecar.SpawnError
	assert.True(t, errors.As(err, &spawnErr), "error %v should wrap *sidecar.SpawnError", err)
	assert.False(t, s.slot.Occupied(), "nothing may be stored after a failed spawn")
	assert.Equal(t, Failed, s.State())
	assert.Zero(t, s.PID())
	assert.Equal(t, 1, inspector.count(3620), "startup reap runs before spawn")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Spawns.WithLabelValues("error")))

	select {
	case <-s.Done():
	default:
		t.Error("Done() should be closed after a failed start")
	}

	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyStarted)
}

func TestStart_DevelopmentModeDisablesSidecar(t *testing.T) {
	inspector := &countingInspector{}
	cfg := testConfig("")
	cfg.Mode = config.DevelopmentMode
	s, _ := newTestSupervisor(t, cfg, inspector)

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, Disabled, s.State())
	assert.False(t, s.slot.Occupied())

	s.Shutdown(context.Background())
	assert.Zero(t, inspector.count(3620), "development mode must not reap")
	assert.Equal(t, Disabled, s.State())
}

func TestShutdown_BeforeStartStillReaps(t *testing.T) {
	inspector := &countingInspector{}
	s, _ := newTestSupervisor(t, testConfig("unused"), inspector)

	s.Shutdown(context.Background())
	s.Shutdown(context.Background())

	assert.Equal(t, 1, inspector.count(3620), "shutdown reaps exactly once")
	assert.Equal(t, NotStarted, s.State())
}

func TestStateString(t *testing.T) {
	for state, want := range map[State]string{
		NotStarted: "not-started",
		Starting:   "starting",
		Running:    "running",
		Terminated: "terminated",
		Killed:     "killed",
		Failed:     "failed",
		Disabled:   "disabled",
		State(99):  "unknown",
	} {
		assert.Equal(t, want, state.String())
	}
	assert.True(t, Killed.Final())
	assert.True(t, Terminated.Final())
	assert.False(t, Running.Final())
}

func TestRecord_WritesJournal(t *testing.T) {
	j, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	s, _ := newTestSupervisor(t, testConfig("nonexistent-sidecar-xyz-123"), &countingInspector{},
		WithJournal(j), WithRunID("run-1"))
	require.Error(t, s.Start(context.Background()))

	entries, err := j.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, history.KindSpawnError, entries[0].Kind)
	assert.Equal(t, "run-1", entries[0].RunID)
	assert.Equal(t, 3620, entries[0].Port)
	assert.True(t, strings.Contains(entries[0].Detail, "nonexistent-sidecar-xyz-123"))
}
