package sidecar

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type line struct {
	level string
	text  string
}

// recordingSink captures relayed lines in order.
type recordingSink struct {
	mu    sync.Mutex
	lines []line
}

func (s *recordingSink) Info(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, line{"info", text})
}

func (s *recordingSink) Error(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, line{"error", text})
}

func (s *recordingSink) snapshot() []line {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]line(nil), s.lines...)
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("pump did not finish")
	}
}

func TestPump_Classification(t *testing.T) {
	events := make(chan Event, 8)
	events <- OutputEvent(Stdout, []byte("listening on 3620"))
	events <- OutputEvent(Stderr, []byte("deprecation warning"))
	events <- ErrorEvent(errors.New("broken pipe"))
	events <- TerminatedEvent(0, "exit status 0")
	close(events)

	sink := &recordingSink{}
	pump := &Pump{Sink: sink}
	waitDone(t, pump.Run(events))

	assert.Equal(t, []line{
		{"info", "[API] listening on 3620"},
		{"error", "[API Error] deprecation warning"},
		{"error", "[API Spawn Error] broken pipe"},
		{"info", "[API] Process terminated with status: exit status 0"},
	}, sink.snapshot())
}

func TestPump_StopsAtTerminated(t *testing.T) {
	events := make(chan Event, 4)
	events <- TerminatedEvent(1, "exit status 1")
	events <- OutputEvent(Stdout, []byte("late"))
	events <- TerminatedEvent(0, "exit status 0")
	// Channel left open: the pump must still end.

	var observed []Event
	sink := &recordingSink{}
	pump := &Pump{Sink: sink, Tag: "Sidecar", Observe: func(ev Event) { observed = append(observed, ev) }}
	waitDone(t, pump.Run(events))

	assert.Equal(t, []line{{"info", "[Sidecar] Process terminated with status: exit status 1"}}, sink.snapshot())
	require.Len(t, observed, 1)
	assert.Equal(t, KindTerminated, observed[0].Kind)
}

func TestPump_EndsWhenChannelClosesWithoutTerminated(t *testing.T) {
	events := make(chan Event, 1)
	events <- OutputEvent(Stdout, []byte("hello"))
	close(events)

	sink := &recordingSink{}
	waitDone(t, (&Pump{Sink: sink}).Run(events))

	assert.Equal(t, []line{{"info", "[API] hello"}}, sink.snapshot())
}

func TestPump_PreservesOrder(t *testing.T) {
	events := make(chan Event)
	sink := &recordingSink{}
	done := (&Pump{Sink: sink}).Run(events)

	for _, s := range []string{"1", "2", "3", "4", "5"} {
		events <- OutputEvent(Stdout, []byte(s))
	}
	events <- TerminatedEvent(0, "exit status 0")
	close(events)
	waitDone(t, done)

	lines := sink.snapshot()
	require.Len(t, lines, 6)
	for i, s := range []string{"1", "2", "3", "4", "5"} {
		assert.Equal(t, "[API] "+s, lines[i].text)
	}
}

func TestEventString(t *testing.T) {
	assert.Equal(t, `Output(stdout,"A")`, OutputEvent(Stdout, []byte("A")).String())
	assert.Equal(t, `Output(stderr,"B")`, OutputEvent(Stderr, []byte("B")).String())
	assert.Equal(t, "Terminated(0)", TerminatedEvent(0, "exit status 0").String())
	assert.Equal(t, "Error(boom)", ErrorEvent(errors.New("boom")).String())
}
