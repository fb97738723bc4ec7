package sidecar

import "fmt"

// Stream identifies which output pipe a line came from.
type Stream int

const (
	Stdout Stream = iota
	Stderr
)

func (s Stream) String() string {
	switch s {
	case Stdout:
		return "stdout"
	case Stderr:
		return "stderr"
	default:
		return fmt.Sprintf("stream(%d)", int(s))
	}
}

// Kind tags the variant held by an Event.
type Kind int

const (
	// KindOutput carries one line of child output.
	KindOutput Kind = iota
	// KindError reports a failure in the child's I/O plumbing after spawn.
	KindError
	// KindTerminated is always the last event for a process.
	KindTerminated
)

func (k Kind) String() string {
	switch k {
	case KindOutput:
		return "output"
	case KindError:
		return "error"
	case KindTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Event is one observation of a running sidecar.
type Event struct {
	Kind Kind

	// Output
	Stream Stream
	Data   []byte

	// Error
	Err error

	// Terminated. ExitCode is -1 when the process was killed by a signal.
	ExitCode int
	Status   string
}

// OutputEvent builds a KindOutput event.
func OutputEvent(stream Stream, data []byte) Event {
	return Event{Kind: KindOutput, Stream: stream, Data: data}
}

// ErrorEvent builds a KindError event.
func ErrorEvent(err error) Event {
	return Event{Kind: KindError, Err: err}
}

// TerminatedEvent builds a KindTerminated event.
func TerminatedEvent(exitCode int, status string) Event {
	return Event{Kind: KindTerminated, ExitCode: exitCode, Status: status}
}

func (e Event) String() string {
	switch e.Kind {
	case KindOutput:
		return fmt.Sprintf("Output(%s,%q)", e.Stream, e.Data)
	case KindError:
		return fmt.Sprintf("Error(%v)", e.Err)
	case KindTerminated:
		return fmt.Sprintf("Terminated(%d)", e.ExitCode)
	default:
		return e.Kind.String()
	}
}
