package supervisor

// State is the lifecycle position of the managed sidecar.
type State int

const (
	NotStarted State = iota
	Starting
	Running
	// Terminated means the sidecar exited on its own.
	Terminated
	// Killed means shutdown issued the kill.
	Killed
	// Failed means the spawn failed; startup was aborted.
	Failed
	// Disabled means development mode; no sidecar is managed.
	Disabled
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not-started"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Terminated:
		return "terminated"
	case Killed:
		return "killed"
	case Failed:
		return "failed"
	case Disabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// Final reports whether no further transitions can leave s.
func (s State) Final() bool {
	switch s {
	case Terminated, Killed, Failed, Disabled:
		return true
	default:
		return false
	}
}
