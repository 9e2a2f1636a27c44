package pipeline

// State is the lifecycle state of a pipeline.
type State int32

const (
	// StateStarting covers checkpoint recovery and the first subscribe.
	StateStarting State = iota
	// StateRunning is the pull, parse, write and commit loop.
	StateRunning
	// StateStopped is terminal after a requested stop or context cancellation.
	StateStopped
	// StateFailed is terminal after an unrecoverable error.
	StateFailed
)

// String returns a string representation of the pipeline state
func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	return s == StateStopped || s == StateFailed
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
