package queue

// ConsumerState is the lifecycle state of a Consumer.
type ConsumerState int32

const (
	// StateStopped means no loop is running.
	StateStopped ConsumerState = iota
	// StateRunning means the loop is dequeuing.
	StateRunning
	// StateStopping means shutdown was requested and the loop has not
	// yet exited.
	StateStopping
)

// String returns the string representation of the state.
func (s ConsumerState) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// transitions lists the legal state changes.
var transitions = map[ConsumerState][]ConsumerState{
	StateStopped:  {StateRunning},
	StateRunning:  {StateStopping, StateStopped},
	StateStopping: {StateStopped},
}

func canTransition(from, to ConsumerState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
