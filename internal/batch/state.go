package batch

import "fmt"

// State is the reviewer workstation's lifecycle state.
type State int

const (
	// Idle: no batch in progress.
	Idle State = iota
	// Running: an image is on screen awaiting a judgment.
	Running
	// Paused: judgments are suspended, by the operator or by injected lag.
	Paused
	// WaitingConfirm: every image is judged; only confirm/cancel apply.
	WaitingConfirm
	// TimeoutPending is reserved for presentation layers that want to show
	// a stalled image as its own state. The machine itself stays Running
	// after a timeout; the router tracks the stall.
	TimeoutPending
)

var stateNames = map[State]string{
	Idle:           "Idle",
	Running:        "Running",
	Paused:         "Paused",
	WaitingConfirm: "WaitingConfirm",
	TimeoutPending: "TimeoutPending",
}

// String returns the state's display name.
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ParseState parses a display name as produced by String.
func ParseState(name string) (State, error) {
	for s, n := range stateNames {
		if n == name {
			return s, nil
		}
	}
	return Idle, fmt.Errorf("unknown batch state %q", name)
}
