// Package door drives the coop door motor and limit switch and owns the
// door state machine.
package door

import "fmt"

// State is the door position as known to the controller.
type State int

const (
	Closed State = iota
	Closing
	Open
	Opening
)

var stateNames = map[State]string{
	Closed:  "closed",
	Closing: "closing",
	Open:    "open",
	Opening: "opening",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	for state, name := range stateNames {
		if name == string(text) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("door: unknown state %q", text)
}

// Moving reports whether the state is a transition in progress.
func (s State) Moving() bool {
	return s == Closing || s == Opening
}

// Action is a requested transition.
type Action string

const (
	ActionOpen  Action = "open"
	ActionClose Action = "close"
)

// target is the rest state the action ends in.
func (a Action) target() State {
	if a == ActionOpen {
		return Open
	}
	return Closed
}

// transition is the in-progress state while the action runs.
func (a Action) transition() State {
	if a == ActionOpen {
		return Opening
	}
	return Closing
}

// Outcome tells a caller what a request did.
type Outcome int

const (
	// Actuated means a sequence ran.
	Actuated Outcome = iota
	// AlreadyInState means the door was already at the target.
	AlreadyInState
	// InProgress means another transition was running; nothing was done.
	InProgress
	// Skipped means the request could not run (hardware, cancellation,
	// poisoned controller). The accompanying error says why.
	Skipped
)

func (o Outcome) String() string {
	switch o {
	case Actuated:
		return "actuated"
	case AlreadyInState:
		return "already_in_state"
	case InProgress:
		return "in_progress"
	case Skipped:
		return "skipped"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *Outcome) UnmarshalText(text []byte) error {
	for _, candidate := range []Outcome{Actuated, AlreadyInState, InProgress, Skipped} {
		if candidate.String() == string(text) {
			*o = candidate
			return nil
		}
	}
	return fmt.Errorf("door: unknown outcome %q", text)
}
