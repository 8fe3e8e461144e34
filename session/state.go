package session

import (
	"fmt"
	"slices"
)

// State is the connection state of the voice session.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateError
	StateDisconnected
)

var stateNames = map[State]string{
	StateIdle:         "idle",
	StateConnecting:   "connecting",
	StateConnected:    "connected",
	StateError:        "error",
	StateDisconnected: "disconnected",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ParseState is the inverse of State.String.
func ParseState(name string) (State, error) {
	for s, n := range stateNames {
		if n == name {
			return s, nil
		}
	}
	return StateIdle, fmt.Errorf("unknown connection state %q", name)
}

// transitions lists every allowed edge. Stop returns to idle from any other
// state; error and disconnected only leave through start or stop.
var transitions = map[State][]State{
	StateIdle:         {StateConnecting},
	StateConnecting:   {StateConnected, StateError, StateIdle},
	StateConnected:    {StateError, StateDisconnected, StateIdle},
	StateError:        {StateConnecting, StateIdle},
	StateDisconnected: {StateConnecting, StateIdle},
}

// CanTransition reports whether from -> to is an allowed edge.
func CanTransition(from, to State) bool {
	return slices.Contains(transitions[from], to)
}
