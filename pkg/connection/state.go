package connection

import "slices"

// State is the Manager's connection state.
type State uint8

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected

	// StateClosing is only entered by Close; a lost connection goes
	// straight back to StateDisconnected.
	StateClosing
)

var stateNames = [...]string{"DISCONNECTED", "CONNECTING", "CONNECTED", "CLOSING"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "UNKNOWN"
}

var transitions = map[State][]State{
	StateDisconnected: {StateConnecting},
	StateConnecting:   {StateConnected, StateDisconnected},
	StateConnected:    {StateDisconnected, StateClosing},
	StateClosing:      {StateDisconnected},
}

// CanTransitionTo reports whether s -> next is an edge of the state machine.
func (s State) CanTransitionTo(next State) bool {
	return slices.Contains(transitions[s], next)
}
