package connection

import "testing"

func TestStateTransitions(t *testing.T) {
	states := []State{StateDisconnected, StateConnecting, StateConnected, StateClosing}
	allowed := map[[2]State]bool{
		{StateDisconnected, StateConnecting}: true,
		{StateConnecting, StateConnected}:    true,
		{StateConnecting, StateDisconnected}: true,
		{StateConnected, StateDisconnected}:  true,
		{StateConnected, StateClosing}:       true,
		{StateClosing, StateDisconnected}:    true,
	}

	for _, from := range states {
		for _, to := range states {
			want := allowed[[2]State{from, to}]
			if got := from.CanTransitionTo(to); got != want {
				t.Errorf("%s -> %s: got %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		StateDisconnected: "DISCONNECTED",
		StateConnecting:   "CONNECTING",
		StateConnected:    "CONNECTED",
		StateClosing:      "CLOSING",
		State(42):         "UNKNOWN",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
