// Package state provides the finite state machine for the session connection lifecycle.
package state

// State represents a connection state in the session lifecycle.
type State string

const (
	StateIdle            State = "idle"
	StateConnecting      State = "connecting"
	StateAwaitingQR      State = "awaiting_qr"
	StateAwaitingPairing State = "awaiting_pairing"
	StateConnected       State = "connected"
	StateDisconnected    State = "disconnected"
	StateReconnecting    State = "reconnecting"
	StateFailed          State = "failed"
)

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// IsPending returns true while a connection attempt is in flight and no
// terminal event (open or close) has arrived yet. The supervisor's watchdog
// only applies to pending states.
func (s State) IsPending() bool {
	switch s {
	case StateConnecting, StateAwaitingQR, StateAwaitingPairing:
		return true
	default:
		return false
	}
}

// IsTerminal returns true if the state requires operator action to leave.
func (s State) IsTerminal() bool {
	return s == StateFailed
}

// IsOperational returns true if messages can be sent and received.
func (s State) IsOperational() bool {
	return s == StateConnected
}

// Emoji returns the presentation glyph for the state, as shown on the
// dashboard and in operator notifications.
func (s State) Emoji() string {
	switch s {
	case StateConnecting:
		return "🟠"
	case StateAwaitingQR, StateAwaitingPairing, StateReconnecting:
		return "🟡"
	case StateConnected:
		return "🟢"
	case StateDisconnected:
		return "🔴"
	case StateFailed:
		return "❌"
	default:
		return "⚪"
	}
}

// Color returns the presentation color for the state.
func (s State) Color() string {
	switch s {
	case StateConnecting:
		return "orange"
	case StateAwaitingQR, StateAwaitingPairing, StateReconnecting:
		return "gold"
	case StateConnected:
		return "green"
	case StateDisconnected, StateFailed:
		return "red"
	default:
		return "gray"
	}
}
