// Package transport defines the boundary to the external messaging network.
// The supervisor consumes a typed event stream and calls the handful of
// operations below; everything about the wire protocol lives behind this
// interface.
package transport

import (
	"context"
	"time"
)

// EventType identifies a transport lifecycle event.
type EventType int

const (
	// EventQR carries a fresh QR pairing challenge.
	EventQR EventType = iota
	// EventOpened signals an authenticated, open connection.
	EventOpened
	// EventClosed signals the connection closed; Close carries the reason.
	EventClosed
	// EventMessage carries an inbound message.
	EventMessage
)

// String returns the string representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventQR:
		return "qr"
	case EventOpened:
		return "opened"
	case EventClosed:
		return "closed"
	case EventMessage:
		return "message"
	default:
		return "unknown"
	}
}

// CloseInfo describes why the transport closed. LoggedOut marks the close as
// terminal: the session was invalidated remotely and reconnecting without a
// fresh pairing cannot succeed.
type CloseInfo struct {
	Reason    string
	LoggedOut bool
}

// Message is an inbound message as seen by the command dispatcher.
type Message struct {
	SenderID string
	ChatID   string
	Text     string
	IsFromMe bool
}

// Event is one entry in the transport's lifecycle stream.
type Event struct {
	Type        EventType
	QRChallenge string
	Close       CloseInfo
	Message     *Message
	Timestamp   time.Time
}

// Transport is one live (or connecting) handle to the messaging network.
// Events() yields the lifecycle stream; the channel is closed when the
// transport is closed.
type Transport interface {
	// Open starts connecting. Progress past a successful call is reported
	// through the event stream.
	Open(ctx context.Context) error

	// RequestPairingCode asks the network for a phone-number pairing code.
	RequestPairingCode(ctx context.Context, phone string) (string, error)

	// SendText sends a text message and returns the message ID.
	SendText(ctx context.Context, to, text string) (string, error)

	// Logout invalidates the session credentials on the network.
	Logout(ctx context.Context) error

	// Close tears down the connection and releases resources. The event
	// channel is closed; no events are delivered afterwards.
	Close()

	// Events returns the lifecycle event stream.
	Events() <-chan Event

	// IsLoggedIn reports whether stored credentials exist for this session.
	IsLoggedIn() bool
}

// Dialer creates transports keyed by session ID. The production
// implementation loads per-session credentials from stable storage; tests
// supply fakes.
type Dialer interface {
	Dial(ctx context.Context, sessionID string) (Transport, error)
}
