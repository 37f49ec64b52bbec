// Package notify defines the best-effort operator notification sink.
package notify

import "context"

// Sink delivers text and photo notifications to an operator channel.
//
// Delivery is best-effort with an at-most-once, no-retry contract:
// implementations must swallow delivery failures (logging is fine) and must
// never block the caller beyond the underlying request itself. Callers are
// expected to invoke sinks from their own goroutine when on a hot path.
type Sink interface {
	SendText(ctx context.Context, text string)
	SendPhoto(ctx context.Context, png []byte, caption string)
}

// Nop is a Sink that discards everything. Used when no operator channel is
// configured, and in tests.
type Nop struct{}

func (Nop) SendText(context.Context, string)          {}
func (Nop) SendPhoto(context.Context, []byte, string) {}

var _ Sink = Nop{}
