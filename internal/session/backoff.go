package session

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ReconnectPolicy computes the delay before the next automatic reconnect
// attempt: min(maxDelay, baseDelay*n) for attempt n. The attempt count grows
// across consecutive failures for the same generation chain and resets on
// any successful connect.
//
// It implements backoff.BackOff so it plugs into the usual scheduling
// helpers.
type ReconnectPolicy struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration

	mu       sync.Mutex
	attempts int
}

// NewReconnectPolicy creates a policy with the given base and cap.
func NewReconnectPolicy(base, max time.Duration) *ReconnectPolicy {
	return &ReconnectPolicy{BaseDelay: base, MaxDelay: max}
}

// NextBackOff increments the attempt count and returns the capped linear
// delay for it.
func (p *ReconnectPolicy) NextBackOff() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.attempts++
	d := p.BaseDelay * time.Duration(p.attempts)
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Reset clears the attempt count. Called on every Connected transition.
func (p *ReconnectPolicy) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts = 0
}

// Attempts returns the current consecutive-failure count.
func (p *ReconnectPolicy) Attempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}

var _ backoff.BackOff = (*ReconnectPolicy)(nil)
