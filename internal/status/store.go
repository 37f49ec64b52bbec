// Package status holds the current connection state snapshot for a session.
package status

import (
	"sync"
	"time"

	"github.com/dansdan/dansbot/internal/state"
)

// Snapshot is a point-in-time view of the session connection state. It is
// JSON-serializable and safe to hand to the dashboard and bridge as-is.
type Snapshot struct {
	Connection  state.State `json:"connection"`
	LastUpdate  time.Time   `json:"lastUpdate"`
	LastError   string      `json:"lastError,omitempty"`
	PhoneNumber string      `json:"phoneNumber,omitempty"`
	Emoji       string      `json:"connectionEmoji"`
	Color       string      `json:"connectionColor"`
}

// Store is a thread-safe holder for the current Snapshot. The supervisor is
// the only writer; the dashboard and bridge read concurrently. No transition
// legality is checked here — that is the supervisor's job.
type Store struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewStore creates a Store starting in Idle.
func NewStore() *Store {
	s := &Store{}
	s.snap = derive(state.StateIdle, "", "", time.Now())
	return s
}

// Get returns the current snapshot.
func (s *Store) Get() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Set updates the connection state and error detail, recomputing the derived
// presentation fields and timestamp atomically. The phone number of any
// in-progress pairing flow is preserved.
func (s *Store) Set(st state.State, errDetail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = derive(st, errDetail, s.snap.PhoneNumber, monotonic(s.snap.LastUpdate))
}

// SetPhoneNumber records the phone number of an in-progress pairing flow.
// Cleared by passing the empty string.
func (s *Store) SetPhoneNumber(phone string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.PhoneNumber = phone
}

func derive(st state.State, errDetail, phone string, at time.Time) Snapshot {
	return Snapshot{
		Connection:  st,
		LastUpdate:  at,
		LastError:   errDetail,
		PhoneNumber: phone,
		Emoji:       st.Emoji(),
		Color:       st.Color(),
	}
}

// monotonic keeps LastUpdate non-decreasing even if the wall clock steps back.
func monotonic(prev time.Time) time.Time {
	now := time.Now()
	if now.Before(prev) {
		return prev
	}
	return now
}
