// Package pairing stores the current pairing artifacts (QR image, pairing
// code) for a session.
package pairing

import (
	"context"
	"log/slog"
	"sync"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/dansdan/dansbot/internal/notify"
)

// Artifacts is a snapshot of the current pairing artifacts. At most one of
// each kind is retained; both are cleared on a successful connect.
type Artifacts struct {
	QR          []byte `json:"-"`
	PairingCode string `json:"pairingCode,omitempty"`
	HasQR       bool   `json:"hasQr"`
}

// Store holds the pairing artifacts for one session. A new QR always replaces
// the previous one; a pairing code does not clear a pending QR (both may
// coexist until the Connected transition clears them). Each accepted put
// triggers a best-effort operator notification.
//
// Writes are fenced by the supervisor's generation counter: every mutation
// carries the generation of the transport handle it came from, and a write
// from a generation older than the last accepted one is dropped. The fence
// closes the gap between a handle being superseded and its in-flight QR
// encoding or pairing-code request landing — a stale artifact can never
// reappear after a newer generation reached Connected and cleared the store.
type Store struct {
	log  *slog.Logger
	sink notify.Sink

	mu    sync.RWMutex
	fence uint64
	qr    []byte
	code  string
}

// NewStore creates an empty artifact store.
func NewStore(log *slog.Logger, sink notify.Sink) *Store {
	if sink == nil {
		sink = notify.Nop{}
	}
	return &Store{log: log, sink: sink}
}

// PutQRChallenge encodes the raw QR challenge string as a PNG and stores it,
// replacing any previous QR. The write is dropped if gen is stale.
func (s *Store) PutQRChallenge(ctx context.Context, gen uint64, challenge string) error {
	png, err := qrcode.Encode(challenge, qrcode.Medium, 512)
	if err != nil {
		return err
	}
	s.PutQR(ctx, gen, png)
	return nil
}

// PutQR stores QR image bytes, replacing any previous QR. Returns false when
// the write was dropped because gen is older than the last accepted write.
func (s *Store) PutQR(ctx context.Context, gen uint64, png []byte) bool {
	s.mu.Lock()
	if gen < s.fence {
		s.mu.Unlock()
		s.log.Debug("dropping QR artifact from superseded handle", "generation", gen)
		return false
	}
	s.fence = gen
	s.qr = png
	s.mu.Unlock()

	s.log.Info("new QR artifact stored", "bytes", len(png))
	s.sink.SendPhoto(ctx, png, "📲 New QR — scan to link WhatsApp")
	return true
}

// PutCode stores a pairing code, replacing any previous one. Returns false
// when the write was dropped because gen is older than the last accepted
// write.
func (s *Store) PutCode(ctx context.Context, gen uint64, code string) bool {
	s.mu.Lock()
	if gen < s.fence {
		s.mu.Unlock()
		s.log.Debug("dropping pairing code from superseded handle", "generation", gen)
		return false
	}
	s.fence = gen
	s.code = code
	s.mu.Unlock()

	s.log.Info("pairing code stored")
	s.sink.SendText(ctx, "🔗 Pairing code: "+code)
	return true
}

// QR returns the current QR image bytes, or nil if none.
func (s *Store) QR() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.qr
}

// Code returns the current pairing code, or empty if none.
func (s *Store) Code() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.code
}

// Get returns a snapshot of both artifacts.
func (s *Store) Get() Artifacts {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Artifacts{QR: s.qr, PairingCode: s.code, HasQR: len(s.qr) > 0}
}

// Clear drops both artifacts and raises the fence, so writes from any older
// generation stay out. Called on the Connected transition.
func (s *Store) Clear(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen > s.fence {
		s.fence = gen
	}
	s.qr = nil
	s.code = ""
}
