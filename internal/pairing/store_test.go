package pairing

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	texts  []string
	photos int
}

func (r *recordingSink) SendText(_ context.Context, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, text)
}

func (r *recordingSink) SendPhoto(_ context.Context, _ []byte, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.photos++
}

func newTestStore() (*Store, *recordingSink) {
	sink := &recordingSink{}
	return NewStore(slog.Default(), sink), sink
}

func TestStore_QRRoundTrip(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	png := []byte{0x89, 'P', 'N', 'G', 1, 2, 3}
	assert.True(t, s.PutQR(ctx, 1, png))
	assert.Equal(t, png, s.QR())

	// A new QR replaces the previous one.
	next := []byte{0x89, 'P', 'N', 'G', 9}
	assert.True(t, s.PutQR(ctx, 1, next))
	assert.Equal(t, next, s.QR())

	s.Clear(1)
	assert.Nil(t, s.QR())
}

func TestStore_CodeDoesNotClearQR(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	s.PutQR(ctx, 1, []byte{1, 2, 3})
	s.PutCode(ctx, 1, "ABCD-1234")

	got := s.Get()
	assert.True(t, got.HasQR)
	assert.Equal(t, "ABCD-1234", got.PairingCode)

	// Connected transition clears both.
	s.Clear(1)
	got = s.Get()
	assert.False(t, got.HasQR)
	assert.Empty(t, got.PairingCode)
}

func TestStore_StaleWritesDroppedAfterClear(t *testing.T) {
	s, sink := newTestStore()
	ctx := context.Background()

	s.PutQR(ctx, 1, []byte{1, 2, 3})
	// The newer handle connected and cleared the artifacts.
	s.Clear(2)

	// In-flight writes from the superseded handle land late; they must not
	// resurrect artifacts the Connected transition already cleared.
	assert.False(t, s.PutQR(ctx, 1, []byte{4, 5, 6}))
	assert.False(t, s.PutCode(ctx, 1, "STAL-0000"))

	got := s.Get()
	assert.False(t, got.HasQR)
	assert.Empty(t, got.PairingCode)
	// Dropped writes do not notify either.
	assert.Equal(t, 1, sink.photos)
	assert.Empty(t, sink.texts)

	// The current generation still writes normally.
	assert.True(t, s.PutQR(ctx, 3, []byte{7}))
	assert.True(t, s.Get().HasQR)
}

func TestStore_PutQRChallenge(t *testing.T) {
	s, sink := newTestStore()

	err := s.PutQRChallenge(context.Background(), 1, "2@abcdef1234,base64stuff")
	require.NoError(t, err)
	assert.NotEmpty(t, s.QR())
	assert.Equal(t, 1, sink.photos)

	// A stale challenge encodes fine but never lands.
	s.Clear(5)
	require.NoError(t, s.PutQRChallenge(context.Background(), 2, "2@stale"))
	assert.Nil(t, s.QR())
}

func TestStore_PutNotifies(t *testing.T) {
	s, sink := newTestStore()
	ctx := context.Background()

	s.PutQR(ctx, 1, []byte{1})
	s.PutCode(ctx, 1, "WXYZ-9876")

	assert.Equal(t, 1, sink.photos)
	require.Len(t, sink.texts, 1)
	assert.Contains(t, sink.texts[0], "WXYZ-9876")
}

func TestNewStore_NilSink(t *testing.T) {
	s := NewStore(slog.Default(), nil)
	// Must not panic with no sink configured.
	s.PutCode(context.Background(), 1, "AAAA-0000")
	assert.Equal(t, "AAAA-0000", s.Code())
}
