package command

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dansdan/dansbot/internal/rules"
	"github.com/dansdan/dansbot/internal/state"
	"github.com/dansdan/dansbot/internal/status"
	"github.com/dansdan/dansbot/internal/transport"
)

type fakeReplier struct {
	mu      sync.Mutex
	replies []string
}

func (f *fakeReplier) SendText(ctx context.Context, sessionID, to, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, to+"|"+text)
	return "id", nil
}

func (f *fakeReplier) all() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.replies...)
}

type fakeStatuses struct{ snap status.Snapshot }

func (f *fakeStatuses) Status(sessionID string) status.Snapshot { return f.snap }

type countingSink struct {
	mu    sync.Mutex
	texts []string
}

func (c *countingSink) SendText(ctx context.Context, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.texts = append(c.texts, text)
}

func (c *countingSink) SendPhoto(ctx context.Context, photo []byte, caption string) {}

func (c *countingSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.texts)
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *fakeReplier, *rules.Store, *countingSink) {
	t.Helper()
	log := slog.Default()
	r, err := rules.Load(t.TempDir(), log)
	require.NoError(t, err)
	replier := &fakeReplier{}
	sink := &countingSink{}
	statuses := &fakeStatuses{snap: status.Snapshot{
		Connection: state.StateConnected,
		Emoji:      state.StateConnected.Emoji(),
		LastUpdate: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}}
	return NewDispatcher(replier, statuses, r, sink, log), replier, r, sink
}

func msg(sender, text string) transport.Message {
	return transport.Message{SenderID: sender, ChatID: sender, Text: text}
}

func TestDispatch_FixedCommands(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{".ping", "🏓 Pong!"},
		{"  .PING  ", "🏓 Pong!"},
		{".alive", "✅ DansBot is alive!"},
		{".Menu", menuText},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			d, replier, _, _ := newTestDispatcher(t)
			d.Handle("main", msg("friend@s.whatsapp.net", tt.text))
			replies := replier.all()
			require.Len(t, replies, 1)
			assert.Equal(t, "friend@s.whatsapp.net|"+tt.want, replies[0])
		})
	}
}

func TestDispatch_Status(t *testing.T) {
	d, replier, _, _ := newTestDispatcher(t)
	d.Handle("main", msg("friend@s.whatsapp.net", ".status"))

	replies := replier.all()
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], "connected")
	assert.Contains(t, replies[0], "🟢")
	assert.Contains(t, replies[0], "2026-03-01 12:00:00")
}

func TestDispatch_UnknownTextIgnored(t *testing.T) {
	d, replier, _, _ := newTestDispatcher(t)
	d.Handle("main", msg("friend@s.whatsapp.net", "hello there"))
	d.Handle("main", msg("friend@s.whatsapp.net", ".pingpong"))
	assert.Empty(t, replier.all())
}

func TestDispatch_SelfAuthoredDropped(t *testing.T) {
	d, replier, _, _ := newTestDispatcher(t)
	m := msg("me@s.whatsapp.net", ".ping")
	m.IsFromMe = true
	d.Handle("main", m)
	assert.Empty(t, replier.all())
}

func TestDispatch_BlockedSenderDroppedBeforeMatching(t *testing.T) {
	d, replier, r, _ := newTestDispatcher(t)
	r.Block("spam@s.whatsapp.net")

	// Even a valid command from a blocked sender produces no reply.
	d.Handle("main", msg("spam@s.whatsapp.net", ".ping"))
	d.Handle("main", msg("spam@s.whatsapp.net", ".unblock spam@s.whatsapp.net"))
	assert.Empty(t, replier.all())
	assert.True(t, r.IsBlocked("spam@s.whatsapp.net"))
}

func TestDispatch_BlockUnblock(t *testing.T) {
	d, replier, r, _ := newTestDispatcher(t)

	d.Handle("main", msg("admin@s.whatsapp.net", ".block Spam@s.whatsapp.net"))
	assert.True(t, r.IsBlocked("Spam@s.whatsapp.net"), "argument keeps original casing")

	d.Handle("main", msg("admin@s.whatsapp.net", ".unblock Spam@s.whatsapp.net"))
	assert.False(t, r.IsBlocked("Spam@s.whatsapp.net"))

	replies := replier.all()
	require.Len(t, replies, 2)
	assert.Contains(t, replies[0], "🚫 Blocked Spam@s.whatsapp.net")
	assert.Contains(t, replies[1], "✅ Unblocked Spam@s.whatsapp.net")
}

func TestDispatch_Toggle(t *testing.T) {
	d, replier, r, _ := newTestDispatcher(t)

	d.Handle("main", msg("admin@s.whatsapp.net", ".toggle autoreply"))
	assert.True(t, r.Feature("autoreply"))

	d.Handle("main", msg("admin@s.whatsapp.net", ".toggle autoreply"))
	assert.False(t, r.Feature("autoreply"), "double toggle returns to original value")

	d.Handle("main", msg("admin@s.whatsapp.net", ".toggle hyperdrive"))

	replies := replier.all()
	require.Len(t, replies, 3)
	assert.Contains(t, replies[0], "autoreply is now on")
	assert.Contains(t, replies[1], "autoreply is now off")
	assert.Contains(t, replies[2], "❌ Unknown feature: hyperdrive")
}

func TestDispatch_Broadcast(t *testing.T) {
	d, replier, _, sink := newTestDispatcher(t)

	d.Handle("main", msg("admin@s.whatsapp.net", ".broadcast hello everyone"))

	replies := replier.all()
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], "📣 Broadcast noted.")
	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestDispatch_ParametricUsage(t *testing.T) {
	d, replier, _, _ := newTestDispatcher(t)
	d.Handle("main", msg("admin@s.whatsapp.net", ".block   "))
	replies := replier.all()
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], "Usage: .block <id>")
}
