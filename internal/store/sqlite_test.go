package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dansdan/dansbot/internal/state"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndGetState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Unknown session reads back as idle.
	st, err := s.GetState(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, state.StateIdle, st)

	require.NoError(t, s.SaveState(ctx, "main", state.StateConnected))
	st, err = s.GetState(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, state.StateConnected, st)

	// Upsert replaces.
	require.NoError(t, s.SaveState(ctx, "main", state.StateDisconnected))
	st, err = s.GetState(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, state.StateDisconnected, st)
}

func TestTransitionLog(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.LogTransition(ctx, "main", state.StateIdle, state.StateConnecting, "start"))
	require.NoError(t, s.LogTransition(ctx, "main", state.StateConnecting, state.StateConnected, "opened"))
	require.NoError(t, s.LogTransition(ctx, "other", state.StateIdle, state.StateConnecting, "start"))

	hist, err := s.History(ctx, "main", 10)
	require.NoError(t, err)
	require.Len(t, hist, 2)

	// Newest first.
	assert.Equal(t, state.StateConnected, hist[0].ToState)
	assert.Equal(t, "opened", hist[0].Trigger)
	assert.Equal(t, state.StateConnecting, hist[1].ToState)

	hist, err = s.History(ctx, "other", 10)
	require.NoError(t, err)
	assert.Len(t, hist, 1)
}

func TestHistory_Limit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.LogTransition(ctx, "main", state.StateDisconnected, state.StateReconnecting, "retry_scheduled"))
	}

	hist, err := s.History(ctx, "main", 3)
	require.NoError(t, err)
	assert.Len(t, hist, 3)
}
