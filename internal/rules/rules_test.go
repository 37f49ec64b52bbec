package rules

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := Load(dir, slog.Default())
	require.NoError(t, err)
	return s, dir
}

func TestLoad_Empty(t *testing.T) {
	s, _ := newTestStore(t)

	assert.Empty(t, s.Blocked())
	assert.Equal(t, DefaultFeatures["notifications"], s.Feature("notifications"))
}

func TestBlockUnblock(t *testing.T) {
	s, dir := newTestStore(t)

	s.Block("12345@s.whatsapp.net")
	assert.True(t, s.IsBlocked("12345@s.whatsapp.net"))
	assert.False(t, s.IsBlocked("67890@s.whatsapp.net"))

	// Mutation rewrites the file.
	data, err := os.ReadFile(filepath.Join(dir, "blocklist.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "12345@s.whatsapp.net")

	s.Unblock("12345@s.whatsapp.net")
	assert.False(t, s.IsBlocked("12345@s.whatsapp.net"))
}

func TestToggle_Idempotent(t *testing.T) {
	s, _ := newTestStore(t)

	orig := s.Feature("autoreply")

	v1, err := s.Toggle("autoreply")
	require.NoError(t, err)
	assert.Equal(t, !orig, v1)

	v2, err := s.Toggle("autoreply")
	require.NoError(t, err)
	assert.Equal(t, orig, v2)
	assert.Equal(t, orig, s.Feature("autoreply"))
}

func TestToggle_UnknownFeature(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.Toggle("warp-drive")
	var unknown *ErrUnknownFeature
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "warp-drive", unknown.Name)
}

func TestLoad_RoundTrip(t *testing.T) {
	dir := t.TempDir()

	s, err := Load(dir, slog.Default())
	require.NoError(t, err)
	s.Block("a@s.whatsapp.net")
	s.Block("b@s.whatsapp.net")
	_, err = s.Toggle("notifications")
	require.NoError(t, err)

	reloaded, err := Load(dir, slog.Default())
	require.NoError(t, err)
	assert.Equal(t, []string{"a@s.whatsapp.net", "b@s.whatsapp.net"}, reloaded.Blocked())
	assert.Equal(t, !DefaultFeatures["notifications"], reloaded.Feature("notifications"))
}

func TestConcurrentMutations_PersistCompleteState(t *testing.T) {
	s, dir := newTestStore(t)

	// Mutation and persistence share one critical section, so the file on
	// disk after concurrent mutations reflects all of them — no older
	// snapshot can be the last write.
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			s.Block(fmt.Sprintf("user-%02d@s.whatsapp.net", n))
		}(i)
	}
	wg.Wait()

	reloaded, err := Load(dir, slog.Default())
	require.NoError(t, err)
	require.Len(t, reloaded.Blocked(), 20)
	for i := 0; i < 20; i++ {
		assert.True(t, reloaded.IsBlocked(fmt.Sprintf("user-%02d@s.whatsapp.net", i)))
	}
}

func TestLoad_CorruptFilesFallBack(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "blocklist.json"), []byte("{nope"), 0o644))

	s, err := Load(dir, slog.Default())
	require.NoError(t, err)
	assert.Empty(t, s.Blocked())
}
