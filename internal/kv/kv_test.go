package kv

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStores(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()

	file, err := NewFileStore(filepath.Join(dir, "files"))
	require.NoError(t, err)
	db, err := NewSQLite(filepath.Join(dir, "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return map[string]Store{
		DriverFile:   file,
		DriverSQLite: db,
		DriverMemory: NewMemory(),
	}
}

func TestStoreRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(ctx, "missing")
			require.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.Set(ctx, "session_messages/abc", []byte(`[1]`)))
			require.NoError(t, s.Set(ctx, "session_messages/abc", []byte(`[1,2]`)))
			got, err := s.Get(ctx, "session_messages/abc")
			require.NoError(t, err)
			assert.Equal(t, `[1,2]`, string(got))

			require.NoError(t, s.Remove(ctx, "session_messages/abc"))
			_, err = s.Get(ctx, "session_messages/abc")
			require.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.Remove(ctx, "never-set"))
		})
	}
}

func TestFileStoreKeysStayInDirectory(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.Set(context.Background(), "../escape", []byte("x")))

	matches, err := filepath.Glob(filepath.Join(dir, "*"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	_, err := Open("redis", t.TempDir())
	require.Error(t, err)
}

func TestOpenSQLiteDirectory(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	s, err := Open(DriverSQLite, dir)
	require.NoError(t, err)
	defer s.Close()
	assert.FileExists(t, filepath.Join(dir, "state.db"))
}
