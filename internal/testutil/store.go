package testutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/rover/internal/store"
)

// OpenStore opens a fresh SQLite store in a temp dir, closed on cleanup.
func OpenStore(t testing.TB, opts ...store.Option) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "rover.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}
