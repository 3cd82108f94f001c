package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

// testEpoch is the fixed "now" used by store tests.
var testEpoch = time.Unix(1_700_000_000, 0).UTC()

// createTestStore creates a new temp-dir store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, WithNow(func() time.Time { return testEpoch }))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// registerTestHandlers registers names in order and fails the test on error.
func registerTestHandlers(t *testing.T, s *Store, names ...string) {
	t.Helper()
	for _, name := range names {
		if _, err := s.RegisterHandler(context.Background(), name); err != nil {
			t.Fatalf("RegisterHandler(%q) failed: %v", name, err)
		}
	}
}

func countRows(t *testing.T, s *Store, table string) int {
	t.Helper()
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

func time30s(n int) time.Duration {
	return time.Duration(n) * 30 * time.Second
}
