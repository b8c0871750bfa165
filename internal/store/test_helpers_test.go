package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/casecore/internal/contract"
	"github.com/roach88/casecore/internal/testutil"
)

// createTestStore opens a fresh database in a temp dir.
func createTestStore(t *testing.T) *SQLite {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestContract builds a sealed contract with one GET interaction on
// path.
func createTestContract(t *testing.T, consumer, provider, path string) *contract.Contract {
	t.Helper()
	return testutil.Contract(t, consumer, provider, path)
}
