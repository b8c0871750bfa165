package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/casecore/internal/canon"
	"github.com/roach88/casecore/internal/contract"
	"github.com/roach88/casecore/internal/failure"
	"github.com/roach88/casecore/internal/testutil"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	for _, table := range []string{"contracts", "verification_runs"} {
		var name string
		err := s.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		assert.NoError(t, err, "table %q not found after idempotent opens", table)
	}

	var version int
	require.NoError(t, s.db.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, len(migrations), version)
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)
	tests := []struct {
		name     string
		expected string
	}{
		{"journal_mode", "wal"},
		{"synchronous", "1"},
		{"busy_timeout", "5000"},
		{"foreign_keys", "1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.pragma(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestSQLite_SaveAndLatest(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	first := createTestContract(t, "web", "things", "/things")
	second := createTestContract(t, "web", "things", "/things/v2")
	require.NoError(t, s.Save(ctx, first))
	require.NoError(t, s.Save(ctx, second))
	require.NoError(t, s.Save(ctx, first), "saving the same contract twice is a no-op")

	latest, err := s.Latest(ctx, "web", "things")
	require.NoError(t, err)
	assert.Equal(t, second.Metadata.Hash, latest.Metadata.Hash)

	byHash, err := s.ByHash(ctx, first.Metadata.Hash)
	require.NoError(t, err)
	assert.Equal(t, first.Interactions[0].Description, byHash.Interactions[0].Description)

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first.Metadata.Hash, list[0].Hash)
	assert.Equal(t, 1, list[0].Interactions)
	assert.Less(t, list[0].Seq, list[1].Seq)
}

func TestSQLite_NotFound(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.Latest(ctx, "web", "nobody")
	assert.True(t, failure.IsConfiguration(err))

	_, err = s.ByHash(ctx, "deadbeef")
	assert.True(t, failure.IsConfiguration(err))

	list, err := s.List(ctx)
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)
}

func TestSQLite_RecordRun(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	c := createTestContract(t, "web", "things", "/things")

	passing := &contract.Report{Consumer: "web", Provider: "things", Pass: true,
		Results: []*contract.InteractionResult{{TestName: "0: get /things", Pass: true}}}
	failing := &contract.Report{Consumer: "web", Provider: "things",
		Results: []*contract.InteractionResult{{TestName: "0: get /things", Errors: []contract.ErrorDetail{{Kind: failure.KindFailedAssertion, Message: "no"}}}}}

	require.NoError(t, s.RecordRun(ctx, "run-1", c, passing))
	require.NoError(t, s.RecordRun(ctx, "run-2", c, failing))
	require.NoError(t, s.RecordRun(ctx, "run-2", c, passing), "duplicate run is ignored")

	runs, err := s.Runs(ctx, "web", "things")
	require.NoError(t, err)
	require.Len(t, runs, 2)
	passingHash, err := canon.Hash(canon.DomainRun, passing)
	require.NoError(t, err)
	assert.Equal(t, Run{VerificationID: "run-1", ContractHash: c.Metadata.Hash, Pass: true, Interactions: 1, Failures: 0, ReportHash: passingHash, CreatedAt: runs[0].CreatedAt}, runs[0])
	assert.False(t, runs[1].Pass)
	assert.Equal(t, 1, runs[1].Failures)
	assert.NotEqual(t, passingHash, runs[1].ReportHash)
}

func TestOpen_MigratesVersionOneDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")
	s, err := Open(path)
	require.NoError(t, err)
	// Roll back to the version-1 layout, before runs had report hashes.
	_, err = s.db.Exec(`ALTER TABLE verification_runs DROP COLUMN report_hash`)
	require.NoError(t, err)
	_, err = s.db.Exec(`PRAGMA user_version = 1`)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	c := createTestContract(t, "web", "things", "/things")
	require.NoError(t, s.RecordRun(context.Background(), "run-1", c, &contract.Report{Consumer: "web", Provider: "things", Pass: true}))
	runs, err := s.Runs(context.Background(), "web", "things")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.NotEmpty(t, runs[0].ReportHash)
}

func TestSQLite_KeepsRecordedStrings(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	decomposed := "Cafe\u0301"

	c := testutil.Contract(t, "web", "things", "/"+decomposed)
	require.NoError(t, s.Save(ctx, c))

	want, err := json.Marshal(c.Interactions)
	require.NoError(t, err)

	for name, load := range map[string]func() (*contract.Contract, error){
		"latest":  func() (*contract.Contract, error) { return s.Latest(ctx, "web", "things") },
		"by hash": func() (*contract.Contract, error) { return s.ByHash(ctx, c.Metadata.Hash) },
	} {
		t.Run(name, func(t *testing.T) {
			got, err := load()
			require.NoError(t, err)
			gotJSON, err := json.Marshal(got.Interactions)
			require.NoError(t, err)
			assert.JSONEq(t, string(want), string(gotJSON))
			assert.Contains(t, string(gotJSON), decomposed)
			assert.Equal(t, c.Metadata.Hash, got.Metadata.Hash)
		})
	}
}

func TestSQLite_SealsUnsealedContract(t *testing.T) {
	s := createTestStore(t)
	c := createTestContract(t, "web", "things", "/things")
	c.Metadata.Hash = ""

	require.NoError(t, s.Save(context.Background(), c))
	assert.NotEmpty(t, c.Metadata.Hash)

	got, err := s.Latest(context.Background(), "web", "things")
	require.NoError(t, err)
	assert.Equal(t, c.Metadata.Hash, got.Metadata.Hash)
}
