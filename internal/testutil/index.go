package testutil

import (
	"testing"

	"lightmon/internal/index"
	"lightmon/internal/lightmon"
)

// NewTestIndex opens a migrated in-memory index that is closed when the
// test ends.
func NewTestIndex(t *testing.T, clock lightmon.Clock) *index.SQLiteIndex {
	t.Helper()
	idx, err := index.NewSQLiteIndex(index.MemoryPath, clock)
	if err != nil {
		t.Fatalf("opening test index: %v", err)
	}
	t.Cleanup(func() { idx.Close() })
	return idx
}
