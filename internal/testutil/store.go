package testutil

import (
	"testing"

	"lightmon/internal/lightmon"
	"lightmon/internal/store"
)

// Env bundles a temporary store, an in-memory index and a stub clock.
// Index and Ops are the same SQLite index.
type Env struct {
	Dir     *store.Directory
	Index   lightmon.Index
	Ops     lightmon.OperationLog
	Reports *lightmon.Reports
	Clock   *StubClock
}

// NewEnv creates a fresh store and index for a test. The clock starts at
// FixedClock's time.
func NewEnv(t *testing.T) *Env {
	t.Helper()
	clock := FixedClock()
	dir, err := store.NewDirectory(t.TempDir())
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	idx := NewTestIndex(t, clock)
	reports, err := lightmon.NewReports(dir.Root(), idx, lightmon.NewNopLogger(), clock)
	if err != nil {
		t.Fatalf("creating reports: %v", err)
	}
	return &Env{Dir: dir, Index: idx, Ops: idx, Reports: reports, Clock: clock}
}

// WriteReport writes a complete set of artifacts for one run into the store
// and returns the report they describe. It does not touch the index.
func WriteReport(t *testing.T, dir *store.Directory, url, name, preset, runStartedAt string) *lightmon.Report {
	t.Helper()
	meta := lightmon.Meta{URL: url, Name: name, Preset: preset, RunStartedAt: runStartedAt}
	for _, at := range []lightmon.ArtifactType{lightmon.ArtifactHTML, lightmon.ArtifactArtifacts, lightmon.ArtifactJSON} {
		if _, err := dir.Write(meta, at, []byte("<"+string(at)+" for "+name+">")); err != nil {
			t.Fatalf("writing %s: %v", at, err)
		}
	}
	if _, err := dir.WriteConfig(meta); err != nil {
		t.Fatalf("writing config artifact: %v", err)
	}
	meta.ReportsDir = dir.Root()
	report, err := lightmon.FromMeta(meta)
	if err != nil {
		t.Fatalf("building report: %v", err)
	}
	return report
}

// IndexReport writes a report into the store and upserts it.
func (e *Env) IndexReport(t *testing.T, url, name, preset, runStartedAt string) *lightmon.Report {
	t.Helper()
	report := WriteReport(t, e.Dir, url, name, preset, runStartedAt)
	if err := e.Index.Upsert(report); err != nil {
		t.Fatalf("upserting report: %v", err)
	}
	return report
}
