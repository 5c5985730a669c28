package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"lightmon/internal/config"
	"lightmon/internal/lightmon"
	"lightmon/internal/store"
	"lightmon/internal/testutil"
)

const testNow = "2019-01-20T12:00:00.000Z"

// testConfig returns a config rooted in a temp dir with a file-backed
// index and filesystem archive, so state survives between app instances.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	base := t.TempDir()
	cfg := config.NewConfig("test-instance", base)
	cfg.Archive.Type = "filesystem"
	cfg.Archive.FSRoot = filepath.Join(base, "archive")
	cfg.Archive.Encryption.Type = "test"
	if err := os.MkdirAll(cfg.Archive.FSRoot, 0755); err != nil {
		t.Fatal(err)
	}
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config, operation string) *LightmonApp {
	t.Helper()
	a, err := NewLightmonApp(cfg, operation, Options{Clock: testutil.StubClockAt(testNow)})
	if err != nil {
		t.Fatalf("NewLightmonApp() error = %v", err)
	}
	return a
}

func closeApp(t *testing.T, a *LightmonApp) {
	t.Helper()
	if err := a.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

// writeDay writes n reports for the same url and preset on one day.
func writeDay(t *testing.T, cfg *config.Config, day string, n int) []*lightmon.Report {
	t.Helper()
	dir, err := store.NewDirectory(cfg.ReportDir)
	if err != nil {
		t.Fatal(err)
	}
	var out []*lightmon.Report
	for i := 0; i < n; i++ {
		date := day + "T0" + string(rune('1'+i)) + ":00:00.000Z"
		out = append(out, testutil.WriteReport(t, dir, "https://example.com", "home", "desktop", date))
	}
	return out
}

func TestNewLightmonApp_InvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sync.Mode = "thread"
	if _, err := NewLightmonApp(cfg, "serve", Options{}); err == nil {
		t.Error("expected error for unknown sync mode")
	}
}

func TestLightmonApp_RebuildAndHealth(t *testing.T) {
	cfg := testConfig(t)
	writeDay(t, cfg, "2019-01-20", 1)

	a := newTestApp(t, cfg, "index")
	defer closeApp(t, a)

	result, err := a.Rebuild()
	if err != nil {
		t.Fatalf("Rebuild() error = %v", err)
	}
	if result.Indexed != 1 {
		t.Errorf("Indexed = %d, want 1", result.Indexed)
	}

	healthy, err := a.Healthy()
	if err != nil {
		t.Fatalf("Healthy() error = %v", err)
	}
	if !healthy {
		t.Error("Healthy() = false, want true")
	}

	history, err := a.GetHistory(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || history[0].Operation != "reconcile" {
		t.Errorf("history = %+v, want one reconcile", history)
	}
}

func TestLightmonApp_UnhealthyWithoutRecentReports(t *testing.T) {
	cfg := testConfig(t)
	writeDay(t, cfg, "2019-01-10", 1)

	a := newTestApp(t, cfg, "healthz")
	defer closeApp(t, a)

	if _, err := a.Rebuild(); err != nil {
		t.Fatal(err)
	}
	healthy, err := a.Healthy()
	if err != nil {
		t.Fatal(err)
	}
	if healthy {
		t.Error("Healthy() = true, want false")
	}
}

func TestLightmonApp_CleanupArchiveRestore(t *testing.T) {
	cfg := testConfig(t)
	cfg.Retention.RetainDailyDays = 3
	reports := writeDay(t, cfg, "2019-01-10", 5)

	rebuild := newTestApp(t, cfg, "index")
	if _, err := rebuild.Rebuild(); err != nil {
		t.Fatal(err)
	}
	closeApp(t, rebuild)

	cleanup := newTestApp(t, cfg, "cleanup")
	result, err := cleanup.Cleanup(false)
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if result.Retained != 1 || result.Deleted != 4 {
		t.Errorf("Retained=%d Deleted=%d, want 1 and 4", result.Retained, result.Deleted)
	}
	if result.DryRun {
		t.Error("DryRun = true, want false")
	}
	if len(result.Purged) != 4 {
		t.Errorf("Purged %d directories, want 4", len(result.Purged))
	}
	closeApp(t, cleanup)

	// The newest report of the day survives.
	newest := reports[len(reports)-1]
	if newest.Config() == "" {
		t.Error("newest report was deleted")
	}

	restore := newTestApp(t, cfg, "archive")
	defer closeApp(t, restore)

	runs, err := restore.ArchiveRuns()
	if err != nil {
		t.Fatalf("ArchiveRuns() error = %v", err)
	}
	if len(runs) != 4 {
		t.Fatalf("archived %d runs, want 4", len(runs))
	}

	restored, err := restore.ArchiveRestore(runs[0], "passphrase")
	if err != nil {
		t.Fatalf("ArchiveRestore() error = %v", err)
	}
	if len(restored) != 4 {
		t.Errorf("restored %d artifacts, want 4", len(restored))
	}
	if reports[0].Config() == "" {
		t.Error("oldest report config artifact not restored")
	}

	history, err := restore.GetHistory(10)
	if err != nil {
		t.Fatal(err)
	}
	var ops []string
	for _, op := range history {
		ops = append(ops, op.Operation+":"+op.Status)
	}
	want := []string{"archive:started", "cleanup:success", "reconcile:success"}
	if len(ops) != len(want) {
		t.Fatalf("history = %v, want %v", ops, want)
	}
	for i := range want {
		if ops[i] != want[i] {
			t.Errorf("history[%d] = %q, want %q", i, ops[i], want[i])
		}
	}
}

func TestLightmonApp_CleanupDryRun(t *testing.T) {
	cfg := testConfig(t)
	cfg.Retention.RetainDailyDays = 3
	reports := writeDay(t, cfg, "2019-01-10", 3)

	a := newTestApp(t, cfg, "cleanup")
	defer closeApp(t, a)
	if _, err := a.Rebuild(); err != nil {
		t.Fatal(err)
	}

	result, err := a.Cleanup(true)
	if err != nil {
		t.Fatal(err)
	}
	if result.Deleted != 2 {
		t.Errorf("Deleted = %d, want 2", result.Deleted)
	}
	if !result.DryRun {
		t.Error("DryRun = false, want true")
	}
	for _, r := range reports {
		if r.Config() == "" {
			t.Errorf("dry run removed %s", r.ID)
		}
	}
}

func TestLightmonApp_CleanupConfiguredDryRun(t *testing.T) {
	cfg := testConfig(t)
	cfg.Retention.RetainDailyDays = 3
	cfg.Retention.DryRun = true
	reports := writeDay(t, cfg, "2019-01-10", 2)

	a := newTestApp(t, cfg, "cleanup")
	defer closeApp(t, a)
	if _, err := a.Rebuild(); err != nil {
		t.Fatal(err)
	}

	result, err := a.Cleanup(false)
	if err != nil {
		t.Fatal(err)
	}
	if !result.DryRun {
		t.Error("DryRun = false with retention.dry_run set")
	}
	for _, r := range reports {
		if r.Config() == "" {
			t.Errorf("configured dry run removed %s", r.ID)
		}
	}
}

func TestLightmonApp_ArchiveWithoutConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Archive.Type = "none"

	a := newTestApp(t, cfg, "archive")
	defer closeApp(t, a)

	if _, err := a.ArchiveRuns(); err == nil {
		t.Error("expected error without archive")
	}
	if _, err := a.ArchiveRestore("run", ""); err == nil {
		t.Error("expected error without archive")
	}
}

func TestLightmonApp_Serve(t *testing.T) {
	cfg := testConfig(t)
	cfg.Index.Type = "memory"

	a := newTestApp(t, cfg, "serve")
	defer closeApp(t, a)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Serve(ctx) }()

	report := writeDay(t, cfg, "2019-01-20", 1)[0]

	deadline := time.Now().Add(5 * time.Second)
	for {
		got, err := a.Reports().Single(report.ID)
		if err == nil && got != nil {
			break
		}
		if time.Now().After(deadline) {
			cancel()
			t.Fatal("served sync process did not index the report")
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve() did not return after cancel")
	}
}

func TestLightmonApp_ServeProcessModeNeedsSQLite(t *testing.T) {
	cfg := testConfig(t)
	cfg.Index.Type = "memory"
	cfg.Sync.Mode = "process"

	a := newTestApp(t, cfg, "serve")
	defer closeApp(t, a)

	err := a.Serve(context.Background())
	if err == nil || errors.Is(err, context.Canceled) {
		t.Errorf("Serve() error = %v, want sqlite requirement", err)
	}
}

func TestLightmonApp_IndexSchema(t *testing.T) {
	cfg := testConfig(t)
	a := newTestApp(t, cfg, "index")
	defer closeApp(t, a)

	schema, err := a.IndexSchema()
	if err != nil {
		t.Fatalf("IndexSchema() error = %v", err)
	}
	if schema == "" {
		t.Error("empty schema")
	}

	cfg = testConfig(t)
	cfg.Index.Type = "none"
	nop := newTestApp(t, cfg, "index")
	defer closeApp(t, nop)
	if _, err := nop.IndexSchema(); err == nil {
		t.Error("expected error for index type none")
	}
}
