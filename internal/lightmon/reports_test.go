package lightmon_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"lightmon/internal/lightmon"
	"lightmon/internal/store"
	"lightmon/internal/testutil"
)

func TestNewReports_RequiresBaseDir(t *testing.T) {
	env := testutil.NewEnv(t)
	_, err := lightmon.NewReports("", env.Index, lightmon.NewNopLogger(), env.Clock)
	if !errors.Is(err, lightmon.ErrMissingArgument) {
		t.Errorf("error = %v, want ErrMissingArgument", err)
	}
}

func TestReports_AddFromConfigFile(t *testing.T) {
	env := testutil.NewEnv(t)
	written := testutil.WriteReport(t, env.Dir, "https://example.com", "home", "desktop", "2019-01-12T10:00:00.000Z")

	added, err := env.Reports.AddFromConfigFile(written.Path, filepath.Base(written.Config()))
	if err != nil {
		t.Fatalf("AddFromConfigFile() error = %v", err)
	}
	if added.ID != written.ID {
		t.Errorf("id = %s, want %s", added.ID, written.ID)
	}

	got, err := env.Reports.Single(written.ID)
	if err != nil || got == nil {
		t.Fatalf("Single() = %v, %v", got, err)
	}
}

func TestReports_Reconcile(t *testing.T) {
	env := testutil.NewEnv(t)
	stale := env.IndexReport(t, "https://example.com", "home", "desktop", "2019-01-10T10:00:00.000Z")
	stale.Delete(lightmon.NewNopLogger())

	a := testutil.WriteReport(t, env.Dir, "https://example.com", "home", "desktop", "2019-01-12T10:00:00.000Z")
	b := testutil.WriteReport(t, env.Dir, "https://example.com", "home", "mobile", "2019-01-12T10:00:00.000Z")

	corrupt := filepath.Join(env.Dir.Root(), "broken", "x_desktop"+lightmon.ConfigArtifactSuffix)
	if err := os.MkdirAll(filepath.Dir(corrupt), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(corrupt, []byte("garbage"), 0644); err != nil {
		t.Fatal(err)
	}

	env.Clock.Advance(time.Second)
	paths, err := store.ConfigArtifacts(env.Dir.Root(), nil)
	if err != nil {
		t.Fatal(err)
	}

	result, err := env.Reports.Reconcile(paths)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if result.Indexed != 2 || result.Skipped != 1 || result.Evicted != 1 {
		t.Errorf("result = %+v, want 2 indexed, 1 skipped, 1 evicted", result)
	}

	all, err := env.Reports.All()
	if err != nil {
		t.Fatal(err)
	}
	ids := map[string]bool{}
	for _, r := range all {
		ids[r.ID] = true
	}
	if len(ids) != 2 || !ids[a.ID] || !ids[b.ID] {
		t.Errorf("indexed ids = %v, want %s and %s", ids, a.ID, b.ID)
	}
}

func TestReports_Reconcile_Idempotent(t *testing.T) {
	env := testutil.NewEnv(t)
	testutil.WriteReport(t, env.Dir, "https://example.com", "home", "desktop", "2019-01-12T10:00:00.000Z")
	paths, err := store.ConfigArtifacts(env.Dir.Root(), nil)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		env.Clock.Advance(time.Second)
		result, err := env.Reports.Reconcile(paths)
		if err != nil {
			t.Fatal(err)
		}
		if result.Evicted != 0 {
			t.Errorf("pass %d evicted %d rows", i, result.Evicted)
		}
	}

	all, err := env.Reports.All()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Errorf("got %d rows, want 1", len(all))
	}
}

func TestReports_Delete(t *testing.T) {
	env := testutil.NewEnv(t)
	r := env.IndexReport(t, "https://example.com", "home", "desktop", "2019-01-12T10:00:00.000Z")

	freed, err := env.Reports.Delete(r)
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if freed <= 0 {
		t.Errorf("freed = %d", freed)
	}
	if files := r.Files(); len(files) != 0 {
		t.Errorf("artifacts left: %v", files)
	}
	got, err := env.Reports.Single(r.ID)
	if err != nil || got != nil {
		t.Errorf("Single() after delete = %v, %v", got, err)
	}
}

func TestReports_Queries(t *testing.T) {
	env := testutil.NewEnv(t)
	env.IndexReport(t, "https://a.example.com", "home", "desktop", "2019-01-12T10:00:00.000Z")
	env.IndexReport(t, "https://a.example.com", "home", "mobile", "2019-01-13T10:00:00.000Z")
	env.IndexReport(t, "https://b.example.com", "shop", "desktop", "2019-01-14T10:00:00.000Z")

	urls, err := env.Reports.UniqueURLs()
	if err != nil {
		t.Fatal(err)
	}
	if len(urls) != 2 {
		t.Errorf("UniqueURLs() = %v", urls)
	}

	presets, err := env.Reports.PresetsForURL("https://a.example.com")
	if err != nil {
		t.Fatal(err)
	}
	if len(presets) != 2 {
		t.Errorf("PresetsForURL() = %v", presets)
	}

	unknown, err := env.Reports.PresetsForURL("https://unknown.example.com")
	if err != nil || unknown == nil || len(unknown) != 0 {
		t.Errorf("PresetsForURL(unknown) = %v, %v, want empty", unknown, err)
	}

	younger, err := env.Reports.YoungerThan(time.Date(2019, 1, 13, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	if len(younger) != 2 {
		t.Errorf("YoungerThan() returned %d reports, want 2", len(younger))
	}

	older, err := env.Reports.OlderThan(time.Date(2019, 1, 13, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	if len(older) != 1 {
		t.Errorf("OlderThan() returned %d reports, want 1", len(older))
	}

	secured, err := env.Reports.WithoutInternals()
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range secured {
		if r.Path != "" {
			t.Errorf("report %s exposes path %q", r.ID, r.Path)
		}
	}
}

func TestReports_Healthy(t *testing.T) {
	env := testutil.NewEnv(t)
	env.IndexReport(t, "https://example.com", "home", "desktop", env.Clock.Date())
	env.Clock.Advance(2*time.Hour + 30*time.Minute)

	healthy, err := env.Reports.Healthy(3 * time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if !healthy {
		t.Error("Healthy(3h) = false, want true")
	}

	healthy, err = env.Reports.Healthy(time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if healthy {
		t.Error("Healthy(1h) = true, want false")
	}

	if _, err := env.Reports.Healthy(0); !errors.Is(err, lightmon.ErrMissingArgument) {
		t.Errorf("Healthy(0) error = %v, want ErrMissingArgument", err)
	}
}
