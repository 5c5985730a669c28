package archive

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"lightmon/internal/encryption"
	"lightmon/internal/lightmon"
	"lightmon/internal/store"
)

func writeTestReport(t *testing.T, dir *store.Directory) *lightmon.Report {
	t.Helper()
	meta := lightmon.Meta{
		URL:          "https://example.com",
		Name:         "example",
		Preset:       "desktop",
		RunStartedAt: "2019-01-12T10:00:00.000Z",
	}
	if _, err := dir.Write(meta, lightmon.ArtifactHTML, []byte("<html></html>")); err != nil {
		t.Fatal(err)
	}
	if _, err := dir.WriteJSON(meta, lightmon.ArtifactJSON, map[string]any{"score": 0.9}); err != nil {
		t.Fatal(err)
	}
	if _, err := dir.WriteConfig(meta); err != nil {
		t.Fatal(err)
	}
	meta.ReportsDir = dir.Root()
	r, err := lightmon.FromMeta(meta)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestReportArchiver_RoundTrip(t *testing.T) {
	tests := []struct {
		name      string
		encryptor lightmon.Encryptor
		suffix    string
	}{
		{name: "plaintext", encryptor: nil, suffix: ".gz"},
		{name: "encrypted", encryptor: encryption.NewTestEncryptor(), suffix: ".gz" + EncryptedSuffix},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir, err := store.NewDirectory(t.TempDir())
			if err != nil {
				t.Fatal(err)
			}
			report := writeTestReport(t, dir)
			original, err := os.ReadFile(report.HTML())
			if err != nil {
				t.Fatal(err)
			}

			vault := NewMemoryVault()
			a := NewReportArchiver(vault, tt.encryptor, dir.Root(), lightmon.NewNopLogger())
			if err := a.ArchiveReport(report); err != nil {
				t.Fatalf("ArchiveReport() error = %v", err)
			}

			keys, _ := vault.List("")
			if len(keys) != 3 {
				t.Fatalf("archived keys = %v, want 3", keys)
			}
			for _, k := range keys {
				if !strings.HasPrefix(k, "2019-01-12T10_00_00.000Z/") || !strings.HasSuffix(k, tt.suffix) {
					t.Errorf("unexpected key %s", k)
				}
			}

			report.Delete(lightmon.NewNopLogger())
			if report.HTML() != "" {
				t.Fatal("artifact still present after delete")
			}

			var dec lightmon.DecryptionContext
			if tt.encryptor != nil {
				dec, _ = tt.encryptor.Unlock("")
			}
			restored, err := Restore(vault, dec, dir, "2019-01-12T10_00_00.000Z", lightmon.NewNopLogger())
			if err != nil {
				t.Fatalf("Restore() error = %v", err)
			}
			if len(restored) != 3 {
				t.Errorf("restored %d files, want 3", len(restored))
			}
			if !store.IsConfigArtifact(filepath.Base(restored[len(restored)-1])) {
				t.Errorf("config artifact restored at %s, want last", restored[len(restored)-1])
			}

			got, err := os.ReadFile(report.HTML())
			if err != nil {
				t.Fatalf("reading restored artifact: %v", err)
			}
			if string(got) != string(original) {
				t.Error("restored artifact differs from original")
			}
		})
	}
}

func TestRestore_EncryptedWithoutKey(t *testing.T) {
	dir, _ := store.NewDirectory(t.TempDir())
	report := writeTestReport(t, dir)
	vault := NewMemoryVault()
	a := NewReportArchiver(vault, encryption.NewTestEncryptor(), dir.Root(), lightmon.NewNopLogger())
	if err := a.ArchiveReport(report); err != nil {
		t.Fatal(err)
	}

	if _, err := Restore(vault, nil, dir, "2019-01-12T10_00_00.000Z", lightmon.NewNopLogger()); err == nil {
		t.Error("Restore() of encrypted archive without key should fail")
	}
}

func TestRestore_UnknownRun(t *testing.T) {
	dir, _ := store.NewDirectory(t.TempDir())
	_, err := Restore(NewMemoryVault(), nil, dir, "missing-run", lightmon.NewNopLogger())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Restore() error = %v, want ErrNotFound", err)
	}
}

func TestReportArchiver_KeyOutsideStore(t *testing.T) {
	a := NewReportArchiver(NewMemoryVault(), nil, "/srv/reports", lightmon.NewNopLogger())
	if _, err := a.Key("/etc/passwd"); err == nil {
		t.Error("Key() of file outside store should fail")
	}
	key, err := a.Key("/srv/reports/run/file.gz")
	if err != nil || key != "run/file.gz" {
		t.Errorf("Key() = %q, %v", key, err)
	}
}
