package lightmon

import (
	"bytes"
	"compress/gzip"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ArtifactType names one of the files an audit run leaves in the store.
type ArtifactType string

const (
	ArtifactHTML      ArtifactType = "report.html"
	ArtifactArtifacts ArtifactType = "artifacts.json"
	ArtifactJSON      ArtifactType = "report.json"
	ArtifactConfig    ArtifactType = "config.json"
)

// ArtifactTypes lists every artifact a report may own, in deletion order.
var ArtifactTypes = []ArtifactType{ArtifactHTML, ArtifactArtifacts, ArtifactJSON, ArtifactConfig}

// CompressedSuffix is appended to every artifact written by the store.
const CompressedSuffix = ".gz"

// ConfigArtifactSuffix identifies the artifact the sync process indexes.
const ConfigArtifactSuffix = "_" + string(ArtifactConfig) + CompressedSuffix

var sanitizer = strings.NewReplacer(">", "_", "<", "_", ":", "_", "|", "_", "?", "_", "*", "_")

// Sanitize replaces characters that are not portable in directory names.
// Every writer of the store must derive run directory names with it.
func Sanitize(runStartedAt string) string {
	return sanitizer.Replace(runStartedAt)
}

// ArtifactFileName returns the uncompressed file name of an artifact.
func ArtifactFileName(name, preset string, t ArtifactType) string {
	return name + "_" + preset + "_" + string(t)
}

// Meta is the subset of a run configuration needed to place a report.
type Meta struct {
	URL          string `json:"url"`
	Name         string `json:"name"`
	Preset       string `json:"preset"`
	RunStartedAt string `json:"runStartedAt"`
	ReportsDir   string `json:"reportsDir,omitempty"`
}

// Report identifies one completed audit and its artifacts on disk.
// Reports are immutable; construct them with NewReport, FromMeta or FromFile.
type Report struct {
	ID     string `json:"id"`
	URL    string `json:"url"`
	Name   string `json:"name"`
	Preset string `json:"preset"`
	Date   string `json:"date"`
	Path   string `json:"path,omitempty"`
}

// NewReport validates the source fields and derives the report id.
func NewReport(url, name, preset, date, path string) (*Report, error) {
	if url == "" || name == "" || preset == "" || date == "" || path == "" {
		return nil, fmt.Errorf("%w: required url, name, preset, date, path; given url=%q name=%q preset=%q date=%q path=%q",
			ErrMissingField, url, name, preset, date, path)
	}

	r := &Report{URL: url, Name: name, Preset: preset, Date: date, Path: path}
	r.ID = calculateID(r)
	return r, nil
}

// FromMeta builds a report for a run, placing it in the sanitized run
// directory below meta.ReportsDir.
func FromMeta(meta Meta) (*Report, error) {
	if meta.URL == "" || meta.Name == "" || meta.Preset == "" || meta.RunStartedAt == "" || meta.ReportsDir == "" {
		return nil, fmt.Errorf("%w: required url, name, preset, runStartedAt, reportsDir; given %+v", ErrMissingField, meta)
	}
	return NewReport(meta.URL, meta.Name, meta.Preset, meta.RunStartedAt, RunDir(meta.ReportsDir, meta.RunStartedAt))
}

// RunDir returns the store directory holding the artifacts of a run.
func RunDir(reportsDir, runStartedAt string) string {
	return filepath.Join(reportsDir, Sanitize(runStartedAt))
}

// FromFile reconstructs a report from a gzip-compressed config artifact.
// The store root is taken to be the parent of dir.
func FromFile(dir, configFile string) (*Report, error) {
	content, err := os.ReadFile(filepath.Join(dir, configFile))
	if err != nil {
		return nil, fmt.Errorf("reading config artifact: %w", err)
	}

	zr, err := gzip.NewReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptArtifact, configFile, err)
	}
	defer zr.Close()

	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptArtifact, configFile, err)
	}

	var meta Meta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptArtifact, configFile, err)
	}
	meta.ReportsDir = filepath.Dir(dir)

	return FromMeta(meta)
}

// calculateID hashes the source fields. The field order and the
// non-escaping encoder keep ids stable across writers of the same store.
func calculateID(r *Report) string {
	source := struct {
		URL    string `json:"url"`
		Name   string `json:"name"`
		Preset string `json:"preset"`
		Date   string `json:"date"`
		Path   string `json:"path"`
	}{r.URL, r.Name, r.Preset, r.Date, r.Path}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// Encoding a struct of strings cannot fail.
	_ = enc.Encode(source)

	sum := md5.Sum(bytes.TrimSuffix(buf.Bytes(), []byte("\n")))
	return hex.EncodeToString(sum[:])
}

// Locate returns the on-disk path of an artifact, preferring the compressed
// variant. It returns "" when neither exists.
func (r *Report) Locate(t ArtifactType) string {
	target := filepath.Join(r.Path, ArtifactFileName(r.Name, r.Preset, t))
	if _, err := os.Stat(target + CompressedSuffix); err == nil {
		return target + CompressedSuffix
	}
	if _, err := os.Stat(target); err == nil {
		return target
	}
	return ""
}

func (r *Report) HTML() string      { return r.Locate(ArtifactHTML) }
func (r *Report) Artifacts() string { return r.Locate(ArtifactArtifacts) }
func (r *Report) JSON() string      { return r.Locate(ArtifactJSON) }
func (r *Report) Config() string    { return r.Locate(ArtifactConfig) }

// Files returns the paths of all artifacts currently present on disk.
func (r *Report) Files() []string {
	var files []string
	for _, t := range ArtifactTypes {
		if f := r.Locate(t); f != "" {
			files = append(files, f)
		}
	}
	return files
}

// Delete unlinks every artifact of the report. Failures are logged and
// skipped; a partially deleted report is picked up again by the next
// reconcile pass. It returns the number of bytes freed.
func (r *Report) Delete(logger Logger) int64 {
	var freed int64
	for _, file := range r.Files() {
		info, statErr := os.Stat(file)
		if err := os.Remove(file); err != nil {
			logger.Warn("could not delete artifact", "file", file, "error", err)
			continue
		}
		if statErr == nil {
			freed += info.Size()
		}
	}
	return freed
}

// WithoutInternals returns a copy without the filesystem path, safe to hand
// to API clients.
func (r *Report) WithoutInternals() *Report {
	secured := *r
	secured.Path = ""
	return &secured
}
