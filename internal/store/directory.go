package store

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"lightmon/internal/lightmon"
)

const tempFilePattern = ".tmp-*"

// Directory writes report artifacts into a store root using the layout
// {root}/{sanitized runStartedAt}/{name}_{preset}_{type}.gz.
type Directory struct {
	root string
}

// NewDirectory creates the store root if needed.
func NewDirectory(root string) (*Directory, error) {
	if root == "" {
		return nil, fmt.Errorf("%w: store root", lightmon.ErrMissingArgument)
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("creating store root: %w", err)
	}
	return &Directory{root: root}, nil
}

// Root returns the store root directory.
func (d *Directory) Root() string { return d.root }

// ArtifactPath returns where Write places an artifact of the run.
func (d *Directory) ArtifactPath(meta lightmon.Meta, t lightmon.ArtifactType) string {
	return filepath.Join(lightmon.RunDir(d.root, meta.RunStartedAt),
		lightmon.ArtifactFileName(meta.Name, meta.Preset, t)+lightmon.CompressedSuffix)
}

// Write gzip-compresses content and stores it atomically as the given
// artifact of the run described by meta. It returns the written path.
func (d *Directory) Write(meta lightmon.Meta, t lightmon.ArtifactType, content []byte) (string, error) {
	if meta.Name == "" || meta.Preset == "" || meta.RunStartedAt == "" {
		return "", fmt.Errorf("%w: required name, preset, runStartedAt; given %+v", lightmon.ErrMissingField, meta)
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(content); err != nil {
		return "", fmt.Errorf("compressing %s: %w", t, err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("compressing %s: %w", t, err)
	}

	dest := d.ArtifactPath(meta, t)
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return "", fmt.Errorf("creating run directory: %w", err)
	}
	if err := WriteAtomic(dest, &buf, int64(buf.Len())); err != nil {
		return "", err
	}
	return dest, nil
}

// WriteJSON marshals v with two-space indentation and writes it as the
// given artifact.
func (d *Directory) WriteJSON(meta lightmon.Meta, t lightmon.ArtifactType, v any) (string, error) {
	content, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding %s: %w", t, err)
	}
	return d.Write(meta, t, content)
}

// WriteConfig stores the config artifact of a run, the file the sync
// process indexes. It must be written last so the report is complete once
// it becomes visible.
func (d *Directory) WriteConfig(meta lightmon.Meta) (string, error) {
	if meta.URL == "" {
		return "", fmt.Errorf("%w: required url", lightmon.ErrMissingField)
	}
	stored := meta
	stored.ReportsDir = ""
	return d.WriteJSON(meta, lightmon.ArtifactConfig, stored)
}

// Restore stores raw (already compressed) artifact bytes at a path
// relative to the store root. Used when artifacts come back from an archive.
func (d *Directory) Restore(relativePath string, r io.Reader, size int64) (string, error) {
	dest := filepath.Join(d.root, filepath.FromSlash(relativePath))
	rel, err := filepath.Rel(d.root, dest)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes store root: %s", relativePath)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return "", fmt.Errorf("creating run directory: %w", err)
	}
	if err := WriteAtomic(dest, r, size); err != nil {
		return "", err
	}
	return dest, nil
}

// WriteAtomic writes data from r to destPath using atomic write (temp file + rename).
// Readers never observe a partially written file.
func WriteAtomic(destPath string, r io.Reader, expectedSize int64) error {
	// The temp file must live in the destination directory for rename to be atomic.
	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), tempFilePattern)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if written != expectedSize {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", expectedSize, written)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}
