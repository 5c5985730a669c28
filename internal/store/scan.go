package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"lightmon/internal/lightmon"
)

// IsConfigArtifact reports whether name is a compressed config artifact,
// the only file type the sync process reacts to.
func IsConfigArtifact(name string) bool {
	return strings.HasSuffix(name, lightmon.ConfigArtifactSuffix)
}

// ConfigArtifacts walks the store and returns the paths of every config
// artifact in lexical order. Entries matched by ignore are skipped, as are
// directories that vanish or cannot be read during the walk.
func ConfigArtifacts(root string, ignore *IgnoreMatcher) ([]string, error) {
	if _, err := os.Stat(root); err != nil {
		return nil, fmt.Errorf("reading store root: %w", err)
	}

	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if path == root {
			return nil
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		if ignore.Match(rel) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if !d.IsDir() && IsConfigArtifact(d.Name()) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("scanning store: %w", err)
	}

	sort.Strings(paths)
	return paths, nil
}

// Directories returns the store root and every directory below it that is
// not ignored. The watcher registers one watch per directory.
func Directories(root string, ignore *IgnoreMatcher) ([]string, error) {
	dirs := []string{root}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return fs.SkipDir
		}
		if path == root || !d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		if ignore.Match(rel) {
			return fs.SkipDir
		}
		dirs = append(dirs, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing store directories: %w", err)
	}
	return dirs, nil
}
