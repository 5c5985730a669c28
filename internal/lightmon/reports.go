package lightmon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Reports is the read/write surface over the index and the report store.
// Queries are answered by the index; deletions hit both the store and the
// index.
type Reports struct {
	baseDir string
	index   Index
	logger  Logger
	clock   Clock
}

// NewReports creates the facade and ensures the store root exists.
func NewReports(baseDir string, index Index, logger Logger, clock Clock) (*Reports, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("%w: report directory", ErrMissingArgument)
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("creating report directory: %w", err)
	}
	return &Reports{
		baseDir: baseDir,
		index:   index,
		logger:  logger,
		clock:   clock,
	}, nil
}

// BaseDir returns the store root.
func (s *Reports) BaseDir() string { return s.baseDir }

// Index returns the index backing the facade.
func (s *Reports) Index() Index { return s.index }

// Single returns the report with the given id, or nil if it is unknown.
func (s *Reports) Single(id string) (*Report, error) {
	return s.index.Get(id)
}

func (s *Reports) All() ([]*Report, error) {
	return s.index.All()
}

// WithoutInternals returns every report stripped of its filesystem path.
func (s *Reports) WithoutInternals() ([]*Report, error) {
	all, err := s.index.All()
	if err != nil {
		return nil, err
	}
	secured := make([]*Report, len(all))
	for i, r := range all {
		secured[i] = r.WithoutInternals()
	}
	return secured, nil
}

func (s *Reports) UniqueURLs() ([]string, error) {
	return s.index.UniqueURLs()
}

func (s *Reports) PresetsForURL(url string) ([]string, error) {
	return s.index.PresetsForURL(url)
}

func (s *Reports) DatesForURLAndPreset(url, preset string) ([]DateRef, error) {
	return s.index.DatesForURLAndPreset(url, preset)
}

func (s *Reports) ByURLPresetDate(url, preset, date string) ([]*Report, error) {
	return s.index.ByURLPresetDate(url, preset, date)
}

func (s *Reports) YoungerThan(date time.Time) ([]*Report, error) {
	return s.index.YoungerThan(date)
}

func (s *Reports) OlderThan(date time.Time) ([]*Report, error) {
	return s.index.OlderThan(date)
}

// Delete removes the report's artifacts and its index row.
// It returns the number of bytes freed on disk.
func (s *Reports) Delete(report *Report) (int64, error) {
	freed := report.Delete(s.logger)
	if err := s.index.Delete(report); err != nil {
		return freed, fmt.Errorf("deleting index row %s: %w", report.ID, err)
	}
	return freed, nil
}

// AddFromConfigFile parses a config artifact and upserts the report.
func (s *Reports) AddFromConfigFile(dir, configFile string) (*Report, error) {
	report, err := FromFile(dir, configFile)
	if err != nil {
		return nil, err
	}
	if err := s.index.Upsert(report); err != nil {
		return nil, fmt.Errorf("upserting report %s: %w", report.ID, err)
	}
	return report, nil
}

// ReconcileResult summarises a reconcile pass.
type ReconcileResult struct {
	Indexed int
	Skipped int
	Evicted int
}

// Reconcile replays the given config artifacts into the index under a
// fresh watermark, then evicts every row the pass did not observe.
// Unreadable artifacts are skipped; index failures abort the pass.
func (s *Reports) Reconcile(configPaths []string) (*ReconcileResult, error) {
	watermark := s.clock.Now().UTC().Format(time.RFC3339Nano)
	if err := s.index.UpdateCurrentLastseen(watermark); err != nil {
		return nil, fmt.Errorf("setting watermark: %w", err)
	}

	result := &ReconcileResult{}
	for _, p := range configPaths {
		_, err := s.AddFromConfigFile(filepath.Dir(p), filepath.Base(p))
		if err == nil {
			result.Indexed++
			continue
		}
		if errors.Is(err, ErrCorruptArtifact) || errors.Is(err, ErrMissingField) || errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("skipping config artifact", "file", p, "error", err)
			result.Skipped++
			continue
		}
		return result, err
	}

	outdated, err := s.index.Outdated()
	if err != nil {
		return result, fmt.Errorf("listing outdated rows: %w", err)
	}
	for _, r := range outdated {
		if err := s.index.Delete(r); err != nil {
			return result, fmt.Errorf("evicting %s: %w", r.ID, err)
		}
		s.logger.Debug("evicted stale index row", "id", r.ID, "name", r.Name, "preset", r.Preset, "date", r.Date)
		result.Evicted++
	}

	s.logger.Info("reconcile complete", "watermark", watermark, "indexed", result.Indexed, "skipped", result.Skipped, "evicted", result.Evicted)
	return result, nil
}

// Healthy reports whether at least one report is younger than expected.
func (s *Reports) Healthy(expected time.Duration) (bool, error) {
	if expected <= 0 {
		return false, fmt.Errorf("%w: expected report interval not configured", ErrMissingArgument)
	}
	recent, err := s.index.YoungerThan(s.clock.Now().Add(-expected))
	if err != nil {
		return false, err
	}
	return len(recent) > 0, nil
}
