package lightmon

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Resolution is the time granularity a retention pass reduces reports to.
type Resolution string

const (
	Daily  Resolution = "daily"
	Weekly Resolution = "weekly"
)

// Truncate returns the start of the period containing t, in UTC.
// Weekly periods begin at 00:00 on weekStart.
func Truncate(t time.Time, res Resolution, weekStart time.Weekday) time.Time {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	if res == Weekly {
		offset := (int(day.Weekday()) - int(weekStart) + 7) % 7
		day = day.AddDate(0, 0, -offset)
	}
	return day
}

// BucketKey groups reports of one target and preset within one period.
type BucketKey struct {
	Period time.Time
	Name   string
	Preset string
}

func (k BucketKey) String() string {
	return k.Period.Format("20060102") + "_" + k.Name + "_" + k.Preset
}

// Bucket holds the reports sharing a BucketKey.
type Bucket struct {
	Key     BucketKey
	Reports []*Report
}

// Bucketize groups reports by (period, name, preset). Buckets are returned
// in key order and every bucket is sorted by date descending, then id
// ascending, so Reports[0] is the representative to retain. Reports whose
// date cannot be parsed are returned separately and never bucketed.
func Bucketize(reports []*Report, res Resolution, weekStart time.Weekday) ([]*Bucket, []*Report) {
	dates := make(map[string]time.Time, len(reports))
	index := make(map[BucketKey]*Bucket)
	var unparsable []*Report

	for _, r := range reports {
		t, err := ParseDate(r.Date)
		if err != nil {
			unparsable = append(unparsable, r)
			continue
		}
		dates[r.ID] = t

		key := BucketKey{Period: Truncate(t, res, weekStart), Name: r.Name, Preset: r.Preset}
		b, ok := index[key]
		if !ok {
			b = &Bucket{Key: key}
			index[key] = b
		}
		b.Reports = append(b.Reports, r)
	}

	buckets := make([]*Bucket, 0, len(index))
	for _, b := range index {
		sort.SliceStable(b.Reports, func(i, j int) bool {
			ti, tj := dates[b.Reports[i].ID], dates[b.Reports[j].ID]
			if !ti.Equal(tj) {
				return ti.After(tj)
			}
			return b.Reports[i].ID < b.Reports[j].ID
		})
		buckets = append(buckets, b)
	}
	sort.Slice(buckets, func(i, j int) bool {
		a, b := buckets[i].Key, buckets[j].Key
		if !a.Period.Equal(b.Period) {
			return a.Period.Before(b.Period)
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.Preset < b.Preset
	})

	return buckets, unparsable
}

// RetentionOptions configures the retention engine. A threshold of zero or
// less disables the corresponding pass.
type RetentionOptions struct {
	RetainDailyDays  int
	RetainWeeklyDays int
	DryRun           bool
	WeekStart        time.Weekday
}

// RetentionResult summarises one or more retention passes.
type RetentionResult struct {
	Buckets  int
	Retained int
	Deleted  int
	// Kept counts reports that should have been deleted but were kept
	// because archiving them failed.
	Kept   int
	Freed  int64
	Purged []string
	// DryRun is set when nothing was actually removed.
	DryRun bool
}

func (r *RetentionResult) add(o *RetentionResult) {
	r.Buckets += o.Buckets
	r.Retained += o.Retained
	r.Deleted += o.Deleted
	r.Kept += o.Kept
	r.Freed += o.Freed
	r.Purged = append(r.Purged, o.Purged...)
}

// Retention downsamples old reports to daily and then weekly resolution.
// It only touches the index and the store. Passes must not run
// concurrently with each other.
type Retention struct {
	reports  *Reports
	opts     RetentionOptions
	archiver Archiver
	logger   Logger
	clock    Clock
}

// NewRetention creates a retention engine. archiver may be nil.
func NewRetention(reports *Reports, opts RetentionOptions, archiver Archiver, logger Logger, clock Clock) *Retention {
	return &Retention{
		reports:  reports,
		opts:     opts,
		archiver: archiver,
		logger:   logger,
		clock:    clock,
	}
}

// Clean runs the daily pass, the weekly pass and the empty directory purge.
func (c *Retention) Clean() (*RetentionResult, error) {
	total := &RetentionResult{DryRun: c.opts.DryRun}

	if c.opts.RetainDailyDays > 0 {
		c.logger.Info("reducing reports to daily resolution", "older_than_days", c.opts.RetainDailyDays)
		res, err := c.Reduce(Daily, c.opts.RetainDailyDays)
		if err != nil {
			return total, err
		}
		total.add(res)
	}

	if c.opts.RetainWeeklyDays > 0 {
		c.logger.Info("reducing reports to weekly resolution", "older_than_days", c.opts.RetainWeeklyDays)
		res, err := c.Reduce(Weekly, c.opts.RetainWeeklyDays)
		if err != nil {
			return total, err
		}
		total.add(res)
	}

	purged, err := c.PurgeEmptyDirectories()
	if err != nil {
		return total, err
	}
	total.Purged = purged

	return total, nil
}

// Reduce keeps the most recent report of every bucket among the reports
// older than thresholdDays and deletes the rest from store and index.
// Rerunning it over the same population retains the same set.
func (c *Retention) Reduce(res Resolution, thresholdDays int) (*RetentionResult, error) {
	cutoff := c.clock.Now().AddDate(0, 0, -thresholdDays)
	candidates, err := c.reports.OlderThan(cutoff)
	if err != nil {
		return nil, fmt.Errorf("selecting reports older than %s: %w", FormatDate(cutoff), err)
	}

	buckets, unparsable := Bucketize(candidates, res, c.opts.WeekStart)
	for _, r := range unparsable {
		c.logger.Warn("skipping report with unparsable date", "id", r.ID, "date", r.Date)
	}

	result := &RetentionResult{Buckets: len(buckets)}
	for _, b := range buckets {
		result.Retained++
		for _, r := range b.Reports[1:] {
			c.logger.Debug("deleting report", "resolution", res, "bucket", b.Key.String(), "path", r.Path, "name", r.Name, "preset", r.Preset)
			if c.opts.DryRun {
				result.Deleted++
				continue
			}

			if c.archiver != nil {
				if err := c.archiver.ArchiveReport(r); err != nil {
					c.logger.Warn("archiving failed, keeping report", "id", r.ID, "error", err)
					result.Kept++
					continue
				}
			}

			freed, err := c.reports.Delete(r)
			result.Freed += freed
			if err != nil {
				c.logger.Warn("could not delete report", "id", r.ID, "error", err)
				continue
			}
			result.Deleted++
		}
	}

	return result, nil
}

// PurgeEmptyDirectories removes immediate subdirectories of the store root
// that contain no entries. Per-directory failures are logged and skipped.
func (c *Retention) PurgeEmptyDirectories() ([]string, error) {
	root := c.reports.BaseDir()
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("reading report directory: %w", err)
	}

	var purged []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		subdir := filepath.Join(root, entry.Name())

		children, err := os.ReadDir(subdir)
		if err != nil {
			c.logger.Warn("could not read directory", "dir", subdir, "error", err)
			continue
		}
		if len(children) > 0 {
			continue
		}

		c.logger.Debug("deleting empty directory", "dir", subdir)
		if !c.opts.DryRun {
			if err := os.Remove(subdir); err != nil {
				c.logger.Warn("could not delete empty directory", "dir", subdir, "error", err)
				continue
			}
		}
		purged = append(purged, subdir)
	}

	return purged, nil
}
