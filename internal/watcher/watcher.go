// Package watcher keeps the report index in step with the store directory.
// A Watcher indexes config artifacts as they appear; a Supervisor restarts
// it when it crashes.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"lightmon/internal/lightmon"
	"lightmon/internal/store"
)

// Options configures a Watcher.
type Options struct {
	// Root is the store directory to watch.
	Root string
	// PollInterval switches to periodic rescans instead of filesystem
	// events. Use it for network filesystems that do not deliver events.
	PollInterval time.Duration
	// ReconcileInterval triggers a full reconcile pass in event mode.
	// Zero disables it.
	ReconcileInterval time.Duration
	Ignore            *store.IgnoreMatcher
}

// Stats counts what a watcher has done since it started.
type Stats struct {
	Scans   int64
	Indexed int64
	Skipped int64
	Evicted int64
	Errors  int64
}

// Watcher indexes every config artifact below the store root and reacts to
// new ones.
type Watcher struct {
	reports *lightmon.Reports
	ops     lightmon.OperationLog
	opts    Options
	logger  lightmon.Logger

	scans   atomic.Int64
	indexed atomic.Int64
	skipped atomic.Int64
	evicted atomic.Int64
	errs    atomic.Int64
}

// New creates a watcher. ops may be nil when reconcile passes should not
// be recorded.
func New(reports *lightmon.Reports, ops lightmon.OperationLog, opts Options, logger lightmon.Logger) (*Watcher, error) {
	if opts.Root == "" {
		return nil, fmt.Errorf("%w: watch root", lightmon.ErrMissingArgument)
	}
	return &Watcher{
		reports: reports,
		ops:     ops,
		opts:    opts,
		logger:  logger,
	}, nil
}

// Stats returns a snapshot of the counters.
func (w *Watcher) Stats() Stats {
	return Stats{
		Scans:   w.scans.Load(),
		Indexed: w.indexed.Load(),
		Skipped: w.skipped.Load(),
		Evicted: w.evicted.Load(),
		Errors:  w.errs.Load(),
	}
}

// Rescan runs a full reconcile pass over the store and records it in the
// operation log.
func (w *Watcher) Rescan() (*lightmon.ReconcileResult, error) {
	return w.rescan(true)
}

func (w *Watcher) rescan(record bool) (*lightmon.ReconcileResult, error) {
	var op *lightmon.Operation
	if record && w.ops != nil {
		var err error
		op, err = w.ops.CreateOperation("reconcile", "root="+w.opts.Root)
		if err != nil {
			w.logger.Warn("could not record reconcile operation", "error", err)
		}
	}

	result, err := w.reconcile()

	if op != nil {
		status := "success"
		if err != nil {
			status = "failed: " + err.Error()
		}
		if ferr := w.ops.FinishOperation(op.ID, status); ferr != nil {
			w.logger.Warn("could not finish reconcile operation", "error", ferr)
		}
	}
	return result, err
}

func (w *Watcher) reconcile() (*lightmon.ReconcileResult, error) {
	w.scans.Add(1)
	paths, err := store.ConfigArtifacts(w.opts.Root, w.opts.Ignore)
	if err != nil {
		w.errs.Add(1)
		return nil, fmt.Errorf("scanning store: %w", err)
	}
	result, err := w.reports.Reconcile(paths)
	if result != nil {
		w.indexed.Add(int64(result.Indexed))
		w.skipped.Add(int64(result.Skipped))
		w.evicted.Add(int64(result.Evicted))
	}
	if err != nil {
		w.errs.Add(1)
		return result, err
	}
	return result, nil
}

// Run indexes the store, calls ready, then keeps the index current until
// ctx is cancelled. A nil return means a clean stop; any error means the
// watcher crashed and may be restarted.
func (w *Watcher) Run(ctx context.Context, ready func()) error {
	if w.opts.PollInterval > 0 {
		return w.poll(ctx, ready)
	}
	return w.watch(ctx, ready)
}

func (w *Watcher) poll(ctx context.Context, ready func()) error {
	if _, err := w.rescan(true); err != nil {
		return err
	}
	ready()

	w.logger.Info("watch: started", "root", w.opts.Root, "mode", "poll", "interval", w.opts.PollInterval)
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watch: stopped", "root", w.opts.Root)
			return nil
		case <-ticker.C:
			if _, err := w.rescan(false); err != nil {
				return err
			}
		}
	}
}

func (w *Watcher) watch(ctx context.Context, ready func()) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fs watcher: %w", err)
	}
	defer fsw.Close()

	// Watches go in before the initial scan so nothing written in between
	// is missed.
	dirs, err := store.Directories(w.opts.Root, w.opts.Ignore)
	if err != nil {
		return fmt.Errorf("listing store directories: %w", err)
	}
	for _, d := range dirs {
		if err := fsw.Add(d); err != nil {
			return fmt.Errorf("watching %s: %w", d, err)
		}
	}

	if _, err := w.rescan(true); err != nil {
		return err
	}
	ready()

	var reconcile <-chan time.Time
	if w.opts.ReconcileInterval > 0 {
		ticker := time.NewTicker(w.opts.ReconcileInterval)
		defer ticker.Stop()
		reconcile = ticker.C
	}

	w.logger.Info("watch: started", "root", w.opts.Root, "mode", "events", "directories", len(dirs))
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watch: stopped", "root", w.opts.Root)
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return errors.New("fs watcher event channel closed")
			}
			if err := w.handle(fsw, ev); err != nil {
				return err
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return errors.New("fs watcher error channel closed")
			}
			w.errs.Add(1)
			w.logger.Warn("watch error", "error", err)
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				if _, err := w.rescan(false); err != nil {
					return err
				}
			}
		case <-reconcile:
			if _, err := w.rescan(true); err != nil {
				return err
			}
		}
	}
}

func (w *Watcher) handle(fsw *fsnotify.Watcher, ev fsnotify.Event) error {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return nil
	}
	if rel, err := filepath.Rel(w.opts.Root, ev.Name); err == nil && w.opts.Ignore.Match(filepath.ToSlash(rel)) {
		return nil
	}

	if ev.Has(fsnotify.Create) {
		info, err := os.Stat(ev.Name)
		if err != nil {
			return nil
		}
		if info.IsDir() {
			return w.addTree(fsw, ev.Name)
		}
	}

	if store.IsConfigArtifact(filepath.Base(ev.Name)) {
		return w.add(ev.Name)
	}
	return nil
}

// addTree watches a new directory and indexes anything already inside it,
// since files created before the watch was added produce no events.
func (w *Watcher) addTree(fsw *fsnotify.Watcher, dir string) error {
	dirs, err := store.Directories(dir, w.opts.Ignore)
	if err != nil {
		w.logger.Warn("could not list new directory", "dir", dir, "error", err)
		return nil
	}
	for _, d := range dirs {
		if err := fsw.Add(d); err != nil {
			w.logger.Warn("could not watch directory", "dir", d, "error", err)
		}
	}

	paths, err := store.ConfigArtifacts(dir, w.opts.Ignore)
	if err != nil {
		w.logger.Warn("could not scan new directory", "dir", dir, "error", err)
		return nil
	}
	for _, p := range paths {
		if err := w.add(p); err != nil {
			return err
		}
	}
	return nil
}

// add indexes one config artifact. Unreadable artifacts are skipped; a
// failing index is returned so the watcher restarts.
func (w *Watcher) add(path string) error {
	report, err := w.reports.AddFromConfigFile(filepath.Dir(path), filepath.Base(path))
	if err != nil {
		if errors.Is(err, lightmon.ErrCorruptArtifact) || errors.Is(err, lightmon.ErrMissingField) || errors.Is(err, os.ErrNotExist) {
			w.skipped.Add(1)
			w.logger.Warn("skipping config artifact", "file", path, "error", err)
			return nil
		}
		w.errs.Add(1)
		return err
	}
	w.indexed.Add(1)
	w.logger.Debug("indexed report", "id", report.ID, "url", report.URL, "preset", report.Preset, "date", report.Date)
	return nil
}
