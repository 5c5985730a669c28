package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"lightmon/internal/archive"
	"lightmon/internal/config"
	"lightmon/internal/encryption"
	"lightmon/internal/index"
	"lightmon/internal/lightmon"
	"lightmon/internal/metrics"
	"lightmon/internal/store"
	"lightmon/internal/watcher"
)

// restartBackoff is the pause before the supervisor restarts a crashed
// sync process.
const restartBackoff = time.Second

// Options are per-invocation settings that do not belong in the config file.
type Options struct {
	// Verbose enables DEBUG logging and is forwarded to a sync child.
	Verbose bool
	// ConfigPath is forwarded to a sync child process.
	ConfigPath string
	// Executable is the binary started in process sync mode. Defaults to
	// the running executable.
	Executable string
	// Clock defaults to the wall clock.
	Clock lightmon.Clock
}

// LightmonApp is the application layer between the CLI and the lightmon
// components. It constructs all dependencies from config, exposes the
// high-level operations and manages the index lifecycle on Close.
type LightmonApp struct {
	cfg       *config.Config
	opts      Options
	index     index.Index
	reports   *lightmon.Reports
	dir       *store.Directory
	ignore    *store.IgnoreMatcher
	vault     lightmon.Vault
	encryptor lightmon.Encryptor
	metrics   *metrics.Exporter
	logger    lightmon.Logger
	clock     lightmon.Clock
	op        *Operation
	logFile   *os.File
}

// NewLightmonApp creates a fully wired LightmonApp from the given config.
// operation identifies the CLI command being run (e.g. "serve", "cleanup")
// and names the log component. The caller must call Close when done.
func NewLightmonApp(cfg *config.Config, operation string, opts Options) (*LightmonApp, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	clock := opts.Clock
	if clock == nil {
		clock = lightmon.RealClock{}
	}

	slogger, logFile, err := newLogger(cfg.LogDir, operation, opts.Verbose)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	closeLog := func() {
		if logFile != nil {
			logFile.Close()
		}
	}

	idx, err := index.NewIndexFromConfig(cfg.Index, cfg.InstanceID, clock)
	if err != nil {
		closeLog()
		return nil, fmt.Errorf("creating index: %w", err)
	}

	fail := func(err error) (*LightmonApp, error) {
		idx.Close()
		closeLog()
		return nil, err
	}

	dir, err := store.NewDirectory(cfg.ReportDir)
	if err != nil {
		return fail(fmt.Errorf("opening report store: %w", err))
	}

	reports, err := lightmon.NewReports(dir.Root(), idx, logger, clock)
	if err != nil {
		return fail(fmt.Errorf("creating reports: %w", err))
	}

	ignore, err := store.LoadIgnoreMatcher(dir.Root(), cfg.Sync.Ignore)
	if err != nil {
		return fail(fmt.Errorf("loading ignore patterns: %w", err))
	}

	v, err := archive.NewVaultFromConfig(context.Background(), cfg.Archive)
	if err != nil {
		return fail(fmt.Errorf("creating archive: %w", err))
	}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Archive.Encryption)
	if err != nil {
		return fail(fmt.Errorf("creating encryptor: %w", err))
	}

	return &LightmonApp{
		cfg:       cfg,
		opts:      opts,
		index:     idx,
		reports:   reports,
		dir:       dir,
		ignore:    ignore,
		vault:     v,
		encryptor: enc,
		metrics:   metrics.NewExporter(idx, logger, clock),
		logger:    logger,
		clock:     clock,
		op:        NewOperation(operation, ""),
		logFile:   logFile,
	}, nil
}

// Reports returns the report facade for read-only commands.
func (a *LightmonApp) Reports() *lightmon.Reports { return a.reports }

// Logger returns the application logger.
func (a *LightmonApp) Logger() lightmon.Logger { return a.logger }

// persistOperation saves the operation to the index, giving it an auto-increment ID.
// This should only be called for mutating commands.
func (a *LightmonApp) persistOperation(parameters string) error {
	if a.op.Persisted() {
		return nil
	}
	a.op.Parameters = parameters
	rec, err := a.index.CreateOperation(a.op.Operation, a.op.Parameters)
	if err != nil {
		return fmt.Errorf("persisting operation: %w", err)
	}
	a.op.ID = rec.ID
	return nil
}

// record marks the operation failed when err is non-nil and passes err on.
func (a *LightmonApp) record(err error) error {
	if err != nil {
		a.op.Fail()
	}
	return err
}

func (a *LightmonApp) newWatcher() (*watcher.Watcher, error) {
	return watcher.New(a.reports, a.index, watcher.Options{
		Root:              a.dir.Root(),
		PollInterval:      time.Duration(a.cfg.Sync.PollIntervalSec) * time.Second,
		ReconcileInterval: time.Duration(a.cfg.Sync.ReconcileIntervalSec) * time.Second,
		Ignore:            a.ignore,
	}, a.logger)
}

func (a *LightmonApp) syncRunner() (watcher.Runner, error) {
	switch a.cfg.Sync.Mode {
	case "process":
		if a.cfg.Index.Type != "sqlite" {
			return nil, fmt.Errorf("sync mode process requires a sqlite index, got %s", a.cfg.Index.Type)
		}
		exe := a.opts.Executable
		if exe == "" {
			var err error
			if exe, err = os.Executable(); err != nil {
				return nil, fmt.Errorf("locating executable: %w", err)
			}
		}
		return watcher.NewProcessRunner(exe, a.opts.ConfigPath, a.dir.Root(), a.opts.Verbose, a.index, a.logger), nil
	default:
		return a.newWatcher()
	}
}

// Serve starts the supervised sync process and, when configured, periodic
// retention and metrics export. It blocks until ctx is cancelled or the
// sync process is exhausted.
func (a *LightmonApp) Serve(ctx context.Context) error {
	if err := a.persistOperation("mode=" + a.cfg.Sync.Mode); err != nil {
		return err
	}

	runner, err := a.syncRunner()
	if err != nil {
		return a.record(err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sup := watcher.NewSupervisor(runner, watcher.SupervisorOptions{
		MaxRestarts: a.cfg.Sync.MaxRestarts,
		StableAfter: time.Duration(a.cfg.Sync.StableAfterSec) * time.Second,
		Backoff:     restartBackoff,
		OnRestart:   func(int, error) { a.metrics.RecordRestart() },
	}, a.logger, a.clock)

	if err := sup.Start(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return a.record(fmt.Errorf("starting sync process: %w", err))
	}
	defer sup.Destroy()
	a.logger.Info("sync process ready", "mode", a.cfg.Sync.Mode, "root", a.dir.Root())

	var wg sync.WaitGroup
	if a.cfg.Retention.IntervalSec > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.retentionLoop(ctx, time.Duration(a.cfg.Retention.IntervalSec)*time.Second)
		}()
	}
	if metrics.Enabled(a.cfg.Metrics) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.metrics.Run(ctx, a.cfg.Metrics)
		}()
	}

	select {
	case <-ctx.Done():
	case <-sup.Done():
		err = sup.Wait()
	}
	cancel()
	wg.Wait()
	return a.record(err)
}

func (a *LightmonApp) retentionLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.clean(a.cfg.Retention.DryRun); err != nil {
				a.logger.Error("retention pass failed", "error", err)
			}
		}
	}
}

// Sync runs the sync process in the foreground until ctx is cancelled.
// It is the body of the child started in process sync mode.
func (a *LightmonApp) Sync(ctx context.Context) error {
	if err := a.persistOperation("root=" + a.dir.Root()); err != nil {
		return err
	}
	w, err := a.newWatcher()
	if err != nil {
		return a.record(err)
	}
	return a.record(w.Run(ctx, func() {
		a.logger.Info("sync process ready", "root", a.dir.Root(), "stats", fmt.Sprintf("%+v", w.Stats()))
	}))
}

// Rebuild reconciles the index with the store once. The watcher records
// the pass in the operation log.
func (a *LightmonApp) Rebuild() (*lightmon.ReconcileResult, error) {
	w, err := a.newWatcher()
	if err != nil {
		return nil, err
	}
	return w.Rescan()
}

// IndexSchema returns the SQL schema of a sqlite-backed index.
func (a *LightmonApp) IndexSchema() (string, error) {
	dumper, ok := a.index.(interface{ Schema() (string, error) })
	if !ok {
		return "", fmt.Errorf("index type %s has no SQL schema", a.cfg.Index.Type)
	}
	return dumper.Schema()
}

// Cleanup runs one retention pass. dryRun is combined with the configured
// dry_run; either one prevents deletion.
func (a *LightmonApp) Cleanup(dryRun bool) (*lightmon.RetentionResult, error) {
	dryRun = dryRun || a.cfg.Retention.DryRun
	if err := a.persistOperation("dry_run=" + strconv.FormatBool(dryRun)); err != nil {
		return nil, err
	}
	result, err := a.clean(dryRun)
	return result, a.record(err)
}

func (a *LightmonApp) clean(dryRun bool) (*lightmon.RetentionResult, error) {
	weekStart, err := a.cfg.Retention.Weekday()
	if err != nil {
		return nil, err
	}

	var archiver lightmon.Archiver
	if a.vault != nil {
		archiver = archive.NewReportArchiver(a.vault, a.encryptor, a.dir.Root(), a.logger)
	}

	retention := lightmon.NewRetention(a.reports, lightmon.RetentionOptions{
		RetainDailyDays:  a.cfg.Retention.RetainDailyDays,
		RetainWeeklyDays: a.cfg.Retention.RetainWeeklyDays,
		DryRun:           dryRun,
		WeekStart:        weekStart,
	}, archiver, a.logger, a.clock)

	result, err := retention.Clean()
	a.metrics.RecordRetention(result)
	return result, err
}

// Healthy reports whether a report newer than expected_last_report_sec exists.
func (a *LightmonApp) Healthy() (bool, error) {
	return a.reports.Healthy(a.cfg.ExpectedLastReport())
}

// GetHistory returns the most recent operations.
func (a *LightmonApp) GetHistory(limit int) ([]*lightmon.Operation, error) {
	return a.index.ListOperations(limit)
}

// ExportMetrics collects once and writes every configured metrics target.
func (a *LightmonApp) ExportMetrics(ctx context.Context) (*metrics.Digest, error) {
	return a.metrics.Export(ctx, a.cfg.Metrics)
}

// ArchiveKeygen creates the archive key pair protected by passphrase.
func (a *LightmonApp) ArchiveKeygen(passphrase string) error {
	if a.encryptor == nil {
		return fmt.Errorf("archive encryption is not configured")
	}
	return a.encryptor.Setup(passphrase)
}

// ArchiveEncrypted reports whether restoring needs a passphrase.
func (a *LightmonApp) ArchiveEncrypted() bool {
	return a.encryptor != nil
}

// ArchiveRuns lists the archived run directories.
func (a *LightmonApp) ArchiveRuns() ([]string, error) {
	if a.vault == nil {
		return nil, fmt.Errorf("archive is not configured")
	}
	return archive.Runs(a.vault)
}

// ArchiveRestore copies an archived run back into the store. passphrase
// unlocks the private key when the archive is encrypted.
func (a *LightmonApp) ArchiveRestore(runDir, passphrase string) ([]string, error) {
	if a.vault == nil {
		return nil, fmt.Errorf("archive is not configured")
	}
	if err := a.persistOperation("run=" + runDir); err != nil {
		return nil, err
	}

	var dec lightmon.DecryptionContext
	if a.encryptor != nil && passphrase != "" {
		var err error
		if dec, err = a.encryptor.Unlock(passphrase); err != nil {
			return nil, a.record(fmt.Errorf("unlocking archive key: %w", err))
		}
	}

	restored, err := archive.Restore(a.vault, dec, a.dir, runDir, a.logger)
	return restored, a.record(err)
}

// Close finalizes the operation and closes all resources.
func (a *LightmonApp) Close() error {
	var firstErr error

	if a.op.Persisted() {
		if err := a.index.FinishOperation(a.op.ID, a.op.Status); err != nil {
			firstErr = fmt.Errorf("finishing operation: %w", err)
		}
	}

	if err := a.index.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing index: %w", err)
	}

	if a.logFile != nil {
		a.logFile.Close()
	}

	return firstErr
}
