package watcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"lightmon/internal/lightmon"
)

const (
	// DefaultWaitDelay is how long a child gets after SIGTERM before it is
	// killed.
	DefaultWaitDelay = 10 * time.Second
	// DefaultReadyPoll is how often the operation log is checked for the
	// child's startup scan.
	DefaultReadyPoll = 100 * time.Millisecond
)

// ProcessRunner runs the sync process as a child executable. The child
// shares only the store and the index file with its parent.
type ProcessRunner struct {
	Executable string
	Args       []string
	// Root is the store directory the child reconciles.
	Root string
	// Ops is the index operation log shared with the child. The child is
	// ready once it has recorded a successful reconcile of Root. With a
	// nil Ops the child is ready as soon as it starts.
	Ops       lightmon.OperationLog
	ReadyPoll time.Duration
	WaitDelay time.Duration
	Stdout    io.Writer
	Stderr    io.Writer
	logger    lightmon.Logger
}

var _ Runner = (*ProcessRunner)(nil)

// NewProcessRunner runs "<executable> sync --dir <root>", adding
// --config and --verbose when set.
func NewProcessRunner(executable, configPath, root string, verbose bool, ops lightmon.OperationLog, logger lightmon.Logger) *ProcessRunner {
	args := []string{"sync", "--dir", root}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	if verbose {
		args = append(args, "--verbose")
	}
	return &ProcessRunner{
		Executable: executable,
		Args:       args,
		Root:       root,
		Ops:        ops,
		ReadyPoll:  DefaultReadyPoll,
		WaitDelay:  DefaultWaitDelay,
		Stdout:     os.Stdout,
		Stderr:     os.Stderr,
		logger:     logger,
	}
}

// Run starts the child and reports it ready once its startup scan has
// finished.
func (p *ProcessRunner) Run(ctx context.Context, ready func()) error {
	baseline, err := p.lastOperationID()
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, p.Executable, p.Args...)
	cmd.Stdout = p.Stdout
	cmd.Stderr = p.Stderr
	cmd.WaitDelay = p.WaitDelay
	cmd.Cancel = func() error {
		err := cmd.Process.Signal(syscall.SIGTERM)
		if err != nil && !errors.Is(err, os.ErrProcessDone) {
			p.logger.Warn("could not terminate sync process", "pid", cmd.Process.Pid, "error", err)
		}
		return err
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting sync process: %w", err)
	}
	p.logger.Debug("sync process started", "pid", cmd.Process.Pid, "args", p.Args)

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	err = p.awaitStartupScan(baseline, exited, ready)
	if ctx.Err() != nil {
		return nil
	}
	if err == nil {
		return errExited
	}
	return fmt.Errorf("sync process: %w", err)
}

// awaitStartupScan calls ready once the child's startup reconcile shows up
// as finished in the operation log, then returns the child's exit error.
// A child that exits first is never reported ready.
func (p *ProcessRunner) awaitStartupScan(baseline int64, exited <-chan error, ready func()) error {
	if p.Ops == nil {
		ready()
		return <-exited
	}

	interval := p.ReadyPoll
	if interval <= 0 {
		interval = DefaultReadyPoll
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case err := <-exited:
			return err
		case <-ticker.C:
			done, err := p.startupScanDone(baseline)
			if err != nil {
				p.logger.Warn("could not read operation log", "error", err)
				continue
			}
			if done {
				p.logger.Debug("sync process finished startup scan", "root", p.Root)
				ready()
				return <-exited
			}
		}
	}
}

// lastOperationID is the newest operation recorded before the child
// starts. Only reconciles after it count as the child's startup scan.
func (p *ProcessRunner) lastOperationID() (int64, error) {
	if p.Ops == nil {
		return 0, nil
	}
	ops, err := p.Ops.ListOperations(1)
	if err != nil {
		return 0, fmt.Errorf("reading operation log: %w", err)
	}
	if len(ops) == 0 {
		return 0, nil
	}
	return ops[0].ID, nil
}

// readyScanDepth bounds how many recent operations are searched for the
// child's reconcile.
const readyScanDepth = 50

func (p *ProcessRunner) startupScanDone(baseline int64) (bool, error) {
	ops, err := p.Ops.ListOperations(readyScanDepth)
	if err != nil {
		return false, err
	}
	params := "root=" + p.Root
	for _, op := range ops {
		if op.ID <= baseline {
			break
		}
		if op.Operation == "reconcile" && op.Parameters == params && op.FinishedAt != nil && op.Status == "success" {
			return true, nil
		}
	}
	return false, nil
}
