package watcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"lightmon/internal/lightmon"
)

// Runner runs one incarnation of the sync process. It calls ready once the
// index reflects the store and returns when the incarnation ends. Returning
// after ctx is cancelled is a clean stop; any other return is a crash.
type Runner interface {
	Run(ctx context.Context, ready func()) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, ready func()) error

func (f RunnerFunc) Run(ctx context.Context, ready func()) error { return f(ctx, ready) }

var errExited = errors.New("sync process exited unexpectedly")

// SupervisorOptions configures restart behaviour.
type SupervisorOptions struct {
	// MaxRestarts is the number of consecutive crashes tolerated. The next
	// crash is fatal.
	MaxRestarts int
	// StableAfter resets the crash count once an incarnation has been
	// ready for at least this long.
	StableAfter time.Duration
	// Backoff is the delay before a restart.
	Backoff time.Duration
	// OnRestart is called before every restart.
	OnRestart func(attempt int, err error)
}

// Supervisor keeps a Runner alive.
type Supervisor struct {
	runner Runner
	opts   SupervisorOptions
	logger lightmon.Logger
	clock  lightmon.Clock

	cancel    context.CancelFunc
	readyCh   chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	err       error
	restarts  atomic.Int64
}

// NewSupervisor creates a supervisor. Call Start to launch the runner.
func NewSupervisor(runner Runner, opts SupervisorOptions, logger lightmon.Logger, clock lightmon.Clock) *Supervisor {
	return &Supervisor{
		runner:  runner,
		opts:    opts,
		logger:  logger,
		clock:   clock,
		readyCh: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start launches the runner and blocks until the first incarnation is
// ready. It returns the supervision error if the runner is exhausted
// before that, or ctx.Err() if ctx ends first.
func (s *Supervisor) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)

	select {
	case <-s.readyCh:
		return nil
	case <-s.done:
		if s.err != nil {
			return s.err
		}
		return ctx.Err()
	case <-ctx.Done():
		<-s.done
		return ctx.Err()
	}
}

// Wait blocks until supervision ends and returns
// lightmon.ErrSyncProcessExhausted if it ended because of repeated crashes.
func (s *Supervisor) Wait() error {
	<-s.done
	return s.err
}

// Done is closed when supervision ends.
func (s *Supervisor) Done() <-chan struct{} { return s.done }

// Restarts returns how many times the runner has been restarted.
func (s *Supervisor) Restarts() int64 { return s.restarts.Load() }

// Destroy stops the runner and waits for it to exit.
func (s *Supervisor) Destroy() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.logger.Info("sync process stopped", "restarts", s.restarts.Load())
}

func (s *Supervisor) loop(ctx context.Context) {
	defer close(s.done)

	failures := 0
	for {
		var readyAt atomic.Pointer[time.Time]
		err := s.runner.Run(ctx, func() {
			now := s.clock.Now()
			readyAt.Store(&now)
			s.readyOnce.Do(func() { close(s.readyCh) })
		})
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			err = errExited
		}

		if at := readyAt.Load(); at != nil && s.clock.Now().Sub(*at) >= s.opts.StableAfter {
			failures = 0
		}
		failures++

		if failures > s.opts.MaxRestarts {
			s.err = fmt.Errorf("%w: %d consecutive failures, last: %v", lightmon.ErrSyncProcessExhausted, failures, err)
			s.logger.Error("sync process failed too often, giving up", "failures", failures, "error", err)
			return
		}

		s.logger.Warn("sync process crashed, restarting", "attempt", failures, "max_restarts", s.opts.MaxRestarts, "error", err)
		s.restarts.Add(1)
		if s.opts.OnRestart != nil {
			s.opts.OnRestart(failures, err)
		}

		if s.opts.Backoff > 0 {
			timer := time.NewTimer(s.opts.Backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
	}
}
