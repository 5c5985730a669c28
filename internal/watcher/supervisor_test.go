package watcher

import (
	"context"
	"errors"
	"os/exec"
	"sync/atomic"
	"testing"
	"time"

	"lightmon/internal/lightmon"
	"lightmon/internal/testutil"
)

var errCrash = errors.New("crash")

func TestSupervisor_ExhaustsAfterMaxRestarts(t *testing.T) {
	var runs atomic.Int32
	runner := RunnerFunc(func(ctx context.Context, ready func()) error {
		runs.Add(1)
		ready()
		return errCrash
	})

	var restarts atomic.Int32
	s := NewSupervisor(runner, SupervisorOptions{
		MaxRestarts: 3,
		StableAfter: time.Hour,
		OnRestart:   func(int, error) { restarts.Add(1) },
	}, lightmon.NewNopLogger(), testutil.FixedClock())

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	err := s.Wait()
	if !errors.Is(err, lightmon.ErrSyncProcessExhausted) {
		t.Fatalf("Wait() error = %v, want ErrSyncProcessExhausted", err)
	}
	if got := runs.Load(); got != 4 {
		t.Errorf("runner ran %d times, want 4", got)
	}
	if got := restarts.Load(); got != 3 {
		t.Errorf("OnRestart called %d times, want 3", got)
	}
	if got := s.Restarts(); got != 3 {
		t.Errorf("Restarts() = %d, want 3", got)
	}
}

func TestSupervisor_StartFailsWhenNeverReady(t *testing.T) {
	runner := RunnerFunc(func(ctx context.Context, ready func()) error {
		return errCrash
	})
	s := NewSupervisor(runner, SupervisorOptions{MaxRestarts: 2}, lightmon.NewNopLogger(), testutil.FixedClock())

	err := s.Start(context.Background())
	if !errors.Is(err, lightmon.ErrSyncProcessExhausted) {
		t.Fatalf("Start() error = %v, want ErrSyncProcessExhausted", err)
	}
}

func TestSupervisor_StableRunResetsCount(t *testing.T) {
	clock := testutil.FixedClock()
	var runs atomic.Int32
	settled := make(chan struct{})
	runner := RunnerFunc(func(ctx context.Context, ready func()) error {
		n := runs.Add(1)
		ready()
		if n <= 10 {
			clock.Advance(time.Minute)
			return errCrash
		}
		close(settled)
		<-ctx.Done()
		return nil
	})

	s := NewSupervisor(runner, SupervisorOptions{MaxRestarts: 1, StableAfter: 30 * time.Second}, lightmon.NewNopLogger(), clock)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	select {
	case <-settled:
	case <-s.Done():
		t.Fatalf("supervision ended early: %v", s.Wait())
	case <-time.After(5 * time.Second):
		t.Fatal("runner never settled")
	}

	s.Destroy()
	if err := s.Wait(); err != nil {
		t.Errorf("Wait() error = %v, want nil", err)
	}
}

func TestSupervisor_UnexpectedCleanExitIsACrash(t *testing.T) {
	var runs atomic.Int32
	runner := RunnerFunc(func(ctx context.Context, ready func()) error {
		runs.Add(1)
		ready()
		return nil
	})
	s := NewSupervisor(runner, SupervisorOptions{MaxRestarts: 1, StableAfter: time.Hour}, lightmon.NewNopLogger(), testutil.FixedClock())
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.Wait(); !errors.Is(err, lightmon.ErrSyncProcessExhausted) {
		t.Errorf("Wait() error = %v, want ErrSyncProcessExhausted", err)
	}
	if got := runs.Load(); got != 2 {
		t.Errorf("runner ran %d times, want 2", got)
	}
}

func TestSupervisor_Destroy(t *testing.T) {
	var runs atomic.Int32
	runner := RunnerFunc(func(ctx context.Context, ready func()) error {
		runs.Add(1)
		ready()
		<-ctx.Done()
		return nil
	})
	s := NewSupervisor(runner, SupervisorOptions{MaxRestarts: 3}, lightmon.NewNopLogger(), testutil.FixedClock())
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	s.Destroy()

	if err := s.Wait(); err != nil {
		t.Errorf("Wait() error = %v, want nil", err)
	}
	if got := runs.Load(); got != 1 {
		t.Errorf("runner ran %d times, want 1", got)
	}
}

func TestSupervisor_DestroyBeforeStart(t *testing.T) {
	s := NewSupervisor(RunnerFunc(func(context.Context, func()) error { return nil }), SupervisorOptions{}, lightmon.NewNopLogger(), testutil.FixedClock())
	s.Destroy()
}

func TestProcessRunner(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}

	t.Run("non-zero exit is a crash", func(t *testing.T) {
		p := &ProcessRunner{Executable: sh, Args: []string{"-c", "exit 3"}, logger: lightmon.NewNopLogger()}
		var ready bool
		err := p.Run(context.Background(), func() { ready = true })
		if err == nil {
			t.Fatal("expected error for exit 3")
		}
		if !ready {
			t.Error("ready was not called after start")
		}
	})

	t.Run("clean exit is a crash", func(t *testing.T) {
		p := &ProcessRunner{Executable: sh, Args: []string{"-c", "exit 0"}, logger: lightmon.NewNopLogger()}
		if err := p.Run(context.Background(), func() {}); !errors.Is(err, errExited) {
			t.Errorf("Run() error = %v, want errExited", err)
		}
	})

	t.Run("cancel terminates the child", func(t *testing.T) {
		p := &ProcessRunner{Executable: sh, Args: []string{"-c", "sleep 30"}, WaitDelay: time.Second, logger: lightmon.NewNopLogger()}
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- p.Run(ctx, cancel) }()

		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run() error = %v, want nil after cancel", err)
			}
		case <-time.After(10 * time.Second):
			t.Fatal("child was not terminated")
		}
	})

	t.Run("crash before startup scan is never ready", func(t *testing.T) {
		p := &ProcessRunner{
			Executable: sh,
			Args:       []string{"-c", "sleep 0.1; exit 3"},
			Root:       "/data/reports",
			Ops:        testutil.NewTestIndex(t, testutil.FixedClock()),
			ReadyPoll:  10 * time.Millisecond,
			logger:     lightmon.NewNopLogger(),
		}
		if err := p.Run(context.Background(), func() { t.Error("ready called") }); err == nil {
			t.Error("expected error for exit 3")
		}
	})

	t.Run("missing executable", func(t *testing.T) {
		p := &ProcessRunner{Executable: "/nonexistent/lightmon", logger: lightmon.NewNopLogger()}
		if err := p.Run(context.Background(), func() { t.Error("ready called") }); err == nil {
			t.Error("expected start error")
		}
	})
}

func TestNewProcessRunner_Args(t *testing.T) {
	p := NewProcessRunner("/usr/bin/lightmon", "/etc/lightmon.toml", "/data/reports", true, nil, lightmon.NewNopLogger())
	want := []string{"sync", "--dir", "/data/reports", "--config", "/etc/lightmon.toml", "--verbose"}
	if len(p.Args) != len(want) {
		t.Fatalf("Args = %v, want %v", p.Args, want)
	}
	for i := range want {
		if p.Args[i] != want[i] {
			t.Errorf("Args[%d] = %q, want %q", i, p.Args[i], want[i])
		}
	}
}

func TestProcessRunner_ReadyAfterStartupScan(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}

	const root = "/data/reports"
	idx := testutil.NewTestIndex(t, testutil.FixedClock())

	// A reconcile finished before the child starts belongs to someone else.
	earlier, err := idx.CreateOperation("reconcile", "root="+root)
	if err != nil {
		t.Fatal(err)
	}
	if err := idx.FinishOperation(earlier.ID, "success"); err != nil {
		t.Fatal(err)
	}

	p := &ProcessRunner{
		Executable: sh,
		Args:       []string{"-c", "sleep 30"},
		Root:       root,
		Ops:        idx,
		ReadyPoll:  10 * time.Millisecond,
		WaitDelay:  time.Second,
		logger:     lightmon.NewNopLogger(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ready := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, func() { close(ready) }) }()

	notReady := func(stage string) {
		t.Helper()
		select {
		case <-ready:
			t.Fatalf("ready before %s", stage)
		case <-time.After(150 * time.Millisecond):
		}
	}
	notReady("the child started scanning")

	other, err := idx.CreateOperation("reconcile", "root=/elsewhere")
	if err != nil {
		t.Fatal(err)
	}
	if err := idx.FinishOperation(other.ID, "success"); err != nil {
		t.Fatal(err)
	}
	notReady("a reconcile of this root")

	scan, err := idx.CreateOperation("reconcile", "root="+root)
	if err != nil {
		t.Fatal(err)
	}
	notReady("the scan finished")

	if err := idx.FinishOperation(scan.ID, "success"); err != nil {
		t.Fatal(err)
	}
	select {
	case <-ready:
	case err := <-done:
		t.Fatalf("Run() returned %v before ready", err)
	case <-time.After(5 * time.Second):
		t.Fatal("not ready after the startup scan finished")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v, want nil after cancel", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("child was not terminated")
	}
}
