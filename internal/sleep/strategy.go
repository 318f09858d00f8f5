package sleep

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

const powershellSuspend = "Add-Type -Assembly System.Windows.Forms; " +
	"[System.Windows.Forms.Application]::SetSuspendState('Suspend', $false, $false)"

// DefaultStrategies returns the native SetSuspendState call followed by the
// rundll32 and PowerShell fallbacks.
func DefaultStrategies(cfg Config) []Strategy {
	return []Strategy{
		&NativeStrategy{Grace: cfg.GraceDelay, Call: nativeSuspend},
		&CommandStrategy{
			Label:   "rundll32",
			Path:    "rundll32.exe",
			Args:    []string{"powrprof.dll,SetSuspendState", "0,1,0"},
			Timeout: cfg.CommandTimeout,
		},
		&CommandStrategy{
			Label:   "powershell",
			Path:    "powershell",
			Args:    []string{"-NoProfile", "-NonInteractive", "-Command", powershellSuspend},
			Timeout: cfg.CommandTimeout,
		},
	}
}

// NativeStrategy calls the OS suspend API in-process. A suspend that works
// stops the process almost immediately, so a call that returns and is still
// followed by execution after Grace is treated as a silent failure.
type NativeStrategy struct {
	Grace time.Duration
	Call  func() error
}

func (s *NativeStrategy) Name() string { return "SetSuspendState" }

func (s *NativeStrategy) Suspend(ctx context.Context) error {
	if s.Call == nil {
		return ErrUnsupported
	}
	if err := s.Call(); err != nil {
		return fmt.Errorf("SetSuspendState: %w", err)
	}

	t := time.NewTimer(s.Grace)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
	}
	return ErrSuspendNotObserved
}

// Runner executes an external program and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs the program with os/exec, killing it when ctx ends.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.WaitDelay = 2 * time.Second
	return cmd.CombinedOutput()
}

// DefaultCommandTimeout bounds an external utility when no Timeout is set.
const DefaultCommandTimeout = 10 * time.Second

// CommandStrategy invokes an external OS utility, bounded by Timeout
// (DefaultCommandTimeout when unset).
type CommandStrategy struct {
	Label   string
	Path    string
	Args    []string
	Timeout time.Duration
	Run     Runner // defaults to ExecRunner
}

func (s *CommandStrategy) Name() string { return s.Label }

func (s *CommandStrategy) Suspend(ctx context.Context) error {
	run := s.Run
	if run == nil {
		run = ExecRunner
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := run(ctx, s.Path, s.Args...)
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s timed out after %s: %w", s.Path, timeout, context.DeadlineExceeded)
	}
	if err != nil {
		if len(out) > 0 {
			return fmt.Errorf("%s: %w (output: %q)", s.Path, err, truncate(out, 200))
		}
		return fmt.Errorf("%s: %w", s.Path, err)
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
