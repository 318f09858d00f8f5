// Package sleep puts the host into a suspend state. An Engine walks an
// ordered chain of suspend strategies and stops at the first one that
// reports success. Hosts that cannot suspend natively get a simulated sleep
// that appends a marker line to a log file and reports success with the
// same outcome shape as a real invocation.
package sleep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/sleepd/sleepd/internal/model"
)

// TargetPlatform is the only GOOS with native suspend strategies.
const TargetPlatform = "windows"

// ExhaustedMessage is reported when every strategy has failed.
const ExhaustedMessage = "Failed to trigger sleep mode using all available methods"

const (
	methodSimulation   = "simulation"
	simulatedMessage   = "Sleep command simulated (demo mode)"
	sentMessagePattern = "Sleep command sent via %s"
)

var (
	// ErrUnsupported is returned by native calls on hosts without them.
	ErrUnsupported = errors.New("native suspend not supported on this platform")

	// ErrSuspendNotObserved means a suspend call returned without error but
	// the process kept running past the grace delay.
	ErrSuspendNotObserved = errors.New("system still running after suspend call")

	// ErrExhausted is the aggregate failure once every strategy has failed.
	ErrExhausted = errors.New("all suspend strategies failed")
)

// Strategy is one mechanism for asking the OS to suspend. Suspend returns
// nil only when the request is believed to have been delivered.
type Strategy interface {
	Name() string
	Suspend(ctx context.Context) error
}

// Config tunes an Engine.
type Config struct {
	SimulationLog   string
	GraceDelay      time.Duration
	CommandTimeout  time.Duration
	ForceSimulation bool
}

// Option customizes an Engine beyond Config, mostly for tests.
type Option func(*Engine)

// WithPlatform overrides the detected GOOS.
func WithPlatform(goos string) Option {
	return func(e *Engine) { e.platform = goos }
}

// WithStrategies replaces the default strategy chain.
func WithStrategies(strategies ...Strategy) Option {
	return func(e *Engine) { e.strategies = strategies }
}

// WithCapabilityCheck replaces the probe that decides whether the native
// suspend entry point can be used at all. A non-nil error selects simulation.
func WithCapabilityCheck(fn func() error) Option {
	return func(e *Engine) { e.capable = fn }
}

// WithPrivilegeCheck replaces the advisory elevation check.
func WithPrivilegeCheck(fn func() (bool, error)) Option {
	return func(e *Engine) { e.elevated = fn }
}

// WithClock sets the time source used for simulation log timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.sim.now = now }
}

// Engine runs the suspend strategy chain. It holds no per-request state and
// may be shared by concurrent callers.
type Engine struct {
	platform        string
	forceSimulation bool
	strategies      []Strategy
	capable         func() error
	elevated        func() (bool, error)
	sim             *Simulator
	logger          *slog.Logger
}

// New builds an Engine for the current host.
func New(cfg Config, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		platform:        runtime.GOOS,
		forceSimulation: cfg.ForceSimulation,
		strategies:      DefaultStrategies(cfg),
		capable:         nativeAvailable,
		elevated:        processElevated,
		sim:             NewSimulator(cfg.SimulationLog),
		logger:          logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Simulated reports whether Sleep would simulate instead of suspending, and why.
func (e *Engine) Simulated() (bool, string) {
	switch {
	case e.platform != TargetPlatform:
		return true, fmt.Sprintf("platform %q has no native suspend support", e.platform)
	case e.forceSimulation:
		return true, "simulation forced by configuration"
	}
	if err := e.capable(); err != nil {
		return true, "native suspend unavailable: " + err.Error()
	}
	return false, ""
}

// Sleep attempts to suspend the host. Individual strategy failures are
// logged and never returned; only exhaustion of the whole chain yields an
// unsuccessful outcome.
func (e *Engine) Sleep(ctx context.Context) model.SleepOutcome {
	e.logger.Info("sleep command triggered")

	if simulated, reason := e.Simulated(); simulated {
		e.logger.Info("using simulated sleep", "reason", reason)
		return e.simulate()
	}

	e.checkPrivilege()

	e.logger.Info("attempting to put system to sleep", "strategies", len(e.strategies))
	for _, s := range e.strategies {
		e.logger.Debug("trying sleep strategy", "strategy", s.Name())

		err := s.Suspend(ctx)
		if err == nil {
			e.logger.Info("sleep command sent", "strategy", s.Name())
			return model.SleepOutcome{
				Success: true,
				Message: fmt.Sprintf(sentMessagePattern, s.Name()),
				Method:  s.Name(),
			}
		}

		if errors.Is(err, ErrSuspendNotObserved) {
			e.logger.Info("system still running after suspend call, trying next method", "strategy", s.Name())
		} else {
			e.logger.Error("sleep strategy failed", "strategy", s.Name(), "error", err)
		}
	}

	e.logger.Error("sleep failed", "error", ErrExhausted)
	return model.SleepOutcome{Success: false, Message: ExhaustedMessage}
}

func (e *Engine) checkPrivilege() {
	elevated, err := e.elevated()
	if err != nil {
		e.logger.Warn("could not check admin status", "error", err)
		return
	}
	if !elevated {
		e.logger.Warn("process not running with admin privileges")
	}
}

func (e *Engine) simulate() model.SleepOutcome {
	if err := e.sim.Record(); err != nil {
		e.logger.Error("sleep simulation failed", "error", err)
		return model.SleepOutcome{
			Success: false,
			Message: "Sleep simulation failed: " + err.Error(),
		}
	}
	return model.SleepOutcome{
		Success:   true,
		Message:   simulatedMessage,
		Method:    methodSimulation,
		Simulated: true,
	}
}
