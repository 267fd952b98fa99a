// Package shutdown drives the bounded-time shutdown of a single process.
//
// A Coordinator collects stop hooks over the lifetime of the process. The
// first termination signal or explicit Trigger moves it from Idle to
// ShuttingDown: every registered hook is started concurrently and raced
// against the grace period. Whichever finishes first ends the process, with
// status 0 when all hooks returned and status 1 when the grace period won.
// Hooks still running at that point are abandoned, not interrupted.
package shutdown

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Paintersrp/procgroup/internal/log"
)

// DefaultGrace is used when no grace period is configured.
const DefaultGrace = 10 * time.Second

// Exit codes used when the coordinator ends the process.
const (
	ExitGraceful = 0
	ExitForced   = 1
)

// Hook is a stop hook. The context expires when the grace period does.
type Hook func(ctx context.Context) error

// State is the coordinator lifecycle state.
type State int32

const (
	Idle State = iota
	ShuttingDown
	Terminated
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case ShuttingDown:
		return "shutting_down"
	case Terminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Notifier abstracts os/signal so tests can deliver signals directly.
type Notifier interface {
	Notify(c chan<- os.Signal, sig ...os.Signal)
	Stop(c chan<- os.Signal)
}

type osNotifier struct{}

func (osNotifier) Notify(c chan<- os.Signal, sig ...os.Signal) { signal.Notify(c, sig...) }
func (osNotifier) Stop(c chan<- os.Signal)                     { signal.Stop(c) }

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithGrace sets the grace period used for signal-initiated shutdowns and for
// Trigger calls with a non-positive grace.
func WithGrace(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.grace = d
		}
	}
}

// WithLogger sets the logger used to surface hook failures and transitions.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithExit replaces os.Exit.
func WithExit(exit func(code int)) Option {
	return func(c *Coordinator) {
		if exit != nil {
			c.exit = exit
		}
	}
}

// WithNotifier replaces the os/signal backed notifier.
func WithNotifier(n Notifier) Option {
	return func(c *Coordinator) {
		if n != nil {
			c.notifier = n
		}
	}
}

// WithSignals overrides the set of termination signals.
func WithSignals(sigs ...os.Signal) Option {
	return func(c *Coordinator) {
		if len(sigs) > 0 {
			c.signals = append([]os.Signal(nil), sigs...)
		}
	}
}

// WithBaseContext sets the context stop hook contexts are derived from. Its
// values reach the hooks; its cancellation does not.
func WithBaseContext(ctx context.Context) Option {
	return func(c *Coordinator) {
		if ctx != nil {
			c.base = context.WithoutCancel(ctx)
		}
	}
}

type registration struct {
	label string
	hook  Hook
}

// Coordinator is process-scoped: construct one per process, before any hook
// is registered.
type Coordinator struct {
	grace    time.Duration
	logger   *slog.Logger
	exit     func(code int)
	notifier Notifier
	signals  []os.Signal
	base     context.Context

	mu         sync.Mutex
	state      State
	hooks      []registration
	installed  bool
	sigCh      chan os.Signal
	stopListen chan struct{}
	exitCode   int

	terminated chan struct{}
}

// New constructs an idle coordinator.
func New(opts ...Option) *Coordinator {
	c := &Coordinator{
		grace:      DefaultGrace,
		logger:     log.Discard(),
		exit:       os.Exit,
		notifier:   osNotifier{},
		signals:    []os.Signal{os.Interrupt, syscall.SIGTERM},
		base:       context.Background(),
		terminated: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Grace returns the configured grace period.
func (c *Coordinator) Grace() time.Duration {
	return c.grace
}

// Register adds a stop hook and installs the signal listener if it is not
// installed yet. Registering the same hook twice runs it twice. Hooks
// registered after shutdown has begun are not run.
func (c *Coordinator) Register(label string, hook Hook) {
	if hook == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Idle {
		c.logger.Debug("stop hook registered after shutdown began; ignoring", slog.String(log.HookKey, label))
		return
	}
	c.hooks = append(c.hooks, registration{label: label, hook: hook})
	c.installLocked()
}

// Listen installs the signal listener without registering a hook, so a
// process with nothing to clean up still exits through the coordinator.
func (c *Coordinator) Listen() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.installLocked()
}

// Trigger starts the shutdown sequence without waiting for a signal. It
// reports whether this call started it; calls made while shutting down or
// after termination have no effect.
func (c *Coordinator) Trigger(grace time.Duration) bool {
	return c.begin(grace, "trigger")
}

// Exit ends the process immediately with the given code without running any
// stop hook.
func (c *Coordinator) Exit(code int) {
	c.terminate(code)
}

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Terminated is closed once the coordinator has ended the process. With the
// default exit function it never closes because the process is gone.
func (c *Coordinator) Terminated() <-chan struct{} {
	return c.terminated
}

// ExitCode returns the code passed to the exit function, valid once
// Terminated is closed.
func (c *Coordinator) ExitCode() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exitCode
}

// Close removes the signal listener. It does not change the state.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.uninstallLocked()
}

func (c *Coordinator) installLocked() {
	if c.installed || c.state == Terminated {
		return
	}
	c.installed = true
	c.sigCh = make(chan os.Signal, 1)
	c.stopListen = make(chan struct{})
	c.notifier.Notify(c.sigCh, c.signals...)
	go c.watch(c.sigCh, c.stopListen)
}

func (c *Coordinator) uninstallLocked() {
	if !c.installed {
		return
	}
	c.installed = false
	c.notifier.Stop(c.sigCh)
	close(c.stopListen)
}

// watch keeps draining the signal channel after the first signal so later
// signals are swallowed instead of hitting the default disposition.
func (c *Coordinator) watch(sigCh <-chan os.Signal, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case sig := <-sigCh:
			if !c.begin(c.grace, "signal "+sig.String()) {
				c.logger.Debug("already shutting down; ignoring signal", slog.String("signal", sig.String()))
			}
		}
	}
}

func (c *Coordinator) begin(grace time.Duration, reason string) bool {
	c.mu.Lock()
	if c.state != Idle {
		c.mu.Unlock()
		return false
	}
	c.state = ShuttingDown
	hooks := append([]registration(nil), c.hooks...)
	c.mu.Unlock()

	if grace <= 0 {
		grace = c.grace
	}
	go c.shutdown(hooks, grace, reason)
	return true
}

func (c *Coordinator) shutdown(hooks []registration, grace time.Duration, reason string) {
	started := time.Now()
	c.logger.Info("shutting down",
		slog.String("reason", reason),
		slog.Int("hooks", len(hooks)),
		slog.Duration("grace", grace),
	)

	ctx, cancel := context.WithTimeout(c.base, grace)
	defer cancel()

	var pending atomic.Int32
	pending.Store(int32(len(hooks)))

	var g errgroup.Group
	for _, reg := range hooks {
		g.Go(func() error {
			defer pending.Add(-1)
			c.runHook(ctx, reg)
			return nil
		})
	}
	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	timer := time.NewTimer(grace)
	defer timer.Stop()

	code := ExitGraceful
	select {
	case <-done:
		c.logger.Info("stop hooks finished", slog.Int64(log.DurationKey, time.Since(started).Milliseconds()))
	case <-timer.C:
		code = ExitForced
		c.logger.Warn("grace period elapsed; forcing exit",
			slog.Int("abandoned", int(pending.Load())),
			slog.Duration("grace", grace),
		)
	}
	c.terminate(code)
}

func (c *Coordinator) runHook(ctx context.Context, reg registration) {
	if err := Call(ctx, reg.hook); err != nil {
		c.logger.Error("stop hook failed", slog.String(log.HookKey, reg.label), log.Error(err))
	}
}

// Call runs hook, converting a panic into an error.
func Call(ctx context.Context, hook Hook) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return hook(ctx)
}

func (c *Coordinator) terminate(code int) {
	c.mu.Lock()
	if c.state == Terminated {
		c.mu.Unlock()
		return
	}
	c.state = Terminated
	c.exitCode = code
	c.mu.Unlock()

	c.exit(code)

	// Only reached when exit returns, which os.Exit never does.
	c.mu.Lock()
	c.uninstallLocked()
	c.mu.Unlock()
	close(c.terminated)
}
