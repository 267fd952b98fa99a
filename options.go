package procgroup

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Paintersrp/procgroup/internal/engine"
	"github.com/Paintersrp/procgroup/internal/shutdown"
)

// ErrInvalidOptions wraps every configuration problem reported by Run.
var ErrInvalidOptions = errors.New("invalid procgroup options")

// Hook is a start or stop function. Stop hooks receive a context that expires
// with the grace period.
type Hook = engine.Hook

// WorkerType selects how a worker process is spawned.
type WorkerType = engine.WorkerType

const (
	// SocketSharing workers inherit the listeners opened by the primary.
	SocketSharing = engine.SocketSharing
	// Isolated workers share no descriptors with the primary.
	Isolated = engine.Isolated
)

// DefaultGrace bounds shutdown when Options.Grace is zero.
const DefaultGrace = shutdown.DefaultGrace

// Primary holds the hooks run in the root process. Start completes before
// any worker is forked.
type Primary struct {
	Start Hook
	Stop  Hook
}

// Worker describes Count identical worker processes.
type Worker struct {
	// Name labels the worker in logs. Defaults to "worker-<n>" where n is
	// the position in Options.Workers.
	Name string

	Start Hook
	Stop  Hook

	// Type defaults to SocketSharing.
	Type WorkerType

	// Count defaults to 1. Zero is treated as unset, so every Worker entry
	// forks at least one process; leave the entry out to fork none.
	Count int

	// StartupTimeout bounds Start. A worker that misses it exits with status
	// 1 without running Stop. Zero disables the bound.
	StartupTimeout time.Duration

	// KillAfterCompleted shuts the worker down, running Stop, as soon as
	// Start returns successfully.
	KillAfterCompleted bool
}

// Options configures a process group.
type Options struct {
	// Grace bounds the shutdown of every process. Defaults to DefaultGrace.
	Grace time.Duration

	Primary *Primary
	Workers []Worker

	// StopWhenWorkersExit shuts the primary down once every forked worker
	// has exited.
	StopWhenWorkersExit bool

	// Logger defaults to a logger configured from PROCGROUP_LOG_* variables.
	Logger *slog.Logger

	// OnEvent observes worker lifecycle events in the primary. It is called
	// from the goroutine that observed the event.
	OnEvent func(Event)
}

func (o Options) validate() error {
	var errs []error
	if o.Primary == nil && len(o.Workers) == 0 {
		errs = append(errs, errors.New("at least a primary or one worker is required"))
	}
	if o.Grace < 0 {
		errs = append(errs, fmt.Errorf("grace must not be negative, got %s", o.Grace))
	}
	if o.Primary != nil && o.Primary.Start == nil {
		errs = append(errs, errors.New("primary: start hook is required"))
	}
	for i, w := range o.Workers {
		field := fmt.Sprintf("workers[%d]", i)
		if w.Name != "" {
			field = fmt.Sprintf("workers[%d] (%s)", i, w.Name)
		}
		if w.Start == nil {
			errs = append(errs, fmt.Errorf("%s: start hook is required", field))
		}
		if w.Type != "" && !w.Type.Valid() {
			errs = append(errs, fmt.Errorf("%s: unknown type %q", field, w.Type))
		}
		if w.Count < 0 {
			errs = append(errs, fmt.Errorf("%s: count must not be negative, got %d", field, w.Count))
		}
		if w.StartupTimeout < 0 {
			errs = append(errs, fmt.Errorf("%s: startup timeout must not be negative, got %s", field, w.StartupTimeout))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidOptions, errors.Join(errs...))
}

// normalize expands worker counts in declaration order and applies defaults.
// Options must be valid.
func (o Options) normalize() engine.Plan {
	plan := engine.Plan{
		Grace:               o.Grace,
		StopWhenWorkersExit: o.StopWhenWorkersExit,
	}
	if plan.Grace == 0 {
		plan.Grace = DefaultGrace
	}
	if o.Primary != nil {
		plan.Primary = &engine.PrimarySpec{Start: o.Primary.Start, Stop: o.Primary.Stop}
	}
	for i, w := range o.Workers {
		name := w.Name
		if name == "" {
			name = fmt.Sprintf("worker-%d", i)
		}
		kind := w.Type
		if kind == "" {
			kind = SocketSharing
		}
		count := w.Count
		if count == 0 {
			count = 1
		}
		for range count {
			plan.Workers = append(plan.Workers, engine.WorkerSpec{
				Index:              len(plan.Workers),
				Name:               name,
				Start:              w.Start,
				Stop:               w.Stop,
				Type:               kind,
				StartupTimeout:     w.StartupTimeout,
				KillAfterCompleted: w.KillAfterCompleted,
			})
		}
	}
	return plan
}
