package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Paintersrp/procgroup/internal/log"
	"github.com/Paintersrp/procgroup/internal/metrics"
	"github.com/Paintersrp/procgroup/internal/shutdown"
)

// PrimaryHookLabel labels the primary's stop hook in logs.
const PrimaryHookLabel = "primary"

// Orchestrator runs the primary process: it starts the primary hook, forks
// the planned workers and holds their handles until the process ends. It
// never restarts workers; exits are reported to the observer.
type Orchestrator struct {
	spawner Spawner
	coord   *shutdown.Coordinator
	logger  *slog.Logger
	observe func(Event)

	mu       sync.Mutex
	children []*child
	running  sync.WaitGroup
}

type child struct {
	spec WorkerSpec
	proc Child
}

// NewOrchestrator wires an orchestrator to the process's coordinator. observe
// may be nil.
func NewOrchestrator(spawner Spawner, coord *shutdown.Coordinator, logger *slog.Logger, observe func(Event)) *Orchestrator {
	if logger == nil {
		logger = log.Discard()
	}
	return &Orchestrator{
		spawner: spawner,
		coord:   coord,
		logger:  logger,
		observe: observe,
	}
}

// Run starts the plan and blocks until the coordinator terminates.
func (o *Orchestrator) Run(ctx context.Context, plan Plan) error {
	if err := o.Start(ctx, plan); err != nil {
		return err
	}
	o.Wait()
	return nil
}

// Start runs the primary start hook to completion, registers the primary stop
// hook and forks every worker in plan order.
//
// A fork failure is returned at once. Workers forked before it are left
// running; they hold a parent-death signal and unwind through their own
// coordinator when the primary exits.
func (o *Orchestrator) Start(ctx context.Context, plan Plan) error {
	if p := plan.Primary; p != nil && p.Start != nil {
		if err := shutdown.Call(ctx, p.Start); err != nil {
			return fmt.Errorf("primary start: %w", err)
		}
	}
	if p := plan.Primary; p != nil && p.Stop != nil {
		o.coord.Register(PrimaryHookLabel, p.Stop)
	}
	o.coord.Listen()

	for _, spec := range plan.Workers {
		proc, err := o.spawner.Spawn(ctx, spec)
		if err != nil {
			o.emit(Event{Type: EventForkFailed, Worker: spec.Label(), Index: spec.Index, Kind: spec.Type, Err: err})
			return fmt.Errorf("fork worker %s: %w", spec.Label(), err)
		}
		metrics.WorkerForked(string(spec.Type))
		o.track(spec, proc)
	}

	if len(plan.Workers) > 0 {
		go o.awaitWorkers(plan.StopWhenWorkersExit)
	}
	return nil
}

// Wait blocks until the coordinator terminates.
func (o *Orchestrator) Wait() {
	<-o.coord.Terminated()
}

// Children returns the forked worker processes in fork order.
func (o *Orchestrator) Children() []Child {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Child, len(o.children))
	for i, c := range o.children {
		out[i] = c.proc
	}
	return out
}

func (o *Orchestrator) track(spec WorkerSpec, proc Child) {
	o.mu.Lock()
	o.children = append(o.children, &child{spec: spec, proc: proc})
	o.mu.Unlock()

	logger := o.logger.With(
		slog.String(log.WorkerKey, spec.Label()),
		slog.String(log.TypeKey, string(spec.Type)),
		slog.Int(log.PIDKey, proc.Pid()),
	)
	logger.Info("worker forked")
	o.emit(Event{Type: EventWorkerForked, Worker: spec.Label(), Index: spec.Index, Kind: spec.Type, PID: proc.Pid()})

	o.running.Add(1)
	go func() {
		defer o.running.Done()
		<-proc.Done()
		err := proc.Err()
		metrics.WorkerExited(string(spec.Type), err)
		if err != nil {
			logger.Warn("worker exited", slog.Int("exit_code", proc.ExitCode()), log.Error(err))
		} else {
			logger.Info("worker exited", slog.Int("exit_code", proc.ExitCode()))
		}
		o.emit(Event{
			Type:     EventWorkerExited,
			Worker:   spec.Label(),
			Index:    spec.Index,
			Kind:     spec.Type,
			PID:      proc.Pid(),
			ExitCode: proc.ExitCode(),
			Err:      err,
		})
	}()
}

func (o *Orchestrator) awaitWorkers(stop bool) {
	done := make(chan struct{})
	go func() {
		o.running.Wait()
		close(done)
	}()
	select {
	case <-o.coord.Terminated():
		return
	case <-done:
	}
	o.logger.Info("all workers exited")
	o.emit(Event{Type: EventWorkersExited, Index: -1})
	if stop {
		o.coord.Trigger(0)
	}
}
