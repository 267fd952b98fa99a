package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Paintersrp/procgroup/internal/log"
	"github.com/Paintersrp/procgroup/internal/shutdown"
)

// ExitStartupTimeout is the exit status of a worker whose start hook missed
// its deadline.
const ExitStartupTimeout = 1

// ErrStartupTimeout is returned when a worker start hook misses its deadline.
// It is only observable when the coordinator's exit function returns.
var ErrStartupTimeout = errors.New("worker start exceeded startup timeout")

// RunWorker runs spec inside a forked worker process.
//
// The stop hook is registered before Start runs so a signal arriving during
// a slow start still runs it. A start that misses StartupTimeout ends the
// process with ExitStartupTimeout and skips the stop hook, because the
// worker is in an unknown state. With KillAfterCompleted a successful start
// shuts the process down through the coordinator, so the stop hook still
// runs. Otherwise RunWorker blocks until the coordinator terminates.
func RunWorker(ctx context.Context, spec WorkerSpec, coord *shutdown.Coordinator, logger *slog.Logger) error {
	if logger == nil {
		logger = log.Discard()
	}
	if spec.Start == nil {
		return fmt.Errorf("worker %s has no start hook", spec.Label())
	}
	if spec.Stop != nil {
		coord.Register(spec.Label(), spec.Stop)
	}
	coord.Listen()

	began := time.Now()
	result := make(chan error, 1)
	go func() {
		result <- shutdown.Call(ctx, spec.Start)
	}()

	var deadline <-chan time.Time
	if spec.StartupTimeout > 0 {
		timer := time.NewTimer(spec.StartupTimeout)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case err := <-result:
		if err != nil {
			logger.Error("worker start failed", log.Error(err))
			return fmt.Errorf("worker %s start: %w", spec.Label(), err)
		}
	case <-deadline:
		logger.Error("worker start exceeded startup timeout; exiting without stop hook",
			slog.Duration("startup_timeout", spec.StartupTimeout),
		)
		coord.Exit(ExitStartupTimeout)
		return fmt.Errorf("worker %s: %w", spec.Label(), ErrStartupTimeout)
	case <-coord.Terminated():
		return nil
	}

	logger.Info("worker started", slog.Int64(log.DurationKey, time.Since(began).Milliseconds()))

	if spec.KillAfterCompleted {
		logger.Debug("start completed; shutting down worker")
		coord.Trigger(0)
	}
	<-coord.Terminated()
	return nil
}
