package procgroup

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/Paintersrp/procgroup/internal/engine"
	"github.com/Paintersrp/procgroup/internal/log"
	"github.com/Paintersrp/procgroup/internal/shutdown"
	"github.com/Paintersrp/procgroup/internal/sockets"
)

// ErrStartupTimeout is returned by Run in a worker whose start hook missed
// its startup timeout, when the process was not already ended.
var ErrStartupTimeout = engine.ErrStartupTimeout

// ErrUnknownRole is returned when the inherited role markers are invalid.
var ErrUnknownRole = engine.ErrUnknownRole

// Run executes the role of the current process and blocks until it ends.
//
// In the primary, Run runs Primary.Start, forks every worker in declaration
// order and waits for shutdown. In a worker, Run runs that worker's hooks.
// Shutdown is started by SIGINT, SIGTERM, Shutdown or cancellation of ctx,
// and ends the process through os.Exit with status 0 when every stop hook
// returned within the grace period and 1 otherwise. Run returns an error for
// invalid options, a failed primary or worker start, or a failed fork.
func Run(ctx context.Context, opts Options) error {
	return run(ctx, opts, environment{getenv: os.Getenv})
}

// environment holds the process-level dependencies Run substitutes in tests.
type environment struct {
	getenv   func(string) string
	exit     func(code int)
	notifier shutdown.Notifier
	spawner  func(*sockets.Set) (engine.Spawner, error)
}

func run(ctx context.Context, opts Options, env environment) error {
	if err := opts.validate(); err != nil {
		return err
	}
	plan := opts.normalize()

	id, err := engine.DetectRole(env.getenv)
	if err != nil {
		return err
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.FromEnv())
	}

	g := &group{}
	var spec engine.WorkerSpec
	switch id.Role {
	case engine.RolePrimary:
		g.identity = WorkerIdentity{Primary: true}
		g.sockets = sockets.NewOwner()
		logger = logger.With(slog.String(log.RoleKey, id.Role.String()))
	default:
		spec, err = plan.Worker(id.Index)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrUnknownRole, err)
		}
		if spec.Type != id.Type {
			return fmt.Errorf("%w: worker %s is %s but was spawned as %s", ErrUnknownRole, spec.Label(), spec.Type, id.Type)
		}
		g.identity = WorkerIdentity{Name: spec.Name, Index: spec.Index, Type: spec.Type, ID: id.ID}
		if spec.Type == SocketSharing {
			g.sockets, err = sockets.Inherit(env.getenv(sockets.EnvSockets))
			if err != nil {
				return err
			}
		} else {
			g.sockets = sockets.NewPlain()
		}
		logger = logger.With(
			slog.String(log.RoleKey, id.Role.String()),
			slog.String(log.WorkerKey, spec.Label()),
			slog.Int(log.IndexKey, spec.Index),
			slog.String(log.WorkerIDKey, id.ID),
		)
	}
	defer g.sockets.Close()

	ctx = withGroup(ctx, g)
	coordOpts := []shutdown.Option{
		shutdown.WithGrace(plan.Grace),
		shutdown.WithLogger(logger),
		shutdown.WithBaseContext(ctx),
		shutdown.WithExit(env.exit),
		shutdown.WithNotifier(env.notifier),
	}
	g.coord = shutdown.New(coordOpts...)
	defer g.coord.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			g.coord.Trigger(0)
		case <-g.coord.Terminated():
		case <-stop:
		}
	}()

	if id.Role == engine.RolePrimary {
		return runPrimary(ctx, plan, g, logger, opts.OnEvent, env)
	}
	return engine.RunWorker(ctx, spec, g.coord, logger)
}

func runPrimary(ctx context.Context, plan engine.Plan, g *group, logger *slog.Logger, observe func(Event), env environment) error {
	newSpawner := env.spawner
	if newSpawner == nil {
		newSpawner = func(set *sockets.Set) (engine.Spawner, error) {
			return engine.NewExecSpawner(set)
		}
	}
	spawner, err := newSpawner(g.sockets)
	if err != nil {
		return err
	}
	logger.Debug("starting process group",
		slog.Int("workers", len(plan.Workers)),
		slog.Duration("grace", plan.Grace),
	)
	return engine.NewOrchestrator(spawner, g.coord, logger, observe).Run(ctx, plan)
}
