package engine

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/google/uuid"

	"github.com/Paintersrp/procgroup/internal/runtime/process"
	"github.com/Paintersrp/procgroup/internal/sockets"
)

// Child is a forked worker process as seen by the orchestrator.
type Child interface {
	Pid() int
	Done() <-chan struct{}
	Err() error
	ExitCode() int
}

// Spawner forks one worker process for a spec.
type Spawner interface {
	Spawn(ctx context.Context, spec WorkerSpec) (Child, error)
}

// ExecSpawner re-executes the current binary with the worker markers set.
type ExecSpawner struct {
	Path    string
	Args    []string
	Sockets *sockets.Set

	newID func() string
}

// NewExecSpawner returns a spawner for the running executable and arguments.
// Listeners recorded in set are handed to socket-sharing workers.
func NewExecSpawner(set *sockets.Set) (*ExecSpawner, error) {
	path, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve executable: %w", err)
	}
	return &ExecSpawner{
		Path:    path,
		Args:    append([]string(nil), os.Args[1:]...),
		Sockets: set,
		newID:   uuid.NewString,
	}, nil
}

// Spawn starts the worker process.
func (s *ExecSpawner) Spawn(ctx context.Context, spec WorkerSpec) (Child, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	newID := s.newID
	if newID == nil {
		newID = uuid.NewString
	}

	ps := process.Spec{
		Name: spec.Label(),
		Path: s.Path,
		Args: s.Args,
		Env: []string{
			EnvWorkerType + "=" + string(spec.Type),
			EnvWorkerIndex + "=" + strconv.Itoa(spec.Index),
			EnvWorkerID + "=" + newID(),
		},
		ParentDeath: true,
	}

	switch spec.Type {
	case SocketSharing:
		if s.Sockets != nil {
			ps.ExtraFiles = s.Sockets.Files()
			ps.Env = append(ps.Env, s.Sockets.Env())
		} else {
			ps.Env = append(ps.Env, sockets.EnvSockets+"=")
		}
	case Isolated:
		// No descriptors; clear any table inherited from our own parent.
		ps.Env = append(ps.Env, sockets.EnvSockets+"=")
	default:
		return nil, fmt.Errorf("worker %s: unknown spawn strategy %q", spec.Label(), spec.Type)
	}

	h, err := process.Start(ps)
	if err != nil {
		return nil, err
	}
	return h, nil
}
