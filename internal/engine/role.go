package engine

import (
	"errors"
	"fmt"
	"strconv"
)

// Environment markers inherited by forked workers.
const (
	EnvWorkerType  = "PROCGROUP_WORKER_TYPE"
	EnvWorkerIndex = "PROCGROUP_WORKER_INDEX"
	EnvWorkerID    = "PROCGROUP_WORKER_ID"
)

// ErrUnknownRole is returned when the inherited markers are inconsistent.
var ErrUnknownRole = errors.New("unknown process role")

// Role is the part a process plays in the group.
type Role int

const (
	RolePrimary Role = iota
	RoleWorker
)

func (r Role) String() string {
	if r == RoleWorker {
		return "worker"
	}
	return "primary"
}

// Identity describes the current process.
type Identity struct {
	Role  Role
	Type  WorkerType
	Index int
	ID    string
}

// DetectRole reads the inherited markers. The isolated marker is checked
// first: an isolated child has no other sign of being forked and would
// otherwise take the primary branch.
func DetectRole(getenv func(string) string) (Identity, error) {
	marker := getenv(EnvWorkerType)
	switch {
	case marker == string(Isolated):
		return workerIdentity(Isolated, getenv)
	case marker == "":
		return Identity{Role: RolePrimary, Index: -1}, nil
	case marker == string(SocketSharing):
		return workerIdentity(SocketSharing, getenv)
	default:
		return Identity{}, fmt.Errorf("%s=%q: %w", EnvWorkerType, marker, ErrUnknownRole)
	}
}

func workerIdentity(t WorkerType, getenv func(string) string) (Identity, error) {
	raw := getenv(EnvWorkerIndex)
	index, err := strconv.Atoi(raw)
	if err != nil || index < 0 {
		return Identity{}, fmt.Errorf("%s=%q: %w", EnvWorkerIndex, raw, ErrUnknownRole)
	}
	return Identity{Role: RoleWorker, Type: t, Index: index, ID: getenv(EnvWorkerID)}, nil
}
