package engine

import (
	"fmt"
	"time"

	"github.com/Paintersrp/procgroup/internal/shutdown"
)

// Hook is a start or stop function run inside a primary or worker process.
type Hook = shutdown.Hook

// WorkerType selects the spawn strategy for a worker.
type WorkerType string

const (
	// SocketSharing workers inherit the primary's listening sockets.
	SocketSharing WorkerType = "socket-sharing"
	// Isolated workers share nothing with the primary.
	Isolated WorkerType = "isolated"
)

// Valid reports whether t names a known spawn strategy.
func (t WorkerType) Valid() bool {
	return t == SocketSharing || t == Isolated
}

// PrimarySpec holds the root process hooks.
type PrimarySpec struct {
	Start Hook
	Stop  Hook
}

// WorkerSpec is one worker process after count expansion. Index is the
// position in Plan.Workers and identifies the spec across the fork boundary.
type WorkerSpec struct {
	Index              int
	Name               string
	Start              Hook
	Stop               Hook
	Type               WorkerType
	StartupTimeout     time.Duration
	KillAfterCompleted bool
}

// Label is the name used in logs and process titles.
func (w WorkerSpec) Label() string {
	return fmt.Sprintf("%s[%d]", w.Name, w.Index)
}

// Plan is the normalized configuration shared by every process in the group.
type Plan struct {
	Primary *PrimarySpec
	Workers []WorkerSpec
	Grace   time.Duration

	// StopWhenWorkersExit makes the primary shut down once every forked
	// worker has exited.
	StopWhenWorkersExit bool
}

// Worker returns the spec at index.
func (p Plan) Worker(index int) (WorkerSpec, error) {
	if index < 0 || index >= len(p.Workers) {
		return WorkerSpec{}, fmt.Errorf("worker index %d outside plan of %d workers", index, len(p.Workers))
	}
	return p.Workers[index], nil
}
