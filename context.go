package procgroup

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/Paintersrp/procgroup/internal/engine"
	"github.com/Paintersrp/procgroup/internal/shutdown"
	"github.com/Paintersrp/procgroup/internal/sockets"
)

// ErrNoGroup is returned when a context was not produced by Run.
var ErrNoGroup = errors.New("context does not belong to a process group")

// ErrNotShared is returned by Listen in a socket-sharing worker when the
// primary did not open the requested listener before forking.
var ErrNotShared = sockets.ErrNotShared

// Event is a worker lifecycle notification delivered to Options.OnEvent.
type Event = engine.Event

// EventType identifies an Event.
type EventType = engine.EventType

const (
	EventWorkerForked  = engine.EventWorkerForked
	EventForkFailed    = engine.EventForkFailed
	EventWorkerExited  = engine.EventWorkerExited
	EventWorkersExited = engine.EventWorkersExited
)

// WorkerIdentity describes the process a hook runs in.
type WorkerIdentity struct {
	// Primary is set in the root process. The remaining fields are zero.
	Primary bool

	Name  string
	Index int
	Type  WorkerType
	ID    string
}

type groupKey struct{}

// group is the per-process state reachable from hook contexts.
type group struct {
	coord    *shutdown.Coordinator
	sockets  *sockets.Set
	identity WorkerIdentity
}

func withGroup(ctx context.Context, g *group) context.Context {
	return context.WithValue(ctx, groupKey{}, g)
}

func groupFrom(ctx context.Context) (*group, bool) {
	g, ok := ctx.Value(groupKey{}).(*group)
	return g, ok && g != nil
}

// Listen opens a listener for the hook's process.
//
// In the primary the listener is recorded and inherited by socket-sharing
// workers forked afterwards, so shared listeners belong in Primary.Start. A
// socket-sharing worker receives the inherited listener for the same network
// and address. An isolated worker opens its own listener.
func Listen(ctx context.Context, network, address string) (net.Listener, error) {
	g, ok := groupFrom(ctx)
	if !ok {
		return nil, ErrNoGroup
	}
	return g.sockets.Listen(network, address)
}

// Identity reports which process of the group ctx belongs to.
func Identity(ctx context.Context) (WorkerIdentity, bool) {
	g, ok := groupFrom(ctx)
	if !ok {
		return WorkerIdentity{}, false
	}
	return g.identity, true
}

// Shutdown starts the shutdown sequence of the process owning ctx, as a
// termination signal would. A non-positive grace uses Options.Grace. It
// reports whether this call started the sequence.
func Shutdown(ctx context.Context, grace time.Duration) bool {
	g, ok := groupFrom(ctx)
	if !ok {
		return false
	}
	return g.coord.Trigger(grace)
}
