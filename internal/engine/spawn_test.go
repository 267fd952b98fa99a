//go:build linux

package engine

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Paintersrp/procgroup/internal/sockets"
)

func spawnAndRead(t *testing.T, s *ExecSpawner, spec WorkerSpec, out string) string {
	t.Helper()
	child, err := s.Spawn(context.Background(), spec)
	require.NoError(t, err)
	waitFor(t, child.Done(), 2*time.Second, "child exit")
	require.NoError(t, child.Err())
	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	return strings.TrimSpace(string(raw))
}

func TestExecSpawnerMarksIsolatedChildren(t *testing.T) {
	out := filepath.Join(t.TempDir(), "env")
	s := &ExecSpawner{
		Path:  "/bin/sh",
		Args:  []string{"-c", `echo "$PROCGROUP_WORKER_TYPE $PROCGROUP_WORKER_INDEX $PROCGROUP_WORKER_ID fd3=$(test -e /dev/fd/3 && echo yes || echo no)" > ` + out},
		newID: func() string { return "id-1" },
	}

	got := spawnAndRead(t, s, WorkerSpec{Index: 4, Name: "job", Type: Isolated}, out)
	assert.Equal(t, "isolated 4 id-1 fd3=no", got)
}

func TestExecSpawnerSharesListenersWithSocketSharingChildren(t *testing.T) {
	set := sockets.NewOwner()
	t.Cleanup(func() { _ = set.Close() })
	_, err := set.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "env")
	s := &ExecSpawner{
		Path:    "/bin/sh",
		Args:    []string{"-c", `echo "$PROCGROUP_WORKER_TYPE $PROCGROUP_SOCKETS fd3=$(test -e /dev/fd/3 && echo yes || echo no)" > ` + out},
		Sockets: set,
	}

	got := spawnAndRead(t, s, WorkerSpec{Index: 0, Name: "web", Type: SocketSharing}, out)
	assert.Equal(t, "socket-sharing tcp%2F127.0.0.1%3A0 fd3=yes", got)
}

func TestExecSpawnerRejectsUnknownStrategy(t *testing.T) {
	s := &ExecSpawner{Path: "/bin/true"}
	_, err := s.Spawn(context.Background(), WorkerSpec{Name: "x", Type: "thread"})
	assert.Error(t, err)
}
