package engine

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/Paintersrp/procgroup/internal/shutdown"
)

type nopNotifier struct {
	mu  sync.Mutex
	chs []chan<- os.Signal
}

func (n *nopNotifier) Notify(c chan<- os.Signal, _ ...os.Signal) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.chs = append(n.chs, c)
}

func (n *nopNotifier) Stop(chan<- os.Signal) {}

func (n *nopNotifier) send(sig os.Signal) {
	n.mu.Lock()
	chs := append([]chan<- os.Signal(nil), n.chs...)
	n.mu.Unlock()
	for _, c := range chs {
		c <- sig
	}
}

type exitCodes struct {
	mu    sync.Mutex
	codes []int
}

func (e *exitCodes) exit(code int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.codes = append(e.codes, code)
}

func (e *exitCodes) get() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int(nil), e.codes...)
}

func testCoordinator(t *testing.T, grace time.Duration) (*shutdown.Coordinator, *nopNotifier, *exitCodes) {
	t.Helper()
	n := &nopNotifier{}
	codes := &exitCodes{}
	c := shutdown.New(shutdown.WithGrace(grace), shutdown.WithNotifier(n), shutdown.WithExit(codes.exit))
	t.Cleanup(c.Close)
	return c, n, codes
}

func waitFor(t *testing.T, ch <-chan struct{}, within time.Duration, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(within):
		t.Fatalf("timed out waiting for %s", what)
	}
}
