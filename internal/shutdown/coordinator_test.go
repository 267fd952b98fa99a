package shutdown

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNotifier struct {
	mu       sync.Mutex
	channels []chan<- os.Signal
	notifies int
	stops    int
}

func (n *fakeNotifier) Notify(c chan<- os.Signal, _ ...os.Signal) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notifies++
	n.channels = append(n.channels, c)
}

func (n *fakeNotifier) Stop(chan<- os.Signal) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stops++
}

func (n *fakeNotifier) send(sig os.Signal) {
	n.mu.Lock()
	chans := append([]chan<- os.Signal(nil), n.channels...)
	n.mu.Unlock()
	for _, c := range chans {
		c <- sig
	}
}

func (n *fakeNotifier) counts() (int, int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.notifies, n.stops
}

type exitRecorder struct {
	mu    sync.Mutex
	codes []int
}

func (r *exitRecorder) exit(code int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codes = append(r.codes, code)
}

func (r *exitRecorder) recorded() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.codes...)
}

func newTestCoordinator(t *testing.T, grace time.Duration) (*Coordinator, *fakeNotifier, *exitRecorder) {
	t.Helper()
	notifier := &fakeNotifier{}
	exits := &exitRecorder{}
	c := New(WithGrace(grace), WithNotifier(notifier), WithExit(exits.exit))
	t.Cleanup(c.Close)
	return c, notifier, exits
}

func waitTerminated(t *testing.T, c *Coordinator, within time.Duration) {
	t.Helper()
	select {
	case <-c.Terminated():
	case <-time.After(within):
		t.Fatalf("coordinator did not terminate within %v (state=%s)", within, c.State())
	}
}

func TestRegisterInstallsListenerOnce(t *testing.T) {
	c, notifier, _ := newTestCoordinator(t, time.Second)

	c.Register("a", func(context.Context) error { return nil })
	c.Register("b", func(context.Context) error { return nil })
	c.Listen()

	notifies, _ := notifier.counts()
	assert.Equal(t, 1, notifies)
	assert.Equal(t, Idle, c.State())
}

func TestSignalRunsAllHooksConcurrently(t *testing.T) {
	c, notifier, exits := newTestCoordinator(t, 2*time.Second)

	var started sync.WaitGroup
	started.Add(3)
	release := make(chan struct{})
	var calls atomic.Int32
	for _, label := range []string{"a", "b", "c"} {
		c.Register(label, func(context.Context) error {
			calls.Add(1)
			started.Done()
			<-release
			return nil
		})
	}

	notifier.send(syscall.SIGTERM)

	// All three hooks must be in flight at the same time before any returns.
	allStarted := make(chan struct{})
	go func() {
		started.Wait()
		close(allStarted)
	}()
	select {
	case <-allStarted:
	case <-time.After(time.Second):
		t.Fatal("hooks were not started concurrently")
	}
	assert.Equal(t, ShuttingDown, c.State())
	close(release)

	waitTerminated(t, c, time.Second)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, []int{ExitGraceful}, exits.recorded())
	assert.Equal(t, Terminated, c.State())

	_, stops := notifier.counts()
	assert.Equal(t, 1, stops, "listener is removed on exit")
}

func TestGracePeriodBoundsShutdown(t *testing.T) {
	const grace = 150 * time.Millisecond
	c, _, exits := newTestCoordinator(t, grace)

	var fastDone atomic.Bool
	c.Register("slow", func(ctx context.Context) error {
		time.Sleep(5 * time.Second)
		return nil
	})
	c.Register("failing", func(context.Context) error { return errors.New("boom") })
	c.Register("panicking", func(context.Context) error { panic("kaboom") })
	c.Register("fast", func(context.Context) error {
		fastDone.Store(true)
		return nil
	})

	start := time.Now()
	require.True(t, c.Trigger(0))
	waitTerminated(t, c, 2*time.Second)
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, grace)
	assert.Less(t, elapsed, grace+500*time.Millisecond)
	assert.True(t, fastDone.Load(), "failing hooks must not block siblings")
	assert.Equal(t, []int{ExitForced}, exits.recorded())
	assert.Equal(t, ExitForced, c.ExitCode())
}

func TestFailingHooksDoNotForceExit(t *testing.T) {
	c, _, exits := newTestCoordinator(t, time.Second)
	c.Register("failing", func(context.Context) error { return errors.New("boom") })
	c.Register("panicking", func(context.Context) error { panic("kaboom") })

	require.True(t, c.Trigger(0))
	waitTerminated(t, c, time.Second)
	assert.Equal(t, []int{ExitGraceful}, exits.recorded())
}

func TestHookContextCarriesGraceDeadline(t *testing.T) {
	c, _, _ := newTestCoordinator(t, time.Second)
	deadlines := make(chan time.Time, 1)
	c.Register("deadline", func(ctx context.Context) error {
		d, ok := ctx.Deadline()
		if ok {
			deadlines <- d
		}
		return nil
	})

	before := time.Now()
	require.True(t, c.Trigger(300*time.Millisecond))
	waitTerminated(t, c, time.Second)

	select {
	case d := <-deadlines:
		assert.WithinDuration(t, before.Add(300*time.Millisecond), d, 100*time.Millisecond)
	default:
		t.Fatal("hook context had no deadline")
	}
}

func TestSecondSignalIsIgnored(t *testing.T) {
	c, notifier, exits := newTestCoordinator(t, time.Second)

	var calls atomic.Int32
	release := make(chan struct{})
	c.Register("once", func(context.Context) error {
		calls.Add(1)
		<-release
		return nil
	})

	notifier.send(os.Interrupt)
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	notifier.send(syscall.SIGTERM)
	assert.False(t, c.Trigger(0))
	time.Sleep(20 * time.Millisecond)
	close(release)

	waitTerminated(t, c, time.Second)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, []int{ExitGraceful}, exits.recorded())
}

func TestSameHookRegisteredTwiceRunsTwice(t *testing.T) {
	c, _, _ := newTestCoordinator(t, time.Second)
	var calls atomic.Int32
	hook := func(context.Context) error {
		calls.Add(1)
		return nil
	}
	c.Register("dup", hook)
	c.Register("dup", hook)

	c.Trigger(0)
	waitTerminated(t, c, time.Second)
	assert.Equal(t, int32(2), calls.Load())
}

func TestNoHooksExitsImmediately(t *testing.T) {
	c, notifier, exits := newTestCoordinator(t, 5*time.Second)
	c.Listen()

	start := time.Now()
	notifier.send(syscall.SIGTERM)
	waitTerminated(t, c, time.Second)

	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, []int{ExitGraceful}, exits.recorded())
}

func TestExitSkipsHooks(t *testing.T) {
	c, _, exits := newTestCoordinator(t, time.Second)
	var called atomic.Bool
	c.Register("skipped", func(context.Context) error {
		called.Store(true)
		return nil
	})

	c.Exit(ExitForced)
	waitTerminated(t, c, time.Second)

	assert.False(t, called.Load())
	assert.False(t, c.Trigger(0), "terminated coordinators cannot restart shutdown")
	assert.Equal(t, []int{ExitForced}, exits.recorded())
}

func TestRegisterAfterShutdownBeganIsIgnored(t *testing.T) {
	c, _, _ := newTestCoordinator(t, time.Second)
	release := make(chan struct{})
	c.Register("blocking", func(context.Context) error {
		<-release
		return nil
	})
	c.Trigger(0)

	var late atomic.Bool
	c.Register("late", func(context.Context) error {
		late.Store(true)
		return nil
	})
	close(release)

	waitTerminated(t, c, time.Second)
	assert.False(t, late.Load())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "shutting_down", ShuttingDown.String())
	assert.Equal(t, "terminated", Terminated.String())
}

type baseKey struct{}

func TestHookContextKeepsBaseValuesButNotCancellation(t *testing.T) {
	base, cancel := context.WithCancel(context.WithValue(context.Background(), baseKey{}, "group"))
	cancel()

	exits := &exitRecorder{}
	c := New(WithNotifier(&fakeNotifier{}), WithExit(exits.exit), WithBaseContext(base))
	t.Cleanup(c.Close)

	seen := make(chan error, 1)
	c.Register("value", func(ctx context.Context) error {
		assert.Equal(t, "group", ctx.Value(baseKey{}))
		seen <- ctx.Err()
		return nil
	})
	require.True(t, c.Trigger(time.Second))
	waitTerminated(t, c, 2*time.Second)

	assert.NoError(t, <-seen)
	assert.Equal(t, []int{ExitGraceful}, exits.recorded())
}
