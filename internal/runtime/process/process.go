package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/Paintersrp/procgroup/internal/runtime"
)

// Spec describes a child process to start.
type Spec struct {
	Name string
	Path string
	Args []string

	// Env is appended to the current environment.
	Env []string
	Dir string

	// ExtraFiles are inherited as descriptors 3, 4, ...
	ExtraFiles []*os.File

	// Stdout and Stderr default to the parent's streams unless CaptureLogs
	// is set, in which case output is delivered through Handle.Logs.
	Stdout      io.Writer
	Stderr      io.Writer
	CaptureLogs bool

	// NewProcessGroup places the child in its own process group so Signal
	// and Stop reach its descendants too.
	NewProcessGroup bool

	// ParentDeath asks the kernel to send SIGTERM to the child when the
	// parent dies. Linux only; ignored elsewhere. The kernel ties the signal
	// to the forking thread rather than the process, so Start forks from a
	// fresh goroutine that no caller can have locked to its thread.
	ParentDeath bool
}

// Handle observes a started child process.
type Handle struct {
	name  string
	cmd   *exec.Cmd
	group bool

	logs chan runtime.LogEntry
	done chan struct{}

	mu      sync.Mutex
	waitErr error
}

// Start launches the process described by spec.
func Start(spec Spec) (*Handle, error) {
	if spec.Path == "" {
		return nil, fmt.Errorf("process %s requires a path", spec.Name)
	}

	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.ExtraFiles = spec.ExtraFiles
	cmd.Stdin = nil

	h := &Handle{
		name:  spec.Name,
		cmd:   cmd,
		group: spec.NewProcessGroup,
		done:  make(chan struct{}),
	}

	var stdout, stderr io.ReadCloser
	if spec.CaptureLogs {
		var err error
		stdout, err = cmd.StdoutPipe()
		if err != nil {
			return nil, fmt.Errorf("process %s stdout: %w", spec.Name, err)
		}
		stderr, err = cmd.StderrPipe()
		if err != nil {
			return nil, fmt.Errorf("process %s stderr: %w", spec.Name, err)
		}
		h.logs = make(chan runtime.LogEntry, 64)
	} else {
		cmd.Stdout = orDefault(spec.Stdout, os.Stdout)
		cmd.Stderr = orDefault(spec.Stderr, os.Stderr)
	}

	configureSysProcAttr(cmd, spec)

	if err := startCmd(cmd, spec.ParentDeath); err != nil {
		return nil, fmt.Errorf("start process %s: %w", spec.Name, err)
	}

	var wg sync.WaitGroup
	if h.logs != nil {
		wg.Add(2)
		go h.streamLogs(stdout, runtime.LogSourceStdout, &wg)
		go h.streamLogs(stderr, runtime.LogSourceStderr, &wg)
		go func() {
			wg.Wait()
			close(h.logs)
		}()
	}

	go func() {
		// Pipes must be drained before Wait closes them.
		wg.Wait()
		err := cmd.Wait()
		h.mu.Lock()
		h.waitErr = err
		h.mu.Unlock()
		close(h.done)
	}()

	return h, nil
}

// startCmd runs cmd.Start. With parentDeath set the fork happens on a new
// goroutine: a goroutine that exits while locked takes its thread with it,
// and the child would see SIGTERM long before the parent is gone.
func startCmd(cmd *exec.Cmd, parentDeath bool) error {
	if !parentDeath {
		return cmd.Start()
	}
	errc := make(chan error, 1)
	go func() { errc <- cmd.Start() }()
	return <-errc
}

func orDefault(w io.Writer, def io.Writer) io.Writer {
	if w == nil {
		return def
	}
	return w
}

// Name returns the label given in the Spec.
func (h *Handle) Name() string { return h.name }

// Pid returns the child's process id.
func (h *Handle) Pid() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// Done is closed once the child has exited and been reaped.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Logs returns captured output, or nil when the Spec did not capture logs.
// The channel is closed once both output streams reach EOF.
func (h *Handle) Logs() <-chan runtime.LogEntry { return h.logs }

// Err returns the wait error once Done is closed.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.waitErr
}

// ExitCode returns the child's exit status, or -1 while it is running or when
// it was terminated by a signal.
func (h *Handle) ExitCode() int {
	select {
	case <-h.done:
	default:
		return -1
	}
	if h.cmd.ProcessState == nil {
		return -1
	}
	return h.cmd.ProcessState.ExitCode()
}

// Wait blocks until the child exits or ctx is done.
func (h *Handle) Wait(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-h.done:
		if err := h.Err(); err != nil {
			return fmt.Errorf("process %s exited: %w", h.name, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handle) exitError() error {
	err := h.Err()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// Terminated on request; the exit status is expected.
		return nil
	}
	return err
}

// maxLogLine bounds a single log entry. Longer lines arrive as several
// entries so the pipe keeps draining.
const maxLogLine = 64 << 10

func (h *Handle) streamLogs(r io.Reader, source string, wg *sync.WaitGroup) {
	defer wg.Done()
	reader := bufio.NewReaderSize(r, maxLogLine)
	continued := false
	for {
		line, isPrefix, err := reader.ReadLine()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				// The child blocks on write if nobody reads the pipe.
				_, _ = io.Copy(io.Discard, r)
			}
			return
		}
		// A line filling the buffer exactly leaves an empty tail.
		if !(continued && len(line) == 0) {
			h.emit(string(line), source)
		}
		continued = isPrefix
	}
}

func (h *Handle) emit(line, source string) {
	entry := runtime.LogEntry{
		Timestamp: time.Now(),
		Message:   strings.TrimRight(line, "\r"),
		Source:    source,
		Level:     "info",
	}
	if source == runtime.LogSourceStderr {
		entry.Level = "warn"
	}
	h.logs <- entry
}
