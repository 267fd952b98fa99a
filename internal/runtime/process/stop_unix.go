//go:build !windows

package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
)

// Signal delivers sig to the child, or to its whole process group when it was
// started with NewProcessGroup.
func (h *Handle) Signal(sig os.Signal) error {
	if h.cmd.Process == nil {
		return nil
	}
	s, ok := sig.(syscall.Signal)
	if !ok {
		return fmt.Errorf("signal %v unsupported", sig)
	}
	pid := h.cmd.Process.Pid
	if h.group {
		pid = -pid
	}
	if err := syscall.Kill(pid, s); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("signal process %s: %w", h.name, err)
	}
	return nil
}

// Stop sends sig and waits for the child to exit. When ctx is done first the
// child is killed with SIGKILL and ctx's error is returned.
func (h *Handle) Stop(ctx context.Context, sig os.Signal) error {
	if h.cmd.Process == nil {
		return nil
	}
	if sig == nil {
		sig = syscall.SIGTERM
	}
	if err := h.Signal(sig); err != nil {
		return err
	}

	select {
	case <-h.done:
		return h.exitError()
	case <-ctx.Done():
	}

	if err := h.Signal(syscall.SIGKILL); err != nil {
		return fmt.Errorf("kill process %s: %w", h.name, err)
	}
	<-h.done
	return ctx.Err()
}

// Kill terminates the child immediately.
func (h *Handle) Kill() error {
	return h.Signal(syscall.SIGKILL)
}
