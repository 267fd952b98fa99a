//go:build windows

package process

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// Signal delivers sig to the direct child. Only os.Kill is supported.
func (h *Handle) Signal(sig os.Signal) error {
	if h.cmd.Process == nil {
		return nil
	}
	if err := h.cmd.Process.Signal(sig); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("signal process %s: %w", h.name, err)
	}
	return nil
}

// Stop attempts an interrupt, then kills the child when ctx is done.
func (h *Handle) Stop(ctx context.Context, sig os.Signal) error {
	if h.cmd.Process == nil {
		return nil
	}
	// Windows rarely honours interrupts; try anyway.
	_ = h.cmd.Process.Signal(os.Interrupt)

	select {
	case <-h.done:
		return h.exitError()
	case <-ctx.Done():
	}

	if err := h.Kill(); err != nil {
		return err
	}
	<-h.done
	return ctx.Err()
}

// Kill terminates the child immediately.
func (h *Handle) Kill() error {
	if err := h.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill process %s: %w", h.name, err)
	}
	return nil
}
