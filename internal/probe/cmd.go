package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/Paintersrp/procgroup/internal/config"
)

// maxProbeOutput bounds the stderr kept for failure messages.
const maxProbeOutput = 256

type commandProber struct {
	command []string
	timeout time.Duration
}

func newCommandProber(spec *config.CommandProbeSpec) (Prober, error) {
	if len(spec.Command) == 0 {
		return nil, errors.New("probe: command requires at least one argument")
	}
	return &commandProber{
		command: append([]string(nil), spec.Command...),
		timeout: spec.Timeout.Duration,
	}, nil
}

func (p *commandProber) Probe(ctx context.Context) error {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, p.command[0], p.command[1:]...)
	cmd.Stdout = io.Discard
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			if msg := tail(stderr.String()); msg != "" {
				return fmt.Errorf("exit %d: %s", exitErr.ExitCode(), msg)
			}
			return fmt.Errorf("exit %d", exitErr.ExitCode())
		}
		return fmt.Errorf("command failed: %w", err)
	}
	return nil
}

func tail(out string) string {
	out = strings.TrimSpace(out)
	if len(out) > maxProbeOutput {
		out = "..." + out[len(out)-maxProbeOutput:]
	}
	return out
}
