// Package probe decides when a worker command is ready to serve. A worker's
// start hook waits on its probe, so the startup timeout bounds the command's
// start and its readiness together.
package probe

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/Paintersrp/procgroup/internal/config"
	"github.com/Paintersrp/procgroup/internal/runtime"
)

// Prober runs a single readiness attempt.
type Prober interface {
	Probe(ctx context.Context) error
}

// LogObserver consumes the output of the probed command.
type LogObserver interface {
	ObserveLog(runtime.LogEntry)
}

// latch is implemented by probes that stay ready once they succeeded.
type latch interface {
	Matched() bool
}

// kinds lists the probe names in the order they are tried when no expression
// is configured.
var kinds = []string{"http", "tcp", "cmd", "log"}

// New constructs a Prober for spec. A nil spec yields a nil Prober.
func New(spec *config.ReadySpec) (Prober, error) {
	if spec == nil {
		return nil, nil
	}
	built, err := build(spec)
	if err != nil {
		return nil, err
	}
	if len(built) == 0 {
		return nil, errors.New("probe: missing configuration")
	}

	names, err := selectProbes(spec.Expression, built)
	if err != nil {
		return nil, err
	}
	if len(names) == 1 {
		return built[names[0]], nil
	}
	combined := make(anyOf, 0, len(names))
	for _, name := range names {
		combined = append(combined, namedProber{name: name, Prober: built[name]})
	}
	return combined, nil
}

func build(spec *config.ReadySpec) (map[string]Prober, error) {
	built := make(map[string]Prober, len(kinds))
	if spec.HTTP != nil {
		built["http"] = newHTTPProber(spec.HTTP)
	}
	if spec.TCP != nil {
		built["tcp"] = newTCPProber(spec.TCP)
	}
	if spec.Command != nil {
		cmd, err := newCommandProber(spec.Command)
		if err != nil {
			return nil, err
		}
		built["cmd"] = cmd
	}
	if spec.Log != nil {
		logs, err := newLogProber(spec.Log)
		if err != nil {
			return nil, err
		}
		built["log"] = logs
	}
	return built, nil
}

// selectProbes returns the probes named by an expression such as
// "http || log", in expression order and without duplicates. An empty
// expression selects every configured probe.
func selectProbes(expr string, built map[string]Prober) ([]string, error) {
	tokens := strings.Fields(expr)
	if len(tokens) == 0 {
		return slices.DeleteFunc(slices.Clone(kinds), func(kind string) bool {
			_, ok := built[kind]
			return !ok
		}), nil
	}
	if len(tokens)%2 == 0 {
		return nil, fmt.Errorf("probe: expression %q is incomplete", expr)
	}

	var names []string
	for i, token := range tokens {
		if i%2 == 1 {
			if token != "||" && !strings.EqualFold(token, "or") {
				return nil, fmt.Errorf("probe: unsupported operator %q in %q", token, expr)
			}
			continue
		}
		name := strings.ToLower(token)
		if !slices.Contains(kinds, name) {
			return nil, fmt.Errorf("probe: unknown probe %q in %q", token, expr)
		}
		if _, ok := built[name]; !ok {
			return nil, fmt.Errorf("probe: expression references undefined probe %q", name)
		}
		if !slices.Contains(names, name) {
			names = append(names, name)
		}
	}
	return names, nil
}

// Wait runs prober every interval until an attempt succeeds or ctx is done.
// Each attempt is bounded by timeout when it is positive. The error returned
// on cancellation wraps the last probe failure.
func Wait(ctx context.Context, prober Prober, interval, timeout time.Duration) error {
	if prober == nil {
		return nil
	}
	var last error
	for {
		attemptCtx, cancel := ctx, context.CancelFunc(func() {})
		if timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		}
		err := prober.Probe(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			if last == nil {
				return ctx.Err()
			}
			return fmt.Errorf("not ready: %w (last attempt: %w)", ctx.Err(), last)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("timeout after %s", timeout)
		}
		last = err

		if interval <= 0 {
			continue
		}
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("not ready: %w (last attempt: %w)", ctx.Err(), last)
		case <-timer.C:
		}
	}
}

// Observe forwards a log entry to prober when it consumes logs.
func Observe(prober Prober, entry runtime.LogEntry) {
	if observer, ok := prober.(LogObserver); ok {
		observer.ObserveLog(entry)
	}
}

type namedProber struct {
	name string
	Prober
}

// anyOf is ready as soon as one of its probes is.
type anyOf []namedProber

func (a anyOf) ObserveLog(entry runtime.LogEntry) {
	for _, p := range a {
		Observe(p.Prober, entry)
	}
}

func (a anyOf) Probe(ctx context.Context) error {
	for _, p := range a {
		if l, ok := p.Prober.(latch); ok && l.Matched() {
			return nil
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan error, len(a))
	for _, p := range a {
		go func(p namedProber) {
			if err := p.Probe(ctx); err != nil {
				results <- fmt.Errorf("%s: %w", p.name, err)
				return
			}
			results <- nil
		}(p)
	}

	var failed []error
	for range a {
		err := <-results
		if err == nil {
			return nil
		}
		failed = append(failed, err)
	}
	return errors.Join(failed...)
}
