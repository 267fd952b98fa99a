package cli

import (
	stdcontext "context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/Paintersrp/procgroup"
	httpapi "github.com/Paintersrp/procgroup/internal/api/http"
	"github.com/Paintersrp/procgroup/internal/cliutil"
	"github.com/Paintersrp/procgroup/internal/config"
	"github.com/Paintersrp/procgroup/internal/engine"
	"github.com/Paintersrp/procgroup/internal/log"
	"github.com/Paintersrp/procgroup/internal/metrics"
	"github.com/Paintersrp/procgroup/internal/probe"
	"github.com/Paintersrp/procgroup/internal/runtime/process"
	"github.com/Paintersrp/procgroup/internal/sockets"
)

// Descriptor passing variables understood by socket-activated servers.
const (
	envListenFDs     = "LISTEN_FDS"
	envListenFDNames = "LISTEN_FDNAMES"
)

// markerReset clears the group markers so a command that is itself built on
// procgroup starts as a primary.
var markerReset = []string{
	engine.EnvWorkerType + "=",
	engine.EnvWorkerIndex + "=",
	engine.EnvWorkerID + "=",
	sockets.EnvSockets + "=",
}

type filer interface {
	File() (*os.File, error)
}

// workerHooks runs a worker's command. A process of the group runs at most
// one worker, so a single handle is tracked.
type workerHooks struct {
	spec   *config.WorkerSpec
	signal syscall.Signal
	prober probe.Prober
	listen []string
	logger *slog.Logger

	mu       sync.Mutex
	handle   *process.Handle
	stopping bool
}

func (h *workerHooks) Start(ctx stdcontext.Context) error {
	id, _ := procgroup.Identity(ctx)
	label := fmt.Sprintf("%s[%d]", id.Name, id.Index)
	logger := h.logger.With(
		slog.String(log.RoleKey, "worker"),
		slog.String(log.WorkerKey, label),
		slog.Int(log.IndexKey, id.Index),
		slog.String(log.WorkerIDKey, id.ID),
	)

	env := append(append([]string(nil), markerReset...), envList(h.spec.Env)...)
	var files []*os.File
	if id.Type == procgroup.SocketSharing && len(h.listen) > 0 {
		var err error
		files, err = inheritedFiles(ctx, h.listen)
		if err != nil {
			return err
		}
		env = append(env,
			envListenFDs+"="+strconv.Itoa(len(files)),
			envListenFDNames+"="+strings.Join(h.listen, ":"),
		)
	}
	defer closeFiles(files)

	logger.Debug("starting worker command",
		slog.Any("command", h.spec.Command),
		slog.Any("env", cliutil.RedactEnv(h.spec.Env)),
		slog.Int("listeners", len(files)),
	)
	handle, err := process.Start(process.Spec{
		Name:            label,
		Path:            h.spec.Command[0],
		Args:            h.spec.Command[1:],
		Env:             env,
		Dir:             h.spec.ResolvedWorkdir,
		ExtraFiles:      files,
		CaptureLogs:     true,
		NewProcessGroup: true,
		ParentDeath:     true,
	})
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.handle = handle
	h.mu.Unlock()
	go pumpLogs(handle, logger, h.prober)

	if h.spec.KillAfterCompleted {
		return handle.Wait(ctx)
	}

	if h.prober != nil {
		if err := h.waitReady(ctx, handle); err != nil {
			_ = handle.Kill()
			return err
		}
		logger.Info("worker command ready")
	}

	go func() {
		<-handle.Done()
		h.mu.Lock()
		stopping := h.stopping
		h.mu.Unlock()
		if stopping {
			return
		}
		logger.Warn("worker command exited; shutting down",
			slog.Int("exit_code", handle.ExitCode()),
			log.Error(handle.Err()),
		)
		procgroup.Shutdown(ctx, 0)
	}()
	return nil
}

func (h *workerHooks) waitReady(ctx stdcontext.Context, handle *process.Handle) error {
	readyCtx, cancel := stdcontext.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-handle.Done():
			cancel()
		case <-readyCtx.Done():
		}
	}()

	ready := h.spec.Ready
	err := probe.Wait(readyCtx, h.prober, ready.Interval.Duration, ready.Timeout.Duration)
	if err == nil {
		return nil
	}
	select {
	case <-handle.Done():
		return fmt.Errorf("worker command %s exited before ready: %w", handle.Name(), errors.Join(handle.Err(), err))
	default:
	}
	return fmt.Errorf("worker command %s: %w", handle.Name(), err)
}

func (h *workerHooks) Stop(ctx stdcontext.Context) error {
	h.mu.Lock()
	h.stopping = true
	handle := h.handle
	h.mu.Unlock()
	if handle == nil {
		return nil
	}
	return handle.Stop(ctx, h.signal)
}

// primaryHooks opens the shared listeners, runs the primary command and
// serves the status API.
type primaryHooks struct {
	spec        *config.PrimarySpec
	workdir     string
	metricsAddr string
	tracker     *statusTracker
	logger      *slog.Logger

	mu         sync.Mutex
	serverAddr string
	stopServer stdcontext.CancelFunc
	serverDone chan error
}

func (h *primaryHooks) Start(ctx stdcontext.Context) error {
	if h.metricsAddr != "" {
		if err := h.startServer(ctx); err != nil {
			return err
		}
	}
	if err := h.start(ctx); err != nil {
		_ = h.Stop(stdcontext.Background())
		return err
	}
	return nil
}

func (h *primaryHooks) start(ctx stdcontext.Context) error {
	if h.spec == nil {
		return nil
	}

	for _, entry := range h.spec.Listen {
		network, address, err := config.ParseListen(entry)
		if err != nil {
			return err
		}
		ln, err := procgroup.Listen(ctx, network, address)
		if err != nil {
			return err
		}
		h.logger.Info("listening", slog.String("network", network), slog.String("addr", ln.Addr().String()))
	}

	if len(h.spec.Command) == 0 {
		return nil
	}
	h.logger.Debug("running primary command",
		slog.Any("command", h.spec.Command),
		slog.Any("env", cliutil.RedactEnv(h.spec.Env)),
	)
	handle, err := process.Start(process.Spec{
		Name:            "primary",
		Path:            h.spec.Command[0],
		Args:            h.spec.Command[1:],
		Env:             envList(h.spec.Env),
		Dir:             h.workdir,
		CaptureLogs:     true,
		NewProcessGroup: true,
		ParentDeath:     true,
	})
	if err != nil {
		return err
	}
	go pumpLogs(handle, h.logger.With(slog.String(log.RoleKey, "primary")), nil)
	if err := handle.Wait(ctx); err != nil {
		_ = handle.Kill()
		return err
	}
	return nil
}

func (h *primaryHooks) startServer(ctx stdcontext.Context) error {
	server, err := httpapi.NewServer(httpapi.Config{
		Addr:       h.metricsAddr,
		Controller: h.tracker,
		Gatherer:   metrics.Registry(),
	})
	if err != nil {
		return err
	}
	if err := server.Listen(); err != nil {
		return err
	}

	serverCtx, cancel := stdcontext.WithCancel(stdcontext.WithoutCancel(ctx))
	done := make(chan error, 1)
	go func() {
		done <- server.Run(serverCtx)
	}()

	h.mu.Lock()
	h.serverAddr = server.Addr()
	h.stopServer = cancel
	h.serverDone = done
	h.mu.Unlock()
	h.logger.Info("serving status API", slog.String("addr", server.Addr()))
	return nil
}

func (h *primaryHooks) Stop(ctx stdcontext.Context) error {
	h.mu.Lock()
	cancel, done := h.stopServer, h.serverDone
	h.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func pumpLogs(handle *process.Handle, logger *slog.Logger, prober probe.Prober) {
	for entry := range handle.Logs() {
		cliutil.LogEntry(logger, entry)
		if prober != nil {
			probe.Observe(prober, entry)
		}
	}
}

func inheritedFiles(ctx stdcontext.Context, listen []string) ([]*os.File, error) {
	files := make([]*os.File, 0, len(listen))
	for _, entry := range listen {
		network, address, err := config.ParseListen(entry)
		if err != nil {
			closeFiles(files)
			return nil, err
		}
		ln, err := procgroup.Listen(ctx, network, address)
		if err != nil {
			closeFiles(files)
			return nil, fmt.Errorf("listener %s: %w", entry, err)
		}
		f, ok := ln.(filer)
		if !ok {
			closeFiles(files)
			return nil, fmt.Errorf("listener %s cannot be passed to a command", entry)
		}
		file, err := f.File()
		if err != nil {
			closeFiles(files)
			return nil, fmt.Errorf("listener %s: %w", entry, err)
		}
		files = append(files, file)
	}
	return files, nil
}

func closeFiles(files []*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}

func envList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
