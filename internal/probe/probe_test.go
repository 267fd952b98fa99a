package probe

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	goruntime "runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Paintersrp/procgroup/internal/config"
	"github.com/Paintersrp/procgroup/internal/runtime"
)

func TestWaitHTTPBecomesReady(t *testing.T) {
	var healthy atomic.Bool
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	prober, err := New(&config.ReadySpec{HTTP: &config.HTTPProbeSpec{URL: server.URL}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	go func() {
		time.Sleep(60 * time.Millisecond)
		healthy.Store(true)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := Wait(ctx, prober, 15*time.Millisecond, 200*time.Millisecond); err != nil {
		t.Fatalf("Wait returned error: %v", err)
	}
	if attempts.Load() < 2 {
		t.Fatalf("expected repeated attempts, got %d", attempts.Load())
	}
}

func TestWaitReportsLastFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	t.Cleanup(server.Close)

	prober, err := New(&config.ReadySpec{HTTP: &config.HTTPProbeSpec{URL: server.URL, ExpectStatus: []int{204}}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err = Wait(ctx, prober, 10*time.Millisecond, 0)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if !strings.Contains(err.Error(), "status=418") {
		t.Fatalf("expected last status in error, got %v", err)
	}
}

func TestTCPProbe(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()

	prober, err := New(&config.ReadySpec{TCP: &config.TCPProbeSpec{Address: "tcp/" + addr}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if err := prober.Probe(context.Background()); err != nil {
		t.Fatalf("probe against open port failed: %v", err)
	}

	ln.Close()
	if err := prober.Probe(context.Background()); err == nil {
		t.Fatalf("expected probe against closed port to fail")
	}
}

func TestCommandProbe(t *testing.T) {
	if goruntime.GOOS == "windows" {
		t.Skip("requires sh")
	}
	ok, err := New(&config.ReadySpec{Command: &config.CommandProbeSpec{Command: []string{"sh", "-c", "exit 0"}}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if err := ok.Probe(context.Background()); err != nil {
		t.Fatalf("expected success, got %v", err)
	}

	failing, err := New(&config.ReadySpec{Command: &config.CommandProbeSpec{Command: []string{"sh", "-c", "echo not yet >&2; exit 3"}}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	err = failing.Probe(context.Background())
	if err == nil || err.Error() != "exit 3: not yet" {
		t.Fatalf("unexpected error: %v", err)
	}

	slow, err := New(&config.ReadySpec{Command: &config.CommandProbeSpec{
		Command: []string{"sh", "-c", "sleep 5"},
		Timeout: config.Duration{Duration: 50 * time.Millisecond},
	}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if err := slow.Probe(context.Background()); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

func TestLogProbeMatchesSource(t *testing.T) {
	prober, err := New(&config.ReadySpec{Log: &config.LogProbeSpec{Pattern: `listening on :\d+`, Sources: []string{"stderr"}}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- Wait(context.Background(), prober, 0, 0) }()

	Observe(prober, runtime.LogEntry{Message: "listening on :8080", Source: runtime.LogSourceStdout})
	select {
	case err := <-done:
		t.Fatalf("ready on wrong source: %v", err)
	case <-time.After(30 * time.Millisecond):
	}

	Observe(prober, runtime.LogEntry{Message: "listening on :8080", Source: runtime.LogSourceStderr})
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Wait returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("log probe did not become ready")
	}
}

func TestExpressionReadyOnAnyTerm(t *testing.T) {
	prober, err := New(&config.ReadySpec{
		TCP:        &config.TCPProbeSpec{Address: "127.0.0.1:1"},
		Log:        &config.LogProbeSpec{Pattern: "ready"},
		Expression: "tcp || log",
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	Observe(prober, runtime.LogEntry{Message: "service ready", Source: runtime.LogSourceStdout})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := prober.Probe(ctx); err != nil {
		t.Fatalf("expected ready via log term, got %v", err)
	}
}

func TestNewRejectsBadConfiguration(t *testing.T) {
	cases := map[string]*config.ReadySpec{
		"empty":              {},
		"undefined in expr":  {TCP: &config.TCPProbeSpec{Address: "x:1"}, Expression: "http"},
		"bad operator":       {TCP: &config.TCPProbeSpec{Address: "x:1"}, Expression: "tcp && tcp"},
		"incomplete expr":    {TCP: &config.TCPProbeSpec{Address: "x:1"}, Expression: "tcp or"},
		"empty command":      {Command: &config.CommandProbeSpec{}},
		"bad log expression": {Log: &config.LogProbeSpec{Pattern: "("}},
	}
	for name, spec := range cases {
		if _, err := New(spec); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	if p, err := New(nil); p != nil || err != nil {
		t.Fatalf("nil spec: got %v, %v", p, err)
	}
}
