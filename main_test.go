package procgroup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Paintersrp/procgroup/internal/log"
)

// Process-level tests re-execute the test binary. Both the primary started by
// a test and the workers it forks see helperScenario and run helperMain
// instead of the tests.
const (
	helperScenario = "PROCGROUP_TEST_SCENARIO"
	helperDir      = "PROCGROUP_TEST_DIR"
)

func TestMain(m *testing.M) {
	if scenario := os.Getenv(helperScenario); scenario != "" {
		os.Exit(helperMain(scenario, os.Getenv(helperDir)))
	}
	os.Exit(m.Run())
}

func helperMain(scenario, dir string) int {
	mark := func(name, content string) {
		_ = os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644)
	}
	index := func(ctx context.Context) int {
		id, _ := Identity(ctx)
		return id.Index
	}

	opts := Options{
		Grace:  2 * time.Second,
		Logger: log.New(&log.Config{Level: "debug", Format: log.FormatText, Output: os.Stderr}),
	}

	switch scenario {
	case "signal":
		opts.Primary = &Primary{
			Start: func(context.Context) error { mark("primary-start", ""); return nil },
			Stop:  func(context.Context) error { mark("primary-stop", ""); return nil },
		}
		opts.Workers = []Worker{{
			Name:  "job",
			Type:  Isolated,
			Count: 2,
			Start: func(ctx context.Context) error { mark(fmt.Sprintf("job-%d-start", index(ctx)), ""); return nil },
			Stop:  func(ctx context.Context) error { mark(fmt.Sprintf("job-%d-stop", index(ctx)), ""); return nil },
		}}
	case "shared":
		opts.StopWhenWorkersExit = true
		opts.Primary = &Primary{Start: func(ctx context.Context) error {
			ln, err := Listen(ctx, "tcp", "127.0.0.1:0")
			if err != nil {
				return err
			}
			mark("primary-addr", ln.Addr().String())
			return nil
		}}
		opts.Workers = []Worker{{
			Name: "web",
			Start: func(ctx context.Context) error {
				ln, err := Listen(ctx, "tcp", "127.0.0.1:0")
				if err != nil {
					return err
				}
				mark("worker-addr", ln.Addr().String())
				return nil
			},
			KillAfterCompleted: true,
		}}
	case "timeout":
		opts.StopWhenWorkersExit = true
		opts.Primary = &Primary{Start: func(context.Context) error { return nil }}
		opts.OnEvent = func(evt Event) {
			if evt.Type == EventWorkerExited {
				mark(fmt.Sprintf("exit-%d", evt.ExitCode), "")
			}
		}
		opts.Workers = []Worker{{
			Name:           "slow",
			Type:           Isolated,
			StartupTimeout: 100 * time.Millisecond,
			Start:          func(ctx context.Context) error { <-ctx.Done(); return ctx.Err() },
			Stop:           func(context.Context) error { mark("slow-stop", ""); return nil },
		}}
	default:
		fmt.Fprintf(os.Stderr, "unknown scenario %q\n", scenario)
		return 2
	}

	if err := Run(context.Background(), opts); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 3
	}
	return 0
}
