package cli

import (
	stdcontext "context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Paintersrp/procgroup"
	"github.com/Paintersrp/procgroup/internal/api"
	"github.com/Paintersrp/procgroup/internal/cliutil"
)

const maxHistory = 16

// workerStatus captures runtime state for a worker observed via events.
type workerStatus struct {
	report api.WorkerReport
}

// statusTracker maintains in-memory worker status fed by the primary's
// lifecycle events. It serves the status API.
type statusTracker struct {
	mu      sync.RWMutex
	version string
	workers map[string]*workerStatus
	now     func() time.Time
}

var _ api.Controller = (*statusTracker)(nil)

func newStatusTracker(version string) *statusTracker {
	return &statusTracker{
		version: version,
		workers: make(map[string]*workerStatus),
		now:     time.Now,
	}
}

// Declare registers a worker before it is forked so the report lists it as
// pending.
func (t *statusTracker) Declare(name string, index int, workerType string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	label := workerLabel(name, index)
	if _, ok := t.workers[label]; ok {
		return
	}
	ts := t.now()
	t.workers[label] = &workerStatus{report: api.WorkerReport{
		Name:      name,
		Index:     index,
		Type:      workerType,
		State:     api.WorkerPending,
		FirstSeen: ts,
		LastEvent: ts,
		History:   []api.WorkerTransition{{Timestamp: ts, State: api.WorkerPending}},
	}}
}

// Apply updates the tracker based on the supplied event.
func (t *statusTracker) Apply(evt procgroup.Event) {
	if evt.Type == procgroup.EventWorkersExited {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = t.now()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	label := workerLabel(evt.Worker, evt.Index)
	state := t.workers[label]
	if state == nil {
		state = &workerStatus{report: api.WorkerReport{
			Name:      evt.Worker,
			Index:     evt.Index,
			FirstSeen: evt.Timestamp,
		}}
		t.workers[label] = state
	}
	report := &state.report
	if evt.Kind != "" {
		report.Type = string(evt.Kind)
	}
	if evt.Timestamp.After(report.LastEvent) {
		report.LastEvent = evt.Timestamp
	}

	message := ""
	if evt.Err != nil {
		message = cliutil.RedactSecrets(evt.Err.Error())
	}

	switch evt.Type {
	case procgroup.EventWorkerForked:
		report.State = api.WorkerRunning
		report.PID = evt.PID
		report.ExitCode = nil
		message = fmt.Sprintf("pid %d", evt.PID)
	case procgroup.EventForkFailed:
		report.State = api.WorkerFailed
	case procgroup.EventWorkerExited:
		code := evt.ExitCode
		report.ExitCode = &code
		if evt.Err != nil || code != 0 {
			report.State = api.WorkerFailed
		} else {
			report.State = api.WorkerExited
		}
		if message == "" {
			message = fmt.Sprintf("exit code %d", code)
		}
	default:
		return
	}
	report.Message = message
	report.History = append(report.History, api.WorkerTransition{
		Timestamp: evt.Timestamp,
		State:     report.State,
		Message:   message,
	})
	if len(report.History) > maxHistory {
		report.History = append([]api.WorkerTransition(nil), report.History[len(report.History)-maxHistory:]...)
	}
}

// Status implements api.Controller.
func (t *statusTracker) Status(ctx stdcontext.Context) (*api.StatusReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := &api.StatusReport{
		Version:     t.version,
		GeneratedAt: t.now().UTC(),
		Workers:     make([]api.WorkerReport, 0, len(t.workers)),
	}
	for _, state := range t.workers {
		if state.report.State == api.WorkerRunning {
			out.Running++
		}
		out.Workers = append(out.Workers, copyReport(state.report))
	}
	sort.Slice(out.Workers, func(i, j int) bool {
		if out.Workers[i].Index != out.Workers[j].Index {
			return out.Workers[i].Index < out.Workers[j].Index
		}
		return out.Workers[i].Name < out.Workers[j].Name
	})
	return out, nil
}

// Worker implements api.Controller.
func (t *statusTracker) Worker(ctx stdcontext.Context, label string) (*api.WorkerReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	state, ok := t.workers[label]
	if !ok {
		return nil, fmt.Errorf("%w: %s", api.ErrUnknownWorker, label)
	}
	report := copyReport(state.report)
	return &report, nil
}

func copyReport(in api.WorkerReport) api.WorkerReport {
	out := in
	out.History = append([]api.WorkerTransition(nil), in.History...)
	if in.ExitCode != nil {
		code := *in.ExitCode
		out.ExitCode = &code
	}
	return out
}

func workerLabel(name string, index int) string {
	return fmt.Sprintf("%s[%d]", name, index)
}
