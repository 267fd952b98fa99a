package engine

import "time"

// EventType identifies a primary-side worker lifecycle notification.
type EventType string

const (
	EventWorkerForked  EventType = "forked"
	EventForkFailed    EventType = "fork_failed"
	EventWorkerExited  EventType = "exited"
	EventWorkersExited EventType = "all_exited"
)

// Event is delivered to the orchestrator's observer. Exit events carry the
// wait error and exit code of the worker process.
type Event struct {
	Timestamp time.Time
	Type      EventType
	Worker    string
	Index     int
	Kind      WorkerType
	PID       int
	ExitCode  int
	Err       error
}

func (o *Orchestrator) emit(evt Event) {
	if o.observe == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	o.observe(evt)
}
