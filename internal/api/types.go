package api

import (
	stdcontext "context"
	"errors"
	"time"
)

var (
	ErrUnknownWorker = errors.New("unknown worker")
	ErrNotPrimary    = errors.New("status is only served by the primary")
)

// WorkerState is the last observed lifecycle state of a worker process.
type WorkerState string

const (
	WorkerPending WorkerState = "pending"
	WorkerRunning WorkerState = "running"
	WorkerExited  WorkerState = "exited"
	WorkerFailed  WorkerState = "failed"
)

// WorkerTransition records one observed state change.
type WorkerTransition struct {
	Timestamp time.Time   `json:"timestamp"`
	State     WorkerState `json:"state"`
	Message   string      `json:"message,omitempty"`
}

// WorkerReport describes the runtime state of a single worker process.
type WorkerReport struct {
	Name      string             `json:"name"`
	Index     int                `json:"index"`
	Type      string             `json:"type"`
	State     WorkerState        `json:"state"`
	PID       int                `json:"pid,omitempty"`
	ExitCode  *int               `json:"exit_code,omitempty"`
	Message   string             `json:"message,omitempty"`
	FirstSeen time.Time          `json:"first_seen"`
	LastEvent time.Time          `json:"last_event"`
	History   []WorkerTransition `json:"history"`
}

// StatusReport aggregates group-wide status.
type StatusReport struct {
	Version     string         `json:"version"`
	GeneratedAt time.Time      `json:"generated_at"`
	Running     int            `json:"running"`
	Workers     []WorkerReport `json:"workers"`
}

// Controller exposes the status queries served over HTTP.
type Controller interface {
	Status(stdcontext.Context) (*StatusReport, error)
	Worker(stdcontext.Context, string) (*WorkerReport, error)
}
