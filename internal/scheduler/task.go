package scheduler

import (
	"time"

	"github.com/aristath/dispatch/internal/agent"
)

// Status is the scheduler's view of a task. Succeeded, Failed, and Skipped
// are terminal; a run ends precisely when every task holds one of them.
type Status int

const (
	StatusPending   Status = iota // Waiting on dependencies
	StatusRunning                 // Dispatched, in flight
	StatusSucceeded               // Terminal: agent call succeeded
	StatusFailed                  // Terminal: agent call failed or was cancelled
	StatusSkipped                 // Terminal: never attempted (failed dependency)
)

// String returns the lowercase status name.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	case StatusSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusSkipped
}

// Task is one unit of work in a batch. Immutable once submitted; all mutable
// execution state lives in the DAG's result map.
type Task struct {
	ID        string
	Request   agent.Request
	DependsOn []string

	// Optional workflow bookkeeping: which feature/phase this task's output
	// feeds. Empty for tasks outside any tracked feature.
	Feature string
	Phase   string
}

// Result is the terminal record for one task. The runner creates it exactly
// once, when the task reaches a terminal status, and never mutates it after.
type Result struct {
	TaskID     string
	Status     Status
	Agent      agent.ID // Agent that produced the output (success only)
	Output     string
	Cause      error // Failure or skip cause; nil on success
	StartedAt  time.Time
	FinishedAt time.Time
}

// Failure pairs a task ID with why it did not succeed.
type Failure struct {
	TaskID string
	Cause  error
}

// Summary aggregates one finished run.
type Summary struct {
	Total     int
	Succeeded int
	Failed    int
	Skipped   int
	Duration  time.Duration
	Failures  []Failure // Every non-success, ordered by task ID
}
