package events

import "time"

// Type names a lifecycle event.
type Type string

const (
	TaskStarted   Type = "task.started"
	TaskSucceeded Type = "task.succeeded"
	TaskFailed    Type = "task.failed"
	TaskSkipped   Type = "task.skipped"
	AgentAttempt  Type = "agent.attempt" // One candidate tried during dispatch
	BreakerChange Type = "breaker.change"
)

// Event is a single lifecycle notification. Fields beyond Type and Time are
// populated per event type: task events carry TaskID, attempt and breaker
// events carry Agent, breaker changes carry From/To states.
type Event struct {
	Type   Type
	Time   time.Time
	TaskID string
	Agent  string
	From   string
	To     string
	Detail string // Error text or free-form context
}
