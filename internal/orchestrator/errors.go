package orchestrator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aristath/dispatch/internal/agent"
)

// ErrBreakerOpen is the fast-fail recorded when a candidate's circuit
// breaker rejects the call before any executor is invoked. It stays inside
// the dispatch loop; callers only ever see it inside AllAgentsFailed causes.
var ErrBreakerOpen = errors.New("circuit breaker open")

// Attempt records one candidate tried during dispatch and why it failed.
type Attempt struct {
	Agent agent.ID
	Err   error
}

// AllAgentsFailed is returned when every candidate in the fallback chain was
// tried and failed. The ordered per-candidate causes are kept for diagnosis;
// failure detail is never silently dropped.
type AllAgentsFailed struct {
	Attempts []Attempt
}

// Unwrap exposes every attempt cause, so errors.Is can see through the
// aggregate (e.g. to context.Canceled).
func (e *AllAgentsFailed) Unwrap() []error {
	errs := make([]error, len(e.Attempts))
	for i, a := range e.Attempts {
		errs[i] = a.Err
	}
	return errs
}

// Error implements the error interface.
func (e *AllAgentsFailed) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "all %d candidate agents failed:", len(e.Attempts))
	for _, a := range e.Attempts {
		fmt.Fprintf(&b, " [%s: %v]", a.Agent, a.Err)
	}
	return b.String()
}
