package agent

import (
	"context"
	"errors"
	"net"
	"syscall"
)

// Request is the dispatch-level view of a task: everything an executor or the
// selection policy needs, with the payload kept opaque.
type Request struct {
	Payload              string     // Opaque to dispatch; interpreted by the executor
	Complexity           Complexity
	RequiresPlanApproval bool
	ContextSize          int // Estimated context size in lines
	PreferredAgent       ID  // Optional; empty means no preference
}

// Result is what a successful executor call returns.
type Result struct {
	Output string
	Agent  ID // Which agent produced the output
}

// Executor is the single narrow contract every concrete agent implements.
// The engine never depends on how a specific agent is invoked.
type Executor interface {
	// Run performs the request and returns its output. The context carries
	// the per-call timeout; implementations must honor cancellation.
	Run(ctx context.Context, req Request) (Result, error)
}

// ExecutorFunc adapts a plain function to the Executor interface.
type ExecutorFunc func(ctx context.Context, req Request) (Result, error)

// Run calls f.
func (f ExecutorFunc) Run(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}

// ExecError wraps a failure from a concrete executor, carrying whether the
// failure is transient (worth retrying) or permanent.
type ExecError struct {
	Agent     ID
	Transient bool
	Err       error
}

// Error implements the error interface.
func (e *ExecError) Error() string {
	return string(e.Agent) + ": " + e.Err.Error()
}

// Unwrap returns the underlying cause.
func (e *ExecError) Unwrap() error { return e.Err }

// IsTransient reports whether an executor failure should be retried.
// Timeouts, refused connections, and executor-flagged transient errors
// qualify; everything else (malformed request, auth failure) does not.
func IsTransient(err error) bool {
	var execErr *ExecError
	if errors.As(err, &execErr) {
		return execErr.Transient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}
