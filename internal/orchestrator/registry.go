package orchestrator

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/aristath/dispatch/internal/agent"
	"github.com/aristath/dispatch/internal/events"
)

// Registry holds the live executor bindings and performs dispatch with
// fallback. It is an explicit object rather than process-wide state, so
// tests can run several independent instances side by side.
type Registry struct {
	mu        sync.RWMutex
	matrix    agent.Matrix
	executors map[agent.ID]agent.Executor

	breakers *BreakerRegistry
	cfg      ResilienceConfig
	bus      *events.Bus
}

// New creates a registry over the given capability matrix. bus may be nil.
func New(matrix agent.Matrix, cfg ResilienceConfig, bus *events.Bus) *Registry {
	return &Registry{
		matrix:    matrix,
		executors: make(map[agent.ID]agent.Executor),
		breakers:  NewBreakerRegistry(cfg, bus),
		cfg:       cfg,
		bus:       bus,
	}
}

// Register binds an executor to an agent ID. Registering an ID absent from
// the capability matrix is allowed but the agent will never be selected.
func (r *Registry) Register(id agent.ID, exec agent.Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[id] = exec
	log.Printf("registered agent %q", id)
}

// Deregister removes an agent binding.
func (r *Registry) Deregister(id agent.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.executors, id)
}

// IsAvailable reports whether the agent is registered and its breaker
// currently admits calls (closed or half-open).
func (r *Registry) IsAvailable(id agent.ID) bool {
	r.mu.RLock()
	_, registered := r.executors[id]
	r.mu.RUnlock()
	return registered && r.breakers.Usable(id)
}

// ListAvailable returns the currently usable agent IDs in lexicographic order.
func (r *Registry) ListAvailable() []agent.ID {
	r.mu.RLock()
	ids := make([]agent.ID, 0, len(r.executors))
	for id := range r.executors {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	usable := ids[:0]
	for _, id := range ids {
		if r.breakers.Usable(id) {
			usable = append(usable, id)
		}
	}
	sort.Slice(usable, func(i, j int) bool { return usable[i] < usable[j] })
	return usable
}

// Matrix returns the capability table the registry selects from.
func (r *Registry) Matrix() agent.Matrix {
	return r.matrix
}

func (r *Registry) executor(id agent.ID) (agent.Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exec, ok := r.executors[id]
	return exec, ok
}

// Execute dispatches one request through the selection chain with failover.
// The first success wins; every failed candidate's cause is recorded so an
// exhausted chain can report exactly what went wrong, in order.
//
// Safe for concurrent use; the only shared state touched is the binding map
// (read lock) and the per-agent breakers.
func (r *Registry) Execute(ctx context.Context, req agent.Request) (agent.Result, error) {
	chain, err := agent.Select(r.matrix, req, r.IsAvailable)
	if err != nil {
		return agent.Result{}, err
	}

	attempts := make([]Attempt, 0, len(chain))
	for _, id := range chain {
		exec, ok := r.executor(id)
		if !ok {
			// Deregistered since the availability check.
			attempts = append(attempts, Attempt{Agent: id, Err: fmt.Errorf("agent %q no longer registered", id)})
			continue
		}
		if !r.breakers.Usable(id) {
			attempts = append(attempts, Attempt{Agent: id, Err: ErrBreakerOpen})
			continue
		}

		if r.bus != nil {
			r.bus.Publish(events.Event{Type: events.AgentAttempt, Agent: string(id)})
		}

		result, err := callWithRetry(ctx, exec, req, r.breakers.Get(id), r.cfg)
		if err == nil {
			result.Agent = id
			return result, nil
		}
		log.Printf("agent %q failed, trying next candidate: %v", id, err)
		attempts = append(attempts, Attempt{Agent: id, Err: err})

		// No point falling through the rest of the chain once the caller
		// has gone away.
		if ctx.Err() != nil {
			break
		}
	}

	return agent.Result{}, &AllAgentsFailed{Attempts: attempts}
}
