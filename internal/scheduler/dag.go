package scheduler

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gammazero/toposort"
)

// ErrCyclicDependency rejects a graph before any task executes. A graph that
// cannot complete is never partially executed.
var ErrCyclicDependency = errors.New("dependency graph contains a cycle")

// DAG holds a batch's tasks and their terminal results.
type DAG struct {
	mu      sync.RWMutex
	tasks   map[string]*Task
	results map[string]*Result // Terminal tasks only
	running map[string]bool
}

// NewDAG creates an empty graph.
func NewDAG() *DAG {
	return &DAG{
		tasks:   make(map[string]*Task),
		results: make(map[string]*Result),
		running: make(map[string]bool),
	}
}

// Add inserts a task. Duplicate IDs are rejected.
func (d *DAG) Add(t *Task) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.tasks[t.ID]; exists {
		return fmt.Errorf("task %q already exists", t.ID)
	}
	d.tasks[t.ID] = t
	return nil
}

// Validate checks that every declared dependency exists and that the edges
// form no cycle. Returns a topological order over all task IDs.
func (d *DAG) Validate() ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for id, t := range d.tasks {
		for _, dep := range t.DependsOn {
			if _, ok := d.tasks[dep]; !ok {
				return nil, fmt.Errorf("task %q depends on unknown task %q", id, dep)
			}
		}
	}

	var edges []toposort.Edge
	for id, t := range d.tasks {
		if len(t.DependsOn) == 0 {
			edges = append(edges, toposort.Edge{nil, id})
			continue
		}
		for _, dep := range t.DependsOn {
			edges = append(edges, toposort.Edge{dep, id})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCyclicDependency, err)
	}

	order := make([]string, 0, len(sorted))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}
	if len(order) != len(d.tasks) {
		return nil, fmt.Errorf("topological sort covered %d of %d tasks", len(order), len(d.tasks))
	}
	return order, nil
}

// Ready returns pending tasks whose dependencies all succeeded, in a fixed
// ID order. Tasks behind a failed or skipped dependency are not ready; they
// are picked up by PropagateSkips instead.
func (d *DAG) Ready() []*Task {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var ready []*Task
	for id, t := range d.tasks {
		if d.results[id] != nil || d.running[id] {
			continue
		}
		eligible := true
		for _, dep := range t.DependsOn {
			res := d.results[dep]
			if res == nil || res.Status != StatusSucceeded {
				eligible = false
				break
			}
		}
		if eligible {
			ready = append(ready, t)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i].ID < ready[j].ID })
	return ready
}

// PropagateSkips records a skipped result for every pending task behind a
// failed or skipped dependency, repeating until no new skips appear so the
// skip cascades through the whole downstream subgraph. Returns the newly
// recorded results.
func (d *DAG) PropagateSkips() []*Result {
	d.mu.Lock()
	defer d.mu.Unlock()

	var skipped []*Result
	for {
		progressed := false
		for id, t := range d.tasks {
			if d.results[id] != nil || d.running[id] {
				continue
			}
			for _, dep := range t.DependsOn {
				res := d.results[dep]
				if res == nil {
					continue
				}
				if res.Status == StatusFailed || res.Status == StatusSkipped {
					now := time.Now()
					r := &Result{
						TaskID:     id,
						Status:     StatusSkipped,
						Cause:      fmt.Errorf("dependency %q did not succeed", dep),
						StartedAt:  now,
						FinishedAt: now,
					}
					d.results[id] = r
					skipped = append(skipped, r)
					progressed = true
					break
				}
			}
		}
		if !progressed {
			return skipped
		}
	}
}

// SkipPending records a skipped result for every task that has not started
// yet. Used when the run's context is cancelled: in-flight tasks terminate
// through their own call contexts, but never-started tasks must still reach
// a terminal status.
func (d *DAG) SkipPending(cause error) []*Result {
	d.mu.Lock()
	defer d.mu.Unlock()

	var skipped []*Result
	for id := range d.tasks {
		if d.results[id] != nil || d.running[id] {
			continue
		}
		now := time.Now()
		r := &Result{
			TaskID:     id,
			Status:     StatusSkipped,
			Cause:      fmt.Errorf("run cancelled: %w", cause),
			StartedAt:  now,
			FinishedAt: now,
		}
		d.results[id] = r
		skipped = append(skipped, r)
	}
	return skipped
}

// MarkRunning flags a task as in flight.
func (d *DAG) MarkRunning(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.running[id] = true
}

// Complete records a terminal result and clears the in-flight flag.
func (d *DAG) Complete(res *Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.running, res.TaskID)
	d.results[res.TaskID] = res
}

// AllTerminal reports whether every task has a terminal result.
func (d *DAG) AllTerminal() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.results) == len(d.tasks)
}

// Result returns the terminal result for a task, if any.
func (d *DAG) Result(id string) (*Result, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	res, ok := d.results[id]
	return res, ok
}

// Results returns a copy of the terminal result map.
func (d *DAG) Results() map[string]*Result {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]*Result, len(d.results))
	for id, res := range d.results {
		out[id] = res
	}
	return out
}

// Task returns the task with the given ID.
func (d *DAG) Task(id string) (*Task, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.tasks[id]
	return t, ok
}

// Len returns the number of tasks in the graph.
func (d *DAG) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.tasks)
}
