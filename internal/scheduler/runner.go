package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/aristath/dispatch/internal/agent"
	"github.com/aristath/dispatch/internal/events"
)

// Dispatcher runs one request against the agent pool. Satisfied by
// orchestrator.Registry; tests plug in scripted fakes.
type Dispatcher interface {
	Execute(ctx context.Context, req agent.Request) (agent.Result, error)
}

// ResultSink receives terminal results as they happen, for durable
// execution metadata. Satisfied by persistence.SQLiteStore.
type ResultSink interface {
	SaveResult(ctx context.Context, runID string, res *Result) error
}

// RunnerConfig configures a Runner. Dispatcher is required; Bus and Sink
// are optional.
type RunnerConfig struct {
	Dispatcher    Dispatcher
	MaxConcurrent int
	Bus           *events.Bus
	Sink          ResultSink
}

// Runner executes a DAG's tasks with bounded concurrency. Scheduling is
// event-driven: the ready set is recomputed on every completion, never on a
// timer.
type Runner struct {
	cfg   RunnerConfig
	dag   *DAG
	runID string
}

// NewRunner creates a runner over the given graph.
func NewRunner(dag *DAG, cfg RunnerConfig) *Runner {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	return &Runner{cfg: cfg, dag: dag, runID: uuid.NewString()}
}

// RunID identifies this run in persisted metadata.
func (r *Runner) RunID() string { return r.runID }

// Run executes every task to a terminal status and returns all results plus
// a summary. The only early abort is a pre-execution validation failure
// (cycle or unknown dependency); individual task failures and skips never
// abort the batch.
func (r *Runner) Run(ctx context.Context) (map[string]*Result, Summary, error) {
	if _, err := r.dag.Validate(); err != nil {
		return nil, Summary{}, err
	}

	start := time.Now()
	sem := semaphore.NewWeighted(int64(r.cfg.MaxConcurrent))
	done := make(chan *Result)
	inFlight := 0

	for {
		for _, res := range r.dag.PropagateSkips() {
			r.finish(ctx, res)
		}

		if ctx.Err() != nil {
			// Never-started tasks still need a terminal status; in-flight
			// calls wind down through their own contexts below.
			for _, res := range r.dag.SkipPending(ctx.Err()) {
				r.finish(ctx, res)
			}
		} else {
			for _, t := range r.dag.Ready() {
				r.dag.MarkRunning(t.ID)
				inFlight++
				go r.launch(ctx, t, sem, done)
			}
		}

		if inFlight == 0 {
			// A validated acyclic graph always has either running work or a
			// ready/skippable task until everything is terminal.
			if r.dag.AllTerminal() {
				break
			}
			continue
		}

		res := <-done
		inFlight--
		r.dag.Complete(res)
		r.finish(ctx, res)
	}

	results := r.dag.Results()
	return results, r.summarize(results, time.Since(start)), nil
}

// launch dispatches one task once the semaphore admits it. The semaphore is
// the sole concurrency bound; it is acquired before the dispatcher is
// invoked and held for the full call.
func (r *Runner) launch(ctx context.Context, t *Task, sem *semaphore.Weighted, done chan<- *Result) {
	if err := sem.Acquire(ctx, 1); err != nil {
		now := time.Now()
		done <- &Result{
			TaskID:     t.ID,
			Status:     StatusSkipped,
			Cause:      fmt.Errorf("run cancelled: %w", err),
			StartedAt:  now,
			FinishedAt: now,
		}
		return
	}
	defer sem.Release(1)

	res := &Result{TaskID: t.ID, StartedAt: time.Now()}
	r.publish(events.Event{Type: events.TaskStarted, TaskID: t.ID})

	out, err := r.cfg.Dispatcher.Execute(ctx, t.Request)
	res.FinishedAt = time.Now()
	if err != nil {
		res.Status = StatusFailed
		if errors.Is(err, context.Canceled) {
			res.Cause = fmt.Errorf("cancelled: %w", err)
		} else {
			res.Cause = err
		}
	} else {
		res.Status = StatusSucceeded
		res.Agent = out.Agent
		res.Output = out.Output
	}
	done <- res
}

// finish publishes the terminal event and persists the result.
func (r *Runner) finish(ctx context.Context, res *Result) {
	ev := events.Event{TaskID: res.TaskID, Agent: string(res.Agent)}
	switch res.Status {
	case StatusSucceeded:
		ev.Type = events.TaskSucceeded
	case StatusSkipped:
		ev.Type = events.TaskSkipped
		ev.Detail = res.Cause.Error()
	default:
		ev.Type = events.TaskFailed
		ev.Detail = res.Cause.Error()
	}
	r.publish(ev)

	if r.cfg.Sink != nil {
		if err := r.cfg.Sink.SaveResult(ctx, r.runID, res); err != nil {
			log.Printf("persisting result for task %q: %v", res.TaskID, err)
		}
	}
}

func (r *Runner) publish(ev events.Event) {
	if r.cfg.Bus != nil {
		r.cfg.Bus.Publish(ev)
	}
}

func (r *Runner) summarize(results map[string]*Result, elapsed time.Duration) Summary {
	s := Summary{Total: len(results), Duration: elapsed}
	for _, res := range results {
		switch res.Status {
		case StatusSucceeded:
			s.Succeeded++
		case StatusFailed:
			s.Failed++
			s.Failures = append(s.Failures, Failure{TaskID: res.TaskID, Cause: res.Cause})
		case StatusSkipped:
			s.Skipped++
			s.Failures = append(s.Failures, Failure{TaskID: res.TaskID, Cause: res.Cause})
		}
	}
	sort.Slice(s.Failures, func(i, j int) bool { return s.Failures[i].TaskID < s.Failures[j].TaskID })
	return s
}
