package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aristath/dispatch/internal/agent"
)

// fakeDispatcher maps payloads to canned outcomes and records every call.
// A nil entry (or a missing one) means success.
type fakeDispatcher struct {
	mu       sync.Mutex
	failures map[string]error
	delay    time.Duration
	calls    []string

	inFlight    atomic.Int64
	maxObserved atomic.Int64
}

func (f *fakeDispatcher) Execute(ctx context.Context, req agent.Request) (agent.Result, error) {
	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		prev := f.maxObserved.Load()
		if cur <= prev || f.maxObserved.CompareAndSwap(prev, cur) {
			break
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, req.Payload)
	err := f.failures[req.Payload]
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return agent.Result{}, ctx.Err()
		}
	}
	if err != nil {
		return agent.Result{}, err
	}
	return agent.Result{Output: "done " + req.Payload, Agent: "fake"}, nil
}

func (f *fakeDispatcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func buildDAG(t *testing.T, deps map[string][]string) *DAG {
	t.Helper()
	d := NewDAG()
	for id, dd := range deps {
		if err := d.Add(&Task{ID: id, Request: agent.Request{Payload: id}, DependsOn: dd}); err != nil {
			t.Fatalf("Add(%s): %v", id, err)
		}
	}
	return d
}

// TestRunFailureSkipsDependents: five tasks, task3 needs task1 and task2,
// task1 fails. Task3 is skipped; the independent tasks still finish.
func TestRunFailureSkipsDependents(t *testing.T) {
	dag := buildDAG(t, map[string][]string{
		"task1": nil,
		"task2": nil,
		"task3": {"task1", "task2"},
		"task4": nil,
		"task5": nil,
	})
	disp := &fakeDispatcher{failures: map[string]error{"task1": errors.New("agent blew up")}}

	results, summary, err := NewRunner(dag, RunnerConfig{Dispatcher: disp, MaxConcurrent: 2}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	want := map[string]Status{
		"task1": StatusFailed,
		"task2": StatusSucceeded,
		"task3": StatusSkipped,
		"task4": StatusSucceeded,
		"task5": StatusSucceeded,
	}
	for id, st := range want {
		if results[id] == nil || results[id].Status != st {
			t.Errorf("task %s = %v, want %v", id, results[id], st)
		}
	}
	if summary.Total != 5 || summary.Succeeded != 3 || summary.Failed != 1 || summary.Skipped != 1 {
		t.Errorf("summary = %+v, want 3/1/1 over 5", summary)
	}

	// Failures cover both the failed and the skipped task, ordered by ID.
	if len(summary.Failures) != 2 || summary.Failures[0].TaskID != "task1" || summary.Failures[1].TaskID != "task3" {
		t.Errorf("Failures = %+v, want [task1 task3]", summary.Failures)
	}

	// The skipped task never reached the dispatcher.
	if disp.callCount() != 4 {
		t.Errorf("dispatcher calls = %d, want 4", disp.callCount())
	}
}

// TestRunConcurrencyBound: in-flight dispatcher calls never exceed the
// configured limit, even with far more independent tasks than slots.
func TestRunConcurrencyBound(t *testing.T) {
	deps := map[string][]string{}
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"} {
		deps[id] = nil
	}
	dag := buildDAG(t, deps)
	disp := &fakeDispatcher{delay: 20 * time.Millisecond}

	_, summary, err := NewRunner(dag, RunnerConfig{Dispatcher: disp, MaxConcurrent: 3}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if summary.Succeeded != 10 {
		t.Fatalf("succeeded = %d, want 10", summary.Succeeded)
	}
	if peak := disp.maxObserved.Load(); peak > 3 {
		t.Errorf("peak in-flight calls = %d, want <= 3", peak)
	}
}

// TestRunDiamond: both branches run after the root, the join runs last.
func TestRunDiamond(t *testing.T) {
	dag := buildDAG(t, map[string][]string{
		"root":  nil,
		"left":  {"root"},
		"right": {"root"},
		"join":  {"left", "right"},
	})
	disp := &fakeDispatcher{}

	results, summary, err := NewRunner(dag, RunnerConfig{Dispatcher: disp, MaxConcurrent: 4}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if summary.Succeeded != 4 {
		t.Fatalf("summary = %+v, want 4 successes", summary)
	}
	if results["join"].FinishedAt.Before(results["left"].FinishedAt) ||
		results["join"].FinishedAt.Before(results["right"].FinishedAt) {
		t.Error("join finished before its dependencies")
	}

	disp.mu.Lock()
	first, last := disp.calls[0], disp.calls[len(disp.calls)-1]
	disp.mu.Unlock()
	if first != "root" || last != "join" {
		t.Errorf("call order starts %q ends %q, want root..join", first, last)
	}
}

// TestRunCycleExecutesNothing: a cyclic graph fails validation before any
// task is dispatched.
func TestRunCycleExecutesNothing(t *testing.T) {
	dag := buildDAG(t, map[string][]string{
		"a": {"c"},
		"b": {"a"},
		"c": {"b"},
	})
	disp := &fakeDispatcher{}

	_, _, err := NewRunner(dag, RunnerConfig{Dispatcher: disp}).Run(context.Background())
	if !errors.Is(err, ErrCyclicDependency) {
		t.Fatalf("Run() error = %v, want ErrCyclicDependency", err)
	}
	if disp.callCount() != 0 {
		t.Errorf("dispatcher calls = %d, want 0", disp.callCount())
	}
}

// TestRunCancellation: cancelling mid-run marks in-flight work failed and
// never-started work skipped; every task still reaches a terminal status.
func TestRunCancellation(t *testing.T) {
	dag := buildDAG(t, map[string][]string{
		"slow1": nil,
		"slow2": nil,
		"after": {"slow1", "slow2"},
	})
	disp := &fakeDispatcher{delay: time.Second}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	results, summary, err := NewRunner(dag, RunnerConfig{Dispatcher: disp, MaxConcurrent: 4}).Run(ctx)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("cancellation did not shorten the run")
	}

	if summary.Total != 3 {
		t.Fatalf("summary.Total = %d, want 3", summary.Total)
	}
	for _, id := range []string{"slow1", "slow2"} {
		res := results[id]
		if res.Status != StatusFailed {
			t.Errorf("in-flight task %s = %v, want failed", id, res.Status)
		}
		if res.Cause == nil || !errors.Is(res.Cause, context.Canceled) {
			t.Errorf("task %s cause = %v, want context.Canceled", id, res.Cause)
		}
	}
	if res := results["after"]; res.Status != StatusSkipped {
		t.Errorf("never-started task = %v, want skipped", res.Status)
	}
}

// recordingSink collects persisted results.
type recordingSink struct {
	mu    sync.Mutex
	saved map[string]Status
	runID string
}

func (s *recordingSink) SaveResult(ctx context.Context, runID string, res *Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saved == nil {
		s.saved = make(map[string]Status)
	}
	s.saved[res.TaskID] = res.Status
	s.runID = runID
	return nil
}

func TestRunPersistsEveryTerminalResult(t *testing.T) {
	dag := buildDAG(t, map[string][]string{
		"ok":      nil,
		"bad":     nil,
		"blocked": {"bad"},
	})
	disp := &fakeDispatcher{failures: map[string]error{"bad": errors.New("nope")}}
	sink := &recordingSink{}
	r := NewRunner(dag, RunnerConfig{Dispatcher: disp, Sink: sink})

	if _, _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.saved) != 3 {
		t.Fatalf("sink saw %d results, want 3", len(sink.saved))
	}
	if sink.saved["ok"] != StatusSucceeded || sink.saved["bad"] != StatusFailed || sink.saved["blocked"] != StatusSkipped {
		t.Errorf("persisted statuses = %v", sink.saved)
	}
	if sink.runID != r.RunID() {
		t.Errorf("sink run ID = %q, want %q", sink.runID, r.RunID())
	}
}

func TestRunSingleTask(t *testing.T) {
	dag := buildDAG(t, map[string][]string{"only": nil})
	disp := &fakeDispatcher{}

	results, summary, err := NewRunner(dag, RunnerConfig{Dispatcher: disp}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if summary.Succeeded != 1 || summary.Failed != 0 {
		t.Errorf("summary = %+v", summary)
	}
	if !strings.HasPrefix(results["only"].Output, "done") {
		t.Errorf("output = %q", results["only"].Output)
	}
}
