package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aristath/dispatch/internal/agent"
	"github.com/aristath/dispatch/internal/config"
	"github.com/aristath/dispatch/internal/events"
	"github.com/aristath/dispatch/internal/orchestrator"
	"github.com/aristath/dispatch/internal/persistence"
	"github.com/aristath/dispatch/internal/scheduler"
	"github.com/aristath/dispatch/internal/workflow"
)

func main() {
	batchPath := flag.String("batch", "", "path to a JSON batch file")
	stateDir := flag.String("state", ".dispatch", "directory for workflow state and metadata")
	project := flag.String("project", "default", "project name for the workflow document")
	flag.Parse()

	if *batchPath == "" {
		fmt.Fprintln(os.Stderr, "usage: dispatch -batch tasks.json [-state dir] [-project name]")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *batchPath, *stateDir, *project); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, batchPath, stateDir, project string) error {
	cfg, err := config.LoadDefault()
	if err != nil {
		return err
	}

	bus := events.NewBus()
	defer bus.Close()
	go logEvents(bus.SubscribeAll(0))

	registry := orchestrator.New(cfg.BuildMatrix(), cfg.ResilienceConfig(), bus)
	for name, settings := range cfg.Agents {
		if settings.Disabled || settings.Command == "" {
			continue
		}
		id := agent.ID(name)
		registry.Register(id, agent.NewCommandExecutor(id, settings.Command, settings.Args...))
	}
	if len(registry.ListAvailable()) == 0 {
		return errors.New("no agents configured with a runnable command")
	}

	batch, err := scheduler.LoadBatch(batchPath)
	if err != nil {
		return err
	}
	dag, err := batch.BuildDAG()
	if err != nil {
		return err
	}

	store, err := persistence.NewSQLiteStore(ctx, filepath.Join(stateDir, "dispatch.db"))
	if err != nil {
		return err
	}
	defer store.Close()

	maxConcurrent := batch.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = cfg.Scheduler.MaxConcurrent
	}
	runner := scheduler.NewRunner(dag, scheduler.RunnerConfig{
		Dispatcher:    registry,
		MaxConcurrent: maxConcurrent,
		Bus:           bus,
		Sink:          store,
	})
	if err := store.BeginRun(ctx, runner.RunID()); err != nil {
		return err
	}

	results, summary, err := runner.Run(ctx)
	if err != nil {
		return err
	}
	if err := store.FinishRun(context.Background(), runner.RunID(), summary); err != nil {
		log.Printf("recording run summary: %v", err)
	}

	recordWorkflow(dag, results, stateDir, project)
	printSummary(summary)
	return nil
}

// recordWorkflow feeds successful task outputs into the per-project
// workflow document for tasks that declared a feature/phase binding.
func recordWorkflow(dag *scheduler.DAG, results map[string]*scheduler.Result, stateDir, project string) {
	store, err := workflow.Open(filepath.Join(stateDir, "state"), project)
	if err != nil {
		log.Printf("workflow state unavailable: %v", err)
		return
	}
	defer store.Close()

	declared := map[string]bool{}
	for id, res := range results {
		t, ok := dag.Task(id)
		if !ok || t.Feature == "" || t.Phase == "" || res.Status != scheduler.StatusSucceeded {
			continue
		}
		if !declared[t.Feature] {
			// Declare lazily; an already-declared feature is fine.
			if err := store.Declare(t.Feature, t.Request.Payload, "dispatch"); err == nil {
				log.Printf("declared feature %q", t.Feature)
			}
			declared[t.Feature] = true
		}
		if err := store.AttachOutput(t.Feature, t.Phase, res.Output); err != nil {
			log.Printf("attaching output for %s/%s: %v", t.Feature, t.Phase, err)
			continue
		}
		advancePhase(store, t.Feature, t.Phase)
	}
}

// advancePhase walks a phase to in-review after its task output landed.
// Review and completion stay with the human in the loop.
func advancePhase(store *workflow.Store, feature, phase string) {
	for _, to := range []workflow.PhaseStatus{workflow.PhaseInProgress, workflow.PhaseInReview} {
		if err := store.Transition(feature, phase, to, "dispatch"); err != nil {
			if !errors.Is(err, workflow.ErrInvalidTransition) {
				log.Printf("advancing %s/%s to %s: %v", feature, phase, to, err)
			}
		}
	}
}

func logEvents(ch <-chan events.Event) {
	for ev := range ch {
		switch ev.Type {
		case events.TaskStarted:
			log.Printf("task %s started", ev.TaskID)
		case events.TaskSucceeded:
			log.Printf("task %s succeeded (agent %s)", ev.TaskID, ev.Agent)
		case events.TaskFailed:
			log.Printf("task %s failed: %s", ev.TaskID, ev.Detail)
		case events.TaskSkipped:
			log.Printf("task %s skipped: %s", ev.TaskID, ev.Detail)
		case events.BreakerChange:
			log.Printf("breaker %s: %s -> %s", ev.Agent, ev.From, ev.To)
		}
	}
}

func printSummary(s scheduler.Summary) {
	fmt.Printf("%d tasks in %s: %d succeeded, %d failed, %d skipped\n",
		s.Total, s.Duration.Round(time.Millisecond), s.Succeeded, s.Failed, s.Skipped)
	for _, f := range s.Failures {
		fmt.Printf("  %s: %v\n", f.TaskID, f.Cause)
	}
}
