package scheduler

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/aristath/dispatch/internal/agent"
)

// BatchTask is the on-disk shape of one submitted task.
type BatchTask struct {
	ID                   string   `json:"id"`
	Payload              string   `json:"payload"`
	Complexity           string   `json:"complexity,omitempty"` // trivial|simple|moderate|complex|epic
	RequiresPlanApproval bool     `json:"requires_plan_approval,omitempty"`
	ContextSize          int      `json:"context_size,omitempty"`
	PreferredAgent       string   `json:"preferred_agent,omitempty"`
	DependsOn            []string `json:"depends_on,omitempty"`
	Feature              string   `json:"feature,omitempty"`
	Phase                string   `json:"phase,omitempty"`
}

// Batch is one submission: an ordered collection of tasks with explicit
// dependency IDs and a concurrency cap.
type Batch struct {
	MaxConcurrent int         `json:"max_concurrent,omitempty"`
	Tasks         []BatchTask `json:"tasks"`
}

// LoadBatch reads a batch file.
func LoadBatch(path string) (*Batch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading batch file: %w", err)
	}
	var b Batch
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if len(b.Tasks) == 0 {
		return nil, fmt.Errorf("batch %s contains no tasks", path)
	}
	return &b, nil
}

// BuildDAG converts the batch into a validated-shape graph. Cycle detection
// happens later in Runner.Run; this only rejects duplicates and empty IDs.
func (b *Batch) BuildDAG() (*DAG, error) {
	dag := NewDAG()
	for _, bt := range b.Tasks {
		if bt.ID == "" {
			return nil, fmt.Errorf("batch task with empty id")
		}
		t := &Task{
			ID: bt.ID,
			Request: agent.Request{
				Payload:              bt.Payload,
				Complexity:           agent.ParseComplexity(bt.Complexity),
				RequiresPlanApproval: bt.RequiresPlanApproval,
				ContextSize:          bt.ContextSize,
				PreferredAgent:       agent.ID(bt.PreferredAgent),
			},
			DependsOn: bt.DependsOn,
			Feature:   bt.Feature,
			Phase:     bt.Phase,
		}
		if t.Request.ContextSize <= 0 {
			t.Request.ContextSize = 1000
		}
		if err := dag.Add(t); err != nil {
			return nil, err
		}
	}
	return dag, nil
}
