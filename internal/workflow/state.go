package workflow

import (
	"errors"
	"fmt"
	"time"
)

// FeatureStatus is the lifecycle state of one feature.
type FeatureStatus string

const (
	FeatureDefining     FeatureStatus = "defining"
	FeatureDecomposing  FeatureStatus = "decomposing"
	FeatureDesigning    FeatureStatus = "designing"
	FeatureImplementing FeatureStatus = "implementing"
	FeatureTesting      FeatureStatus = "testing"
	FeatureReviewing    FeatureStatus = "reviewing"
	FeatureCompleted    FeatureStatus = "completed"
	FeatureFailed       FeatureStatus = "failed"
)

// PhaseStatus is the state of one phase within a feature.
type PhaseStatus string

const (
	PhaseNotStarted PhaseStatus = "not-started"
	PhaseInProgress PhaseStatus = "in-progress"
	PhaseBlocked    PhaseStatus = "blocked"
	PhaseInReview   PhaseStatus = "in-review"
	PhaseComplete   PhaseStatus = "complete"
	PhaseSkipped    PhaseStatus = "skipped"
)

// ErrInvalidTransition rejects a state change outside the allow-list.
// The stored state is left untouched.
var ErrInvalidTransition = errors.New("invalid state transition")

// phaseTransitions is the allow-list: a phase may only move along these
// edges. Complete is reachable only from in-review.
var phaseTransitions = map[PhaseStatus][]PhaseStatus{
	PhaseNotStarted: {PhaseInProgress, PhaseSkipped},
	PhaseInProgress: {PhaseBlocked, PhaseInReview, PhaseSkipped},
	PhaseBlocked:    {PhaseInProgress, PhaseSkipped},
	PhaseInReview:   {PhaseInProgress, PhaseComplete},
	PhaseComplete:   {},
	PhaseSkipped:    {},
}

// Phase is one step of a feature's workflow.
type Phase struct {
	Name      string      `json:"name"`
	Status    PhaseStatus `json:"status"`
	Outputs   []string    `json:"outputs,omitempty"` // Task outputs attached to this phase
	UpdatedAt time.Time   `json:"updated_at,omitempty"`
}

// Feature is a persisted unit of work whose phases the scheduler's task
// results feed into.
type Feature struct {
	ID          string        `json:"id"`
	Status      FeatureStatus `json:"status"`
	Prompt      string        `json:"prompt,omitempty"`
	Phases      []Phase       `json:"phases"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

// NewFeature creates a feature with the standard six phases, all not-started.
func NewFeature(id, prompt string) *Feature {
	names := []string{"define", "decompose", "design", "implement", "test", "review"}
	phases := make([]Phase, len(names))
	for i, n := range names {
		phases[i] = Phase{Name: n, Status: PhaseNotStarted}
	}
	return &Feature{
		ID:        id,
		Status:    FeatureDefining,
		Prompt:    prompt,
		Phases:    phases,
		CreatedAt: time.Now().UTC(),
	}
}

// PhaseByName returns a pointer to the named phase.
func (f *Feature) PhaseByName(name string) (*Phase, bool) {
	for i := range f.Phases {
		if f.Phases[i].Name == name {
			return &f.Phases[i], true
		}
	}
	return nil, false
}

// TransitionPhase moves one phase to a new status if the allow-list permits
// it, then re-derives the feature status. On error nothing is mutated.
func (f *Feature) TransitionPhase(name string, to PhaseStatus) error {
	p, ok := f.PhaseByName(name)
	if !ok {
		return fmt.Errorf("feature %q has no phase %q", f.ID, name)
	}
	if !transitionAllowed(p.Status, to) {
		return fmt.Errorf("%w: phase %q %s -> %s", ErrInvalidTransition, name, p.Status, to)
	}

	now := time.Now().UTC()
	p.Status = to
	p.UpdatedAt = now
	f.UpdatedAt = now
	f.Status = DeriveStatus(f.Phases)
	if f.Status == FeatureCompleted && f.CompletedAt == nil {
		f.CompletedAt = &now
	}
	return nil
}

// MarkFailed moves the feature to failed. Allowed from any non-terminal
// status; completed features cannot fail retroactively.
func (f *Feature) MarkFailed() error {
	if f.Status == FeatureCompleted {
		return fmt.Errorf("%w: feature %q is already completed", ErrInvalidTransition, f.ID)
	}
	f.Status = FeatureFailed
	f.UpdatedAt = time.Now().UTC()
	return nil
}

func transitionAllowed(from, to PhaseStatus) bool {
	for _, allowed := range phaseTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// featureStatusForPhase maps a canonical phase name to the feature status it
// implies while active.
var featureStatusForPhase = map[string]FeatureStatus{
	"define":    FeatureDefining,
	"decompose": FeatureDecomposing,
	"design":    FeatureDesigning,
	"implement": FeatureImplementing,
	"test":      FeatureTesting,
	"review":    FeatureReviewing,
}

// DeriveStatus computes the feature status from its phases: the first phase
// that is not yet complete or skipped names the current lifecycle stage;
// when all phases are done the feature is completed. Pure function of the
// phase list, so persisted status can always be recomputed.
func DeriveStatus(phases []Phase) FeatureStatus {
	if len(phases) == 0 {
		return FeatureDefining
	}
	for _, p := range phases {
		if p.Status == PhaseComplete || p.Status == PhaseSkipped {
			continue
		}
		if fs, ok := featureStatusForPhase[p.Name]; ok {
			return fs
		}
		return FeatureImplementing
	}
	return FeatureCompleted
}
