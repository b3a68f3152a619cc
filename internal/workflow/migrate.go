package workflow

import (
	"encoding/json"
	"fmt"
	"time"
)

// legacyPhaseStatus maps superseded phase status spellings to the current
// enum. Anything absent here is ambiguous and surfaces as a load warning.
var legacyPhaseStatus = map[string]PhaseStatus{
	"pending":     PhaseNotStarted,
	"not_started": PhaseNotStarted,
	"active":      PhaseInProgress,
	"running":     PhaseInProgress,
	"wip":         PhaseInProgress,
	"review":      PhaseInReview,
	"in_review":   PhaseInReview,
	"done":        PhaseComplete,
	"completed":   PhaseComplete,
}

var legacyFeatureStatus = map[string]FeatureStatus{
	"new":         FeatureDefining,
	"onboarding":  FeatureDefining,
	"in_progress": FeatureImplementing,
	"active":      FeatureImplementing,
	"in_review":   FeatureReviewing,
	"done":        FeatureCompleted,
	"error":       FeatureFailed,
}

func validPhaseStatus(s PhaseStatus) bool {
	_, ok := phaseTransitions[s]
	return ok
}

func validFeatureStatus(s FeatureStatus) bool {
	switch s {
	case FeatureDefining, FeatureDecomposing, FeatureDesigning, FeatureImplementing,
		FeatureTesting, FeatureReviewing, FeatureCompleted, FeatureFailed:
		return true
	}
	return false
}

// migrate upgrades a raw state document to the current schema in memory.
// Missing fields get defaults; superseded statuses map to the nearest valid
// value; anything that cannot be unambiguously mapped is defaulted AND
// reported as a warning, never coerced silently.
func migrate(raw map[string]json.RawMessage, project string) (*Document, []string, error) {
	doc := &Document{Version: SchemaVersion, Project: project, Features: map[string]*Feature{}}
	var warnings []string

	if v, ok := raw["project"]; ok {
		json.Unmarshal(v, &doc.Project)
	}

	var version int
	if v, ok := raw["version"]; ok {
		json.Unmarshal(v, &version)
	}
	if version > SchemaVersion {
		return nil, nil, fmt.Errorf("state document version %d is newer than supported %d", version, SchemaVersion)
	}
	if version < SchemaVersion {
		warnings = append(warnings, fmt.Sprintf("migrated state document from version %d to %d", version, SchemaVersion))
	}

	featuresRaw, ok := raw["features"]
	if !ok {
		return doc, warnings, nil
	}
	var features map[string]json.RawMessage
	if err := json.Unmarshal(featuresRaw, &features); err != nil {
		return nil, nil, fmt.Errorf("parsing features: %w", err)
	}

	for id, fraw := range features {
		f, w := migrateFeature(id, fraw)
		warnings = append(warnings, w...)
		doc.Features[id] = f
	}
	return doc, warnings, nil
}

func migrateFeature(id string, raw json.RawMessage) (*Feature, []string) {
	var warnings []string
	var f Feature
	if err := json.Unmarshal(raw, &f); err != nil {
		warnings = append(warnings, fmt.Sprintf("feature %q: unreadable record, reset to defaults (%v)", id, err))
		return NewFeature(id, ""), warnings
	}
	f.ID = id

	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
		warnings = append(warnings, fmt.Sprintf("feature %q: missing created_at, stamped with load time", id))
	}

	if len(f.Phases) == 0 {
		f.Phases = NewFeature(id, f.Prompt).Phases
		warnings = append(warnings, fmt.Sprintf("feature %q: missing phases, seeded defaults", id))
	}
	for i := range f.Phases {
		p := &f.Phases[i]
		if validPhaseStatus(p.Status) {
			continue
		}
		if mapped, ok := legacyPhaseStatus[string(p.Status)]; ok {
			p.Status = mapped
			continue
		}
		warnings = append(warnings, fmt.Sprintf("feature %q phase %q: ambiguous status %q, defaulted to not-started", id, p.Name, p.Status))
		p.Status = PhaseNotStarted
	}

	if !validFeatureStatus(f.Status) {
		if mapped, ok := legacyFeatureStatus[string(f.Status)]; ok {
			f.Status = mapped
		} else {
			derived := DeriveStatus(f.Phases)
			warnings = append(warnings, fmt.Sprintf("feature %q: ambiguous status %q, derived %q from phases", id, f.Status, derived))
			f.Status = derived
		}
	}
	return &f, warnings
}
