package agent

import "sort"

// ID identifies a registered agent (e.g., "jules", "copilot").
type ID string

// Tier is a coarse latency/cost bucket. Lower tiers are cheaper and faster;
// higher tiers are slower but handle bigger work.
type Tier int

const (
	TierFast     Tier = iota // CLI round-trip, cheap, small context
	TierStandard             // Interactive, mid-sized context
	TierHeavy                // Long-running async sessions, full-repo context
)

// Descriptor declares one agent's capabilities. Descriptors are immutable
// after startup; the selection policy only reads them.
type Descriptor struct {
	ID                   ID
	SupportsAsync        bool // Long-running detached sessions
	SupportsPlanApproval bool // Interactive plan-approval step
	MaxContext           int  // Maximum context size (lines) the agent accepts
	Tier                 Tier
}

// Matrix is the static capability table keyed by agent ID.
type Matrix map[ID]Descriptor

// DefaultMatrix returns the built-in capability table.
// Config overrides may replace individual entries at startup.
func DefaultMatrix() Matrix {
	return Matrix{
		"jules":      {ID: "jules", SupportsAsync: true, SupportsPlanApproval: true, MaxContext: 100000, Tier: TierHeavy},
		"deepagents": {ID: "deepagents", SupportsAsync: true, MaxContext: 20000, Tier: TierHeavy},
		"rovodev":    {ID: "rovodev", MaxContext: 10000, Tier: TierStandard},
		"copilot":    {ID: "copilot", MaxContext: 5000, Tier: TierFast},
		"codex":      {ID: "codex", MaxContext: 8000, Tier: TierStandard},
		"gemini":     {ID: "gemini", MaxContext: 8000, Tier: TierFast},
		"qwen":       {ID: "qwen", MaxContext: 4000, Tier: TierFast},
	}
}

// Get returns the descriptor for an agent ID.
func (m Matrix) Get(id ID) (Descriptor, bool) {
	d, ok := m[id]
	return d, ok
}

// IDs returns all agent IDs in lexicographic order. The fixed order is what
// makes selection deterministic across runs.
func (m Matrix) IDs() []ID {
	ids := make([]ID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
