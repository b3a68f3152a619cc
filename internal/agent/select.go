package agent

import (
	"errors"
	"fmt"
	"sort"
)

// Selection errors. ErrNoCapableAgent means nothing in the matrix satisfies
// the task's hard requirements; ErrNoAgentAvailable means capable agents
// exist but none is currently usable. Callers can retry the latter.
var (
	ErrNoCapableAgent   = errors.New("no registered agent satisfies the task requirements")
	ErrNoAgentAvailable = errors.New("all capable agents are currently unavailable")
)

// Availability reports whether an agent can be called right now
// (registered and circuit-breaker closed or half-open).
type Availability func(id ID) bool

// Select returns the ordered fallback chain of agents for a request:
// most-preferred first, never empty on success.
//
// The chain is built in four steps: hard eligibility (plan approval flag,
// context limit), preferred-agent promotion, affinity ranking with a fixed
// ID tie-break, and finally an availability filter. Identical input always
// yields an identical chain.
func Select(m Matrix, req Request, available Availability) ([]ID, error) {
	// Step 1: hard requirements.
	eligible := make([]Descriptor, 0, len(m))
	for _, id := range m.IDs() {
		d := m[id]
		if req.RequiresPlanApproval && !d.SupportsPlanApproval {
			continue
		}
		if d.MaxContext < req.ContextSize {
			continue
		}
		eligible = append(eligible, d)
	}
	if len(eligible) == 0 {
		return nil, fmt.Errorf("%w (plan approval: %v, context: %d)",
			ErrNoCapableAgent, req.RequiresPlanApproval, req.ContextSize)
	}

	// Steps 2+3: preferred agent first, remainder by affinity score.
	// Matrix.IDs() iteration above already fixed the tie-break order, and
	// sort.SliceStable preserves it between equal scores.
	sort.SliceStable(eligible, func(i, j int) bool {
		return affinity(eligible[i], req) > affinity(eligible[j], req)
	})
	chain := make([]ID, 0, len(eligible))
	if req.PreferredAgent != "" {
		for _, d := range eligible {
			if d.ID == req.PreferredAgent {
				chain = append(chain, d.ID)
				break
			}
		}
	}
	for _, d := range eligible {
		if d.ID != req.PreferredAgent {
			chain = append(chain, d.ID)
		}
	}

	// Step 4: drop agents the registry reports unusable.
	if available != nil {
		usable := chain[:0]
		for _, id := range chain {
			if available(id) {
				usable = append(usable, id)
			}
		}
		chain = usable
	}
	if len(chain) == 0 {
		return nil, ErrNoAgentAvailable
	}
	return chain, nil
}

// affinity scores how well an agent fits a request. Heavy work favors async
// sessions and large context windows; light work favors the cheap tiers.
func affinity(d Descriptor, req Request) int {
	score := 0
	switch {
	case req.Complexity >= Complex:
		if d.SupportsAsync {
			score += 4
		}
		if d.MaxContext >= 50000 {
			score += 3
		} else if d.MaxContext >= 10000 {
			score += 1
		}
		score += int(d.Tier) // Heavy tiers suit heavy work
	case req.Complexity <= Simple:
		score += int(TierHeavy-d.Tier) * 3 // Cheapest tier first
	default:
		if d.MaxContext >= req.ContextSize*2 {
			score += 2 // Headroom over the bare minimum
		}
		score += int(TierHeavy - d.Tier)
	}
	return score
}
