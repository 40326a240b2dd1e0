// Package compose assembles a single merged artifact from selected
// versions of multiple sessions under a shared token budget.
package compose

import (
	"github.com/entrhq/distill/pkg/settings"
	"github.com/entrhq/distill/pkg/types"
)

// Allocate distributes totalBudget across components according to the
// strategy. The returned slice is positionally aligned with components and
// always sums to at most totalBudget.
//
// Strategies are pure functions; sessions supplies the original token
// counts the proportional strategy weighs by.
func Allocate(strategy string, components []settings.Component, totalBudget int, sessions map[string]*types.SessionEntry) ([]int, error) {
	n := len(components)
	if n == 0 {
		return nil, types.InvalidSettings("composition needs at least one component")
	}

	switch strategy {
	case "equal":
		per := totalBudget / n
		out := make([]int, n)
		for i := range out {
			out[i] = per
		}
		return out, nil

	case "proportional":
		weights := make([]float64, n)
		sum := 0.0
		for i, c := range components {
			entry := sessions[c.SessionID]
			if entry == nil {
				return nil, types.NotFound("session %s not registered", c.SessionID)
			}
			weights[i] = float64(entry.OriginalTokens)
			sum += weights[i]
		}
		if sum == 0 {
			// All-empty sessions degrade to the equal strategy.
			return Allocate("equal", components, totalBudget, sessions)
		}
		return weighted(weights, sum, totalBudget), nil

	case "recency":
		// Later components receive strictly larger weight than earlier
		// ones: a linear ramp over positions.
		weights := make([]float64, n)
		sum := 0.0
		for i := range weights {
			weights[i] = float64(i + 1)
			sum += weights[i]
		}
		return weighted(weights, sum, totalBudget), nil

	case "manual":
		out := make([]int, n)
		sum := 0
		for i, c := range components {
			if c.Budget < 0 {
				return nil, types.InvalidSettings("negative budget for session %s", c.SessionID)
			}
			out[i] = c.Budget
			sum += c.Budget
		}
		if sum > totalBudget {
			return nil, types.InvalidSettings("manual allocations sum to %d, over budget %d", sum, totalBudget)
		}
		return out, nil

	default:
		return nil, types.InvalidSettings("unknown allocation strategy %q", strategy)
	}
}

func weighted(weights []float64, sum float64, totalBudget int) []int {
	out := make([]int, len(weights))
	for i, w := range weights {
		out[i] = int(float64(totalBudget) * w / sum)
	}
	return out
}
