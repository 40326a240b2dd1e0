package compose

import (
	"math"

	"github.com/entrhq/distill/pkg/types"
)

// overBudgetPenalty is applied when a version exceeds its allocation:
// heavy but non-zero, so a least-bad over-budget version can still win
// when nothing fits.
const overBudgetPenalty = 0.1

// Criteria steers version scoring for one allocation.
type Criteria struct {
	// MaxTokens is the component's (or part's) allocated budget.
	MaxTokens int

	// PreferRatio, when non-zero, rewards versions whose compression ratio
	// is close to it.
	PreferRatio float64

	// PrioritizePreservation rewards versions that kept more markers
	// verbatim.
	PrioritizePreservation bool
}

// Score rates a version against the criteria on [0, 1] using a
// multiplicative penalty model.
func Score(rec *types.CompressionRecord, c Criteria) float64 {
	score := 1.0

	if c.MaxTokens > 0 {
		if rec.OutputTokens > c.MaxTokens {
			score *= overBudgetPenalty
		} else {
			// Reward fuller budget utilization without exceeding it.
			score *= 0.5 + 0.5*(float64(rec.OutputTokens)/float64(c.MaxTokens))
		}
	}

	if c.PreferRatio > 0 {
		score *= math.Max(0.5, 1-math.Abs(rec.Ratio-c.PreferRatio)/50)
	}

	if c.PrioritizePreservation {
		total := rec.Preservation.Preserved + rec.Preservation.Summarized
		if total > 0 {
			score *= 0.5 + 0.5*(float64(rec.Preservation.Preserved)/float64(total))
		}
	}

	return score
}
