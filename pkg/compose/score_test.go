package compose

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/entrhq/distill/pkg/types"
)

func TestScoreOverBudgetPenalty(t *testing.T) {
	over := &types.CompressionRecord{OutputTokens: 3200}
	under := &types.CompressionRecord{OutputTokens: 2400}
	c := Criteria{MaxTokens: 3000}

	overScore := Score(over, c)
	underScore := Score(under, c)

	assert.InDelta(t, 0.1, overScore, 1e-9)
	assert.Greater(t, underScore, overScore, "fitting version must beat over-budget one")
}

func TestScoreRewardsUtilization(t *testing.T) {
	c := Criteria{MaxTokens: 3000}
	full := Score(&types.CompressionRecord{OutputTokens: 2900}, c)
	slim := Score(&types.CompressionRecord{OutputTokens: 500}, c)
	assert.Greater(t, full, slim)

	// Exactly at budget: 0.5 + 0.5*1 = 1.0.
	assert.InDelta(t, 1.0, Score(&types.CompressionRecord{OutputTokens: 3000}, c), 1e-9)
}

func TestScorePreferredRatio(t *testing.T) {
	c := Criteria{MaxTokens: 3000, PreferRatio: 30}
	near := Score(&types.CompressionRecord{OutputTokens: 1000, Ratio: 32}, c)
	far := Score(&types.CompressionRecord{OutputTokens: 1000, Ratio: 80}, c)
	assert.Greater(t, near, far)

	// The ratio factor never drops below 0.5.
	base := Score(&types.CompressionRecord{OutputTokens: 1000}, Criteria{MaxTokens: 3000})
	assert.GreaterOrEqual(t, far, base*0.5-1e-9)
}

func TestScorePreservationPriority(t *testing.T) {
	good := &types.CompressionRecord{
		OutputTokens: 1000,
		Preservation: types.PreservationStats{Preserved: 9, Summarized: 1},
	}
	bad := &types.CompressionRecord{
		OutputTokens: 1000,
		Preservation: types.PreservationStats{Preserved: 1, Summarized: 9},
	}
	c := Criteria{MaxTokens: 3000, PrioritizePreservation: true}
	assert.Greater(t, Score(good, c), Score(bad, c))

	// Without the flag, preservation stats are ignored.
	plain := Criteria{MaxTokens: 3000}
	assert.Equal(t, Score(good, plain), Score(bad, plain))
}

func TestScoreBounded(t *testing.T) {
	recs := []*types.CompressionRecord{
		{OutputTokens: 0},
		{OutputTokens: 5000, Ratio: 99, Preservation: types.PreservationStats{Preserved: 1, Summarized: 99}},
		{OutputTokens: 2999, Ratio: 30, Preservation: types.PreservationStats{Preserved: 50}},
	}
	c := Criteria{MaxTokens: 3000, PreferRatio: 30, PrioritizePreservation: true}
	for _, rec := range recs {
		s := Score(rec, c)
		assert.GreaterOrEqual(t, s, 0.0)
		assert.LessOrEqual(t, s, 1.0)
	}
}
