package compose

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/distill/pkg/settings"
	"github.com/entrhq/distill/pkg/types"
)

func comps(ids ...string) []settings.Component {
	out := make([]settings.Component, len(ids))
	for i, id := range ids {
		out[i] = settings.Component{SessionID: id, Choice: types.AutoChoice()}
	}
	return out
}

func sessions(tokens map[string]int) map[string]*types.SessionEntry {
	out := make(map[string]*types.SessionEntry, len(tokens))
	for id, tok := range tokens {
		out[id] = &types.SessionEntry{ID: id, OriginalTokens: tok}
	}
	return out
}

func TestAllocateEqual(t *testing.T) {
	got, err := Allocate("equal", comps("a", "b", "c"), 9000, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{3000, 3000, 3000}, got)

	// Uneven division floors; all allocations within 1 unit of each other
	// and the sum within budget.
	got, err = Allocate("equal", comps("a", "b", "c"), 100, nil)
	require.NoError(t, err)
	sum := 0
	for _, b := range got {
		assert.InDelta(t, got[0], b, 1)
		sum += b
	}
	assert.LessOrEqual(t, sum, 100)
}

func TestAllocateProportional(t *testing.T) {
	s := sessions(map[string]int{"a": 1000, "b": 3000})
	got, err := Allocate("proportional", comps("a", "b"), 4000, s)
	require.NoError(t, err)
	assert.Equal(t, []int{1000, 3000}, got)

	// Unregistered session is NotFound.
	_, err = Allocate("proportional", comps("a", "ghost"), 4000, s)
	assert.Equal(t, types.KindNotFound, types.KindOf(err))
}

func TestAllocateRecency(t *testing.T) {
	got, err := Allocate("recency", comps("a", "b", "c"), 6000, nil)
	require.NoError(t, err)

	// Strictly increasing by position, and within budget.
	sum := 0
	for i := 1; i < len(got); i++ {
		assert.Greater(t, got[i], got[i-1])
	}
	for _, b := range got {
		sum += b
	}
	assert.LessOrEqual(t, sum, 6000)
}

func TestAllocateManual(t *testing.T) {
	components := []settings.Component{
		{SessionID: "a", Budget: 700},
		{SessionID: "b", Budget: 300},
	}
	got, err := Allocate("manual", components, 1000, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{700, 300}, got)

	over := []settings.Component{
		{SessionID: "a", Budget: 700},
		{SessionID: "b", Budget: 500},
	}
	_, err = Allocate("manual", over, 1000, nil)
	assert.Equal(t, types.KindInvalidSettings, types.KindOf(err))
}

func TestAllocateSumsWithinBudget(t *testing.T) {
	s := sessions(map[string]int{"a": 123, "b": 7777, "c": 31})
	for _, strategy := range []string{"equal", "proportional", "recency"} {
		for _, budget := range []int{1, 10, 999, 12345} {
			got, err := Allocate(strategy, comps("a", "b", "c"), budget, s)
			require.NoError(t, err, strategy)
			sum := 0
			for _, b := range got {
				sum += b
			}
			assert.LessOrEqual(t, sum, budget, "strategy %s budget %d", strategy, budget)
		}
	}
}

func TestAllocateUnknownStrategy(t *testing.T) {
	_, err := Allocate("random", comps("a"), 100, nil)
	assert.Equal(t, types.KindInvalidSettings, types.KindOf(err))
}
