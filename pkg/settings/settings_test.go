package settings

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/distill/pkg/types"
)

func TestParseCompressionDelta(t *testing.T) {
	raw := []byte(`{"session_id":"s1","mode":"delta","level":"moderate","ratio":30}`)
	c, err := ParseCompression(raw)
	require.NoError(t, err)

	assert.Equal(t, "s1", c.SessionID)
	assert.Equal(t, 30.0, c.Ratio)
	mode, ok := c.Mode.(types.DeltaMode)
	require.True(t, ok, "mode should be DeltaMode, got %T", c.Mode)
	assert.Equal(t, types.LevelModerate, mode.Level)
}

func TestParseCompressionTiered(t *testing.T) {
	raw := []byte(`{"session_id":"s1","mode":"tiered","tiers":[
		{"level":"aggressive","fraction":0.5},
		{"level":"light","fraction":0.5}]}`)
	c, err := ParseCompression(raw)
	require.NoError(t, err)

	mode, ok := c.Mode.(types.TieredMode)
	require.True(t, ok)
	require.Len(t, mode.Tiers, 2)

	level, err := types.ModeLevel(c.Mode)
	require.NoError(t, err)
	assert.Equal(t, types.LevelAggressive, level)
}

func TestParseCompressionInvalid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"missing session", `{"mode":"delta","level":"light"}`},
		{"unknown mode", `{"session_id":"s1","mode":"reverse","level":"light"}`},
		{"unknown level", `{"session_id":"s1","mode":"uniform","level":"extreme"}`},
		{"ratio out of range", `{"session_id":"s1","mode":"uniform","level":"light","ratio":150}`},
		{"tiered without tiers", `{"session_id":"s1","mode":"tiered"}`},
		{"tier fractions off", `{"session_id":"s1","mode":"tiered","tiers":[{"level":"light","fraction":0.3}]}`},
		{"uniform without level", `{"session_id":"s1","mode":"uniform"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCompression([]byte(tt.raw))
			require.Error(t, err)
			assert.Equal(t, types.KindInvalidSettings, types.KindOf(err))
		})
	}
}

func TestParseComposition(t *testing.T) {
	raw := []byte(`{
		"total_budget": 9000,
		"strategy": "equal",
		"components": [
			{"session_id":"a"},
			{"session_id":"b","version":"original"},
			{"session_id":"c","version":4}
		]}`)
	c, err := ParseComposition(raw)
	require.NoError(t, err)

	assert.Equal(t, 9000, c.TotalBudget)
	assert.Equal(t, types.FormatMarkdown, c.Format)
	require.Len(t, c.Components, 3)
	assert.True(t, c.Components[0].Choice.Auto)
	assert.True(t, c.Components[1].Choice.Original)
	assert.Equal(t, 4, c.Components[2].Choice.VersionID)
}

func TestParseCompositionManualBudgets(t *testing.T) {
	ok := []byte(`{
		"total_budget": 1000,
		"strategy": "manual",
		"components": [
			{"session_id":"a","budget":600},
			{"session_id":"b","budget":400}
		]}`)
	_, err := ParseComposition(ok)
	require.NoError(t, err)

	over := []byte(`{
		"total_budget": 1000,
		"strategy": "manual",
		"components": [
			{"session_id":"a","budget":600},
			{"session_id":"b","budget":600}
		]}`)
	_, err = ParseComposition(over)
	require.Error(t, err)
	assert.Equal(t, types.KindInvalidSettings, types.KindOf(err))
}

func TestParseCompositionInvalid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"zero budget", `{"total_budget":0,"strategy":"equal","components":[{"session_id":"a"}]}`},
		{"unknown strategy", `{"total_budget":100,"strategy":"random","components":[{"session_id":"a"}]}`},
		{"no components", `{"total_budget":100,"strategy":"equal","components":[]}`},
		{"bad version choice", `{"total_budget":100,"strategy":"equal","components":[{"session_id":"a","version":"latest"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseComposition([]byte(tt.raw))
			require.Error(t, err)
			assert.Equal(t, types.KindInvalidSettings, types.KindOf(err))
		})
	}
}
