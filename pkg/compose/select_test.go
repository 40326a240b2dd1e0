package compose

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/distill/pkg/types"
)

func entryWithRecords(id string, originalTokens int, records ...types.CompressionRecord) *types.SessionEntry {
	return &types.SessionEntry{ID: id, OriginalTokens: originalTokens, Records: records}
}

func TestSelectNoCompressionsOriginalFits(t *testing.T) {
	entry := entryWithRecords("s", 800)
	sel, err := selectForSession(entry, types.AutoChoice(), 1000, Criteria{MaxTokens: 1000})
	require.NoError(t, err)
	assert.True(t, sel.UseOriginal)
}

func TestSelectNoCompressionsNeedsNew(t *testing.T) {
	entry := entryWithRecords("s", 10000)
	_, err := selectForSession(entry, types.AutoChoice(), 1000, Criteria{MaxTokens: 1000})

	var needs *NeedsNewCompressionError
	require.True(t, errors.As(err, &needs))
	assert.Equal(t, "s", needs.SessionID)
	// ceil(10000 / 1000) = 10.
	assert.Equal(t, 10, needs.SuggestedRatio)
}

func TestSelectPrefersOriginalWhenItFits(t *testing.T) {
	entry := entryWithRecords("s", 900,
		types.CompressionRecord{VersionID: 1, PartNumber: 1, OutputTokens: 300})
	sel, err := selectForSession(entry, types.AutoChoice(), 1000, Criteria{MaxTokens: 1000})
	require.NoError(t, err)
	assert.True(t, sel.UseOriginal, "fitting original beats any compressed version")
}

func TestSelectBestVersion(t *testing.T) {
	entry := entryWithRecords("s", 10000,
		types.CompressionRecord{VersionID: 1, PartNumber: 1, OutputTokens: 2900},
		types.CompressionRecord{VersionID: 2, PartNumber: 1, OutputTokens: 600})
	sel, err := selectForSession(entry, types.AutoChoice(), 3000, Criteria{})
	require.NoError(t, err)
	require.Len(t, sel.Parts, 1)
	assert.Equal(t, 1, sel.Parts[0].Record.VersionID, "fuller utilization wins")
}

func TestSelectCutoffSignalsNeedsNew(t *testing.T) {
	// Only version is over budget: score 0.1 < 0.5.
	entry := entryWithRecords("s", 10000,
		types.CompressionRecord{VersionID: 1, PartNumber: 1, OutputTokens: 5000})
	_, err := selectForSession(entry, types.AutoChoice(), 3000, Criteria{})

	var needs *NeedsNewCompressionError
	require.True(t, errors.As(err, &needs))
	assert.Equal(t, 1, needs.PartNumber)
}

func TestSelectMultiPartSubdivision(t *testing.T) {
	// Spec worked example: 3 parts, budget 9000 equal -> 3000/part. Part 2
	// has an over-budget 3200 version and a fitting alternative; the
	// alternative must win.
	entry := entryWithRecords("s", 50000,
		types.CompressionRecord{VersionID: 1, PartNumber: 1, OutputTokens: 2800,
			Range: types.MessageRange{StartIndex: 0, EndIndex: 100}},
		types.CompressionRecord{VersionID: 2, PartNumber: 2, OutputTokens: 3200,
			Range: types.MessageRange{StartIndex: 100, EndIndex: 180}},
		types.CompressionRecord{VersionID: 3, PartNumber: 2, OutputTokens: 2500,
			Range: types.MessageRange{StartIndex: 100, EndIndex: 180}},
		types.CompressionRecord{VersionID: 4, PartNumber: 3, OutputTokens: 2900,
			Range: types.MessageRange{StartIndex: 180, EndIndex: 250}})

	sel, err := selectForSession(entry, types.AutoChoice(), 9000, Criteria{})
	require.NoError(t, err)
	require.Len(t, sel.Parts, 3)

	// Strictly ascending part order.
	for i := 1; i < len(sel.Parts); i++ {
		assert.Greater(t, sel.Parts[i].PartNumber, sel.Parts[i-1].PartNumber)
	}
	assert.Equal(t, 3, sel.Parts[1].Record.VersionID, "over-budget 3200 version must lose to the 2500 one")
}

func TestSelectExplicitChoices(t *testing.T) {
	entry := entryWithRecords("s", 10000,
		types.CompressionRecord{VersionID: 7, PartNumber: 1, OutputTokens: 600})

	sel, err := selectForSession(entry, types.OriginalChoice(), 100, Criteria{})
	require.NoError(t, err)
	assert.True(t, sel.UseOriginal)

	sel, err = selectForSession(entry, types.VersionIDChoice(7), 100, Criteria{})
	require.NoError(t, err)
	require.Len(t, sel.Parts, 1)
	assert.Equal(t, 7, sel.Parts[0].Record.VersionID)

	_, err = selectForSession(entry, types.VersionIDChoice(99), 100, Criteria{})
	assert.Equal(t, types.KindNotFound, types.KindOf(err))
}
