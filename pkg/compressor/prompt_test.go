package compressor

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/entrhq/distill/pkg/types"
)

func TestBuildPrompt(t *testing.T) {
	req := Request{
		Messages: []types.Message{
			{Index: 3, Role: types.RoleUser, Content: "pick a database"},
			{Index: 4, Role: types.RoleAssistant, Content: "Postgres"},
		},
		Level:            types.LevelModerate,
		Ratio:            30,
		PreserveVerbatim: []string{"Never delete the audit table."},
		MayCondense:      []string{"How should we store the queue?"},
	}

	prompt := BuildPrompt(req)

	assert.Contains(t, prompt, "Compress moderately")
	assert.Contains(t, prompt, "30% reduction")
	assert.Contains(t, prompt, "MUST PRESERVE VERBATIM")
	assert.Contains(t, prompt, "Never delete the audit table.")
	assert.Contains(t, prompt, "MAY be condensed freely")
	assert.Contains(t, prompt, "[3] user: pick a database")

	// Verbatim instructions come before the transcript span.
	assert.Less(t,
		strings.Index(prompt, "MUST PRESERVE VERBATIM"),
		strings.Index(prompt, "Transcript span to compress"))
}

func TestBuildPromptOmitsEmptySections(t *testing.T) {
	prompt := BuildPrompt(Request{
		Messages: []types.Message{{Role: types.RoleUser, Content: "hi"}},
		Level:    types.LevelLight,
	})
	assert.NotContains(t, prompt, "MUST PRESERVE VERBATIM")
	assert.NotContains(t, prompt, "MAY be condensed")
	assert.NotContains(t, prompt, "reduction in length")
}

func TestCountBlocks(t *testing.T) {
	assert.Equal(t, 2, countBlocks("first block\n\nsecond block"))
	assert.Equal(t, 1, countBlocks("single line"))
	assert.Equal(t, 0, countBlocks("  \n\n  "))
}
