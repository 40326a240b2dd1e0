package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/distill/pkg/tokenizer"
	"github.com/entrhq/distill/pkg/types"
)

const sampleTranscript = `{"role":"user","content":"How should we store the queue? #keepit[0.8]","timestamp":"2026-03-01T10:00:00Z"}
{"role":"assistant","content":"Use Postgres with SKIP LOCKED.","timestamp":"2026-03-01T10:01:00Z"}

{"role":"user","content":"Never delete the audit table. #pin","timestamp":"2026-03-01T10:02:00Z"}
{"role":"assistant","content":"Understood.","timestamp":"2026-03-01T10:03:00Z"}
`

func TestParseTranscript(t *testing.T) {
	messages, err := ParseTranscript([]byte(sampleTranscript))
	require.NoError(t, err)
	require.Len(t, messages, 4)
	assert.Equal(t, types.RoleUser, messages[0].Role)
	assert.Equal(t, 2, messages[2].Index)
}

func TestParseTranscriptRejectsMalformedLine(t *testing.T) {
	_, err := ParseTranscript([]byte("{\"role\":\"user\",\"content\":\"ok\"}\nnot json\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestParseTranscriptRejectsMissingRole(t *testing.T) {
	_, err := ParseTranscript([]byte(`{"content":"no role"}`))
	require.Error(t, err)
}

func TestExtractMarkers(t *testing.T) {
	messages, err := ParseTranscript([]byte(sampleTranscript))
	require.NoError(t, err)

	markers := ExtractMarkers("s1", messages)
	require.Len(t, markers, 2)

	assert.Equal(t, 0, markers[0].MessageIndex)
	assert.Equal(t, 0.8, markers[0].Weight)
	assert.Equal(t, "How should we store the queue?", markers[0].Content)

	assert.Equal(t, 2, markers[1].MessageIndex)
	assert.Equal(t, 1.0, markers[1].Weight)
	assert.True(t, markers[1].Pinned())
	assert.Equal(t, "Never delete the audit table.", markers[1].Content)
}

func TestMarkerWeightDefaults(t *testing.T) {
	tests := []struct {
		name    string
		content string
		weight  float64
		tagged  bool
	}{
		{"bare keepit", "remember this #keepit", 0.5, true},
		{"weighted", "x #keepit[0.9]", 0.9, true},
		{"pin beats keepit", "x #keepit[0.3] #pin", 1.0, true},
		{"strongest of several", "x #keepit[0.2] y #keepit[0.7]", 0.7, true},
		{"untagged", "plain text", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, tagged := markerWeight(tt.content)
			assert.Equal(t, tt.tagged, tagged)
			if tagged {
				assert.Equal(t, tt.weight, w)
			}
		})
	}
}

func TestRegister(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Alpha.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(sampleTranscript), 0o600))

	tok, _ := tokenizer.New()
	reg := NewRegistrar(tok)

	entry, messages, err := reg.Register("alpha", path)
	require.NoError(t, err)
	assert.Equal(t, "alpha", entry.ID)
	assert.Equal(t, 4, entry.MessageCount)
	assert.Len(t, entry.Markers, 2)
	assert.Positive(t, entry.OriginalTokens)
	assert.Len(t, messages, 4)
	for _, m := range messages {
		assert.Positive(t, m.Tokens)
	}
	assert.Equal(t, messages[0].Timestamp, entry.FirstTimestamp)
	assert.Equal(t, messages[3].Timestamp, entry.LastTimestamp)
}

func TestScan(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0o750))
	for _, name := range []string{"a.jsonl", "b.txt", "nested/c.jsonl"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("{}"), 0o600))
	}

	paths, err := Scan(dir, "**.jsonl")
	require.NoError(t, err)
	require.Len(t, paths, 2)

	paths, err = Scan(dir, "*.jsonl")
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.Equal(t, "a", SessionIDFromPath(paths[0]))
}

func TestScanBadPattern(t *testing.T) {
	_, err := Scan(t.TempDir(), "[")
	assert.Equal(t, types.KindInvalidSettings, types.KindOf(err))
}
