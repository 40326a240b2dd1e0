package compose

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/distill/pkg/manifest"
	"github.com/entrhq/distill/pkg/settings"
	"github.com/entrhq/distill/pkg/tokenizer"
	"github.com/entrhq/distill/pkg/types"
	"github.com/entrhq/distill/pkg/version"
)

type engineFixture struct {
	engine *Engine
	store  *manifest.FileStore
	files  *version.FileStore
	dir    string
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	dir := t.TempDir()

	store, err := manifest.NewFileStore(filepath.Join(dir, "manifests"))
	require.NoError(t, err)
	files, err := version.NewFileStore(filepath.Join(dir, "versions"))
	require.NoError(t, err)
	tok, err := tokenizer.New()
	require.NoError(t, err)
	mlock := manifest.NewFileLock(filepath.Join(dir, "locks"), time.Minute, 3, time.Millisecond)

	engine, err := NewEngine(store, mlock, files, tok, filepath.Join(dir, "compositions"))
	require.NoError(t, err)
	return &engineFixture{engine: engine, store: store, files: files, dir: dir}
}

// writeTranscript creates a JSONL transcript and returns its path.
func (f *engineFixture) writeTranscript(t *testing.T, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(f.dir, name+".jsonl")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600))
	return path
}

// addVersion writes a version file and returns the record with FileName set.
func (f *engineFixture) addVersion(t *testing.T, projectID, sessionID string, part, versionID, tokens int, text string) types.CompressionRecord {
	t.Helper()
	rec := types.CompressionRecord{
		VersionID:    versionID,
		PartNumber:   part,
		Level:        types.LevelModerate,
		Mode:         "delta",
		OutputTokens: tokens,
		OutputCount:  1,
		CreatedAt:    time.Now().UTC(),
	}
	name, err := f.files.Write(projectID, sessionID, &rec, text)
	require.NoError(t, err)
	rec.FileName = name
	return rec
}

func TestComposeOriginalAndVersion(t *testing.T) {
	f := newEngineFixture(t)
	const project = "proj"

	small := f.writeTranscript(t, "small",
		`{"role":"user","content":"short question"}`,
		`{"role":"assistant","content":"short answer"}`)

	rec := f.addVersion(t, project, "big", 1, 1, 900, "condensed discussion of the big session")

	state := &types.ManifestState{ProjectID: project, Sessions: []types.SessionEntry{
		{ID: "small", TranscriptPath: small, OriginalTokens: 100, MessageCount: 2},
		{ID: "big", OriginalTokens: 5000, MessageCount: 40, Records: []types.CompressionRecord{rec}},
	}}
	require.NoError(t, f.store.Save(project, state))

	req := &settings.Composition{
		TotalBudget: 2000,
		Strategy:    "equal",
		Format:      types.FormatMarkdown,
		Components: []settings.Component{
			{SessionID: "small", Choice: types.AutoChoice()},
			{SessionID: "big", Choice: types.AutoChoice()},
		},
	}
	got, path, err := f.engine.Compose(project, req)
	require.NoError(t, err)
	require.Len(t, got.Components, 2)
	assert.Equal(t, "original", got.Components[0].UsedVersionID)
	assert.Equal(t, "1", got.Components[1].UsedVersionID)
	assert.Equal(t, 1000, got.Components[0].AllocatedTokens)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, "=== session small | version original |")
	assert.Contains(t, text, "=== session big | version 1 |")
	assert.Contains(t, text, "short question")
	assert.Contains(t, text, "condensed discussion")
	// Components appear in request order.
	assert.Less(t, strings.Index(text, "session small"), strings.Index(text, "session big"))

	// The record was persisted.
	reloaded, err := f.store.Load(project)
	require.NoError(t, err)
	require.Len(t, reloaded.Compositions, 1)
	assert.Equal(t, got.ID, reloaded.Compositions[0].ID)
	assert.True(t, reloaded.VersionInUse("big", "1"))
}

func TestComposeNeedsNewCompression(t *testing.T) {
	f := newEngineFixture(t)
	const project = "proj"

	state := &types.ManifestState{ProjectID: project, Sessions: []types.SessionEntry{
		{ID: "huge", OriginalTokens: 50000, MessageCount: 500},
	}}
	require.NoError(t, f.store.Save(project, state))

	req := &settings.Composition{
		TotalBudget: 1000,
		Strategy:    "equal",
		Format:      types.FormatMarkdown,
		Components:  []settings.Component{{SessionID: "huge", Choice: types.AutoChoice()}},
	}
	_, _, err := f.engine.Compose(project, req)

	var needs *NeedsNewCompressionError
	require.True(t, errors.As(err, &needs))
	assert.Equal(t, "huge", needs.SessionID)
	assert.Equal(t, 50, needs.SuggestedRatio)

	// Nothing was recorded.
	reloaded, err := f.store.Load(project)
	require.NoError(t, err)
	assert.Empty(t, reloaded.Compositions)
}

func TestComposeMultiPartOrdering(t *testing.T) {
	f := newEngineFixture(t)
	const project = "proj"

	// Records stored out of order; assembly must still go part 1 then 2.
	rec2 := f.addVersion(t, project, "s", 2, 2, 800, "LATER conversation half")
	rec1 := f.addVersion(t, project, "s", 1, 1, 800, "EARLIER conversation half")

	state := &types.ManifestState{ProjectID: project, Sessions: []types.SessionEntry{
		{ID: "s", OriginalTokens: 5000, MessageCount: 50, Records: []types.CompressionRecord{rec2, rec1}},
	}}
	require.NoError(t, f.store.Save(project, state))

	req := &settings.Composition{
		TotalBudget: 2000,
		Strategy:    "equal",
		Format:      types.FormatMarkdown,
		Components:  []settings.Component{{SessionID: "s", Choice: types.AutoChoice()}},
	}
	got, path, err := f.engine.Compose(project, req)
	require.NoError(t, err)
	require.Len(t, got.Components, 1)
	assert.Equal(t, "1,2", got.Components[0].UsedVersionID)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Less(t, strings.Index(text, "EARLIER"), strings.Index(text, "LATER"))
}

func TestComposeLogFormat(t *testing.T) {
	f := newEngineFixture(t)
	const project = "proj"

	rec := f.addVersion(t, project, "s", 1, 1, 500, "compressed body")
	state := &types.ManifestState{ProjectID: project, Sessions: []types.SessionEntry{
		{ID: "s", OriginalTokens: 5000, Records: []types.CompressionRecord{rec}},
	}}
	require.NoError(t, f.store.Save(project, state))

	req := &settings.Composition{
		TotalBudget: 1000,
		Strategy:    "equal",
		Format:      types.FormatLog,
		Components:  []settings.Component{{SessionID: "s", Choice: types.AutoChoice()}},
	}
	got, path, err := f.engine.Compose(project, req)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, ".jsonl"))
	assert.Equal(t, types.FormatLog, got.Format)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"session_id":"s"`)
}

func TestComposeUnregisteredSession(t *testing.T) {
	f := newEngineFixture(t)
	require.NoError(t, f.store.Save("proj", &types.ManifestState{ProjectID: "proj"}))

	req := &settings.Composition{
		TotalBudget: 1000,
		Strategy:    "equal",
		Format:      types.FormatMarkdown,
		Components:  []settings.Component{{SessionID: "ghost", Choice: types.AutoChoice()}},
	}
	_, _, err := f.engine.Compose("proj", req)
	assert.Equal(t, types.KindNotFound, types.KindOf(err))
}

func TestDeleteComposition(t *testing.T) {
	f := newEngineFixture(t)
	const project = "proj"

	small := f.writeTranscript(t, "small", `{"role":"user","content":"hi"}`)
	state := &types.ManifestState{ProjectID: project, Sessions: []types.SessionEntry{
		{ID: "small", TranscriptPath: small, OriginalTokens: 10, MessageCount: 1},
	}}
	require.NoError(t, f.store.Save(project, state))

	req := &settings.Composition{
		TotalBudget: 1000,
		Strategy:    "equal",
		Format:      types.FormatMarkdown,
		Components:  []settings.Component{{SessionID: "small", Choice: types.AutoChoice()}},
	}
	got, path, err := f.engine.Compose(project, req)
	require.NoError(t, err)

	require.NoError(t, f.engine.Delete(project, got.ID))

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "artifact removed with the record")
	list, err := f.engine.List(project)
	require.NoError(t, err)
	assert.Empty(t, list)

	// A second delete is NotFound.
	err = f.engine.Delete(project, got.ID)
	assert.Equal(t, types.KindNotFound, types.KindOf(err))
}
