package session

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gobwas/glob"

	"github.com/entrhq/distill/pkg/tokenizer"
	"github.com/entrhq/distill/pkg/types"
)

// Registrar builds SessionEntry records from transcripts.
type Registrar struct {
	tok *tokenizer.Tokenizer
}

// NewRegistrar creates a registrar using the given tokenizer.
func NewRegistrar(tok *tokenizer.Tokenizer) *Registrar {
	return &Registrar{tok: tok}
}

// Register parses the transcript at path and produces a SessionEntry with
// token counts and preservation markers. Markers are extracted exactly
// once, here; later weight edits are external events.
func (r *Registrar) Register(sessionID, path string) (*types.SessionEntry, []types.Message, error) {
	messages, err := ReadTranscript(path)
	if err != nil {
		return nil, nil, err
	}
	if len(messages) == 0 {
		return nil, nil, types.InvalidSettings("transcript %s has no messages", path)
	}

	total := 0
	for i := range messages {
		if messages[i].Tokens == 0 {
			messages[i].Tokens = r.tok.CountMessage(&messages[i])
		}
		total += messages[i].Tokens
	}

	entry := &types.SessionEntry{
		ID:             sessionID,
		TranscriptPath: path,
		OriginalTokens: total,
		MessageCount:   len(messages),
		FirstTimestamp: messages[0].Timestamp,
		LastTimestamp:  messages[len(messages)-1].Timestamp,
		Markers:        ExtractMarkers(sessionID, messages),
		RegisteredAt:   time.Now(),
	}
	return entry, messages, nil
}

// Scan walks root and returns transcript paths matching pattern (gobwas
// glob syntax, matched against the path relative to root), sorted for
// deterministic registration order.
func Scan(root, pattern string) ([]string, error) {
	g, err := glob.Compile(pattern, '/')
	if err != nil {
		return nil, types.InvalidSettings("bad transcript pattern %q: %v", pattern, err)
	}

	var paths []string
	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if g.Match(filepath.ToSlash(rel)) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("session: scan %s: %w", root, err)
	}
	sort.Strings(paths)
	return paths, nil
}

// SessionIDFromPath derives a stable session id from a transcript path:
// the base name without extension, lowercased.
func SessionIDFromPath(path string) string {
	base := filepath.Base(path)
	return strings.ToLower(strings.TrimSuffix(base, filepath.Ext(base)))
}
