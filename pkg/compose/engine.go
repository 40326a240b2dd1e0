package compose

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/entrhq/distill/pkg/logging"
	"github.com/entrhq/distill/pkg/manifest"
	"github.com/entrhq/distill/pkg/session"
	"github.com/entrhq/distill/pkg/settings"
	"github.com/entrhq/distill/pkg/tokenizer"
	"github.com/entrhq/distill/pkg/types"
	"github.com/entrhq/distill/pkg/version"
)

// Engine builds composition artifacts from a project's manifest.
type Engine struct {
	store manifest.Store
	mlock *manifest.FileLock
	files *version.FileStore
	tok   *tokenizer.Tokenizer
	dir   string // composition artifacts root
	log   *logging.Logger
	now   func() time.Time
}

// NewEngine wires the composition engine. dir is where assembled artifacts
// are written.
func NewEngine(store manifest.Store, mlock *manifest.FileLock, files *version.FileStore, tok *tokenizer.Tokenizer, dir string) (*Engine, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("compose: init artifact dir %s: %w", dir, err)
	}
	logger, _ := logging.NewLogger("compose")
	return &Engine{
		store: store,
		mlock: mlock,
		files: files,
		tok:   tok,
		dir:   dir,
		log:   logger,
		now:   time.Now,
	}, nil
}

// assembled is one component's realized contribution.
type assembled struct {
	component types.CompositionComponent
	content   string
}

// Compose scores and selects a version (or the original) for every
// component, assembles the merged artifact in caller order, records it in
// the manifest, and returns the record plus the artifact path.
func (e *Engine) Compose(projectID string, req *settings.Composition) (*types.CompositionRecord, string, error) {
	var (
		rec  *types.CompositionRecord
		path string
	)
	err := e.mlock.WithLock(projectID, func() error {
		state, err := e.store.Load(projectID)
		if err != nil {
			return err
		}

		sessions := make(map[string]*types.SessionEntry, len(req.Components))
		for _, c := range req.Components {
			entry := state.Session(c.SessionID)
			if entry == nil {
				return types.NotFound("session %s not registered in project %s", c.SessionID, projectID)
			}
			sessions[c.SessionID] = entry
		}

		budgets, err := Allocate(req.Strategy, req.Components, req.TotalBudget, sessions)
		if err != nil {
			return err
		}

		var parts []assembled
		for i, c := range req.Components {
			entry := sessions[c.SessionID]
			criteria := Criteria{
				MaxTokens:              budgets[i],
				PreferRatio:            req.PreferRatio,
				PrioritizePreservation: req.PrioritizePreservation,
			}
			sel, err := selectForSession(entry, c.Choice, budgets[i], criteria)
			if err != nil {
				return err
			}
			a, err := e.assemble(projectID, entry, sel, budgets[i])
			if err != nil {
				return err
			}
			parts = append(parts, *a)
		}

		record := types.CompositionRecord{
			ID:        uuid.New().String(),
			Format:    req.Format,
			Strategy:  req.Strategy,
			CreatedAt: e.now(),
		}
		for _, p := range parts {
			record.Components = append(record.Components, p.component)
			record.TotalTokens += p.component.ActualTokens
			record.TotalMessages += p.component.ActualMessages
		}

		name, err := e.writeArtifact(projectID, &record, parts)
		if err != nil {
			return err
		}
		record.FileName = name
		path = filepath.Join(e.dir, projectID, name)

		state.Compositions = append(state.Compositions, record)
		if err := e.store.Save(projectID, state); err != nil {
			return err
		}
		rec = &state.Compositions[len(state.Compositions)-1]
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	e.log.Infof("project %s: composed %d sessions into %s (%d tokens)", projectID, len(rec.Components), rec.FileName, rec.TotalTokens)
	return rec, path, nil
}

// assemble realizes one component: reads the selected content, annotates
// the session boundary, and re-derives the token contribution from the
// actual assembled text rather than summing stored estimates.
func (e *Engine) assemble(projectID string, entry *types.SessionEntry, sel *sessionSelection, budget int) (*assembled, error) {
	var (
		content  strings.Builder
		used     []string
		messages int
	)

	if sel.UseOriginal {
		log, err := session.ReadTranscript(entry.TranscriptPath)
		if err != nil {
			return nil, err
		}
		for i := range log {
			fmt.Fprintf(&content, "%s: %s\n\n", log[i].Role, log[i].Content)
		}
		used = []string{types.OriginalVersionID}
		messages = len(log)
	} else {
		// Parts are already in ascending part-number order; concatenation
		// must preserve it so messages stay chronological.
		for _, part := range sel.Parts {
			text, err := e.files.ReadText(projectID, entry.ID, part.Record.FileName)
			if err != nil {
				return nil, err
			}
			content.WriteString(text)
			content.WriteString("\n\n")
			used = append(used, fmt.Sprintf("%d", part.Record.VersionID))
			messages += part.Record.OutputCount
		}
	}

	body := content.String()
	tokens := e.tok.CountText(body)

	versionLabel := strings.Join(used, ",")
	header := fmt.Sprintf("=== session %s | version %s | %d tokens ===\n\n", entry.ID, versionLabel, tokens)

	return &assembled{
		component: types.CompositionComponent{
			SessionID:       entry.ID,
			AllocatedTokens: budget,
			UsedVersionID:   versionLabel,
			ActualTokens:    tokens,
			ActualMessages:  messages,
		},
		content: header + body,
	}, nil
}

// writeArtifact persists the merged output in the requested format and
// returns the file name.
func (e *Engine) writeArtifact(projectID string, record *types.CompositionRecord, parts []assembled) (string, error) {
	dir := filepath.Join(e.dir, projectID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", types.ResourceExhausted(err, "create composition dir %s", dir)
	}

	var (
		name string
		data []byte
	)
	switch record.Format {
	case types.FormatLog:
		name = record.ID + ".jsonl"
		var b strings.Builder
		enc := json.NewEncoder(&b)
		for _, p := range parts {
			if err := enc.Encode(p.component); err != nil {
				return "", fmt.Errorf("compose: encode component: %w", err)
			}
			if err := enc.Encode(map[string]string{"content": p.content}); err != nil {
				return "", fmt.Errorf("compose: encode content: %w", err)
			}
		}
		data = []byte(b.String())
	default:
		name = record.ID + ".md"
		var b strings.Builder
		fmt.Fprintf(&b, "# Composition %s (%s strategy)\n\n", record.ID, record.Strategy)
		for _, p := range parts {
			b.WriteString(p.content)
		}
		data = []byte(b.String())
	}

	target := filepath.Join(dir, name)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return "", types.ResourceExhausted(err, "write composition %s", target)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("compose: atomic rename %s: %w", target, err)
	}
	return name, nil
}

// Delete removes a composition as a whole unit: its manifest record and
// its artifact file.
func (e *Engine) Delete(projectID, compositionID string) error {
	return e.mlock.WithLock(projectID, func() error {
		state, err := e.store.Load(projectID)
		if err != nil {
			return err
		}
		idx := -1
		for i := range state.Compositions {
			if state.Compositions[i].ID == compositionID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return types.NotFound("composition %s not found in project %s", compositionID, projectID)
		}
		if name := state.Compositions[idx].FileName; name != "" {
			target := filepath.Join(e.dir, projectID, name)
			if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("compose: remove artifact %s: %w", target, err)
			}
		}
		state.Compositions = append(state.Compositions[:idx], state.Compositions[idx+1:]...)
		return e.store.Save(projectID, state)
	})
}

// List returns a project's composition records.
func (e *Engine) List(projectID string) ([]types.CompositionRecord, error) {
	state, err := e.store.Load(projectID)
	if err != nil {
		return nil, err
	}
	return append([]types.CompositionRecord(nil), state.Compositions...), nil
}
