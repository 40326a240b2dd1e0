package types

import "time"

// VersionChoice selects which rendition of a session a composition
// component should use. The zero value ("auto") lets the engine score and
// pick; "original" forces the uncompressed transcript; a numeric choice
// names a specific version id.
type VersionChoice struct {
	Auto      bool `json:"auto,omitempty"`
	Original  bool `json:"original,omitempty"`
	VersionID int  `json:"version_id,omitempty"`
}

// AutoChoice returns the scoring-driven selection choice.
func AutoChoice() VersionChoice { return VersionChoice{Auto: true} }

// OriginalChoice forces the uncompressed transcript.
func OriginalChoice() VersionChoice { return VersionChoice{Original: true} }

// VersionIDChoice forces a specific version.
func VersionIDChoice(id int) VersionChoice { return VersionChoice{VersionID: id} }

// CompositionComponent is one session's contribution to a composition:
// the session reference, the chosen version, the budget it was allocated,
// and what it actually contributed. Versions are referenced, never copied.
type CompositionComponent struct {
	SessionID       string        `json:"session_id"`
	Choice          VersionChoice `json:"choice"`
	AllocatedTokens int           `json:"allocated_tokens"`
	UsedVersionID   string        `json:"used_version_id"` // numeric id, "original", or comma-joined per-part list
	ActualTokens    int           `json:"actual_tokens"`
	ActualMessages  int           `json:"actual_messages"`
}

// OutputFormat selects the encoding of an assembled composition.
type OutputFormat string

const (
	FormatMarkdown OutputFormat = "markdown"
	FormatLog      OutputFormat = "log"
)

// CompositionRecord is a single merged artifact assembled from selected
// versions of multiple sessions under a shared token budget. Immutable once
// created; deleted only as a whole unit.
type CompositionRecord struct {
	ID            string                 `json:"id"`
	Components    []CompositionComponent `json:"components"`
	TotalTokens   int                    `json:"total_tokens"`
	TotalMessages int                    `json:"total_messages"`
	Format        OutputFormat           `json:"format"`
	Strategy      string                 `json:"strategy"`
	FileName      string                 `json:"file_name,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
}

// ReferencesVersion reports whether the composition uses the given numeric
// version of the given session.
func (c *CompositionRecord) ReferencesVersion(sessionID, versionID string) bool {
	for i := range c.Components {
		if c.Components[i].SessionID != sessionID {
			continue
		}
		if componentUsesVersion(c.Components[i].UsedVersionID, versionID) {
			return true
		}
	}
	return false
}

// componentUsesVersion matches a component's used-version field against a
// version id. Multi-part components store a comma-separated id list.
func componentUsesVersion(used, versionID string) bool {
	if used == versionID {
		return true
	}
	for len(used) > 0 {
		i := 0
		for i < len(used) && used[i] != ',' {
			i++
		}
		if used[:i] == versionID {
			return true
		}
		if i == len(used) {
			break
		}
		used = used[i+1:]
	}
	return false
}

// ManifestState is a project's full persisted state: every registered
// session and every composition. It is loaded and saved as one JSON
// document and treated as an arena owned by the manifest lock holder for
// the duration of the lock.
type ManifestState struct {
	ProjectID    string              `json:"project_id"`
	Sessions     []SessionEntry      `json:"sessions,omitempty"`
	Compositions []CompositionRecord `json:"compositions,omitempty"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

// Session returns the entry with the given id, or nil.
func (m *ManifestState) Session(id string) *SessionEntry {
	for i := range m.Sessions {
		if m.Sessions[i].ID == id {
			return &m.Sessions[i]
		}
	}
	return nil
}

// Composition returns the composition with the given id, or nil.
func (m *ManifestState) Composition(id string) *CompositionRecord {
	for i := range m.Compositions {
		if m.Compositions[i].ID == id {
			return &m.Compositions[i]
		}
	}
	return nil
}

// VersionInUse reports whether any composition references the given version
// of the given session.
func (m *ManifestState) VersionInUse(sessionID, versionID string) bool {
	for i := range m.Compositions {
		if m.Compositions[i].ReferencesVersion(sessionID, versionID) {
			return true
		}
	}
	return false
}
