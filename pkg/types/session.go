package types

import "time"

// CompressionLevel is the tiered aggressiveness of a compression pass.
type CompressionLevel string

const (
	LevelLight      CompressionLevel = "light"
	LevelModerate   CompressionLevel = "moderate"
	LevelAggressive CompressionLevel = "aggressive"
)

// ValidLevel reports whether l is one of the known tiers.
func ValidLevel(l CompressionLevel) bool {
	switch l {
	case LevelLight, LevelModerate, LevelAggressive:
		return true
	}
	return false
}

// OriginalVersionID is the pseudo-version identifier for a session's
// uncompressed transcript. It can be selected by compositions but never
// deleted.
const OriginalVersionID = "original"

// PreservationStats counts how many markers a compression pass kept
// verbatim versus condensed.
type PreservationStats struct {
	Preserved  int `json:"preserved"`
	Summarized int `json:"summarized"`
}

// CompressionRecord is one compressed rendition ("version") of a part or of
// the whole session at a specific aggressiveness level. Records are
// immutable once written; the only permitted mutation is deletion.
type CompressionRecord struct {
	VersionID    int               `json:"version_id"`
	PartNumber   int               `json:"part_number"`
	Level        CompressionLevel  `json:"level"`
	FullSession  bool              `json:"full_session"`
	Range        MessageRange      `json:"range"`
	OutputTokens int               `json:"output_tokens"`
	OutputCount  int               `json:"output_count"`
	Ratio        float64           `json:"ratio"`
	Preservation PreservationStats `json:"preservation"`
	Mode         string            `json:"mode"`
	Model        string            `json:"model,omitempty"`
	FileName     string            `json:"file_name,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`

	// Migrated marks records synthesized from the pre-versioning format.
	Migrated bool `json:"migrated,omitempty"`
}

// SurvivalOutcome records whether one compression pass kept a marker
// verbatim or condensed it.
type SurvivalOutcome struct {
	PartNumber int              `json:"part_number"`
	VersionID  int              `json:"version_id"`
	Level      CompressionLevel `json:"level"`
	Verbatim   bool             `json:"verbatim"`
}

// PreservationMarker is an author-flagged passage with a weight describing
// how strongly it must survive compression. Weight 1.0 is pinned: it always
// survives, and a compression output missing it verbatim is a hard failure.
type PreservationMarker struct {
	ID           string            `json:"id"`
	MessageIndex int               `json:"message_index"`
	Content      string            `json:"content"`
	Weight       float64           `json:"weight"`
	History      []SurvivalOutcome `json:"history,omitempty"`
}

// Pinned reports whether the marker must always survive.
func (m *PreservationMarker) Pinned() bool { return m.Weight >= 1.0 }

// SessionEntry is the manifest's record of one registered transcript.
// It is owned by a ProjectManifest and mutated only while the project's
// manifest lock is held.
type SessionEntry struct {
	ID             string               `json:"id"`
	TranscriptPath string               `json:"transcript_path"`
	OriginalTokens int                  `json:"original_tokens"`
	MessageCount   int                  `json:"message_count"`
	FirstTimestamp time.Time            `json:"first_timestamp"`
	LastTimestamp  time.Time            `json:"last_timestamp"`
	Records        []CompressionRecord  `json:"records,omitempty"`
	Markers        []PreservationMarker `json:"markers,omitempty"`
	RegisteredAt   time.Time            `json:"registered_at"`
}

// HighestPartNumber returns the maximum part number across the session's
// compression records, or 0 when none exist. It is non-decreasing as
// compressions are added.
func (s *SessionEntry) HighestPartNumber() int {
	highest := 0
	for i := range s.Records {
		if s.Records[i].PartNumber > highest {
			highest = s.Records[i].PartNumber
		}
	}
	return highest
}

// RecordByVersion returns the record with the given version id, or nil.
func (s *SessionEntry) RecordByVersion(versionID int) *CompressionRecord {
	for i := range s.Records {
		if s.Records[i].VersionID == versionID {
			return &s.Records[i]
		}
	}
	return nil
}

// PartRecords returns all records belonging to the given part number.
func (s *SessionEntry) PartRecords(partNumber int) []*CompressionRecord {
	var out []*CompressionRecord
	for i := range s.Records {
		if s.Records[i].PartNumber == partNumber {
			out = append(out, &s.Records[i])
		}
	}
	return out
}

// NextVersionID returns the next monotonic version id for the session.
func (s *SessionEntry) NextVersionID() int {
	next := 1
	for i := range s.Records {
		if s.Records[i].VersionID >= next {
			next = s.Records[i].VersionID + 1
		}
	}
	return next
}
