package compose

import (
	"fmt"
	"math"
	"sort"

	"github.com/entrhq/distill/pkg/types"
)

// selectionCutoff is the minimum score an existing version must reach to
// be used instead of requesting a new compression.
const selectionCutoff = 0.5

// NeedsNewCompressionError signals that no acceptable existing version
// covers a session (or one of its parts) under the allocated budget. The
// caller may synthesize a version on demand at SuggestedRatio.
type NeedsNewCompressionError struct {
	SessionID      string
	PartNumber     int // 0 when the whole session needs one
	Budget         int
	SuggestedRatio int
}

func (e *NeedsNewCompressionError) Error() string {
	if e.PartNumber > 0 {
		return fmt.Sprintf("session %s part %d needs a new compression for budget %d (suggested ratio %d)",
			e.SessionID, e.PartNumber, e.Budget, e.SuggestedRatio)
	}
	return fmt.Sprintf("session %s needs a new compression for budget %d (suggested ratio %d)",
		e.SessionID, e.Budget, e.SuggestedRatio)
}

// partSelection is one part's chosen record.
type partSelection struct {
	PartNumber int
	Record     *types.CompressionRecord
}

// sessionSelection is the resolved choice for one component.
type sessionSelection struct {
	UseOriginal bool
	Parts       []partSelection // ascending part number when not original
}

// suggestedRatio computes the compaction ratio a caller should request so
// the original fits the budget.
func suggestedRatio(originalTokens, budget int) int {
	if budget <= 0 {
		return 100
	}
	return int(math.Ceil(float64(originalTokens) / float64(budget)))
}

// selectForSession implements the selection policy for one component.
//
// No compressions at all signals NeedsNewCompression. An original that
// fits the budget is preferred over any compressed version. Otherwise each
// part is scored independently over its own share of the budget and the
// best version per part must clear the cutoff.
func selectForSession(entry *types.SessionEntry, choice types.VersionChoice, budget int, criteria Criteria) (*sessionSelection, error) {
	// Explicit choices short-circuit scoring.
	if choice.Original {
		return &sessionSelection{UseOriginal: true}, nil
	}
	if choice.VersionID > 0 {
		rec := entry.RecordByVersion(choice.VersionID)
		if rec == nil {
			return nil, types.NotFound("version %d not found in session %s", choice.VersionID, entry.ID)
		}
		return &sessionSelection{Parts: []partSelection{{PartNumber: rec.PartNumber, Record: rec}}}, nil
	}

	if len(entry.Records) == 0 {
		if entry.OriginalTokens <= budget {
			return &sessionSelection{UseOriginal: true}, nil
		}
		return nil, &NeedsNewCompressionError{
			SessionID:      entry.ID,
			Budget:         budget,
			SuggestedRatio: suggestedRatio(entry.OriginalTokens, budget),
		}
	}

	if entry.OriginalTokens <= budget {
		return &sessionSelection{UseOriginal: true}, nil
	}

	parts := partNumbers(entry)
	perPart := budget
	if len(parts) > 0 {
		perPart = budget / len(parts)
	}
	partCriteria := criteria
	partCriteria.MaxTokens = perPart

	sel := &sessionSelection{}
	for _, part := range parts {
		best, bestScore := bestForPart(entry, part, partCriteria)
		if best == nil || bestScore < selectionCutoff {
			return nil, &NeedsNewCompressionError{
				SessionID:      entry.ID,
				PartNumber:     part,
				Budget:         perPart,
				SuggestedRatio: suggestedRatio(entry.OriginalTokens, budget),
			}
		}
		sel.Parts = append(sel.Parts, partSelection{PartNumber: part, Record: best})
	}
	return sel, nil
}

// partNumbers returns the session's part numbers in ascending order.
// Ascending order here is a correctness requirement: concatenation must
// keep messages chronological.
func partNumbers(entry *types.SessionEntry) []int {
	seen := map[int]bool{}
	var parts []int
	for i := range entry.Records {
		p := entry.Records[i].PartNumber
		if !seen[p] {
			seen[p] = true
			parts = append(parts, p)
		}
	}
	sort.Ints(parts)
	return parts
}

func bestForPart(entry *types.SessionEntry, part int, criteria Criteria) (*types.CompressionRecord, float64) {
	var best *types.CompressionRecord
	bestScore := -1.0
	for _, rec := range entry.PartRecords(part) {
		s := Score(rec, criteria)
		if s > bestScore {
			best, bestScore = rec, s
		}
	}
	return best, bestScore
}
