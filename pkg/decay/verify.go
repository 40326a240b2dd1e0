package decay

import (
	"strings"

	"github.com/entrhq/distill/pkg/types"
)

// overlapCutoff is the token-overlap ratio above which a marker counts as
// present even without an exact normalized containment match.
const overlapCutoff = 0.8

// VerifyResult is the outcome of checking a compressed output against a
// preservation plan.
type VerifyResult struct {
	// Preserved holds markers found verbatim (after normalization) in the
	// output.
	Preserved []types.PreservationMarker

	// Missing holds plan-verbatim markers absent from the output. These are
	// warnings unless the marker is pinned.
	Missing []types.PreservationMarker

	// PinnedMissing is true when any missing marker has weight 1.0, which
	// makes the compression a hard failure.
	PinnedMissing bool
}

// Verify performs the post-compression survival check: every marker the
// plan promised verbatim must appear in the output, matched fuzzily to
// tolerate whitespace and casing drift introduced by the external service.
func Verify(output string, plan Plan) VerifyResult {
	var res VerifyResult
	normalized := normalize(output)
	outputTokens := fields(normalized)
	for _, m := range plan.Verbatim {
		if contains(normalized, outputTokens, m.Content) {
			res.Preserved = append(res.Preserved, m)
			continue
		}
		res.Missing = append(res.Missing, m)
		if m.Pinned() {
			res.PinnedMissing = true
		}
	}
	return res
}

func contains(normalizedOutput string, outputTokens map[string]struct{}, content string) bool {
	needle := normalize(content)
	if needle == "" {
		return true
	}
	if strings.Contains(normalizedOutput, needle) {
		return true
	}
	// Fuzzy fallback: fraction of the marker's words present in the output.
	words := strings.Fields(needle)
	if len(words) == 0 {
		return true
	}
	hits := 0
	for _, w := range words {
		if _, ok := outputTokens[w]; ok {
			hits++
		}
	}
	return float64(hits)/float64(len(words)) >= overlapCutoff
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func fields(normalized string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range strings.Fields(normalized) {
		out[w] = struct{}{}
	}
	return out
}
