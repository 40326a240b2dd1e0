package compressor

import (
	"fmt"
	"strings"

	"github.com/entrhq/distill/pkg/types"
)

// systemPrompt frames the compression call. The output replaces a span of
// transcript, so it is written for machine re-consumption, not narrative
// reading.
const systemPrompt = "You are a transcript compressor. Your output replaces a span of a " +
	"long-running conversation transcript and will be read back by tools and " +
	"agents, not by a casual human reader. Be dense, specific, and faithful " +
	"to the original wording where instructed."

// levelInstruction maps each tier to its compression guidance.
var levelInstruction = map[types.CompressionLevel]string{
	types.LevelLight:      "Compress lightly: remove filler and repetition, keep all substantive detail.",
	types.LevelModerate:   "Compress moderately: merge related exchanges, keep every decision, fact, and identifier.",
	types.LevelAggressive: "Compress aggressively: keep only decisions, outcomes, and hard facts.",
}

// BuildPrompt renders the user prompt for a compression request.
func BuildPrompt(req Request) string {
	var b strings.Builder

	b.WriteString(levelInstruction[req.Level])
	b.WriteString("\n")
	if tiered, ok := req.Mode.(types.TieredMode); ok {
		b.WriteString("Apply tiers across the span, oldest first:\n")
		for _, tier := range tiered.Tiers {
			fmt.Fprintf(&b, "- %.0f%% of the span: %s\n", tier.Fraction*100, tier.Level)
		}
	}
	if req.Ratio > 0 {
		fmt.Fprintf(&b, "Target roughly a %.0f%% reduction in length.\n", req.Ratio)
	}
	b.WriteString("\n")

	if len(req.PreserveVerbatim) > 0 {
		b.WriteString("MUST PRESERVE VERBATIM (copy these passages into the output exactly, word for word):\n")
		for i, p := range req.PreserveVerbatim {
			fmt.Fprintf(&b, "%d. %s\n", i+1, p)
		}
		b.WriteString("\n")
	}
	if len(req.MayCondense) > 0 {
		b.WriteString("The following flagged passages MAY be condensed freely:\n")
		for i, p := range req.MayCondense {
			fmt.Fprintf(&b, "%d. %s\n", i+1, p)
		}
		b.WriteString("\n")
	}

	b.WriteString("MUST NOT INCLUDE: conversational filler, apologies, meta-commentary about the compression itself.\n\n")

	b.WriteString("Transcript span to compress:\n\n")
	for i := range req.Messages {
		m := &req.Messages[i]
		fmt.Fprintf(&b, "[%d] %s: %s\n\n", m.Index, m.Role, m.Content)
	}

	return b.String()
}
