package session

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/entrhq/distill/pkg/types"
)

// DefaultMarkerWeight applies when a #keepit tag carries no explicit
// weight.
const DefaultMarkerWeight = 0.5

// keepitTag matches "#keepit" with an optional bracketed weight, e.g.
// "#keepit[0.8]". pinTag is shorthand for weight 1.0.
var (
	keepitTag = regexp.MustCompile(`#keepit(?:\[([01](?:\.\d+)?)\])?`)
	pinTag    = regexp.MustCompile(`#pin\b`)
)

// ExtractMarkers scans messages for preservation tags and returns the
// markers, ordered by message index. The tag itself is stripped from the
// marker content so the preserved passage is the author's text, not the
// annotation.
func ExtractMarkers(sessionID string, messages []types.Message) []types.PreservationMarker {
	var markers []types.PreservationMarker
	for i := range messages {
		m := &messages[i]
		weight, tagged := markerWeight(m.Content)
		if !tagged {
			continue
		}
		markers = append(markers, types.PreservationMarker{
			ID:           fmt.Sprintf("%s-m%d", sessionID, m.Index),
			MessageIndex: m.Index,
			Content:      stripTags(m.Content),
			Weight:       weight,
		})
	}
	return markers
}

// markerWeight returns the preservation weight a message's tags request.
// #pin wins over any #keepit weight; multiple #keepit tags take the
// strongest.
func markerWeight(content string) (float64, bool) {
	if pinTag.MatchString(content) {
		return 1.0, true
	}
	matches := keepitTag.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return 0, false
	}
	weight := 0.0
	for _, match := range matches {
		w := DefaultMarkerWeight
		if match[1] != "" {
			parsed, err := strconv.ParseFloat(match[1], 64)
			if err == nil {
				w = parsed
			}
		}
		if w > weight {
			weight = w
		}
	}
	if weight > 1.0 {
		weight = 1.0
	}
	return weight, true
}

func stripTags(content string) string {
	content = keepitTag.ReplaceAllString(content, "")
	content = pinTag.ReplaceAllString(content, "")
	return strings.TrimSpace(strings.Join(strings.Fields(content), " "))
}
