package version

import (
	"fmt"
	"math"

	"github.com/entrhq/distill/pkg/types"
)

// EncodeName builds the version file base name. It encodes part number,
// version id, mode, tier, and the rounded output token count. The token
// label has a floor of 1 so a very small output never reads as "0k".
func EncodeName(partNumber, versionID int, mode string, level types.CompressionLevel, outputTokens int) string {
	k := int(math.Round(float64(outputTokens) / 1000.0))
	if k < 1 {
		k = 1
	}
	return fmt.Sprintf("part%02d-v%d-%s-%s-%dk", partNumber, versionID, mode, level, k)
}
