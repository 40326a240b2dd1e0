// Package compressor defines the boundary to the external text-compression
// service and provides the OpenAI-backed implementation.
//
// The core never compresses text itself: it hands the service a message
// list, the target aggressiveness, and explicit instructions for which
// preservation markers must appear verbatim, and records what comes back.
package compressor

import (
	"context"

	"github.com/entrhq/distill/pkg/types"
)

// Request describes one compression call.
type Request struct {
	Messages []types.Message

	// Mode is the closed compression-mode variant; Level is its
	// representative tier, precomputed by the caller.
	Mode  types.Mode
	Level types.CompressionLevel

	// Ratio is the target compaction ratio in percent (input/output * 100
	// style; higher means more aggressive).
	Ratio float64

	// Model optionally overrides the service's default model.
	Model string

	// PreserveVerbatim lists passages that must appear verbatim in the
	// output. MayCondense lists flagged passages the service may freely
	// condense.
	PreserveVerbatim []string
	MayCondense      []string
}

// Result is what the service returns.
type Result struct {
	Text           string
	OutputTokens   int
	OutputMessages int
}

// Service is the external compression service contract. Implementations
// block until the service responds; callers queue behind the session lock
// for the duration.
type Service interface {
	Compress(ctx context.Context, req Request) (*Result, error)
}
