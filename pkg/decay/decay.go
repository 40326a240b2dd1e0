// Package decay implements weighted-preservation decay: whether an
// author-flagged passage survives a compression pass of a given
// aggressiveness at a given session distance.
//
// Every function in this package is pure and side-effect free so the math
// can be unit- and property-tested in isolation.
package decay

import "github.com/entrhq/distill/pkg/types"

// Config holds the decay tables. Bases come from configuration defaults,
// not from this package.
type Config struct {
	// Bases maps each compression tier to its base threshold.
	Bases map[types.CompressionLevel]float64

	// MaxDistance caps how far session distance scales the decay factor.
	// Distances beyond it receive the maximum factor.
	MaxDistance int
}

// Threshold computes the survival threshold for a compression pass.
//
//	threshold = base(level) + (ratio/100) * min(distance, max)/max
//
// distance is clamped to [1, MaxDistance] before the factor is applied, so
// the result is monotonically non-decreasing in both distance and ratio.
func (c Config) Threshold(level types.CompressionLevel, ratio float64, distance int) float64 {
	if distance < 1 {
		distance = 1
	}
	if distance > c.MaxDistance {
		distance = c.MaxDistance
	}
	factor := float64(distance) / float64(c.MaxDistance)
	return c.Bases[level] + (ratio/100.0)*factor
}

// Survives reports whether a marker of the given weight survives a pass
// with the given threshold. Weight 1.0 is pinned and always survives; the
// override is checked before any arithmetic.
func Survives(weight, threshold float64) bool {
	if weight >= 1.0 {
		return true
	}
	return weight >= threshold
}

// Plan splits markers into those the compressor must keep verbatim and
// those it may freely condense, for one pass at the given tier, ratio, and
// session distance.
type Plan struct {
	Threshold float64
	Verbatim  []types.PreservationMarker
	Condense  []types.PreservationMarker
}

// PlanMarkers computes the preservation plan for a compression pass.
func PlanMarkers(markers []types.PreservationMarker, level types.CompressionLevel, ratio float64, distance int, cfg Config) Plan {
	p := Plan{Threshold: cfg.Threshold(level, ratio, distance)}
	for _, m := range markers {
		if Survives(m.Weight, p.Threshold) {
			p.Verbatim = append(p.Verbatim, m)
		} else {
			p.Condense = append(p.Condense, m)
		}
	}
	return p
}
