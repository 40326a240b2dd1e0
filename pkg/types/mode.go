package types

import "fmt"

// Mode is the closed set of compression modes. Each case carries its own
// settings payload and is dispatched with an exhaustive type switch rather
// than string comparison.
type Mode interface {
	ModeName() string
	compressionMode()
}

// UniformMode compresses the whole transcript at a single tier.
type UniformMode struct {
	Level CompressionLevel
}

func (UniformMode) ModeName() string { return "uniform" }
func (UniformMode) compressionMode() {}

// TierSpec assigns a tier to a fraction of the transcript, oldest first.
// Fractions across a TieredMode must sum to 1.0 (within rounding).
type TierSpec struct {
	Level    CompressionLevel
	Fraction float64
}

// TieredMode compresses older portions of the transcript more aggressively
// than recent ones.
type TieredMode struct {
	Tiers []TierSpec
}

func (TieredMode) ModeName() string { return "tiered" }
func (TieredMode) compressionMode() {}

// DeltaMode compresses only the messages not yet covered by an existing
// version, producing a new part.
type DeltaMode struct {
	Level CompressionLevel
}

func (DeltaMode) ModeName() string { return "delta" }
func (DeltaMode) compressionMode() {}

// ModeLevel returns the representative tier for a mode: the mode's own
// level for uniform and delta, and the most aggressive tier for tiered.
func ModeLevel(m Mode) (CompressionLevel, error) {
	switch v := m.(type) {
	case UniformMode:
		return v.Level, nil
	case DeltaMode:
		return v.Level, nil
	case TieredMode:
		level := LevelLight
		for _, t := range v.Tiers {
			if rank(t.Level) > rank(level) {
				level = t.Level
			}
		}
		return level, nil
	default:
		return "", fmt.Errorf("types: unknown compression mode %T", m)
	}
}

func rank(l CompressionLevel) int {
	switch l {
	case LevelLight:
		return 1
	case LevelModerate:
		return 2
	case LevelAggressive:
		return 3
	}
	return 0
}
