// Package settings validates compression and composition requests against
// embedded JSON Schemas and decodes them into typed settings. All schema
// failures surface as InvalidSettings before any lock is taken.
package settings

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"math"

	"github.com/kaptinlin/jsonschema"

	"github.com/entrhq/distill/pkg/types"
)

//go:embed schemas/compress.json
var compressSchemaJSON []byte

//go:embed schemas/compose.json
var composeSchemaJSON []byte

var (
	compressSchema *jsonschema.Schema
	composeSchema  *jsonschema.Schema
)

func init() {
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true

	var err error
	if compressSchema, err = compiler.Compile(compressSchemaJSON); err != nil {
		panic(fmt.Sprintf("settings: embedded compress schema invalid: %v", err))
	}
	if composeSchema, err = compiler.Compile(composeSchemaJSON); err != nil {
		panic(fmt.Sprintf("settings: embedded compose schema invalid: %v", err))
	}
}

// Compression is a validated, typed compression request.
type Compression struct {
	SessionID string
	Mode      types.Mode
	Ratio     float64
	Model     string
	Force     bool
}

// compressionWire mirrors the request JSON.
type compressionWire struct {
	SessionID string  `json:"session_id"`
	Mode      string  `json:"mode"`
	Level     string  `json:"level"`
	Tiers     []struct {
		Level    string  `json:"level"`
		Fraction float64 `json:"fraction"`
	} `json:"tiers"`
	Ratio float64 `json:"ratio"`
	Model string  `json:"model"`
	Force bool    `json:"force"`
}

// ParseCompression validates raw JSON against the compression schema and
// decodes it into the closed mode variant.
func ParseCompression(raw []byte) (*Compression, error) {
	result := compressSchema.ValidateJSON(raw)
	if !result.IsValid() {
		return nil, types.InvalidSettings("compression request: %v", result.Errors)
	}

	var wire compressionWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, types.InvalidSettings("compression request: %v", err)
	}

	c := &Compression{
		SessionID: wire.SessionID,
		Ratio:     wire.Ratio,
		Model:     wire.Model,
		Force:     wire.Force,
	}

	switch wire.Mode {
	case "uniform":
		c.Mode = types.UniformMode{Level: types.CompressionLevel(wire.Level)}
	case "delta":
		c.Mode = types.DeltaMode{Level: types.CompressionLevel(wire.Level)}
	case "tiered":
		tiers := make([]types.TierSpec, len(wire.Tiers))
		sum := 0.0
		for i, t := range wire.Tiers {
			tiers[i] = types.TierSpec{Level: types.CompressionLevel(t.Level), Fraction: t.Fraction}
			sum += t.Fraction
		}
		if math.Abs(sum-1.0) > 0.01 {
			return nil, types.InvalidSettings("tiered fractions sum to %.3f, want 1.0", sum)
		}
		c.Mode = types.TieredMode{Tiers: tiers}
	default:
		// Unreachable given the schema enum; kept for defense against
		// schema drift.
		return nil, types.InvalidSettings("unknown mode %q", wire.Mode)
	}

	return c, nil
}

// Composition is a validated, typed composition request.
type Composition struct {
	TotalBudget            int
	Strategy               string
	Format                 types.OutputFormat
	PreferRatio            float64
	PrioritizePreservation bool
	Components             []Component
}

// Component names one session's participation in a composition.
type Component struct {
	SessionID string
	Choice    types.VersionChoice
	Budget    int
}

type compositionWire struct {
	TotalBudget            int     `json:"total_budget"`
	Strategy               string  `json:"strategy"`
	Format                 string  `json:"format"`
	PreferRatio            float64 `json:"prefer_ratio"`
	PrioritizePreservation bool    `json:"prioritize_preservation"`
	Components             []struct {
		SessionID string          `json:"session_id"`
		Version   json.RawMessage `json:"version"`
		Budget    int             `json:"budget"`
	} `json:"components"`
}

// ParseComposition validates raw JSON against the composition schema and
// decodes it.
func ParseComposition(raw []byte) (*Composition, error) {
	result := composeSchema.ValidateJSON(raw)
	if !result.IsValid() {
		return nil, types.InvalidSettings("composition request: %v", result.Errors)
	}

	var wire compositionWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, types.InvalidSettings("composition request: %v", err)
	}

	c := &Composition{
		TotalBudget:            wire.TotalBudget,
		Strategy:               wire.Strategy,
		Format:                 types.OutputFormat(wire.Format),
		PreferRatio:            wire.PreferRatio,
		PrioritizePreservation: wire.PrioritizePreservation,
	}
	if c.Format == "" {
		c.Format = types.FormatMarkdown
	}

	for _, comp := range wire.Components {
		choice, err := parseChoice(comp.Version)
		if err != nil {
			return nil, err
		}
		c.Components = append(c.Components, Component{
			SessionID: comp.SessionID,
			Choice:    choice,
			Budget:    comp.Budget,
		})
	}

	if wire.Strategy == "manual" {
		sum := 0
		for _, comp := range c.Components {
			sum += comp.Budget
		}
		if sum > c.TotalBudget {
			return nil, types.InvalidSettings("manual allocations sum to %d, over budget %d", sum, c.TotalBudget)
		}
	}

	return c, nil
}

func parseChoice(raw json.RawMessage) (types.VersionChoice, error) {
	if len(raw) == 0 {
		return types.AutoChoice(), nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		switch s {
		case "auto":
			return types.AutoChoice(), nil
		case "original":
			return types.OriginalChoice(), nil
		}
		return types.VersionChoice{}, types.InvalidSettings("unknown version choice %q", s)
	}
	var id int
	if err := json.Unmarshal(raw, &id); err == nil {
		return types.VersionIDChoice(id), nil
	}
	return types.VersionChoice{}, types.InvalidSettings("version choice must be \"auto\", \"original\", or a version id")
}
