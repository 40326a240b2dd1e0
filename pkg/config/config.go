// Package config holds distill's tunable defaults and the optional YAML
// overlay file at ~/.distill/config.yaml.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/entrhq/distill/pkg/types"
)

// Config is the full runtime configuration.
type Config struct {
	// Decay tables.
	DecayBases  map[types.CompressionLevel]float64 `yaml:"decay_bases"`
	MaxDistance int                                `yaml:"max_distance"`

	// Default compaction ratio (percent) used when a request omits one.
	DefaultRatio float64 `yaml:"default_ratio"`

	// Lock timings.
	SessionLockStale  time.Duration `yaml:"session_lock_stale"`
	ManifestLockStale time.Duration `yaml:"manifest_lock_stale"`
	ManifestRetries   int           `yaml:"manifest_retries"`
	ManifestBackoff   time.Duration `yaml:"manifest_backoff"`

	// External compression service.
	Model string `yaml:"model"`

	// Root directory for manifests, version files, and compositions.
	// Defaults to ~/.distill.
	DataDir string `yaml:"data_dir"`
}

// Default returns the compiled-in configuration.
func Default() Config {
	return Config{
		DecayBases: map[types.CompressionLevel]float64{
			types.LevelLight:      0.15,
			types.LevelModerate:   0.3,
			types.LevelAggressive: 0.5,
		},
		MaxDistance:       10,
		DefaultRatio:      30,
		SessionLockStale:  10 * time.Minute,
		ManifestLockStale: 2 * time.Minute,
		ManifestRetries:   5,
		ManifestBackoff:   100 * time.Millisecond,
		Model:             "gpt-4o-mini",
	}
}

// Load returns the defaults overlaid with the YAML file at path. If path is
// empty it tries ~/.distill/config.yaml; a missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return cfg, nil
		}
		path = filepath.Join(home, ".distill", "config.yaml")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks invariants the rest of the system relies on.
func (c Config) Validate() error {
	if c.MaxDistance < 1 {
		return fmt.Errorf("config: max_distance must be >= 1")
	}
	for _, level := range []types.CompressionLevel{types.LevelLight, types.LevelModerate, types.LevelAggressive} {
		if _, ok := c.DecayBases[level]; !ok {
			return fmt.Errorf("config: decay_bases missing tier %q", level)
		}
	}
	if c.DefaultRatio <= 0 || c.DefaultRatio > 100 {
		return fmt.Errorf("config: default_ratio must be in (0, 100]")
	}
	if c.ManifestRetries < 0 {
		return fmt.Errorf("config: manifest_retries must be >= 0")
	}
	return nil
}

// ResolveDataDir returns the configured data directory, defaulting to
// ~/.distill, and creates it if needed.
func (c Config) ResolveDataDir() (string, error) {
	dir := c.DataDir
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("config: resolve home directory: %w", err)
		}
		dir = filepath.Join(home, ".distill")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("config: create data dir %s: %w", dir, err)
	}
	return dir, nil
}
