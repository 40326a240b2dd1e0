// Package manifest persists a project's full state (sessions, compression
// records, compositions) as a single JSON document, guarded by a
// cross-process file lock. Saves are atomic and carry an RFC 8785
// canonical-JSON integrity digest.
package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/entrhq/distill/pkg/logging"
	"github.com/entrhq/distill/pkg/types"
)

// Store is the persistence contract. Load and Save must be called only
// while holding the project's manifest lock; Save is atomic from the
// caller's perspective.
type Store interface {
	Load(projectID string) (*types.ManifestState, error)
	Save(projectID string, state *types.ManifestState) error
}

// document is the on-disk envelope around ManifestState.
type document struct {
	Version  int                  `json:"version"`
	Digest   string               `json:"digest,omitempty"`
	Manifest *types.ManifestState `json:"manifest"`
}

const documentVersion = 2

// FileStore implements Store on the local filesystem, one JSON file per
// project under dir.
type FileStore struct {
	dir string
	log *logging.Logger
}

// NewFileStore creates a store rooted at dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("manifest: init directory %s: %w", dir, err)
	}
	logger, _ := logging.NewLogger("manifest")
	return &FileStore{dir: dir, log: logger}, nil
}

func (s *FileStore) pathFor(projectID string) (string, error) {
	if projectID == "" || strings.ContainsAny(projectID, "/\\") {
		return "", types.InvalidSettings("invalid project id %q", projectID)
	}
	return filepath.Join(s.dir, projectID+".manifest.json"), nil
}

// Load reads a project's manifest. A missing file yields a fresh empty
// state rather than an error, so first use needs no explicit init step.
// Records from the pre-versioning format are migrated in memory; the
// migrated form is persisted on the next Save.
func (s *FileStore) Load(projectID string) (*types.ManifestState, error) {
	path, err := s.pathFor(projectID)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &types.ManifestState{ProjectID: projectID}, nil
		}
		return nil, fmt.Errorf("manifest: read %s: %w", path, err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("manifest: decode %s: %w", path, err)
	}
	if doc.Manifest == nil {
		return nil, fmt.Errorf("manifest: %s has no manifest payload", path)
	}

	if doc.Digest != "" {
		stored, err := digestState(doc.Manifest)
		if err == nil && stored != doc.Digest {
			// Integrity drift is logged, not fatal: the manifest remains the
			// authoritative copy and the digest is refreshed on next save.
			s.log.Warnf("manifest %s integrity digest mismatch (stored %s, computed %s)", projectID, doc.Digest, stored)
		}
	}

	Migrate(doc.Manifest)
	return doc.Manifest, nil
}

// Save atomically persists a project's manifest via temp file + rename.
func (s *FileStore) Save(projectID string, state *types.ManifestState) error {
	path, err := s.pathFor(projectID)
	if err != nil {
		return err
	}

	state.ProjectID = projectID
	state.UpdatedAt = time.Now()

	digest, err := digestState(state)
	if err != nil {
		return err
	}
	doc := document{Version: documentVersion, Digest: digest, Manifest: state}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("manifest: encode %s: %w", projectID, err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return types.ResourceExhausted(err, "manifest: write temp file for %s", projectID)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp) // best-effort cleanup
		return fmt.Errorf("manifest: atomic rename %s: %w", path, err)
	}
	return nil
}

// digestState returns the sha256 hex digest of the state's RFC 8785
// canonical JSON form, so semantically equal manifests always digest
// identically regardless of key order.
func digestState(state *types.ManifestState) (string, error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("manifest: marshal for digest: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("manifest: canonicalize for digest: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
