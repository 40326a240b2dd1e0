package version

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/entrhq/distill/pkg/types"
)

// FileStore persists compressed outputs. Every version is written in two
// encodings: a markdown text file and a structured per-block JSONL log.
type FileStore struct {
	dir string
}

// NewFileStore creates version file storage rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("version: init file store %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

func (fs *FileStore) sessionDir(projectID, sessionID string) (string, error) {
	for _, id := range []string{projectID, sessionID} {
		if id == "" || strings.ContainsAny(id, "/\\") {
			return "", types.InvalidSettings("invalid identifier %q", id)
		}
	}
	return filepath.Join(fs.dir, projectID, sessionID), nil
}

type logLine struct {
	Block   int    `json:"block"`
	Content string `json:"content"`
}

type logHeader struct {
	SessionID  string    `json:"session_id"`
	VersionID  int       `json:"version_id"`
	PartNumber int       `json:"part_number"`
	Level      string    `json:"level"`
	Mode       string    `json:"mode"`
	CreatedAt  time.Time `json:"created_at"`
}

// Write persists both encodings of a version's compressed text and returns
// the base name used.
func (fs *FileStore) Write(projectID, sessionID string, rec *types.CompressionRecord, text string) (string, error) {
	dir, err := fs.sessionDir(projectID, sessionID)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", types.ResourceExhausted(err, "create version dir %s", dir)
	}

	base := EncodeName(rec.PartNumber, rec.VersionID, rec.Mode, rec.Level, rec.OutputTokens)

	md := fmt.Sprintf("# %s / %s part %d v%d (%s, %s)\n\n%s\n",
		projectID, sessionID, rec.PartNumber, rec.VersionID, rec.Mode, rec.Level, text)
	if err := atomicWrite(filepath.Join(dir, base+".md"), []byte(md)); err != nil {
		return "", err
	}

	var b strings.Builder
	enc := json.NewEncoder(&b)
	if err := enc.Encode(logHeader{
		SessionID:  sessionID,
		VersionID:  rec.VersionID,
		PartNumber: rec.PartNumber,
		Level:      string(rec.Level),
		Mode:       rec.Mode,
		CreatedAt:  rec.CreatedAt,
	}); err != nil {
		return "", fmt.Errorf("version: encode log header: %w", err)
	}
	block := 0
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if err := enc.Encode(logLine{Block: block, Content: para}); err != nil {
			return "", fmt.Errorf("version: encode log line: %w", err)
		}
		block++
	}
	if err := atomicWrite(filepath.Join(dir, base+".jsonl"), []byte(b.String())); err != nil {
		return "", err
	}

	return base, nil
}

// ReadText returns the compressed text of a stored version (the markdown
// encoding minus its header line).
func (fs *FileStore) ReadText(projectID, sessionID, baseName string) (string, error) {
	dir, err := fs.sessionDir(projectID, sessionID)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(filepath.Join(dir, baseName+".md"))
	if err != nil {
		if os.IsNotExist(err) {
			return "", types.NotFound("version file %s not found", baseName)
		}
		return "", fmt.Errorf("version: read %s: %w", baseName, err)
	}
	text := string(data)
	if i := strings.Index(text, "\n\n"); i >= 0 {
		text = text[i+2:]
	}
	return strings.TrimRight(text, "\n"), nil
}

// Remove deletes both encodings of a version. Missing files are ignored so
// removal is idempotent.
func (fs *FileStore) Remove(projectID, sessionID, baseName string) error {
	dir, err := fs.sessionDir(projectID, sessionID)
	if err != nil {
		return err
	}
	for _, ext := range []string{".md", ".jsonl"} {
		if err := os.Remove(filepath.Join(dir, baseName+ext)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("version: remove %s%s: %w", baseName, ext, err)
		}
	}
	return nil
}

func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return types.ResourceExhausted(err, "write %s", path)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp) // best-effort cleanup
		return fmt.Errorf("version: atomic rename %s: %w", path, err)
	}
	return nil
}
