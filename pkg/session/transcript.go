// Package session turns on-disk transcripts into registered SessionEntry
// records: it parses JSONL logs, counts tokens, and extracts preservation
// markers once at registration time.
package session

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/entrhq/distill/pkg/types"
)

// maxLineBytes bounds a single transcript line; generous because assistant
// messages can embed whole files.
const maxLineBytes = 10 * 1024 * 1024

// ReadTranscript parses a JSONL transcript into messages. Each line is one
// JSON object with role, content, and an optional timestamp. Indices are
// taken from the file when present and assigned by position otherwise.
func ReadTranscript(path string) ([]types.Message, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("session: read transcript %s: %w", path, err)
	}
	return ParseTranscript(data)
}

// ParseTranscript parses JSONL transcript bytes. Blank lines are skipped;
// a malformed line is an error, not a skip, because silently dropping
// messages would corrupt range bookkeeping downstream.
func ParseTranscript(data []byte) ([]types.Message, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var messages []types.Message
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var m types.Message
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("session: transcript line %d: %w", line, err)
		}
		if m.Role == "" {
			return nil, fmt.Errorf("session: transcript line %d: missing role", line)
		}
		if m.Index == 0 {
			m.Index = len(messages)
		}
		messages = append(messages, m)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("session: scan transcript: %w", err)
	}
	return messages, nil
}
