// Package tokenizer provides token counting for transcript messages and
// assembled artifacts, backed by tiktoken with a heuristic fallback when
// the encoding data cannot be loaded (e.g. offline first run).
package tokenizer

import (
	"github.com/pkoukk/tiktoken-go"

	"github.com/entrhq/distill/pkg/types"
)

// DefaultEncoding matches current OpenAI chat models.
const DefaultEncoding = "cl100k_base"

// fallbackCharsPerToken is the rough chars-per-token estimate used when the
// real encoding is unavailable.
const fallbackCharsPerToken = 4

// Tokenizer counts tokens in text and messages.
type Tokenizer struct {
	encoding *tiktoken.Tiktoken
}

// New creates a tokenizer for the default encoding. If the encoding cannot
// be loaded, the returned tokenizer falls back to a character-based
// estimate and the error reports why.
func New() (*Tokenizer, error) {
	enc, err := tiktoken.GetEncoding(DefaultEncoding)
	if err != nil {
		return &Tokenizer{}, err
	}
	return &Tokenizer{encoding: enc}, nil
}

// CountText returns the token count of a string.
func (t *Tokenizer) CountText(text string) int {
	if t.encoding == nil {
		return (len(text) + fallbackCharsPerToken - 1) / fallbackCharsPerToken
	}
	return len(t.encoding.Encode(text, nil, nil))
}

// CountMessage returns the token count of one message's content plus a
// small per-message framing overhead.
func (t *Tokenizer) CountMessage(m *types.Message) int {
	// 4 tokens of framing per chat message, matching OpenAI's accounting.
	return t.CountText(m.Content) + 4
}

// CountMessages returns the total token count across messages.
func (t *Tokenizer) CountMessages(messages []types.Message) int {
	total := 0
	for i := range messages {
		total += t.CountMessage(&messages[i])
	}
	return total
}
