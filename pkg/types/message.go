// Package types defines the shared data model for distill: transcript
// messages, sessions, compression records, preservation markers, and
// composition records. It is a leaf package with no dependencies so that
// every other package can import it without cycles.
package types

import "time"

// Role identifies the author of a transcript message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single entry in a session transcript.
//
// Index is the message's position in the transcript log at registration
// time. Timestamp is kept alongside it because logs can be re-numbered by
// external tooling; ordering decisions always use Index as the primary key
// and Timestamp as the confirming secondary key.
type Message struct {
	Index     int       `json:"index"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Tokens    int       `json:"tokens,omitempty"`
}

// NewUserMessage creates a user message with the given content.
func NewUserMessage(content string) *Message {
	return &Message{Role: RoleUser, Content: content, Timestamp: time.Now()}
}

// NewAssistantMessage creates an assistant message with the given content.
func NewAssistantMessage(content string) *Message {
	return &Message{Role: RoleAssistant, Content: content, Timestamp: time.Now()}
}

// MessageRange describes the contiguous slice of a transcript covered by a
// compression record. EndIndex is exclusive.
type MessageRange struct {
	StartIndex     int       `json:"start_index"`
	EndIndex       int       `json:"end_index"`
	MessageCount   int       `json:"message_count"`
	StartTimestamp time.Time `json:"start_timestamp"`
	EndTimestamp   time.Time `json:"end_timestamp"`
}

// Contains reports whether the given message index falls inside the range.
func (r MessageRange) Contains(index int) bool {
	return index >= r.StartIndex && index < r.EndIndex
}
