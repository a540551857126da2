// Package convo provides conversation storage and the bounded context
// window sent to the model. History is append-only: messages are never
// reordered or deleted, only flagged as folded into the summary.
package convo

import (
	"time"

	"github.com/google/uuid"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message represents a single conversation message.
type Message struct {
	ID        string    `json:"id,omitempty"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	// ToolCalls is a JSON-encoded list of proposed tool calls.
	// Set only on assistant messages that requested tools.
	ToolCalls string `json:"tool_calls,omitempty"`
	// ToolCallID is the originating call identifier. Set only on tool
	// messages; it must match a call in the immediately preceding
	// assistant tool-call message.
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// Summary is the condensed representation of older messages. Overview is
// free text; Points is a bounded bullet list.
type Summary struct {
	Overview  string    `json:"overview"`
	Points    []string  `json:"points,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Conversation holds a conversation's messages and metadata.
type Conversation struct {
	ID            string    `json:"id"`
	Messages      []Message `json:"messages"`
	Summary       *Summary  `json:"summary,omitempty"`
	MessageCount  int       `json:"message_count"`
	TokenEstimate int       `json:"token_estimate"`
	LastTopic     string    `json:"last_topic,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Store is the conversation persistence interface. Implementations:
// MemStore (ephemeral) and SQLiteStore (durable), selected by config.
type Store interface {
	// Append adds a message to the end of the conversation, creating
	// the conversation on first use. The message's ID and Timestamp are
	// filled in when zero.
	Append(conversationID string, m Message) error

	// Recent returns up to n live (not yet summarized) messages in
	// insertion order, most recent last.
	Recent(conversationID string, n int) ([]Message, error)

	// LiveNonSystemCount returns the number of live non-system messages.
	LiveNonSystemCount(conversationID string) (int, error)

	// SummaryCandidates returns the live non-system messages excluding
	// the most recent keep, in insertion order.
	SummaryCandidates(conversationID string, keep int) ([]Message, error)

	// MarkSummarized flags the given messages as folded into the
	// summary. Flagged messages stay in history but leave the live set.
	MarkSummarized(conversationID string, ids []string) error

	// GetSummary returns the current summary, or nil if none exists.
	GetSummary(conversationID string) (*Summary, error)

	// SetSummary replaces the conversation's summary.
	SetSummary(conversationID string, s Summary) error

	// SetLastTopic records the most recent topic tag.
	SetLastTopic(conversationID, topic string) error

	// Conversation returns the full conversation including summarized
	// messages, or nil if it does not exist.
	Conversation(conversationID string) (*Conversation, error)

	Close() error
}

// NewID generates a new UUIDv7, falling back to v4 if the clock source
// fails.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// EstimateTokens provides a rough token count estimate.
// Rule of thumb: ~4 characters per token for English.
func EstimateTokens(text string) int {
	return len(text) / 4
}
