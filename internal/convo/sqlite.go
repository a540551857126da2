package convo

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// SQLiteStore is the durable Store implementation. The caller owns the
// *sql.DB (production opens it with the sqlite3 driver, WAL mode and a
// busy timeout; tests use an in-memory database).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a conversation store on the given database,
// applying the schema on first use.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate conversations: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		summary_json TEXT,
		message_count INTEGER NOT NULL DEFAULT 0,
		token_estimate INTEGER NOT NULL DEFAULT 0,
		last_topic TEXT
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		timestamp TIMESTAMP NOT NULL,
		token_count INTEGER NOT NULL DEFAULT 0,
		summarized BOOLEAN NOT NULL DEFAULT FALSE,
		tool_calls TEXT,
		tool_call_id TEXT,
		FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id);
	CREATE INDEX IF NOT EXISTS idx_messages_live ON messages(conversation_id, summarized);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Append adds a message to the end of the conversation.
func (s *SQLiteStore) Append(conversationID string, m Message) error {
	if m.ID == "" {
		m.ID = NewID()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}

	now := time.Now().UTC()
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO conversations (id, created_at, updated_at)
		VALUES (?, ?, ?)
	`, conversationID, now, now)
	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}

	var toolCalls, toolCallID any
	if m.ToolCalls != "" {
		toolCalls = m.ToolCalls
	}
	if m.ToolCallID != "" {
		toolCallID = m.ToolCallID
	}

	_, err = s.db.Exec(`
		INSERT INTO messages (id, conversation_id, role, content, timestamp, token_count, tool_calls, tool_call_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID, conversationID, m.Role, m.Content, m.Timestamp, EstimateTokens(m.Content), toolCalls, toolCallID)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	_, err = s.db.Exec(`
		UPDATE conversations
		SET updated_at = ?, message_count = message_count + 1, token_estimate = token_estimate + ?
		WHERE id = ?
	`, now, EstimateTokens(m.Content), conversationID)
	if err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}

	return nil
}

// Recent returns up to n live messages in insertion order.
func (s *SQLiteStore) Recent(conversationID string, n int) ([]Message, error) {
	rows, err := s.db.Query(`
		SELECT id, role, content, timestamp, tool_calls, tool_call_id
		FROM messages
		WHERE conversation_id = ? AND summarized = FALSE
		ORDER BY rowid DESC
		LIMIT ?
	`, conversationID, n)
	if err != nil {
		return nil, fmt.Errorf("query recent messages: %w", err)
	}
	defer rows.Close()

	messages, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}

	// Restore insertion order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// LiveNonSystemCount returns the number of live non-system messages.
func (s *SQLiteStore) LiveNonSystemCount(conversationID string) (int, error) {
	var count int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM messages
		WHERE conversation_id = ? AND summarized = FALSE AND role != 'system'
	`, conversationID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count live messages: %w", err)
	}
	return count, nil
}

// SummaryCandidates returns live non-system messages excluding the most
// recent keep.
func (s *SQLiteStore) SummaryCandidates(conversationID string, keep int) ([]Message, error) {
	total, err := s.LiveNonSystemCount(conversationID)
	if err != nil {
		return nil, err
	}
	if total <= keep {
		return nil, nil
	}

	rows, err := s.db.Query(`
		SELECT id, role, content, timestamp, tool_calls, tool_call_id
		FROM messages
		WHERE conversation_id = ? AND summarized = FALSE AND role != 'system'
		ORDER BY rowid ASC
		LIMIT ?
	`, conversationID, total-keep)
	if err != nil {
		return nil, fmt.Errorf("query summary candidates: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// MarkSummarized flags the given messages as folded into the summary.
func (s *SQLiteStore) MarkSummarized(conversationID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, 0, len(ids)+1)
	args = append(args, conversationID)
	for _, id := range ids {
		args = append(args, id)
	}

	_, err := s.db.Exec(`
		UPDATE messages SET summarized = TRUE
		WHERE conversation_id = ? AND id IN (`+placeholders+`)
	`, args...)
	if err != nil {
		return fmt.Errorf("mark summarized: %w", err)
	}
	return nil
}

// GetSummary returns the current summary, or nil.
func (s *SQLiteStore) GetSummary(conversationID string) (*Summary, error) {
	var summaryJSON sql.NullString
	err := s.db.QueryRow(`
		SELECT summary_json FROM conversations WHERE id = ?
	`, conversationID).Scan(&summaryJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query summary: %w", err)
	}
	if !summaryJSON.Valid || summaryJSON.String == "" {
		return nil, nil
	}

	var sum Summary
	if err := json.Unmarshal([]byte(summaryJSON.String), &sum); err != nil {
		return nil, fmt.Errorf("decode summary: %w", err)
	}
	return &sum, nil
}

// SetSummary replaces the conversation's summary.
func (s *SQLiteStore) SetSummary(conversationID string, sum Summary) error {
	data, err := json.Marshal(sum)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}

	now := time.Now().UTC()
	_, err = s.db.Exec(`
		INSERT OR IGNORE INTO conversations (id, created_at, updated_at)
		VALUES (?, ?, ?)
	`, conversationID, now, now)
	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}

	_, err = s.db.Exec(`
		UPDATE conversations SET summary_json = ?, updated_at = ? WHERE id = ?
	`, string(data), now, conversationID)
	if err != nil {
		return fmt.Errorf("set summary: %w", err)
	}
	return nil
}

// SetLastTopic records the most recent topic tag.
func (s *SQLiteStore) SetLastTopic(conversationID, topic string) error {
	_, err := s.db.Exec(`
		UPDATE conversations SET last_topic = ? WHERE id = ?
	`, topic, conversationID)
	return err
}

// Conversation returns the full conversation including summarized
// messages, or nil if it does not exist.
func (s *SQLiteStore) Conversation(conversationID string) (*Conversation, error) {
	row := s.db.QueryRow(`
		SELECT id, created_at, updated_at, summary_json, message_count, token_estimate, last_topic
		FROM conversations WHERE id = ?
	`, conversationID)

	var conv Conversation
	var summaryJSON, lastTopic sql.NullString
	err := row.Scan(&conv.ID, &conv.CreatedAt, &conv.UpdatedAt, &summaryJSON,
		&conv.MessageCount, &conv.TokenEstimate, &lastTopic)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query conversation: %w", err)
	}

	if summaryJSON.Valid && summaryJSON.String != "" {
		var sum Summary
		if err := json.Unmarshal([]byte(summaryJSON.String), &sum); err == nil {
			conv.Summary = &sum
		}
	}
	if lastTopic.Valid {
		conv.LastTopic = lastTopic.String
	}

	rows, err := s.db.Query(`
		SELECT id, role, content, timestamp, tool_calls, tool_call_id
		FROM messages
		WHERE conversation_id = ?
		ORDER BY rowid ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	conv.Messages, err = scanMessages(rows)
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	var messages []Message
	for rows.Next() {
		var m Message
		var toolCalls, toolCallID sql.NullString
		if err := rows.Scan(&m.ID, &m.Role, &m.Content, &m.Timestamp, &toolCalls, &toolCallID); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if toolCalls.Valid {
			m.ToolCalls = toolCalls.String
		}
		if toolCallID.Valid {
			m.ToolCallID = toolCallID.String
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
