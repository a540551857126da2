package convo

import (
	"sync"
	"time"
)

// MemStore is an in-memory Store for development and tests. All methods
// are safe for concurrent use.
type MemStore struct {
	mu            sync.RWMutex
	conversations map[string]*memConversation
}

type memConversation struct {
	conv       Conversation
	summarized map[string]bool // message ID → folded into summary
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{conversations: make(map[string]*memConversation)}
}

func (s *MemStore) getOrCreate(conversationID string) *memConversation {
	mc, ok := s.conversations[conversationID]
	if !ok {
		now := time.Now().UTC()
		mc = &memConversation{
			conv: Conversation{
				ID:        conversationID,
				CreatedAt: now,
				UpdatedAt: now,
			},
			summarized: make(map[string]bool),
		}
		s.conversations[conversationID] = mc
	}
	return mc
}

// Append adds a message to the end of the conversation.
func (s *MemStore) Append(conversationID string, m Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.ID == "" {
		m.ID = NewID()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}

	mc := s.getOrCreate(conversationID)
	mc.conv.Messages = append(mc.conv.Messages, m)
	mc.conv.MessageCount++
	mc.conv.TokenEstimate += EstimateTokens(m.Content)
	mc.conv.UpdatedAt = time.Now().UTC()
	return nil
}

// Recent returns up to n live messages in insertion order.
func (s *MemStore) Recent(conversationID string, n int) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mc, ok := s.conversations[conversationID]
	if !ok {
		return nil, nil
	}

	var live []Message
	for _, m := range mc.conv.Messages {
		if !mc.summarized[m.ID] {
			live = append(live, m)
		}
	}
	if n > 0 && len(live) > n {
		live = live[len(live)-n:]
	}
	return live, nil
}

// LiveNonSystemCount returns the number of live non-system messages.
func (s *MemStore) LiveNonSystemCount(conversationID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mc, ok := s.conversations[conversationID]
	if !ok {
		return 0, nil
	}

	count := 0
	for _, m := range mc.conv.Messages {
		if m.Role != RoleSystem && !mc.summarized[m.ID] {
			count++
		}
	}
	return count, nil
}

// SummaryCandidates returns live non-system messages excluding the most
// recent keep.
func (s *MemStore) SummaryCandidates(conversationID string, keep int) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mc, ok := s.conversations[conversationID]
	if !ok {
		return nil, nil
	}

	var live []Message
	for _, m := range mc.conv.Messages {
		if m.Role != RoleSystem && !mc.summarized[m.ID] {
			live = append(live, m)
		}
	}
	if len(live) <= keep {
		return nil, nil
	}
	return live[:len(live)-keep], nil
}

// MarkSummarized flags the given messages as folded into the summary.
func (s *MemStore) MarkSummarized(conversationID string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mc, ok := s.conversations[conversationID]
	if !ok {
		return nil
	}
	for _, id := range ids {
		mc.summarized[id] = true
	}
	return nil
}

// GetSummary returns the current summary, or nil.
func (s *MemStore) GetSummary(conversationID string) (*Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mc, ok := s.conversations[conversationID]
	if !ok || mc.conv.Summary == nil {
		return nil, nil
	}
	sum := *mc.conv.Summary
	return &sum, nil
}

// SetSummary replaces the conversation's summary.
func (s *MemStore) SetSummary(conversationID string, sum Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mc := s.getOrCreate(conversationID)
	mc.conv.Summary = &sum
	mc.conv.UpdatedAt = time.Now().UTC()
	return nil
}

// SetLastTopic records the most recent topic tag.
func (s *MemStore) SetLastTopic(conversationID, topic string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mc := s.getOrCreate(conversationID)
	mc.conv.LastTopic = topic
	return nil
}

// Conversation returns a copy of the full conversation, or nil.
func (s *MemStore) Conversation(conversationID string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mc, ok := s.conversations[conversationID]
	if !ok {
		return nil, nil
	}

	conv := mc.conv
	conv.Messages = make([]Message, len(mc.conv.Messages))
	copy(conv.Messages, mc.conv.Messages)
	if mc.conv.Summary != nil {
		sum := *mc.conv.Summary
		conv.Summary = &sum
	}
	return &conv, nil
}

// Close is a no-op for the in-memory store.
func (s *MemStore) Close() error { return nil }
