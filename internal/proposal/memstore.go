package proposal

import (
	"sort"
	"sync"
	"time"
)

// MemStore is an in-memory Store for development and tests.
type MemStore struct {
	mu        sync.RWMutex
	proposals map[string]*Proposal
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{proposals: make(map[string]*Proposal)}
}

// Create persists a new proposal in its initial state.
func (s *MemStore) Create(p *Proposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	if p.Status == "" {
		p.Status = StatusPending
	}

	copy := *p
	s.proposals[p.ID] = &copy
	return nil
}

// Get returns the proposal, or ErrNotFound.
func (s *MemStore) Get(id string) (*Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.proposals[id]
	if !ok {
		return nil, ErrNotFound
	}
	copy := *p
	return &copy, nil
}

// Transition moves the proposal from the expected status to the next one.
func (s *MemStore) Transition(id string, from, to Status, decidedBy, reason string) (*Proposal, error) {
	return s.apply(id, from, to, func(p *Proposal) {
		p.DecidedBy = decidedBy
		p.RejectReason = reason
	})
}

// Resolve records the execution outcome.
func (s *MemStore) Resolve(id string, from, to Status, result, errMsg string) (*Proposal, error) {
	return s.apply(id, from, to, func(p *Proposal) {
		p.Result = result
		p.Error = errMsg
	})
}

func (s *MemStore) apply(id string, from, to Status, mutate func(*Proposal)) (*Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.proposals[id]
	if !ok {
		return nil, ErrNotFound
	}
	if p.Status != from {
		return nil, &ErrStateConflict{ID: id, Status: p.Status}
	}

	p.Status = to
	p.UpdatedAt = time.Now().UTC()
	if mutate != nil {
		mutate(p)
	}
	copy := *p
	return &copy, nil
}

// Pending returns proposals awaiting a decision, oldest first.
func (s *MemStore) Pending(limit int) ([]*Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Proposal
	for _, p := range s.proposals {
		if p.Status == StatusPending {
			copy := *p
			out = append(out, &copy)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Recent returns the most recently updated executed or failed
// proposals. Rejected proposals never ran, so they are not part of the
// execution history.
func (s *MemStore) Recent(limit int) ([]*Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Proposal
	for _, p := range s.proposals {
		if p.Status == StatusExecuted || p.Status == StatusFailed {
			copy := *p
			out = append(out, &copy)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *MemStore) Close() error { return nil }
