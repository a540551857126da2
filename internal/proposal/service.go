package proposal

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/brightpost/assistant/internal/convo"
	"github.com/brightpost/assistant/internal/events"
	"github.com/brightpost/assistant/internal/tools"
)

// Executor runs an approved tool call. Satisfied by *tools.Registry.
type Executor interface {
	Execute(ctx context.Context, name string, args map[string]any) (string, error)
}

// Service owns the proposal lifecycle: creation when the model proposes
// a mutating call, and the approve/reject decisions that resolve it.
// Execution happens here, after approval, never before.
type Service struct {
	store    Store
	executor Executor
	bus      *events.Bus
	logger   *slog.Logger
}

// NewService creates a proposal service. The bus may be nil.
func NewService(store Store, executor Executor, bus *events.Bus, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		executor: executor,
		bus:      bus,
		logger:   logger.With("component", "proposal"),
	}
}

// Propose persists a new pending proposal for a mutating tool call.
func (s *Service) Propose(conversationID, toolName, actionDisplay string, args map[string]any) (*Proposal, error) {
	p := &Proposal{
		ID:             convo.NewID(),
		ConversationID: conversationID,
		ToolName:       toolName,
		Arguments:      tools.EncodeArgs(args),
		ActionDisplay:  actionDisplay,
		Status:         StatusPending,
	}
	if err := s.store.Create(p); err != nil {
		return nil, fmt.Errorf("create proposal: %w", err)
	}

	s.logger.Info("proposal created", "id", p.ID, "tool", toolName, "action", actionDisplay)
	s.publish("proposal.created", p)
	return p, nil
}

// Approve marks the proposal approved by the given identity and executes
// it. The transition is guarded: if the proposal was already decided,
// the decision stands and *ErrStateConflict comes back without anything
// running. Execution failure resolves the proposal to failed; the
// approval itself is not rolled back.
func (s *Service) Approve(ctx context.Context, id, approver string) (*Proposal, error) {
	p, err := s.store.Transition(id, StatusPending, StatusApproved, approver, "")
	if err != nil {
		return nil, err
	}
	s.publish("proposal.approved", p)

	args, err := tools.DecodeArgs(p.Arguments)
	if err != nil {
		return s.resolve(p.ID, "", fmt.Sprintf("invalid stored arguments: %v", err))
	}

	result, execErr := s.executor.Execute(ctx, p.ToolName, args)
	if execErr != nil {
		s.logger.Warn("approved proposal failed", "id", p.ID, "tool", p.ToolName, "error", execErr)
		return s.resolve(p.ID, "", execErr.Error())
	}

	s.logger.Info("proposal executed", "id", p.ID, "tool", p.ToolName)
	return s.resolve(p.ID, result, "")
}

func (s *Service) resolve(id, result, errMsg string) (*Proposal, error) {
	to := StatusExecuted
	eventType := "proposal.executed"
	if errMsg != "" {
		to = StatusFailed
		eventType = "proposal.failed"
	}

	p, err := s.store.Resolve(id, StatusApproved, to, result, errMsg)
	if err != nil {
		return nil, fmt.Errorf("resolve proposal: %w", err)
	}
	s.publish(eventType, p)
	return p, nil
}

// Reject marks the proposal rejected without executing it. The reason is
// recorded on the proposal.
func (s *Service) Reject(id, approver, reason string) (*Proposal, error) {
	p, err := s.store.Transition(id, StatusPending, StatusRejected, approver, reason)
	if err != nil {
		return nil, err
	}

	s.logger.Info("proposal rejected", "id", p.ID, "tool", p.ToolName, "reason", reason)
	s.publish("proposal.rejected", p)
	return p, nil
}

// Pending returns proposals awaiting a decision, oldest first, up to
// limit. A limit <= 0 returns all of them.
func (s *Service) Pending(limit int) ([]*Proposal, error) {
	return s.store.Pending(limit)
}

// Recent returns recently executed or failed proposals, newest first.
func (s *Service) Recent(limit int) ([]*Proposal, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.store.Recent(limit)
}

func (s *Service) publish(eventType string, p *Proposal) {
	s.bus.Publish(events.Event{
		Source: events.SourceProposal,
		Type:   eventType,
		Data: map[string]any{
			"id":              p.ID,
			"conversation_id": p.ConversationID,
			"tool":            p.ToolName,
			"action":          p.ActionDisplay,
			"status":          string(p.Status),
		},
	})
}
