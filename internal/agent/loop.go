// Package agent implements the conversation loop: it assembles the
// bounded context, calls the model, dispatches tool-call batches, and
// feeds results back to the model until it produces a final answer or a
// mutating call halts the turn for approval.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/brightpost/assistant/internal/convo"
	"github.com/brightpost/assistant/internal/events"
	"github.com/brightpost/assistant/internal/llm"
	"github.com/brightpost/assistant/internal/tools"
)

// ErrEmptyMessage is returned when a posted message has no text. Checked
// before anything is stored or any model call happens.
var ErrEmptyMessage = errors.New("message text is empty")

// Usage accumulates model and tool activity across one turn.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	Rounds       int `json:"rounds"`
	ToolsUsed    int `json:"tools_used"`
}

// PendingApproval describes the approval a halted turn is waiting on.
type PendingApproval struct {
	ProposalID      string `json:"proposal_id"`
	ActionDisplay   string `json:"action_display"`
	AdditionalCount int    `json:"additional_count"`
}

// TurnResult is the outcome of posting one user message.
type TurnResult struct {
	ConversationID string           `json:"conversation_id"`
	Content        string           `json:"content"`
	Pending        *PendingApproval `json:"pending,omitempty"`
	// Partial means tools ran but the turn could not finish cleanly:
	// some calls failed, or the round limit was reached.
	Partial bool `json:"partial,omitempty"`
	// Degraded means the model gateway was unreachable.
	Degraded bool  `json:"degraded,omitempty"`
	Usage    Usage `json:"usage"`
}

// Loop drives the model-tool conversation cycle.
type Loop struct {
	gateway      llm.Client
	model        string
	registry     *tools.Registry
	coordinator  *Coordinator
	contexts     *convo.ContextManager
	store        convo.Store
	systemPrompt string
	maxRounds    int
	bus          *events.Bus
	logger       *slog.Logger
}

// NewLoop creates a conversation loop. maxRounds bounds the number of
// model calls per user message.
func NewLoop(gateway llm.Client, model string, registry *tools.Registry, coordinator *Coordinator,
	contexts *convo.ContextManager, store convo.Store, systemPrompt string, maxRounds int,
	bus *events.Bus, logger *slog.Logger) *Loop {
	if maxRounds <= 0 {
		maxRounds = 5
	}
	return &Loop{
		gateway:      gateway,
		model:        model,
		registry:     registry,
		coordinator:  coordinator,
		contexts:     contexts,
		store:        store,
		systemPrompt: systemPrompt,
		maxRounds:    maxRounds,
		bus:          bus,
		logger:       logger.With("component", "loop"),
	}
}

// PostUserMessage appends a user message and runs the loop until the
// model produces text, a mutating call needs approval, tools fail, or
// the round limit is hit.
func (l *Loop) PostUserMessage(ctx context.Context, conversationID, text string) (*TurnResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	if err := l.store.Append(conversationID, convo.Message{Role: convo.RoleUser, Content: text}); err != nil {
		return nil, fmt.Errorf("store user message: %w", err)
	}

	result := &TurnResult{ConversationID: conversationID}

	for round := 1; round <= l.maxRounds; round++ {
		result.Usage.Rounds = round

		window, err := l.contexts.AssembleContext(ctx, conversationID, l.systemPrompt)
		if err != nil {
			return nil, fmt.Errorf("assemble context: %w", err)
		}

		resp, err := l.gateway.Chat(ctx, l.model, toModelMessages(window), l.registry.Schemas())
		if err != nil {
			l.logger.Error("model call failed", "conversation_id", conversationID, "round", round, "error", err)
			return l.finish(result, "I can't reach the model right now. Your message is saved; please try again in a moment.",
				func(r *TurnResult) { r.Degraded = true })
		}
		result.Usage.InputTokens += resp.InputTokens
		result.Usage.OutputTokens += resp.OutputTokens

		l.bus.Publish(events.Event{
			Source: events.SourceLoop,
			Type:   "loop.round",
			Data: map[string]any{
				"conversation_id": conversationID,
				"round":           round,
				"tool_calls":      len(resp.Message.ToolCalls),
			},
		})

		if !resp.HasToolCalls() {
			return l.finish(result, resp.Message.Content, nil)
		}

		batch := l.coordinator.Dispatch(ctx, conversationID, resp.Message.ToolCalls)

		// Approval always wins the tie-break: if any call in the batch
		// needs it, the turn halts even when siblings already ran.
		if len(batch.ApprovalRequired) > 0 {
			result.Usage.ToolsUsed += len(batch.Executed)
			// Keep the executed read-only results in history so the model
			// does not re-fetch them after the approval decision. Only the
			// calls that ran are recorded; pending proposals would leave
			// dangling call references.
			if len(batch.Executed) > 0 {
				ran := executedOnly(resp.Message, batch.Executed)
				if err := l.recordBatch(conversationID, ran, &BatchResult{Executed: batch.Executed}); err != nil {
					return nil, err
				}
			}
			first := batch.ApprovalRequired[0]
			result.Pending = &PendingApproval{
				ProposalID:      first.ID,
				ActionDisplay:   first.ActionDisplay,
				AdditionalCount: len(batch.ApprovalRequired) - 1,
			}
			content := fmt.Sprintf("%d tool(s) need approval before I can continue: %s",
				len(batch.ApprovalRequired), first.ActionDisplay)
			if result.Pending.AdditionalCount > 0 {
				content += fmt.Sprintf(" (plus %d more pending)", result.Pending.AdditionalCount)
			}
			return l.finish(result, content, nil)
		}

		result.Usage.ToolsUsed += len(batch.Executed)
		if err := l.recordBatch(conversationID, resp.Message, batch); err != nil {
			return nil, err
		}

		if len(batch.Errored) > 0 {
			return l.finish(result, composeErrorReply(batch), func(r *TurnResult) {
				r.Partial = len(batch.Executed) > 0
			})
		}
		// All calls executed: loop so the model can use the results.
	}

	l.logger.Warn("round limit reached", "conversation_id", conversationID, "rounds", l.maxRounds)
	return l.finish(result,
		"I hit the limit on tool rounds for one message, so this answer may be incomplete. Ask me to continue if you need more.",
		func(r *TurnResult) { r.Partial = true })
}

// finish appends the assistant's reply to history and fills the result.
func (l *Loop) finish(result *TurnResult, content string, mutate func(*TurnResult)) (*TurnResult, error) {
	if err := l.store.Append(result.ConversationID, convo.Message{
		Role:    convo.RoleAssistant,
		Content: content,
	}); err != nil {
		return nil, fmt.Errorf("store assistant message: %w", err)
	}
	result.Content = content
	if mutate != nil {
		mutate(result)
	}
	return result, nil
}

// recordBatch appends the assistant's tool-call message and the tool
// results, in call-ID order, so the next round sees a coherent history.
func (l *Loop) recordBatch(conversationID string, assistant llm.Message, batch *BatchResult) error {
	if err := l.store.Append(conversationID, convo.Message{
		Role:      convo.RoleAssistant,
		Content:   assistant.Content,
		ToolCalls: encodeToolCalls(assistant.ToolCalls),
	}); err != nil {
		return fmt.Errorf("store tool-call message: %w", err)
	}

	outcomes := make([]CallOutcome, 0, len(batch.Executed)+len(batch.Errored))
	outcomes = append(outcomes, batch.Executed...)
	outcomes = append(outcomes, batch.Errored...)
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].CallID < outcomes[j].CallID })

	for _, o := range outcomes {
		content := o.Result
		if o.Err != nil {
			content = "Error: " + o.Err.Error()
		}
		if err := l.store.Append(conversationID, convo.Message{
			Role:       convo.RoleTool,
			Content:    content,
			ToolCallID: o.CallID,
		}); err != nil {
			return fmt.Errorf("store tool result: %w", err)
		}
	}
	return nil
}

// executedOnly narrows an assistant tool-call message to the calls that
// actually ran.
func executedOnly(m llm.Message, executed []CallOutcome) llm.Message {
	ran := make(map[string]bool, len(executed))
	for _, o := range executed {
		ran[o.CallID] = true
	}
	var calls []llm.ToolCall
	for _, tc := range m.ToolCalls {
		if ran[tc.ID] {
			calls = append(calls, tc)
		}
	}
	return llm.Message{Role: m.Role, ToolCalls: calls}
}

func composeErrorReply(batch *BatchResult) string {
	errs := make([]string, len(batch.Errored))
	for i, o := range batch.Errored {
		errs[i] = o.Err.Error()
	}
	if len(batch.Executed) == 0 {
		return fmt.Sprintf("I couldn't complete that: %s", errs[0])
	}
	return fmt.Sprintf("I completed %d action(s), but ran into problems with the rest: %s",
		len(batch.Executed), strings.Join(errs, "; "))
}

// toModelMessages converts stored messages to the model wire shape,
// decoding persisted tool-call JSON.
func toModelMessages(window []convo.Message) []llm.Message {
	out := make([]llm.Message, len(window))
	for i, m := range window {
		lm := llm.Message{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		if m.ToolCalls != "" {
			var calls []llm.ToolCall
			if err := json.Unmarshal([]byte(m.ToolCalls), &calls); err == nil {
				lm.ToolCalls = calls
			}
		}
		out[i] = lm
	}
	return out
}

func encodeToolCalls(calls []llm.ToolCall) string {
	if len(calls) == 0 {
		return ""
	}
	data, err := json.Marshal(calls)
	if err != nil {
		return ""
	}
	return string(data)
}
