package convo

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ContextConfig bounds the model-visible window.
type ContextConfig struct {
	// MaxContextMessages is the number of recent raw messages included in
	// the assembled window.
	MaxContextMessages int
	// SummaryTriggerMessages is the live message count at which
	// summarization runs. Once a summary exists the effective threshold
	// is 1.5x this value.
	SummaryTriggerMessages int
	// SummaryCutoffMessages is how many recent messages stay raw when
	// older ones are folded into the summary.
	SummaryCutoffMessages int
	// MaxSummaryPoints caps the summary bullet list.
	MaxSummaryPoints int
}

// DefaultContextConfig returns the standard window bounds.
func DefaultContextConfig() ContextConfig {
	return ContextConfig{
		MaxContextMessages:     20,
		SummaryTriggerMessages: 30,
		SummaryCutoffMessages:  10,
		MaxSummaryPoints:       8,
	}
}

// ContextManager assembles the bounded message window sent to the model
// and decides when older history gets folded into the summary.
type ContextManager struct {
	store      Store
	summarizer *Summarizer
	config     ContextConfig
	logger     *slog.Logger
}

// NewContextManager creates a context manager. The summarizer may be nil,
// in which case history is truncated without summarization.
func NewContextManager(store Store, summarizer *Summarizer, config ContextConfig, logger *slog.Logger) *ContextManager {
	if config.MaxContextMessages <= 0 {
		config = DefaultContextConfig()
	}
	return &ContextManager{
		store:      store,
		summarizer: summarizer,
		config:     config,
		logger:     logger.With("component", "context"),
	}
}

// ShouldSummarize reports whether the conversation's live history has
// grown past the trigger threshold.
func (cm *ContextManager) ShouldSummarize(conversationID string) (bool, error) {
	count, err := cm.store.LiveNonSystemCount(conversationID)
	if err != nil {
		return false, fmt.Errorf("count messages: %w", err)
	}

	threshold := cm.config.SummaryTriggerMessages
	existing, err := cm.store.GetSummary(conversationID)
	if err != nil {
		return false, fmt.Errorf("load summary: %w", err)
	}
	if existing != nil {
		// Re-summarizing at the base threshold would thrash; back off.
		threshold = threshold * 3 / 2
	}

	return count >= threshold, nil
}

// AssembleContext builds the message window for a model call: the system
// prompt, the summary (when one exists) as a second system message, then
// the most recent raw messages in order. Summarization failures are
// logged and swallowed; the conversation proceeds on the truncated
// window.
func (cm *ContextManager) AssembleContext(ctx context.Context, conversationID, systemPrompt string) ([]Message, error) {
	if cm.summarizer != nil {
		due, err := cm.ShouldSummarize(conversationID)
		if err != nil {
			return nil, err
		}
		if due {
			if err := cm.summarizer.Summarize(ctx, conversationID); err != nil {
				cm.logger.Warn("summarization failed, continuing with truncated window",
					"conversation_id", conversationID, "error", err)
			}
		}
	}

	window := []Message{{
		Role:      RoleSystem,
		Content:   systemPrompt,
		Timestamp: time.Now().UTC(),
	}}

	summary, err := cm.store.GetSummary(conversationID)
	if err != nil {
		return nil, fmt.Errorf("load summary: %w", err)
	}
	if summary != nil {
		window = append(window, Message{
			Role:      RoleSystem,
			Content:   renderSummary(summary),
			Timestamp: summary.UpdatedAt,
		})
	}

	recent, err := cm.store.Recent(conversationID, cm.config.MaxContextMessages)
	if err != nil {
		return nil, fmt.Errorf("load recent messages: %w", err)
	}
	return append(window, recent...), nil
}

func renderSummary(s *Summary) string {
	var b strings.Builder
	b.WriteString("Summary of the conversation so far:\n")
	b.WriteString(s.Overview)
	if len(s.Points) > 0 {
		b.WriteString("\n\nKey points:\n")
		for _, p := range s.Points {
			b.WriteString("- ")
			b.WriteString(p)
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
