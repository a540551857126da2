package convo

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// CompleteFunc produces a plain-text completion for a prompt. The agent
// wires this to the model gateway so this package never imports it.
type CompleteFunc func(ctx context.Context, prompt string) (string, error)

// Summarizer folds older conversation history into a compact summary so
// the context window stays bounded on long conversations.
type Summarizer struct {
	store     Store
	complete  CompleteFunc
	keep      int
	maxPoints int
	logger    *slog.Logger
}

// NewSummarizer creates a summarizer that keeps the most recent keep
// messages raw and caps the summary at maxPoints bullets.
func NewSummarizer(store Store, complete CompleteFunc, keep, maxPoints int, logger *slog.Logger) *Summarizer {
	if keep <= 0 {
		keep = 10
	}
	if maxPoints <= 0 {
		maxPoints = 8
	}
	return &Summarizer{
		store:     store,
		complete:  complete,
		keep:      keep,
		maxPoints: maxPoints,
		logger:    logger.With("component", "summarizer"),
	}
}

// Summarize condenses all live messages except the most recent ones into
// the conversation summary. The condensed messages stay in history but
// leave the model-visible window. An existing summary is folded into the
// new one via the prompt, so nothing decided earlier is lost.
func (s *Summarizer) Summarize(ctx context.Context, conversationID string) error {
	candidates, err := s.store.SummaryCandidates(conversationID, s.keep)
	if err != nil {
		return fmt.Errorf("load candidates: %w", err)
	}
	if len(candidates) == 0 {
		return nil
	}

	existing, err := s.store.GetSummary(conversationID)
	if err != nil {
		return fmt.Errorf("load summary: %w", err)
	}

	prompt := buildSummaryPrompt(existing, candidates)

	start := time.Now()
	reply, err := s.complete(ctx, prompt)
	if err != nil {
		return fmt.Errorf("summary completion: %w", err)
	}

	summary := ParseSummaryReply(reply, s.maxPoints)
	summary.UpdatedAt = time.Now().UTC()

	if err := s.store.SetSummary(conversationID, summary); err != nil {
		return fmt.Errorf("store summary: %w", err)
	}

	ids := make([]string, len(candidates))
	for i, m := range candidates {
		ids[i] = m.ID
	}
	if err := s.store.MarkSummarized(conversationID, ids); err != nil {
		return fmt.Errorf("mark summarized: %w", err)
	}

	if topic := firstPoint(summary); topic != "" {
		if err := s.store.SetLastTopic(conversationID, topic); err != nil {
			s.logger.Warn("failed to record topic", "error", err)
		}
	}

	s.logger.Info("conversation summarized",
		"conversation_id", conversationID,
		"messages_folded", len(candidates),
		"points", len(summary.Points),
		"duration", time.Since(start).Round(time.Millisecond))
	return nil
}

func buildSummaryPrompt(existing *Summary, messages []Message) string {
	var b strings.Builder
	b.WriteString("Condense the following conversation into a brief summary. Respond with these sections:\n")
	b.WriteString("Overview: one or two sentences on what the conversation is about.\n")
	b.WriteString("Key Points: up to 8 bullets covering topics discussed, decisions made, action items, and important data (names, numbers, dates).\n\n")

	if existing != nil {
		b.WriteString("Previous summary (fold its facts into the new one):\n")
		b.WriteString(existing.Overview)
		b.WriteString("\n")
		for _, p := range existing.Points {
			b.WriteString("- ")
			b.WriteString(p)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	b.WriteString("Conversation:\n")
	for _, m := range messages {
		content := m.Content
		if content == "" && m.ToolCalls != "" {
			content = "[requested tool calls]"
		}
		fmt.Fprintf(&b, "%s: %s\n", m.Role, content)
	}
	return b.String()
}

// ParseSummaryReply extracts a Summary from model output. It first looks
// for the labeled sections the prompt asks for; if the model ignored the
// format it falls back to treating the first paragraph as the overview
// and scanning the rest for bullets. Malformed output degrades to a
// bare-overview summary rather than an error.
func ParseSummaryReply(reply string, maxPoints int) Summary {
	reply = strings.TrimSpace(reply)

	if sum, ok := parseLabeledSummary(reply, maxPoints); ok {
		return sum
	}

	// Fallback: first paragraph is the overview, any bullet lines after
	// it become points.
	var sum Summary
	paragraphs := strings.SplitN(reply, "\n\n", 2)
	sum.Overview = strings.TrimSpace(paragraphs[0])

	rest := reply
	if len(paragraphs) == 2 {
		rest = paragraphs[1]
	}
	for _, line := range strings.Split(rest, "\n") {
		if p, ok := bulletText(line); ok {
			sum.Points = append(sum.Points, p)
		}
	}
	if len(sum.Points) > maxPoints {
		sum.Points = sum.Points[:maxPoints]
	}
	return sum
}

func parseLabeledSummary(reply string, maxPoints int) (Summary, bool) {
	var sum Summary
	section := ""
	for _, line := range strings.Split(reply, "\n") {
		trimmed := strings.TrimSpace(line)
		lower := strings.ToLower(strings.TrimLeft(trimmed, "#* "))

		switch {
		case strings.HasPrefix(lower, "overview:"):
			section = "overview"
			if after := textAfterLabel(trimmed); after != "" {
				sum.Overview = after
			}
			continue
		case strings.HasPrefix(lower, "key points:") || strings.HasPrefix(lower, "key points"):
			section = "points"
			continue
		case strings.HasPrefix(lower, "topics:") || strings.HasPrefix(lower, "decisions:") ||
			strings.HasPrefix(lower, "action items:") || strings.HasPrefix(lower, "key data:"):
			// Some models split points across their own headings.
			section = "points"
			if after := textAfterLabel(trimmed); after != "" {
				sum.Points = append(sum.Points, after)
			}
			continue
		}

		switch section {
		case "overview":
			if trimmed != "" {
				if sum.Overview != "" {
					sum.Overview += " "
				}
				sum.Overview += trimmed
			}
		case "points":
			if p, ok := bulletText(trimmed); ok {
				sum.Points = append(sum.Points, p)
			}
		}
	}

	if sum.Overview == "" {
		return Summary{}, false
	}
	if len(sum.Points) > maxPoints {
		sum.Points = sum.Points[:maxPoints]
	}
	return sum, true
}

func textAfterLabel(line string) string {
	if i := strings.Index(line, ":"); i != -1 {
		return strings.TrimSpace(line[i+1:])
	}
	return ""
}

func bulletText(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	for _, marker := range []string{"- ", "* ", "• "} {
		if strings.HasPrefix(trimmed, marker) {
			text := strings.TrimSpace(trimmed[len(marker):])
			return text, text != ""
		}
	}
	// Numbered bullets ("1. foo")
	if len(trimmed) > 2 && trimmed[0] >= '1' && trimmed[0] <= '9' && (trimmed[1] == '.' || trimmed[1] == ')') {
		text := strings.TrimSpace(trimmed[2:])
		return text, text != ""
	}
	return "", false
}

func firstPoint(s Summary) string {
	if len(s.Points) > 0 {
		return s.Points[0]
	}
	return ""
}
