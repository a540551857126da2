package convo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fillConversation(t *testing.T, s Store, id string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		if err := s.Append(id, Message{Role: role, Content: fmt.Sprintf("message %d", i)}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
}

func TestShouldSummarizeThreshold(t *testing.T) {
	store := NewMemStore()
	cm := NewContextManager(store, nil, DefaultContextConfig(), testLogger())

	fillConversation(t, store, "c1", 29)
	due, err := cm.ShouldSummarize("c1")
	if err != nil {
		t.Fatalf("should summarize: %v", err)
	}
	if due {
		t.Error("expected no summarization at 29 messages")
	}

	fillConversation(t, store, "c1", 1)
	due, _ = cm.ShouldSummarize("c1")
	if !due {
		t.Error("expected summarization at 30 messages")
	}
}

func TestShouldSummarizeBacksOffWithExistingSummary(t *testing.T) {
	store := NewMemStore()
	cm := NewContextManager(store, nil, DefaultContextConfig(), testLogger())

	store.SetSummary("c1", Summary{Overview: "earlier discussion"})

	fillConversation(t, store, "c1", 30)
	due, err := cm.ShouldSummarize("c1")
	if err != nil {
		t.Fatalf("should summarize: %v", err)
	}
	if due {
		t.Error("expected backoff threshold with existing summary at 30 messages")
	}

	fillConversation(t, store, "c1", 15)
	due, _ = cm.ShouldSummarize("c1")
	if !due {
		t.Error("expected summarization at 45 messages with existing summary")
	}
}

func TestAssembleContextSummarizesLongConversation(t *testing.T) {
	store := NewMemStore()
	complete := func(ctx context.Context, prompt string) (string, error) {
		return "Overview: campaign planning back and forth.\nKey Points:\n- budget agreed at 5000", nil
	}
	summarizer := NewSummarizer(store, complete, 10, 8, testLogger())
	cm := NewContextManager(store, summarizer, DefaultContextConfig(), testLogger())

	fillConversation(t, store, "c1", 35)

	window, err := cm.AssembleContext(context.Background(), "c1", "You are a helper.")
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}

	// System prompt + summary message + the 10 messages that stayed raw.
	if len(window) != 12 {
		t.Fatalf("expected 12-message window, got %d", len(window))
	}
	if window[0].Role != RoleSystem || window[0].Content != "You are a helper." {
		t.Errorf("first message is not the system prompt: %+v", window[0])
	}
	if window[1].Role != RoleSystem || !strings.Contains(window[1].Content, "campaign planning") {
		t.Errorf("second message is not the summary: %+v", window[1])
	}
	if window[2].Content != "message 25" {
		t.Errorf("raw window starts at %q, want message 25", window[2].Content)
	}
	if window[11].Content != "message 34" {
		t.Errorf("raw window ends at %q, want message 34", window[11].Content)
	}
}

func TestAssembleContextSummarizerFailureIsNonFatal(t *testing.T) {
	store := NewMemStore()
	complete := func(ctx context.Context, prompt string) (string, error) {
		return "", errors.New("model unavailable")
	}
	summarizer := NewSummarizer(store, complete, 10, 8, testLogger())
	cm := NewContextManager(store, summarizer, DefaultContextConfig(), testLogger())

	fillConversation(t, store, "c1", 35)

	window, err := cm.AssembleContext(context.Background(), "c1", "sys")
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}

	// No summary happened; the window is the system prompt plus the
	// truncated raw tail.
	if len(window) != 21 {
		t.Fatalf("expected 21-message window, got %d", len(window))
	}
	if window[1].Content != "message 15" {
		t.Errorf("raw window starts at %q, want message 15", window[1].Content)
	}
}

func TestAssembleContextShortConversation(t *testing.T) {
	store := NewMemStore()
	cm := NewContextManager(store, nil, DefaultContextConfig(), testLogger())

	fillConversation(t, store, "c1", 3)

	window, err := cm.AssembleContext(context.Background(), "c1", "sys")
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if len(window) != 4 {
		t.Fatalf("expected 4-message window, got %d", len(window))
	}
}
