package convo

import (
	"context"
	"fmt"
	"strings"
	"testing"
)

func TestParseSummaryReplyLabeled(t *testing.T) {
	reply := `Overview: The user is planning next month's campaigns.

Key Points:
- Spring Sale budget raised to 6000
- Two posts scheduled for Friday
* Newsletter open rate is 42%`

	sum := ParseSummaryReply(reply, 8)
	if sum.Overview != "The user is planning next month's campaigns." {
		t.Errorf("wrong overview: %q", sum.Overview)
	}
	if len(sum.Points) != 3 {
		t.Fatalf("expected 3 points, got %d: %v", len(sum.Points), sum.Points)
	}
	if sum.Points[2] != "Newsletter open rate is 42%" {
		t.Errorf("wrong point: %q", sum.Points[2])
	}
}

func TestParseSummaryReplySectionHeadings(t *testing.T) {
	reply := `Overview: Budget review session.
Decisions:
- pause the TikTok campaign
Action Items:
- draft the launch post
1. confirm Friday's schedule`

	sum := ParseSummaryReply(reply, 8)
	if sum.Overview != "Budget review session." {
		t.Errorf("wrong overview: %q", sum.Overview)
	}
	if len(sum.Points) != 3 {
		t.Fatalf("expected 3 points, got %d: %v", len(sum.Points), sum.Points)
	}
}

func TestParseSummaryReplyFallback(t *testing.T) {
	// Model ignored the requested format entirely.
	reply := `The conversation covered campaign performance and scheduling.

Some things that came up:
- impressions are up
- the launch moved to May`

	sum := ParseSummaryReply(reply, 8)
	if !strings.Contains(sum.Overview, "campaign performance") {
		t.Errorf("wrong overview: %q", sum.Overview)
	}
	if len(sum.Points) != 2 {
		t.Errorf("expected 2 points, got %d: %v", len(sum.Points), sum.Points)
	}
}

func TestParseSummaryReplyCapsPoints(t *testing.T) {
	var b strings.Builder
	b.WriteString("Overview: long meeting.\nKey Points:\n")
	for i := 0; i < 12; i++ {
		fmt.Fprintf(&b, "- point %d\n", i)
	}

	sum := ParseSummaryReply(b.String(), 8)
	if len(sum.Points) != 8 {
		t.Errorf("expected 8 points after cap, got %d", len(sum.Points))
	}
}

func TestParseSummaryReplyMalformed(t *testing.T) {
	sum := ParseSummaryReply("just some text with no structure", 8)
	if sum.Overview == "" {
		t.Error("expected fallback overview from unstructured text")
	}
	if len(sum.Points) != 0 {
		t.Errorf("expected no points, got %v", sum.Points)
	}
}

func TestSummarizeFoldsAndMarks(t *testing.T) {
	store := NewMemStore()
	var gotPrompt string
	complete := func(ctx context.Context, prompt string) (string, error) {
		gotPrompt = prompt
		return "Overview: testing.\nKey Points:\n- kept the thread going", nil
	}
	s := NewSummarizer(store, complete, 2, 8, testLogger())

	for i := 0; i < 5; i++ {
		store.Append("c1", Message{Role: RoleUser, Content: fmt.Sprintf("msg %d", i)})
	}

	if err := s.Summarize(context.Background(), "c1"); err != nil {
		t.Fatalf("summarize: %v", err)
	}

	if !strings.Contains(gotPrompt, "msg 0") || strings.Contains(gotPrompt, "msg 4") {
		t.Errorf("prompt should contain folded messages only:\n%s", gotPrompt)
	}

	count, _ := store.LiveNonSystemCount("c1")
	if count != 2 {
		t.Errorf("expected 2 live messages, got %d", count)
	}

	sum, _ := store.GetSummary("c1")
	if sum == nil || sum.Overview != "testing." {
		t.Errorf("summary not stored: %+v", sum)
	}

	conv, _ := store.Conversation("c1")
	if conv.LastTopic != "kept the thread going" {
		t.Errorf("last topic not recorded: %q", conv.LastTopic)
	}
}

func TestSummarizePromptIncludesPreviousSummary(t *testing.T) {
	store := NewMemStore()
	store.SetSummary("c1", Summary{Overview: "earlier context", Points: []string{"old fact"}})

	var gotPrompt string
	complete := func(ctx context.Context, prompt string) (string, error) {
		gotPrompt = prompt
		return "Overview: merged.", nil
	}
	s := NewSummarizer(store, complete, 1, 8, testLogger())

	for i := 0; i < 4; i++ {
		store.Append("c1", Message{Role: RoleUser, Content: fmt.Sprintf("msg %d", i)})
	}

	if err := s.Summarize(context.Background(), "c1"); err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if !strings.Contains(gotPrompt, "earlier context") || !strings.Contains(gotPrompt, "old fact") {
		t.Error("previous summary not folded into prompt")
	}
}

func TestSummarizeNothingToDo(t *testing.T) {
	store := NewMemStore()
	called := false
	complete := func(ctx context.Context, prompt string) (string, error) {
		called = true
		return "", nil
	}
	s := NewSummarizer(store, complete, 10, 8, testLogger())

	store.Append("c1", Message{Role: RoleUser, Content: "hi"})
	if err := s.Summarize(context.Background(), "c1"); err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if called {
		t.Error("model should not be called when nothing needs folding")
	}
}
