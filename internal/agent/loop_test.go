package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/brightpost/assistant/internal/convo"
	"github.com/brightpost/assistant/internal/llm"
	"github.com/brightpost/assistant/internal/proposal"
	"github.com/brightpost/assistant/internal/tools"
)

// scriptedClient returns canned responses in order. The last response
// repeats if the loop asks for more.
type scriptedClient struct {
	responses []*llm.ChatResponse
	err       error
	calls     int
	windows   [][]llm.Message
}

func (c *scriptedClient) Chat(ctx context.Context, model string, messages []llm.Message, toolSchemas []map[string]any) (*llm.ChatResponse, error) {
	c.windows = append(c.windows, messages)
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	i := c.calls - 1
	if i >= len(c.responses) {
		i = len(c.responses) - 1
	}
	return c.responses[i], nil
}

func textResponse(content string) *llm.ChatResponse {
	return &llm.ChatResponse{
		Message:      llm.Message{Role: convo.RoleAssistant, Content: content},
		InputTokens:  100,
		OutputTokens: 20,
	}
}

func toolResponse(calls ...llm.ToolCall) *llm.ChatResponse {
	return &llm.ChatResponse{
		Message:      llm.Message{Role: convo.RoleAssistant, ToolCalls: calls},
		InputTokens:  100,
		OutputTokens: 20,
	}
}

func testLoop(client llm.Client, registry *tools.Registry) (*Loop, convo.Store) {
	logger := testLogger()
	store := convo.NewMemStore()
	svc := proposal.NewService(proposal.NewMemStore(), registry, nil, logger)
	coordinator := NewCoordinator(registry, svc, nil, logger)
	contexts := convo.NewContextManager(store, nil, convo.DefaultContextConfig(), logger)
	loop := NewLoop(client, "test-model", registry, coordinator, contexts, store,
		"You are a helper.", 5, nil, logger)
	return loop, store
}

func TestPostUserMessagePlainReply(t *testing.T) {
	client := &scriptedClient{responses: []*llm.ChatResponse{textResponse("Hello there.")}}
	loop, store := testLoop(client, testRegistry())

	result, err := loop.PostUserMessage(context.Background(), "c1", "hi")
	if err != nil {
		t.Fatalf("post: %v", err)
	}

	if result.Content != "Hello there." {
		t.Errorf("content %q, want model text verbatim", result.Content)
	}
	if client.calls != 1 {
		t.Errorf("expected 1 model call, got %d", client.calls)
	}
	if result.Usage.Rounds != 1 || result.Usage.ToolsUsed != 0 {
		t.Errorf("unexpected usage: %+v", result.Usage)
	}

	// History: user message then assistant reply.
	conv, _ := store.Conversation("c1")
	if len(conv.Messages) != 2 {
		t.Fatalf("expected 2 stored messages, got %d", len(conv.Messages))
	}
	if conv.Messages[0].Role != convo.RoleUser || conv.Messages[1].Role != convo.RoleAssistant {
		t.Errorf("unexpected history roles: %+v", conv.Messages)
	}
}

func TestPostUserMessageEmptyText(t *testing.T) {
	client := &scriptedClient{responses: []*llm.ChatResponse{textResponse("never")}}
	loop, store := testLoop(client, testRegistry())

	for _, text := range []string{"", "   ", "\n\t"} {
		_, err := loop.PostUserMessage(context.Background(), "c1", text)
		if !errors.Is(err, ErrEmptyMessage) {
			t.Errorf("text %q: expected ErrEmptyMessage, got %v", text, err)
		}
	}

	if client.calls != 0 {
		t.Error("model must not be called for empty input")
	}
	conv, _ := store.Conversation("c1")
	if conv != nil && len(conv.Messages) != 0 {
		t.Error("nothing should be stored for empty input")
	}
}

func TestPostUserMessageToolRoundTrip(t *testing.T) {
	client := &scriptedClient{responses: []*llm.ChatResponse{
		toolResponse(call("call-1", "lookup"), call("call-2", "lookup")),
		textResponse("The answer is 42."),
	}}
	loop, store := testLoop(client, testRegistry())

	result, err := loop.PostUserMessage(context.Background(), "c1", "look it up")
	if err != nil {
		t.Fatalf("post: %v", err)
	}

	if client.calls != 2 {
		t.Errorf("expected 2 model calls, got %d", client.calls)
	}
	if result.Content != "The answer is 42." {
		t.Errorf("wrong final content: %q", result.Content)
	}
	if result.Usage.Rounds != 2 || result.Usage.ToolsUsed != 2 {
		t.Errorf("unexpected usage: %+v", result.Usage)
	}

	// The second window must include the tool results.
	second := client.windows[1]
	toolMsgs := 0
	for _, m := range second {
		if m.Role == convo.RoleTool {
			toolMsgs++
			if m.Content != "42" {
				t.Errorf("tool result %q, want 42", m.Content)
			}
		}
	}
	if toolMsgs != 2 {
		t.Errorf("second window has %d tool messages, want 2", toolMsgs)
	}

	// History: user, assistant tool-call, two tool results, final reply.
	conv, _ := store.Conversation("c1")
	if len(conv.Messages) != 5 {
		t.Errorf("expected 5 stored messages, got %d", len(conv.Messages))
	}
}

func TestPostUserMessageApprovalHalts(t *testing.T) {
	client := &scriptedClient{responses: []*llm.ChatResponse{
		toolResponse(call("call-1", "mutate")),
		textResponse("should never be reached"),
	}}
	loop, store := testLoop(client, testRegistry())

	result, err := loop.PostUserMessage(context.Background(), "c1", "change it")
	if err != nil {
		t.Fatalf("post: %v", err)
	}

	if client.calls != 1 {
		t.Errorf("loop must halt at approval, got %d model calls", client.calls)
	}
	if result.Pending == nil {
		t.Fatal("expected pending approval")
	}
	if result.Pending.AdditionalCount != 0 {
		t.Errorf("additional count %d, want 0", result.Pending.AdditionalCount)
	}
	if !strings.Contains(result.Content, "1 tool(s) need approval") {
		t.Errorf("content missing approval notice: %q", result.Content)
	}

	// Nothing ran, so only the user message and the notice are stored.
	conv, _ := store.Conversation("c1")
	if len(conv.Messages) != 2 {
		t.Errorf("expected 2 stored messages, got %d", len(conv.Messages))
	}
}

func TestPostUserMessageApprovalWinsOverExecution(t *testing.T) {
	client := &scriptedClient{responses: []*llm.ChatResponse{
		toolResponse(call("call-1", "lookup"), call("call-2", "mutate"), call("call-3", "mutate")),
	}}
	loop, store := testLoop(client, testRegistry())

	result, err := loop.PostUserMessage(context.Background(), "c1", "do both")
	if err != nil {
		t.Fatalf("post: %v", err)
	}

	if result.Pending == nil {
		t.Fatal("expected pending approval")
	}
	if result.Pending.AdditionalCount != 1 {
		t.Errorf("additional count %d, want 1", result.Pending.AdditionalCount)
	}
	if !strings.Contains(result.Content, "2 tool(s) need approval") {
		t.Errorf("content missing approval notice: %q", result.Content)
	}
	// The read-only sibling ran and is counted.
	if result.Usage.ToolsUsed != 1 {
		t.Errorf("tools used %d, want 1", result.Usage.ToolsUsed)
	}

	// The sibling's result survives in history so the next turn does not
	// fetch it again: user, tool-call message, tool result, notice.
	conv, _ := store.Conversation("c1")
	if len(conv.Messages) != 4 {
		t.Fatalf("expected 4 stored messages, got %d: %+v", len(conv.Messages), conv.Messages)
	}
	callMsg := conv.Messages[1]
	if callMsg.Role != convo.RoleAssistant || !strings.Contains(callMsg.ToolCalls, "call-1") {
		t.Errorf("tool-call message missing executed call: %+v", callMsg)
	}
	// The pending calls were not recorded; their references would dangle.
	if strings.Contains(callMsg.ToolCalls, "call-2") || strings.Contains(callMsg.ToolCalls, "call-3") {
		t.Errorf("tool-call message includes pending calls: %s", callMsg.ToolCalls)
	}
	toolMsg := conv.Messages[2]
	if toolMsg.Role != convo.RoleTool || toolMsg.ToolCallID != "call-1" || toolMsg.Content != "42" {
		t.Errorf("unexpected stored tool result: %+v", toolMsg)
	}
	if conv.Messages[3].Role != convo.RoleAssistant || conv.Messages[3].Content != result.Content {
		t.Errorf("approval notice not stored last: %+v", conv.Messages[3])
	}
}

func TestPostUserMessagePartialFailure(t *testing.T) {
	client := &scriptedClient{responses: []*llm.ChatResponse{
		toolResponse(call("call-1", "lookup"), call("call-2", "broken")),
	}}
	loop, _ := testLoop(client, testRegistry())

	result, err := loop.PostUserMessage(context.Background(), "c1", "try both")
	if err != nil {
		t.Fatalf("post: %v", err)
	}

	if !result.Partial {
		t.Error("expected partial result")
	}
	if !strings.Contains(result.Content, "completed 1 action(s)") {
		t.Errorf("content missing partial summary: %q", result.Content)
	}
	if !strings.Contains(result.Content, "backend down") {
		t.Errorf("content missing failure detail: %q", result.Content)
	}
}

func TestPostUserMessageAllCallsFail(t *testing.T) {
	client := &scriptedClient{responses: []*llm.ChatResponse{
		toolResponse(call("call-1", "broken")),
	}}
	loop, _ := testLoop(client, testRegistry())

	result, err := loop.PostUserMessage(context.Background(), "c1", "try it")
	if err != nil {
		t.Fatalf("post: %v", err)
	}

	if result.Partial {
		t.Error("nothing succeeded, result should not be partial")
	}
	if !strings.Contains(result.Content, "couldn't complete") || !strings.Contains(result.Content, "backend down") {
		t.Errorf("content missing failure: %q", result.Content)
	}
}

func TestPostUserMessageRoundLimit(t *testing.T) {
	// Every round returns another tool call; the loop must stop at the
	// bound and flag the result partial.
	client := &scriptedClient{responses: []*llm.ChatResponse{
		toolResponse(call("call-1", "lookup")),
	}}
	loop, _ := testLoop(client, testRegistry())

	result, err := loop.PostUserMessage(context.Background(), "c1", "loop forever")
	if err != nil {
		t.Fatalf("post: %v", err)
	}

	if client.calls != 5 {
		t.Errorf("expected 5 model calls at the bound, got %d", client.calls)
	}
	if !result.Partial {
		t.Error("expected partial result at round limit")
	}
	if result.Usage.Rounds != 5 {
		t.Errorf("rounds %d, want 5", result.Usage.Rounds)
	}
}

func TestPostUserMessageDegradedOnGatewayError(t *testing.T) {
	client := &scriptedClient{err: errors.New("connection refused")}
	loop, store := testLoop(client, testRegistry())

	result, err := loop.PostUserMessage(context.Background(), "c1", "hello?")
	if err != nil {
		t.Fatalf("post: %v", err)
	}

	if !result.Degraded {
		t.Error("expected degraded result")
	}
	if result.Content == "" {
		t.Error("degraded result must still carry a message")
	}

	// The user message is preserved for a later retry.
	conv, _ := store.Conversation("c1")
	if len(conv.Messages) != 2 || conv.Messages[0].Content != "hello?" {
		t.Errorf("user message not preserved: %+v", conv.Messages)
	}
}
