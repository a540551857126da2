package llm

import "context"

// Client is the minimal model gateway interface the orchestrator consumes.
// It takes a fully assembled message window (system prompt first) and the
// tool schemas, and returns either final text or a batch of proposed tool
// calls on the response message. Retry and timeout policy belong to the
// implementation, not the caller.
type Client interface {
	Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error)
}
