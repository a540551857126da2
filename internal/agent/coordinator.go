package agent

import (
	"context"
	"log/slog"
	"sort"

	"github.com/sourcegraph/conc"

	"github.com/brightpost/assistant/internal/events"
	"github.com/brightpost/assistant/internal/llm"
	"github.com/brightpost/assistant/internal/proposal"
	"github.com/brightpost/assistant/internal/tools"
)

// CallOutcome is the result of one call in a batch.
type CallOutcome struct {
	CallID string
	Name   string
	Result string
	Err    error
}

// BatchResult partitions a tool-call batch by what happened to each
// call. A batch can populate all three slices at once.
type BatchResult struct {
	// Executed holds read-only calls that ran to completion.
	Executed []CallOutcome
	// ApprovalRequired holds proposals created for mutating calls.
	// Nothing in this slice has run.
	ApprovalRequired []*proposal.Proposal
	// Errored holds unknown tools and read-only calls whose execution
	// failed.
	Errored []CallOutcome
}

// Coordinator classifies a batch of proposed tool calls and dispatches
// them: read-only calls run concurrently, mutating calls become pending
// proposals, unknown tools become errors. Failures never cancel sibling
// calls; every call gets an individual outcome.
type Coordinator struct {
	registry  *tools.Registry
	proposals *proposal.Service
	bus       *events.Bus
	logger    *slog.Logger
}

// NewCoordinator creates a dispatch coordinator.
func NewCoordinator(registry *tools.Registry, proposals *proposal.Service, bus *events.Bus, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		registry:  registry,
		proposals: proposals,
		bus:       bus,
		logger:    logger.With("component", "coordinator"),
	}
}

// Dispatch processes one batch of proposed calls from the model.
func (c *Coordinator) Dispatch(ctx context.Context, conversationID string, calls []llm.ToolCall) *BatchResult {
	result := &BatchResult{}

	type readOnlyCall struct {
		id   string
		name string
		args map[string]any
	}
	var readOnly []readOnlyCall

	for _, call := range calls {
		name := call.Function.Name
		args := call.Function.Arguments

		capability, err := c.registry.Classify(name)
		if err != nil {
			c.logger.Warn("model requested unknown tool", "tool", name)
			result.Errored = append(result.Errored, CallOutcome{CallID: call.ID, Name: name, Err: err})
			continue
		}

		if capability == tools.Mutating {
			display := c.registry.Display(name, args)
			p, err := c.proposals.Propose(conversationID, name, display, args)
			if err != nil {
				result.Errored = append(result.Errored, CallOutcome{CallID: call.ID, Name: name, Err: err})
				continue
			}
			result.ApprovalRequired = append(result.ApprovalRequired, p)
			continue
		}

		readOnly = append(readOnly, readOnlyCall{id: call.ID, name: name, args: args})
	}

	// Fan out read-only calls. Outcomes land in a pre-sized slice so no
	// coordination is needed beyond the wait, and a failing call never
	// cancels its siblings.
	outcomes := make([]CallOutcome, len(readOnly))
	var wg conc.WaitGroup
	for i, call := range readOnly {
		i, call := i, call
		wg.Go(func() {
			res, err := c.registry.Execute(ctx, call.name, call.args)
			outcomes[i] = CallOutcome{CallID: call.id, Name: call.name, Result: res, Err: err}
		})
	}
	wg.Wait()

	for _, o := range outcomes {
		if o.Err != nil {
			c.logger.Warn("tool call failed", "tool", o.Name, "error", o.Err)
			result.Errored = append(result.Errored, o)
		} else {
			result.Executed = append(result.Executed, o)
		}
		c.bus.Publish(events.Event{
			Source: events.SourceTools,
			Type:   "tool.executed",
			Data: map[string]any{
				"conversation_id": conversationID,
				"tool":            o.Name,
				"ok":              o.Err == nil,
			},
		})
	}

	// Deterministic order regardless of completion timing.
	sortOutcomes(result.Executed)
	sortOutcomes(result.Errored)
	return result
}

func sortOutcomes(outcomes []CallOutcome) {
	sort.Slice(outcomes, func(i, j int) bool {
		return outcomes[i].CallID < outcomes[j].CallID
	})
}
