// Package proposal implements the approval flow for mutating tool calls.
// A proposed call is persisted before the user sees it and transitions
// through a strict lifecycle; the side effect runs only after approval,
// and every transition is guarded so a decision can never be applied
// twice.
package proposal

import (
	"errors"
	"fmt"
	"time"
)

// Status is a proposal's lifecycle state.
type Status string

// Lifecycle: pending_approval → approved → executed | failed,
// or pending_approval → rejected. Terminal states never change.
const (
	StatusPending  Status = "pending_approval"
	StatusApproved Status = "approved"
	StatusExecuted Status = "executed"
	StatusFailed   Status = "failed"
	StatusRejected Status = "rejected"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	switch s {
	case StatusExecuted, StatusFailed, StatusRejected:
		return true
	}
	return false
}

// ErrNotFound is returned when a proposal does not exist.
var ErrNotFound = errors.New("proposal not found")

// ErrStateConflict is returned when a transition's precondition does not
// hold, e.g. approving a proposal that was already rejected.
type ErrStateConflict struct {
	ID     string
	Status Status // actual status at the time of the attempt
}

func (e *ErrStateConflict) Error() string {
	return fmt.Sprintf("proposal %s is %s", e.ID, e.Status)
}

// Proposal is a mutating tool call awaiting or past its approval
// decision.
type Proposal struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	ToolName       string    `json:"tool_name"`
	// Arguments is the JSON-encoded argument object, stored verbatim so
	// execution after approval uses exactly what the model proposed.
	Arguments     string    `json:"arguments"`
	ActionDisplay string    `json:"action_display"`
	Status        Status    `json:"status"`
	// DecidedBy identifies who approved or rejected the proposal.
	DecidedBy string `json:"decided_by,omitempty"`
	// RejectReason is the optional reason given with a rejection.
	RejectReason string    `json:"reject_reason,omitempty"`
	Result       string    `json:"result,omitempty"`
	Error        string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
