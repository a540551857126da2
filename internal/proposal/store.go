package proposal

// Store persists proposals. Implementations: MemStore (ephemeral) and
// SQLiteStore (durable), selected by config. Transition and Resolve are
// compare-and-set: they apply only when the proposal is currently in the
// expected state, so concurrent decisions cannot both win.
type Store interface {
	// Create persists a new proposal in its initial state.
	Create(p *Proposal) error

	// Get returns the proposal, or ErrNotFound.
	Get(id string) (*Proposal, error)

	// Transition moves the proposal from the expected status to the next
	// one and returns the updated proposal, recording who decided and an
	// optional reason. If the proposal is in any other state it returns
	// *ErrStateConflict carrying the actual state.
	Transition(id string, from, to Status, decidedBy, reason string) (*Proposal, error)

	// Resolve records the execution outcome, guarded the same way as
	// Transition. Result and errMsg are stored on the proposal.
	Resolve(id string, from, to Status, result, errMsg string) (*Proposal, error)

	// Pending returns proposals awaiting a decision, oldest first, up to
	// limit. A limit <= 0 returns all of them.
	Pending(limit int) ([]*Proposal, error)

	// Recent returns the most recently updated executed or failed
	// proposals, newest first, up to limit. Rejected proposals are not
	// listed; they never ran.
	Recent(limit int) ([]*Proposal, error)

	Close() error
}
