package engine

import "github.com/google/uuid"

// ArchiveStore persists workflows once they reach a terminal state. The
// engine keeps its own in-memory archive; a store is an optional
// write-through sink consulted only when a lookup misses memory.
type ArchiveStore interface {
	// SaveCompleted records a terminal workflow. Called exactly once per
	// workflow, after it leaves the active table.
	SaveCompleted(completed *CompletedWorkflow) error
	// GetCompleted returns the archived workflow, or false when the id
	// is unknown.
	GetCompleted(id uuid.UUID) (*CompletedWorkflow, bool, error)
	// ListCompleted returns the ids of archived workflows, newest first,
	// up to limit. A limit <= 0 means no bound.
	ListCompleted(limit int) ([]uuid.UUID, error)
}
