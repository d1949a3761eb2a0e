// Delegation persistence interface.
//
// Information Hiding:
// - Row layout and conditional-update SQL hidden behind the interface
// - Status transition atomicity guaranteed by the implementation

package storage

import (
	"context"
	"time"

	"github.com/weavehq/weave/model"
)

// DelegationStore persists delegation rows keyed by session ID.
//
// Lookup methods return (nil, nil) for a missing session rather than an
// error; the ledger on top decides what a miss means. Conditional updates
// return false when the row was missing or not in the expected state, which
// is how monotonic lifecycle transitions are enforced at the storage layer.
type DelegationStore interface {
	// InsertDelegation creates a new row. Fails if the session ID exists.
	InsertDelegation(ctx context.Context, d model.Delegation) error

	// GetDelegation fetches one row, or (nil, nil) if absent.
	GetDelegation(ctx context.Context, sessionID string) (*model.Delegation, error)

	// TransitionStatus atomically moves a row from one status to another.
	// Returns false if the row is absent or not in the `from` status.
	TransitionStatus(ctx context.Context, sessionID string, from, to model.Status) (bool, error)

	// TouchDelegation refreshes updatedAt only while the row is in_progress.
	TouchDelegation(ctx context.Context, sessionID string) (bool, error)

	// SetTerminal moves a row to a terminal status with a summary, from any
	// non-terminal status. Returns false if the row is absent or already
	// terminal.
	SetTerminal(ctx context.Context, sessionID string, status model.Status, summary string) (bool, error)

	// ListRecentDelegations returns rows ordered by creation time, newest first.
	ListRecentDelegations(ctx context.Context, limit int) ([]model.Delegation, error)

	// ListActiveDelegations returns queued and in_progress rows (plus
	// terminal ones when includeCompleted is set), newest first.
	ListActiveDelegations(ctx context.Context, includeCompleted bool, limit int) ([]model.Delegation, error)

	// FindStaleInProgress returns session IDs of in_progress rows whose
	// updatedAt is older than the cutoff.
	FindStaleInProgress(ctx context.Context, cutoff time.Time) ([]string, error)

	// DeleteDelegation removes a row. Deleting a missing row is not an error.
	DeleteDelegation(ctx context.Context, sessionID string) error
}
