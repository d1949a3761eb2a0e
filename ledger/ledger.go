// Package ledger tracks delegations through their lifecycle.
//
// Information Hiding:
// - Session ID generation
// - Monotonic transition enforcement (delegated to the store's conditional updates)
// - Stale-run reaping policy
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/weavehq/weave/model"
	"github.com/weavehq/weave/storage"
)

// Notifier receives lifecycle notifications. Implementations must be
// non-blocking; the ledger calls them inline.
type Notifier interface {
	// DelegationCreated fires after a new record is persisted.
	DelegationCreated(d model.Delegation)
	// DelegationUpdated fires after a status transition is persisted.
	DelegationUpdated(d model.Delegation)
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

func (NopNotifier) DelegationCreated(model.Delegation) {}
func (NopNotifier) DelegationUpdated(model.Delegation) {}

// Ledger is the source of truth for delegation state. All writes go through
// conditional store updates so concurrent finalizers and the reaper cannot
// double-transition a record.
type Ledger struct {
	store    storage.DelegationStore
	notifier Notifier
	logger   *zap.Logger
}

// New creates a ledger over the given store. A nil notifier means no
// notifications; a nil logger means no logging.
func New(store storage.DelegationStore, notifier Notifier, logger *zap.Logger) *Ledger {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{store: store, notifier: notifier, logger: logger}
}

// Create persists a new queued delegation and returns it with a fresh
// session ID.
func (l *Ledger) Create(ctx context.Context, task string, taskContext []string, expectedOutcome string, agentType model.AgentType) (*model.Delegation, error) {
	if task == "" {
		return nil, fmt.Errorf("task must not be empty")
	}
	if agentType == "" {
		agentType = model.AgentWorker
	}
	if taskContext == nil {
		taskContext = []string{}
	}

	now := time.Now().UTC()
	d := model.Delegation{
		SessionID:       uuid.NewString(),
		Task:            task,
		Context:         taskContext,
		ExpectedOutcome: expectedOutcome,
		Status:          model.StatusQueued,
		AgentType:       agentType,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := l.store.InsertDelegation(ctx, d); err != nil {
		return nil, fmt.Errorf("failed to create delegation: %w", err)
	}

	l.logger.Info("delegation created",
		zap.String("session_id", d.SessionID),
		zap.String("agent_type", string(d.AgentType)))
	l.notifier.DelegationCreated(d)

	return &d, nil
}

// MarkInProgress moves a queued delegation to in_progress. Returns false
// (not an error) if the record is missing or already past queued.
func (l *Ledger) MarkInProgress(ctx context.Context, sessionID string) (bool, error) {
	ok, err := l.store.TransitionStatus(ctx, sessionID, model.StatusQueued, model.StatusInProgress)
	if err != nil {
		return false, fmt.Errorf("failed to mark in progress: %w", err)
	}
	if !ok {
		l.logger.Warn("mark in progress skipped", zap.String("session_id", sessionID))
		return false, nil
	}
	l.notifyUpdated(ctx, sessionID)
	return true, nil
}

// Touch refreshes the record's liveness clock. Only in_progress records are
// touched; a miss is a silent no-op so executors never fail on heartbeats.
func (l *Ledger) Touch(ctx context.Context, sessionID string) error {
	_, err := l.store.TouchDelegation(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to touch delegation: %w", err)
	}
	return nil
}

// Complete finalizes a delegation with a success summary.
func (l *Ledger) Complete(ctx context.Context, sessionID, summary string) (bool, error) {
	return l.finalize(ctx, sessionID, model.StatusCompleted, summary)
}

// Fail finalizes a delegation with a failure explanation.
func (l *Ledger) Fail(ctx context.Context, sessionID, summary string) (bool, error) {
	return l.finalize(ctx, sessionID, model.StatusFailed, summary)
}

func (l *Ledger) finalize(ctx context.Context, sessionID string, status model.Status, summary string) (bool, error) {
	ok, err := l.store.SetTerminal(ctx, sessionID, status, summary)
	if err != nil {
		return false, fmt.Errorf("failed to finalize delegation: %w", err)
	}
	if !ok {
		// Missing or already terminal. Either way the record is settled.
		l.logger.Warn("finalize skipped",
			zap.String("session_id", sessionID),
			zap.String("status", string(status)))
		return false, nil
	}
	l.logger.Info("delegation finalized",
		zap.String("session_id", sessionID),
		zap.String("status", string(status)))
	l.notifyUpdated(ctx, sessionID)
	return true, nil
}

// Get fetches one delegation, or (nil, nil) if absent.
func (l *Ledger) Get(ctx context.Context, sessionID string) (*model.Delegation, error) {
	return l.store.GetDelegation(ctx, sessionID)
}

// ListRecent returns the newest delegations regardless of status.
func (l *Ledger) ListRecent(ctx context.Context, limit int) ([]model.Delegation, error) {
	if limit <= 0 {
		limit = 20
	}
	return l.store.ListRecentDelegations(ctx, limit)
}

// ListActive returns queued and in_progress delegations, optionally
// including terminal ones.
func (l *Ledger) ListActive(ctx context.Context, includeCompleted bool, limit int) ([]model.Delegation, error) {
	if limit <= 0 {
		limit = 20
	}
	return l.store.ListActiveDelegations(ctx, includeCompleted, limit)
}

// Delete removes a delegation record.
func (l *Ledger) Delete(ctx context.Context, sessionID string) error {
	return l.store.DeleteDelegation(ctx, sessionID)
}

// CleanupStale force-fails in_progress records whose liveness clock is older
// than the timeout and returns how many were reaped. An executor that is
// still alive keeps its record out of reach by touching it between
// iterations.
func (l *Ledger) CleanupStale(ctx context.Context, timeout time.Duration) (int, error) {
	cutoff := time.Now().Add(-timeout)
	sessions, err := l.store.FindStaleInProgress(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to find stale delegations: %w", err)
	}

	reaped := 0
	summary := fmt.Sprintf("Delegation timed out: no progress for over %s. The run was abandoned.", timeout)
	for _, sessionID := range sessions {
		ok, err := l.store.SetTerminal(ctx, sessionID, model.StatusFailed, summary)
		if err != nil {
			return reaped, fmt.Errorf("failed to reap delegation %s: %w", sessionID, err)
		}
		if !ok {
			// Finalized between the scan and the reap. Leave it alone.
			continue
		}
		l.logger.Warn("reaped stale delegation", zap.String("session_id", sessionID))
		l.notifyUpdated(ctx, sessionID)
		reaped++
	}

	return reaped, nil
}

func (l *Ledger) notifyUpdated(ctx context.Context, sessionID string) {
	d, err := l.store.GetDelegation(ctx, sessionID)
	if err != nil || d == nil {
		return
	}
	l.notifier.DelegationUpdated(*d)
}
