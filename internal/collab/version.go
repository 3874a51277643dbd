package collab

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Rrens/codeshare/internal/domain"
	"github.com/Rrens/codeshare/internal/protocol"
	"github.com/rs/zerolog/log"
)

// ConflictPolicy decides whether a submission may replace the current document.
// A non-nil error rejects the submission before anything is written.
type ConflictPolicy interface {
	Check(current *domain.Workspace, sub domain.EditSubmission) error
}

// LastWriterWins accepts every submission regardless of its base version.
// Edits made concurrently against an older version are overwritten and only
// survive in history.
type LastWriterWins struct{}

func (LastWriterWins) Check(*domain.Workspace, domain.EditSubmission) error { return nil }

// RejectStale accepts a submission only when it was made against the current version
type RejectStale struct{}

func (RejectStale) Check(current *domain.Workspace, sub domain.EditSubmission) error {
	if sub.BaseVersion != current.Version {
		return fmt.Errorf("%w: base version %d, current %d", domain.ErrVersionConflict, sub.BaseVersion, current.Version)
	}
	return nil
}

// ControllerConfig holds the settings of a VersionController
type ControllerConfig struct {
	Store          Store
	Gate           Gate
	Policy         ConflictPolicy
	PersistTimeout time.Duration
	HistoryLimit   int
}

// VersionController is the only writer of workspace documents. Submissions to the
// same workspace are applied one at a time in the order they take the lock.
type VersionController struct {
	registry       *Registry
	store          Store
	gate           Gate
	policy         ConflictPolicy
	persistTimeout time.Duration
	historyLimit   int
	now            func() time.Time
}

// NewVersionController creates a controller that shares the registry's workspace locks
func NewVersionController(registry *Registry, cfg ControllerConfig) *VersionController {
	policy := cfg.Policy
	if policy == nil {
		policy = LastWriterWins{}
	}
	timeout := cfg.PersistTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &VersionController{
		registry:       registry,
		store:          cfg.Store,
		gate:           cfg.Gate,
		policy:         policy,
		persistTimeout: timeout,
		historyLimit:   cfg.HistoryLimit,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// Submit applies an edit. On success the new revision is durable, every other room
// member has been sent document-updated, and origin (when not nil) has been sent
// edit-accepted. On failure nothing is written or broadcast.
func (c *VersionController) Submit(ctx context.Context, sub domain.EditSubmission, origin Conn) (*domain.Revision, error) {
	unlock := c.registry.locks.Lock(sub.WorkspaceID)
	defer unlock()

	ctx, cancel := context.WithTimeout(ctx, c.persistTimeout)
	defer cancel()

	ws, err := c.store.GetByID(ctx, sub.WorkspaceID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load workspace: %w", domain.ErrPersistence, err)
	}
	if ws == nil {
		return nil, domain.ErrNotFound
	}
	if !c.gate.CanEdit(ctx, sub.Submitter.UserID, ws) {
		return nil, domain.ErrNotAuthorized
	}
	if err := c.policy.Check(ws, sub); err != nil {
		return nil, err
	}

	now := c.now()
	rev := &domain.Revision{
		WorkspaceID:     ws.ID,
		Code:            sub.Document,
		Version:         ws.Version + 1,
		PreviousVersion: ws.Version,
		EditedBy:        sub.Submitter.UserID,
		EditedAt:        now,
		Prior:           ws.Snapshot(),
	}

	if err := c.store.ApplyRevision(ctx, rev, c.historyLimit); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("%w: failed to apply revision: %w", domain.ErrPersistence, err)
	}

	originID := ""
	if origin != nil {
		originID = origin.ID()
		c.registry.Touch(ws.ID, originID)
	}

	// Still under the workspace lock, so peers see updates in version order.
	c.registry.broadcaster.Broadcast(ws.ID, protocol.DocumentUpdated{
		WorkspaceID: ws.ID,
		Document:    rev.Code,
		Version:     rev.Version,
		EditedBy:    rev.EditedBy,
		Timestamp:   now,
	}, originID)

	if origin != nil {
		if err := origin.Send(protocol.EditAccepted{WorkspaceID: ws.ID, Version: rev.Version, Timestamp: now}); err != nil {
			log.Warn().
				Err(fmt.Errorf("%w: %w", domain.ErrTransientDelivery, err)).
				Str("connection_id", originID).
				Msg("Failed to acknowledge edit")
		}
	}

	log.Info().
		Str("workspace_id", ws.ID.String()).
		Str("user_id", rev.EditedBy.String()).
		Int64("version", rev.Version).
		Int64("base_version", sub.BaseVersion).
		Msg("Edit applied")

	return rev, nil
}
