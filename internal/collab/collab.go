// Package collab keeps track of who is editing which workspace, serializes their
// edits and fans the results out to the rest of the room.
package collab

import (
	"context"
	"errors"

	"github.com/Rrens/codeshare/internal/domain"
	"github.com/Rrens/codeshare/internal/protocol"
	"github.com/google/uuid"
)

// ErrConnClosed is returned by Join for a connection that is already closing
var ErrConnClosed = errors.New("connection closed")

// Conn is the registry's handle on a live client connection.
// Send must not block: a full or closed connection returns an error.
// Done is closed once the connection has started closing, before it leaves its rooms.
type Conn interface {
	ID() string
	Send(evt protocol.Event) error
	Done() <-chan struct{}
}

// Store is the part of the workspace store the collaboration core needs
type Store interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Workspace, error)
	ApplyRevision(ctx context.Context, rev *domain.Revision, historyLimit int) error
}

// Gate answers permission questions. access.Gate implements it.
type Gate interface {
	CanView(ctx context.Context, userID uuid.UUID, ws *domain.Workspace) bool
	CanEdit(ctx context.Context, userID uuid.UUID, ws *domain.Workspace) bool
}

// Presence mirrors room membership somewhere other processes can read it.
// It is informational only; the registry never reads it back. Add overwrites
// an existing record and refreshes its expiry.
type Presence interface {
	Add(ctx context.Context, m domain.Membership) error
	Remove(ctx context.Context, workspaceID uuid.UUID, connectionID string) error
}
