package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// CollaboratorRole is the role a collaborator holds inside a workspace
type CollaboratorRole string

const (
	RoleViewer CollaboratorRole = "viewer"
	RoleEditor CollaboratorRole = "editor"
)

// Valid reports whether r is a known role
func (r CollaboratorRole) Valid() bool {
	return r == RoleViewer || r == RoleEditor
}

// InitialVersion is the version every workspace starts at
const InitialVersion int64 = 1

// Workspace is a shared code document plus its collaborators and version history
type Workspace struct {
	ID            uuid.UUID      `json:"id"`
	Title         string         `json:"title"`
	Description   string         `json:"description"`
	Language      string         `json:"language"`
	Code          string         `json:"code"`
	OwnerID       uuid.UUID      `json:"owner_id"`
	Collaborators []Collaborator `json:"collaborators"`
	Share         ShareSettings  `json:"share"`
	Version       int64          `json:"version"`
	History       []HistoryEntry `json:"history,omitempty"`
	LastEdited    LastEdited     `json:"last_edited"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Collaborator grants a user a role in a workspace
type Collaborator struct {
	UserID  uuid.UUID        `json:"user_id"`
	Role    CollaboratorRole `json:"role"`
	AddedAt time.Time        `json:"added_at"`
}

// ShareSettings controls public access to a workspace
type ShareSettings struct {
	IsPublic         bool   `json:"is_public"`
	ViewPasswordHash string `json:"-"`
	EditPasswordHash string `json:"-"`
}

// HasViewPassword reports whether public viewers must verify a password
func (s ShareSettings) HasViewPassword() bool { return s.ViewPasswordHash != "" }

// HasEditPassword reports whether public edit access can be unlocked with a password
func (s ShareSettings) HasEditPassword() bool { return s.EditPasswordHash != "" }

// HistoryEntry is an immutable snapshot of a document before it was replaced
type HistoryEntry struct {
	Version  int64     `json:"version"`
	Code     string    `json:"code"`
	EditedBy uuid.UUID `json:"edited_by"`
	EditedAt time.Time `json:"edited_at"`
}

// LastEdited records who produced the current version
type LastEdited struct {
	By uuid.UUID `json:"by"`
	At time.Time `json:"at"`
}

// Collaborator returns the collaborator entry for userID, if any
func (w *Workspace) Collaborator(userID uuid.UUID) (Collaborator, bool) {
	for _, c := range w.Collaborators {
		if c.UserID == userID {
			return c, true
		}
	}
	return Collaborator{}, false
}

// IsOwner reports whether userID owns the workspace
func (w *Workspace) IsOwner(userID uuid.UUID) bool {
	return w.OwnerID == userID
}

// Snapshot returns the current document as a history entry
func (w *Workspace) Snapshot() HistoryEntry {
	by := w.LastEdited.By
	if by == uuid.Nil {
		by = w.OwnerID
	}
	at := w.LastEdited.At
	if at.IsZero() {
		at = w.CreatedAt
	}
	return HistoryEntry{
		Version:  w.Version,
		Code:     w.Code,
		EditedBy: by,
		EditedAt: at,
	}
}

// Revision is an accepted edit: the new document state plus the entry it pushed into history
type Revision struct {
	WorkspaceID     uuid.UUID    `json:"workspace_id"`
	Code            string       `json:"code"`
	Version         int64        `json:"version"`
	PreviousVersion int64        `json:"previous_version"`
	EditedBy        uuid.UUID    `json:"edited_by"`
	EditedAt        time.Time    `json:"edited_at"`
	Prior           HistoryEntry `json:"prior"`
}

// EditSubmission is a client's proposed whole-document replacement
type EditSubmission struct {
	WorkspaceID     uuid.UUID
	Document        string
	BaseVersion     int64
	Submitter       Identity
	ClientTimestamp time.Time
}

// WorkspaceCreate represents workspace creation data
type WorkspaceCreate struct {
	Title       string `json:"title" validate:"required,max=255"`
	Description string `json:"description" validate:"max=2000"`
	Language    string `json:"language" validate:"omitempty,max=64"`
	Code        string `json:"code"`
	IsPublic    bool   `json:"is_public"`
}

// WorkspaceUpdate represents workspace metadata and share settings updates.
// The document itself is never updated here.
type WorkspaceUpdate struct {
	Title        *string `json:"title,omitempty" validate:"omitempty,max=255"`
	Description  *string `json:"description,omitempty" validate:"omitempty,max=2000"`
	Language     *string `json:"language,omitempty" validate:"omitempty,max=64"`
	IsPublic     *bool   `json:"is_public,omitempty"`
	ViewPassword *string `json:"view_password,omitempty" validate:"omitempty,max=72"`
	EditPassword *string `json:"edit_password,omitempty" validate:"omitempty,max=72"`
}

// WorkspaceMeta is the persisted form of a metadata update, with passwords already hashed.
// A nil pointer leaves the field untouched; an empty hash clears the password.
type WorkspaceMeta struct {
	Title            *string
	Description      *string
	Language         *string
	IsPublic         *bool
	ViewPasswordHash *string
	EditPasswordHash *string
}

// CollaboratorAdd represents a request to add a collaborator by contact address
type CollaboratorAdd struct {
	Email string           `json:"email" validate:"required,email"`
	Role  CollaboratorRole `json:"role" validate:"required,oneof=viewer editor"`
}

// WorkspaceRepository is the durable Workspace Store
type WorkspaceRepository interface {
	Create(ctx context.Context, workspace *Workspace) error
	// GetByID returns (nil, nil) when the workspace does not exist.
	// History is not loaded; use ListHistory.
	GetByID(ctx context.Context, id uuid.UUID) (*Workspace, error)
	ListByUserID(ctx context.Context, userID uuid.UUID) ([]Workspace, error)
	UpdateMeta(ctx context.Context, id uuid.UUID, meta *WorkspaceMeta) error
	Delete(ctx context.Context, id uuid.UUID) error

	// UpsertCollaborator adds a collaborator or changes the role of an existing one.
	UpsertCollaborator(ctx context.Context, workspaceID uuid.UUID, collaborator Collaborator) error
	RemoveCollaborator(ctx context.Context, workspaceID, userID uuid.UUID) error

	// ApplyRevision appends rev.Prior to history and replaces the document, only if the
	// stored version still equals rev.PreviousVersion. It returns ErrVersionConflict when
	// the guard fails and ErrNotFound when the workspace is gone. historyLimit > 0 prunes
	// the oldest entries beyond the limit.
	ApplyRevision(ctx context.Context, rev *Revision, historyLimit int) error
	// ListHistory returns the newest entries first. limit <= 0 returns all of them.
	ListHistory(ctx context.Context, workspaceID uuid.UUID, limit int) ([]HistoryEntry, error)

	Ping(ctx context.Context) error
}
