// Package access decides who may view or edit a workspace.
package access

import (
	"context"
	"fmt"
	"time"

	"github.com/Rrens/codeshare/internal/domain"
	"github.com/Rrens/codeshare/internal/security"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Level is the access unlocked by a share password
type Level int

const (
	LevelNone Level = iota
	LevelView
	LevelEdit
)

func (l Level) String() string {
	switch l {
	case LevelView:
		return "view"
	case LevelEdit:
		return "edit"
	default:
		return "none"
	}
}

// ParseLevel parses "view" or "edit"
func ParseLevel(s string) (Level, error) {
	switch s {
	case "view":
		return LevelView, nil
	case "edit":
		return LevelEdit, nil
	default:
		return LevelNone, fmt.Errorf("%w: unknown access level %q", domain.ErrInvalidInput, s)
	}
}

// GrantStore keeps short-lived password verification results per identity and workspace
type GrantStore interface {
	Put(ctx context.Context, userID, workspaceID uuid.UUID, level Level, ttl time.Duration) error
	// Get returns LevelNone when there is no live grant.
	Get(ctx context.Context, userID, workspaceID uuid.UUID) (Level, error)
}

// Permissions is the resolved access of one identity to one workspace
type Permissions struct {
	View bool `json:"view"`
	Edit bool `json:"edit"`
}

// Evaluate applies the access rules given the identity's current password grant.
// Ownership is checked first so the owner keeps full access whatever the collaborator list says.
// A password grant only ever adds to what the collaborator role allows.
func Evaluate(userID uuid.UUID, ws *domain.Workspace, grant Level) Permissions {
	if ws.IsOwner(userID) {
		return Permissions{View: true, Edit: true}
	}

	byPassword := Permissions{}
	if ws.Share.IsPublic {
		byPassword = Permissions{
			View: !ws.Share.HasViewPassword() || grant >= LevelView,
			Edit: ws.Share.HasEditPassword() && grant == LevelEdit,
		}
	}

	if c, ok := ws.Collaborator(userID); ok {
		return Permissions{View: true, Edit: c.Role == domain.RoleEditor || byPassword.Edit}
	}

	return byPassword
}

// Gate is the single place permission questions are answered
type Gate struct {
	grants   GrantStore
	grantTTL time.Duration
}

// NewGate creates a gate. grants may be nil, in which case password access is never granted.
func NewGate(grants GrantStore, grantTTL time.Duration) *Gate {
	return &Gate{grants: grants, grantTTL: grantTTL}
}

// Resolve returns the permissions of userID on ws
func (g *Gate) Resolve(ctx context.Context, userID uuid.UUID, ws *domain.Workspace) Permissions {
	return Evaluate(userID, ws, g.grantFor(ctx, userID, ws))
}

// CanView reports whether userID may see ws
func (g *Gate) CanView(ctx context.Context, userID uuid.UUID, ws *domain.Workspace) bool {
	return g.Resolve(ctx, userID, ws).View
}

// CanEdit reports whether userID may submit edits to ws
func (g *Gate) CanEdit(ctx context.Context, userID uuid.UUID, ws *domain.Workspace) bool {
	return g.Resolve(ctx, userID, ws).Edit
}

// VerifyPassword checks a share password and records a grant for the requested level.
// A view check on a public workspace without a view password succeeds without a grant.
func (g *Gate) VerifyPassword(ctx context.Context, userID uuid.UUID, ws *domain.Workspace, password string, level Level) error {
	if !ws.Share.IsPublic {
		return domain.ErrNotAuthorized
	}

	var hash string
	switch level {
	case LevelView:
		if !ws.Share.HasViewPassword() {
			return nil
		}
		hash = ws.Share.ViewPasswordHash
	case LevelEdit:
		if !ws.Share.HasEditPassword() {
			return domain.ErrNotAuthorized
		}
		hash = ws.Share.EditPasswordHash
	default:
		return fmt.Errorf("%w: unknown access level", domain.ErrInvalidInput)
	}

	if !security.CheckPassword(hash, password) {
		return domain.ErrNotAuthorized
	}

	if g.grants == nil {
		return fmt.Errorf("%w: no grant store configured", domain.ErrPersistence)
	}

	current, err := g.grants.Get(ctx, userID, ws.ID)
	if err != nil {
		log.Warn().Err(err).Str("workspace_id", ws.ID.String()).Msg("Failed to read share grant")
	}
	if current > level {
		level = current
	}

	if err := g.grants.Put(ctx, userID, ws.ID, level, g.grantTTL); err != nil {
		return fmt.Errorf("%w: failed to store grant: %v", domain.ErrPersistence, err)
	}

	log.Info().
		Str("workspace_id", ws.ID.String()).
		Str("user_id", userID.String()).
		Str("level", level.String()).
		Msg("Share password verified")

	return nil
}

func (g *Gate) grantFor(ctx context.Context, userID uuid.UUID, ws *domain.Workspace) Level {
	// Only password-protected public access needs a grant lookup
	if g.grants == nil || !ws.Share.IsPublic || ws.IsOwner(userID) {
		return LevelNone
	}
	if !ws.Share.HasViewPassword() && !ws.Share.HasEditPassword() {
		return LevelNone
	}
	if c, ok := ws.Collaborator(userID); ok && (c.Role == domain.RoleEditor || !ws.Share.HasEditPassword()) {
		return LevelNone
	}

	level, err := g.grants.Get(ctx, userID, ws.ID)
	if err != nil {
		log.Warn().Err(err).Str("workspace_id", ws.ID.String()).Msg("Failed to read share grant")
		return LevelNone
	}
	return level
}
