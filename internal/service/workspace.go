package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Rrens/codeshare/internal/access"
	"github.com/Rrens/codeshare/internal/domain"
	"github.com/Rrens/codeshare/internal/security"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	defaultLanguage     = "plaintext"
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// Gate resolves and unlocks workspace permissions. access.Gate implements it.
type Gate interface {
	Resolve(ctx context.Context, userID uuid.UUID, ws *domain.Workspace) access.Permissions
	VerifyPassword(ctx context.Context, userID uuid.UUID, ws *domain.Workspace, password string, level access.Level) error
}

// Rooms is the live-session side of a workspace. collab.Registry implements it.
type Rooms interface {
	DropRoom(workspaceID uuid.UUID, message string) int
	Participants(workspaceID uuid.UUID) []domain.Membership
}

// GrantRevoker drops every share grant of a workspace
type GrantRevoker interface {
	Revoke(ctx context.Context, workspaceID uuid.UUID) (int64, error)
}

// PresenceMirror is room membership as mirrored outside the process. redis.Presence implements it.
type PresenceMirror interface {
	Clear(ctx context.Context, workspaceID uuid.UUID) error
}

// WorkspaceServiceConfig holds the dependencies of a WorkspaceService.
// Grants and Presence are optional.
type WorkspaceServiceConfig struct {
	Workspaces domain.WorkspaceRepository
	Users      domain.UserRepository
	Gate       Gate
	Rooms      Rooms
	Grants     GrantRevoker
	Presence   PresenceMirror
}

// WorkspaceService handles workspace operations outside the live document path
type WorkspaceService struct {
	workspaceRepo domain.WorkspaceRepository
	userRepo      domain.UserRepository
	gate          Gate
	rooms         Rooms
	grants        GrantRevoker
	presence      PresenceMirror
}

// NewWorkspaceService creates a new workspace service
func NewWorkspaceService(cfg WorkspaceServiceConfig) *WorkspaceService {
	return &WorkspaceService{
		workspaceRepo: cfg.Workspaces,
		userRepo:      cfg.Users,
		gate:          cfg.Gate,
		rooms:         cfg.Rooms,
		grants:        cfg.Grants,
		presence:      cfg.Presence,
	}
}

// WorkspaceView is a workspace together with the caller's permissions on it
type WorkspaceView struct {
	*domain.Workspace
	Permissions access.Permissions `json:"permissions"`
}

// Create creates a new workspace owned by userID
func (s *WorkspaceService) Create(ctx context.Context, userID uuid.UUID, input domain.WorkspaceCreate) (*domain.Workspace, error) {
	language := strings.TrimSpace(input.Language)
	if language == "" {
		language = defaultLanguage
	}

	now := time.Now().UTC()
	workspace := &domain.Workspace{
		ID:            uuid.New(),
		Title:         strings.TrimSpace(input.Title),
		Description:   input.Description,
		Language:      language,
		Code:          input.Code,
		OwnerID:       userID,
		Collaborators: []domain.Collaborator{},
		Share:         domain.ShareSettings{IsPublic: input.IsPublic},
		Version:       domain.InitialVersion,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.workspaceRepo.Create(ctx, workspace); err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}

	log.Info().
		Str("workspace_id", workspace.ID.String()).
		Str("owner_id", userID.String()).
		Msg("Workspace created")

	return workspace, nil
}

// Get retrieves a workspace the caller may view
func (s *WorkspaceService) Get(ctx context.Context, userID, workspaceID uuid.UUID) (*WorkspaceView, error) {
	workspace, err := s.load(ctx, workspaceID)
	if err != nil {
		return nil, err
	}

	perms := s.gate.Resolve(ctx, userID, workspace)
	if !perms.View {
		return nil, fmt.Errorf("%w: cannot view workspace", domain.ErrNotAuthorized)
	}

	return &WorkspaceView{Workspace: workspace, Permissions: perms}, nil
}

// ListByUser retrieves every workspace the user owns or collaborates on
func (s *WorkspaceService) ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.Workspace, error) {
	workspaces, err := s.workspaceRepo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list workspaces: %w", err)
	}
	if workspaces == nil {
		workspaces = []domain.Workspace{}
	}
	return workspaces, nil
}

// Update changes metadata and share settings (owner only). Changing a share
// password or making the workspace private revokes outstanding grants.
func (s *WorkspaceService) Update(ctx context.Context, userID, workspaceID uuid.UUID, input domain.WorkspaceUpdate) (*domain.Workspace, error) {
	workspace, err := s.loadOwned(ctx, userID, workspaceID)
	if err != nil {
		return nil, err
	}

	meta := &domain.WorkspaceMeta{
		Title:       input.Title,
		Description: input.Description,
		Language:    input.Language,
		IsPublic:    input.IsPublic,
	}
	if meta.ViewPasswordHash, err = hashOptional(input.ViewPassword); err != nil {
		return nil, err
	}
	if meta.EditPasswordHash, err = hashOptional(input.EditPassword); err != nil {
		return nil, err
	}

	if err := s.workspaceRepo.UpdateMeta(ctx, workspaceID, meta); err != nil {
		return nil, fmt.Errorf("failed to update workspace: %w", err)
	}

	madePrivate := input.IsPublic != nil && !*input.IsPublic && workspace.Share.IsPublic
	if input.ViewPassword != nil || input.EditPassword != nil || madePrivate {
		s.revokeGrants(ctx, workspaceID)
	}

	return s.load(ctx, workspaceID)
}

// Delete deletes a workspace (owner only) and closes its live room
func (s *WorkspaceService) Delete(ctx context.Context, userID, workspaceID uuid.UUID) error {
	if _, err := s.loadOwned(ctx, userID, workspaceID); err != nil {
		return err
	}

	if err := s.workspaceRepo.Delete(ctx, workspaceID); err != nil {
		return fmt.Errorf("failed to delete workspace: %w", err)
	}

	dropped := s.rooms.DropRoom(workspaceID, "workspace was deleted")
	s.revokeGrants(ctx, workspaceID)
	if s.presence != nil {
		if err := s.presence.Clear(ctx, workspaceID); err != nil {
			log.Warn().Err(err).Str("workspace_id", workspaceID.String()).Msg("Failed to clear presence")
		}
	}

	log.Info().
		Str("workspace_id", workspaceID.String()).
		Int("disconnected", dropped).
		Msg("Workspace deleted")

	return nil
}

// AddCollaborator grants a registered user a role (owner only)
func (s *WorkspaceService) AddCollaborator(ctx context.Context, requesterID, workspaceID uuid.UUID, input domain.CollaboratorAdd) (*domain.Collaborator, error) {
	if !input.Role.Valid() {
		return nil, fmt.Errorf("%w: invalid role %q", domain.ErrInvalidInput, input.Role)
	}

	workspace, err := s.loadOwned(ctx, requesterID, workspaceID)
	if err != nil {
		return nil, err
	}

	user, err := s.userRepo.GetByEmail(ctx, input.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("%w: no user with that email", domain.ErrNotFound)
	}
	if workspace.IsOwner(user.ID) {
		return nil, fmt.Errorf("%w: the owner cannot be added as a collaborator", domain.ErrInvalidInput)
	}

	collaborator := domain.Collaborator{
		UserID:  user.ID,
		Role:    input.Role,
		AddedAt: time.Now().UTC(),
	}
	if existing, ok := workspace.Collaborator(user.ID); ok {
		collaborator.AddedAt = existing.AddedAt
	}

	if err := s.workspaceRepo.UpsertCollaborator(ctx, workspaceID, collaborator); err != nil {
		return nil, fmt.Errorf("failed to add collaborator: %w", err)
	}

	return &collaborator, nil
}

// RemoveCollaborator revokes a collaborator's role (owner only). The owner is never removable.
func (s *WorkspaceService) RemoveCollaborator(ctx context.Context, requesterID, workspaceID, userID uuid.UUID) error {
	workspace, err := s.loadOwned(ctx, requesterID, workspaceID)
	if err != nil {
		return err
	}
	if workspace.IsOwner(userID) {
		return fmt.Errorf("%w: cannot remove the owner", domain.ErrInvalidInput)
	}

	if err := s.workspaceRepo.RemoveCollaborator(ctx, workspaceID, userID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("%w: collaborator", domain.ErrNotFound)
		}
		return fmt.Errorf("failed to remove collaborator: %w", err)
	}

	return nil
}

// VerifyAccess checks a share password and returns the permissions it unlocked
func (s *WorkspaceService) VerifyAccess(ctx context.Context, userID, workspaceID uuid.UUID, password, level string) (access.Permissions, error) {
	lvl, err := access.ParseLevel(level)
	if err != nil {
		return access.Permissions{}, err
	}

	workspace, err := s.load(ctx, workspaceID)
	if err != nil {
		return access.Permissions{}, err
	}

	if err := s.gate.VerifyPassword(ctx, userID, workspace, password, lvl); err != nil {
		return access.Permissions{}, err
	}

	return s.gate.Resolve(ctx, userID, workspace), nil
}

// History returns past document versions, newest first
func (s *WorkspaceService) History(ctx context.Context, userID, workspaceID uuid.UUID, limit int) ([]domain.HistoryEntry, error) {
	if _, err := s.Get(ctx, userID, workspaceID); err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	entries, err := s.workspaceRepo.ListHistory(ctx, workspaceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	if entries == nil {
		entries = []domain.HistoryEntry{}
	}
	return entries, nil
}

// Participants lists who is currently connected to the workspace room on this server
func (s *WorkspaceService) Participants(ctx context.Context, userID, workspaceID uuid.UUID) ([]domain.Membership, error) {
	if _, err := s.Get(ctx, userID, workspaceID); err != nil {
		return nil, err
	}

	members := s.rooms.Participants(workspaceID)
	if members == nil {
		members = []domain.Membership{}
	}
	return members, nil
}

func (s *WorkspaceService) load(ctx context.Context, workspaceID uuid.UUID) (*domain.Workspace, error) {
	workspace, err := s.workspaceRepo.GetByID(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to get workspace: %w", err)
	}
	if workspace == nil {
		return nil, fmt.Errorf("%w: workspace", domain.ErrNotFound)
	}
	return workspace, nil
}

func (s *WorkspaceService) loadOwned(ctx context.Context, userID, workspaceID uuid.UUID) (*domain.Workspace, error) {
	workspace, err := s.load(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	if !workspace.IsOwner(userID) {
		return nil, fmt.Errorf("%w: owner access required", domain.ErrNotAuthorized)
	}
	return workspace, nil
}

func (s *WorkspaceService) revokeGrants(ctx context.Context, workspaceID uuid.UUID) {
	if s.grants == nil {
		return
	}
	n, err := s.grants.Revoke(ctx, workspaceID)
	if err != nil {
		log.Warn().Err(err).Str("workspace_id", workspaceID.String()).Msg("Failed to revoke share grants")
		return
	}
	if n > 0 {
		log.Info().Str("workspace_id", workspaceID.String()).Int64("revoked", n).Msg("Share grants revoked")
	}
}

// hashOptional hashes a password update. nil leaves it alone; "" clears it.
func hashOptional(password *string) (*string, error) {
	if password == nil {
		return nil, nil
	}
	if *password == "" {
		cleared := ""
		return &cleared, nil
	}
	hash, err := security.HashPassword(*password)
	if err != nil {
		return nil, err
	}
	return &hash, nil
}
