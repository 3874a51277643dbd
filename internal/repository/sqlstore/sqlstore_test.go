package sqlstore

import (
	"context"
	"testing"
	"time"

	"github.com/Rrens/codeshare/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), SQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newWorkspace(owner uuid.UUID) *domain.Workspace {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &domain.Workspace{
		ID:          uuid.New(),
		Title:       "scratch",
		Description: "shared buffer",
		Language:    "go",
		Code:        "package main",
		OwnerID:     owner,
		Version:     domain.InitialVersion,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestOpen_UnsupportedDialect(t *testing.T) {
	_, err := Open(context.Background(), Dialect("oracle"), "")
	assert.Error(t, err)
}

func TestEnsureSchema_Idempotent(t *testing.T) {
	db := openTestDB(t)
	assert.NoError(t, db.EnsureSchema(context.Background()))
	assert.Equal(t, SQLite, db.Dialect())
}

func TestWorkspaceRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	repo := NewWorkspaceRepository(openTestDB(t))

	owner := uuid.New()
	editor := uuid.New()
	ws := newWorkspace(owner)
	ws.Share.IsPublic = true
	ws.Share.ViewPasswordHash = "view-hash"
	ws.Collaborators = []domain.Collaborator{
		{UserID: editor, Role: domain.RoleEditor, AddedAt: ws.CreatedAt},
	}
	require.NoError(t, repo.Create(ctx, ws))

	got, err := repo.GetByID(ctx, ws.ID)
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, ws.ID, got.ID)
	assert.Equal(t, "package main", got.Code)
	assert.Equal(t, owner, got.OwnerID)
	assert.Equal(t, domain.InitialVersion, got.Version)
	assert.True(t, got.Share.IsPublic)
	assert.Equal(t, "view-hash", got.Share.ViewPasswordHash)
	assert.Empty(t, got.Share.EditPasswordHash)
	assert.True(t, got.CreatedAt.Equal(ws.CreatedAt))
	assert.Equal(t, uuid.Nil, got.LastEdited.By)

	require.Len(t, got.Collaborators, 1)
	assert.Equal(t, editor, got.Collaborators[0].UserID)
	assert.Equal(t, domain.RoleEditor, got.Collaborators[0].Role)
}

func TestWorkspaceRepository_GetByID_NotFound(t *testing.T) {
	repo := NewWorkspaceRepository(openTestDB(t))

	got, err := repo.GetByID(context.Background(), uuid.New())
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestWorkspaceRepository_ListByUserID(t *testing.T) {
	ctx := context.Background()
	repo := NewWorkspaceRepository(openTestDB(t))

	alice := uuid.New()
	bob := uuid.New()

	owned := newWorkspace(alice)
	require.NoError(t, repo.Create(ctx, owned))

	shared := newWorkspace(bob)
	shared.Collaborators = []domain.Collaborator{{UserID: alice, Role: domain.RoleViewer, AddedAt: time.Now()}}
	require.NoError(t, repo.Create(ctx, shared))

	unrelated := newWorkspace(bob)
	require.NoError(t, repo.Create(ctx, unrelated))

	list, err := repo.ListByUserID(ctx, alice)
	require.NoError(t, err)
	require.Len(t, list, 2)

	ids := []uuid.UUID{list[0].ID, list[1].ID}
	assert.ElementsMatch(t, []uuid.UUID{owned.ID, shared.ID}, ids)

	for _, w := range list {
		if w.ID == shared.ID {
			require.Len(t, w.Collaborators, 1)
			assert.Equal(t, alice, w.Collaborators[0].UserID)
		}
	}

	empty, err := repo.ListByUserID(ctx, uuid.New())
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestWorkspaceRepository_UpdateMeta(t *testing.T) {
	ctx := context.Background()
	repo := NewWorkspaceRepository(openTestDB(t))

	ws := newWorkspace(uuid.New())
	ws.Share.EditPasswordHash = "edit-hash"
	require.NoError(t, repo.Create(ctx, ws))

	title := "renamed"
	public := true
	view := "new-view-hash"
	cleared := ""
	require.NoError(t, repo.UpdateMeta(ctx, ws.ID, &domain.WorkspaceMeta{
		Title:            &title,
		IsPublic:         &public,
		ViewPasswordHash: &view,
		EditPasswordHash: &cleared,
	}))

	got, err := repo.GetByID(ctx, ws.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Title)
	assert.Equal(t, "shared buffer", got.Description)
	assert.True(t, got.Share.IsPublic)
	assert.Equal(t, "new-view-hash", got.Share.ViewPasswordHash)
	assert.Empty(t, got.Share.EditPasswordHash)
	assert.Equal(t, "package main", got.Code)
	assert.Equal(t, domain.InitialVersion, got.Version)

	err = repo.UpdateMeta(ctx, uuid.New(), &domain.WorkspaceMeta{Title: &title})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestWorkspaceRepository_Collaborators(t *testing.T) {
	ctx := context.Background()
	repo := NewWorkspaceRepository(openTestDB(t))

	ws := newWorkspace(uuid.New())
	require.NoError(t, repo.Create(ctx, ws))

	user := uuid.New()
	require.NoError(t, repo.UpsertCollaborator(ctx, ws.ID, domain.Collaborator{UserID: user, Role: domain.RoleViewer, AddedAt: time.Now()}))
	require.NoError(t, repo.UpsertCollaborator(ctx, ws.ID, domain.Collaborator{UserID: user, Role: domain.RoleEditor, AddedAt: time.Now()}))

	got, err := repo.GetByID(ctx, ws.ID)
	require.NoError(t, err)
	require.Len(t, got.Collaborators, 1)
	assert.Equal(t, domain.RoleEditor, got.Collaborators[0].Role)

	require.NoError(t, repo.RemoveCollaborator(ctx, ws.ID, user))
	assert.ErrorIs(t, repo.RemoveCollaborator(ctx, ws.ID, user), domain.ErrNotFound)
}

func TestWorkspaceRepository_ApplyRevision(t *testing.T) {
	ctx := context.Background()
	repo := NewWorkspaceRepository(openTestDB(t))

	owner := uuid.New()
	ws := newWorkspace(owner)
	require.NoError(t, repo.Create(ctx, ws))

	editor := uuid.New()
	at := time.Now().UTC()
	rev := &domain.Revision{
		WorkspaceID:     ws.ID,
		Code:            "package main\n\nfunc main() {}",
		Version:         2,
		PreviousVersion: 1,
		EditedBy:        editor,
		EditedAt:        at,
		Prior:           ws.Snapshot(),
	}
	require.NoError(t, repo.ApplyRevision(ctx, rev, 0))

	got, err := repo.GetByID(ctx, ws.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, rev.Code, got.Code)
	assert.Equal(t, editor, got.LastEdited.By)
	assert.True(t, got.LastEdited.At.Equal(at))

	history, err := repo.ListHistory(ctx, ws.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, int64(1), history[0].Version)
	assert.Equal(t, "package main", history[0].Code)
	assert.Equal(t, owner, history[0].EditedBy)
}

func TestWorkspaceRepository_ApplyRevision_Guards(t *testing.T) {
	ctx := context.Background()
	repo := NewWorkspaceRepository(openTestDB(t))

	ws := newWorkspace(uuid.New())
	require.NoError(t, repo.Create(ctx, ws))

	stale := &domain.Revision{
		WorkspaceID:     ws.ID,
		Code:            "x",
		Version:         6,
		PreviousVersion: 5,
		EditedBy:        uuid.New(),
		EditedAt:        time.Now(),
		Prior:           ws.Snapshot(),
	}
	assert.ErrorIs(t, repo.ApplyRevision(ctx, stale, 0), domain.ErrVersionConflict)

	missing := *stale
	missing.WorkspaceID = uuid.New()
	assert.ErrorIs(t, repo.ApplyRevision(ctx, &missing, 0), domain.ErrNotFound)

	got, err := repo.GetByID(ctx, ws.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InitialVersion, got.Version)

	history, err := repo.ListHistory(ctx, ws.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestWorkspaceRepository_ApplyRevision_PrunesHistory(t *testing.T) {
	ctx := context.Background()
	repo := NewWorkspaceRepository(openTestDB(t))

	ws := newWorkspace(uuid.New())
	require.NoError(t, repo.Create(ctx, ws))

	current := *ws
	for i := 0; i < 5; i++ {
		rev := &domain.Revision{
			WorkspaceID:     ws.ID,
			Code:            current.Code + "+",
			Version:         current.Version + 1,
			PreviousVersion: current.Version,
			EditedBy:        ws.OwnerID,
			EditedAt:        time.Now(),
			Prior:           current.Snapshot(),
		}
		require.NoError(t, repo.ApplyRevision(ctx, rev, 3))
		current.Code = rev.Code
		current.Version = rev.Version
	}

	history, err := repo.ListHistory(ctx, ws.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, int64(5), history[0].Version)
	assert.Equal(t, int64(3), history[2].Version)

	limited, err := repo.ListHistory(ctx, ws.ID, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, int64(5), limited[0].Version)
}

func TestWorkspaceRepository_Delete(t *testing.T) {
	ctx := context.Background()
	repo := NewWorkspaceRepository(openTestDB(t))

	ws := newWorkspace(uuid.New())
	ws.Collaborators = []domain.Collaborator{{UserID: uuid.New(), Role: domain.RoleViewer, AddedAt: time.Now()}}
	require.NoError(t, repo.Create(ctx, ws))

	require.NoError(t, repo.Delete(ctx, ws.ID))

	got, err := repo.GetByID(ctx, ws.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	assert.ErrorIs(t, repo.Delete(ctx, ws.ID), domain.ErrNotFound)
	assert.NoError(t, repo.Ping(ctx))
}

func TestUserRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(openTestDB(t))

	now := time.Now().UTC()
	user := &domain.User{
		ID:           uuid.New(),
		Email:        "Alice@Example.com",
		DisplayName:  "Alice",
		PasswordHash: "hash",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, repo.Create(ctx, user))

	dup := *user
	dup.ID = uuid.New()
	assert.ErrorIs(t, repo.Create(ctx, &dup), domain.ErrAlreadyExists)

	exists, err := repo.EmailExists(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.True(t, exists)

	byEmail, err := repo.GetByEmail(ctx, "ALICE@example.com")
	require.NoError(t, err)
	require.NotNil(t, byEmail)
	assert.Equal(t, user.ID, byEmail.ID)
	assert.Equal(t, "alice@example.com", byEmail.Email)

	byID, err := repo.GetByID(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, byID)
	assert.Equal(t, "Alice", byID.DisplayName)
	assert.True(t, byID.CreatedAt.Equal(now))

	missing, err := repo.GetByID(ctx, uuid.New())
	assert.NoError(t, err)
	assert.Nil(t, missing)
}
