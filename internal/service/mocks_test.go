package service

import (
	"context"

	"github.com/Rrens/codeshare/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// MockWorkspaceRepository mocks domain.WorkspaceRepository
type MockWorkspaceRepository struct {
	mock.Mock
}

func (m *MockWorkspaceRepository) Create(ctx context.Context, workspace *domain.Workspace) error {
	args := m.Called(ctx, workspace)
	return args.Error(0)
}

func (m *MockWorkspaceRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Workspace, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Workspace), args.Error(1)
}

func (m *MockWorkspaceRepository) ListByUserID(ctx context.Context, userID uuid.UUID) ([]domain.Workspace, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Workspace), args.Error(1)
}

func (m *MockWorkspaceRepository) UpdateMeta(ctx context.Context, id uuid.UUID, meta *domain.WorkspaceMeta) error {
	args := m.Called(ctx, id, meta)
	return args.Error(0)
}

func (m *MockWorkspaceRepository) Delete(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockWorkspaceRepository) UpsertCollaborator(ctx context.Context, workspaceID uuid.UUID, collaborator domain.Collaborator) error {
	args := m.Called(ctx, workspaceID, collaborator)
	return args.Error(0)
}

func (m *MockWorkspaceRepository) RemoveCollaborator(ctx context.Context, workspaceID, userID uuid.UUID) error {
	args := m.Called(ctx, workspaceID, userID)
	return args.Error(0)
}

func (m *MockWorkspaceRepository) ApplyRevision(ctx context.Context, rev *domain.Revision, historyLimit int) error {
	args := m.Called(ctx, rev, historyLimit)
	return args.Error(0)
}

func (m *MockWorkspaceRepository) ListHistory(ctx context.Context, workspaceID uuid.UUID, limit int) ([]domain.HistoryEntry, error) {
	args := m.Called(ctx, workspaceID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.HistoryEntry), args.Error(1)
}

func (m *MockWorkspaceRepository) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockUserRepository mocks domain.UserRepository
type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) Create(ctx context.Context, user *domain.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockUserRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserRepository) EmailExists(ctx context.Context, email string) (bool, error) {
	args := m.Called(ctx, email)
	return args.Bool(0), args.Error(1)
}

// MockRooms mocks Rooms
type MockRooms struct {
	mock.Mock
}

func (m *MockRooms) DropRoom(workspaceID uuid.UUID, message string) int {
	args := m.Called(workspaceID, message)
	return args.Int(0)
}

func (m *MockRooms) Participants(workspaceID uuid.UUID) []domain.Membership {
	args := m.Called(workspaceID)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]domain.Membership)
}

// MockGrantRevoker mocks GrantRevoker
type MockGrantRevoker struct {
	mock.Mock
}

func (m *MockGrantRevoker) Revoke(ctx context.Context, workspaceID uuid.UUID) (int64, error) {
	args := m.Called(ctx, workspaceID)
	return args.Get(0).(int64), args.Error(1)
}

// MockPresenceMirror mocks PresenceMirror
type MockPresenceMirror struct {
	mock.Mock
}

func (m *MockPresenceMirror) Clear(ctx context.Context, workspaceID uuid.UUID) error {
	args := m.Called(ctx, workspaceID)
	return args.Error(0)
}
