package service

import (
	"context"
	"testing"
	"time"

	"github.com/Rrens/codeshare/internal/domain"
	"github.com/Rrens/codeshare/internal/security"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newAuthService(users *MockUserRepository) (*AuthService, *security.JWTManager) {
	jwt := security.NewJWTManager("test-secret", 15*time.Minute, time.Hour)
	return NewAuthService(users, jwt), jwt
}

func TestAuthService_Register(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		users := new(MockUserRepository)
		svc, _ := newAuthService(users)

		users.On("EmailExists", ctx, "alice@example.com").Return(false, nil)
		users.On("Create", ctx, mock.AnythingOfType("*domain.User")).Return(nil)

		user, err := svc.Register(ctx, domain.UserCreate{
			Email:       " Alice@Example.com ",
			DisplayName: "Alice",
			Password:    "correct horse",
		})
		require.NoError(t, err)
		assert.Equal(t, "alice@example.com", user.Email)
		assert.Equal(t, "Alice", user.DisplayName)
		assert.NotEqual(t, "correct horse", user.PasswordHash)
		assert.True(t, security.CheckPassword(user.PasswordHash, "correct horse"))

		users.AssertExpectations(t)
	})

	t.Run("email taken", func(t *testing.T) {
		users := new(MockUserRepository)
		svc, _ := newAuthService(users)

		users.On("EmailExists", ctx, "bob@example.com").Return(true, nil)

		_, err := svc.Register(ctx, domain.UserCreate{Email: "bob@example.com", DisplayName: "Bob", Password: "password1"})
		assert.ErrorIs(t, err, domain.ErrAlreadyExists)
		users.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("race on create", func(t *testing.T) {
		users := new(MockUserRepository)
		svc, _ := newAuthService(users)

		users.On("EmailExists", ctx, "carol@example.com").Return(false, nil)
		users.On("Create", ctx, mock.Anything).Return(domain.ErrAlreadyExists)

		_, err := svc.Register(ctx, domain.UserCreate{Email: "carol@example.com", DisplayName: "Carol", Password: "password1"})
		assert.ErrorIs(t, err, domain.ErrAlreadyExists)
	})
}

func TestAuthService_Login(t *testing.T) {
	ctx := context.Background()

	hash, err := security.HashPassword("secret-pass")
	require.NoError(t, err)
	user := &domain.User{ID: uuid.New(), Email: "alice@example.com", DisplayName: "Alice", PasswordHash: hash}

	t.Run("success", func(t *testing.T) {
		users := new(MockUserRepository)
		svc, jwt := newAuthService(users)
		users.On("GetByEmail", ctx, "alice@example.com").Return(user, nil)

		pair, err := svc.Login(ctx, domain.UserLogin{Email: "alice@example.com", Password: "secret-pass"})
		require.NoError(t, err)
		assert.NotEmpty(t, pair.RefreshToken)
		assert.Equal(t, int64(900), pair.ExpiresIn)

		identity, err := jwt.Verify(ctx, pair.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, user.ID, identity.UserID)
		assert.Equal(t, "Alice", identity.DisplayName)
	})

	t.Run("wrong password", func(t *testing.T) {
		users := new(MockUserRepository)
		svc, _ := newAuthService(users)
		users.On("GetByEmail", ctx, "alice@example.com").Return(user, nil)

		_, err := svc.Login(ctx, domain.UserLogin{Email: "alice@example.com", Password: "nope"})
		assert.ErrorIs(t, err, domain.ErrAuthenticationFailed)
	})

	t.Run("unknown user", func(t *testing.T) {
		users := new(MockUserRepository)
		svc, _ := newAuthService(users)
		users.On("GetByEmail", ctx, "ghost@example.com").Return(nil, nil)

		_, err := svc.Login(ctx, domain.UserLogin{Email: "ghost@example.com", Password: "secret-pass"})
		assert.ErrorIs(t, err, domain.ErrAuthenticationFailed)
	})
}

func TestAuthService_Refresh(t *testing.T) {
	ctx := context.Background()
	user := &domain.User{ID: uuid.New(), Email: "alice@example.com", DisplayName: "Alice"}

	users := new(MockUserRepository)
	svc, jwt := newAuthService(users)

	refresh, err := jwt.GenerateRefreshToken(user.ID)
	require.NoError(t, err)

	users.On("GetByID", ctx, user.ID).Return(user, nil).Once()
	pair, err := svc.Refresh(ctx, refresh)
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)

	_, err = svc.Refresh(ctx, "garbage")
	assert.ErrorIs(t, err, domain.ErrAuthenticationFailed)

	users.On("GetByID", ctx, user.ID).Return(nil, nil).Once()
	_, err = svc.Refresh(ctx, refresh)
	assert.ErrorIs(t, err, domain.ErrAuthenticationFailed)
}

func TestAuthService_GetUserByID(t *testing.T) {
	ctx := context.Background()
	users := new(MockUserRepository)
	svc, _ := newAuthService(users)

	id := uuid.New()
	users.On("GetByID", ctx, id).Return(nil, nil)

	_, err := svc.GetUserByID(ctx, id)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
