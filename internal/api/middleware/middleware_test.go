package middleware_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Rrens/codeshare/internal/api/middleware"
	"github.com/Rrens/codeshare/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type verifierFunc func(ctx context.Context, token string) (domain.Identity, error)

func (f verifierFunc) Verify(ctx context.Context, token string) (domain.Identity, error) {
	return f(ctx, token)
}

type limiterFunc func(ctx context.Context, key string) (domain.RateDecision, error)

func (f limiterFunc) Allow(ctx context.Context, key string) (domain.RateDecision, error) {
	return f(ctx, key)
}

func TestAuthenticate(t *testing.T) {
	alice := domain.Identity{UserID: uuid.New(), DisplayName: "Alice"}
	auth := middleware.NewAuthMiddleware(verifierFunc(func(_ context.Context, token string) (domain.Identity, error) {
		if token != "good" {
			return domain.Identity{}, domain.ErrAuthenticationFailed
		}
		return alice, nil
	}))

	var seen domain.Identity
	h := auth.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ok bool
		seen, ok = middleware.GetIdentity(r.Context())
		require.True(t, ok)
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"bad token", "Bearer nope", http.StatusUnauthorized},
		{"good token", "Bearer good", http.StatusOK},
		{"lowercase scheme", "bearer good", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}

	assert.Equal(t, alice, seen)
}

func TestWorkspaceContext(t *testing.T) {
	id := uuid.New()

	r := chi.NewRouter()
	r.With(middleware.WorkspaceContext).Get("/workspaces/{workspaceID}", func(w http.ResponseWriter, r *http.Request) {
		got, ok := middleware.GetWorkspaceID(r.Context())
		require.True(t, ok)
		assert.Equal(t, id, got)
		w.WriteHeader(http.StatusNoContent)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/workspaces/"+id.String(), nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/workspaces/abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func withUser(r *http.Request, id uuid.UUID) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), middleware.UserIDKey, id))
}

func TestRateLimit(t *testing.T) {
	userID := uuid.New()
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	t.Run("allowed", func(t *testing.T) {
		var key string
		limiter := limiterFunc(func(_ context.Context, k string) (domain.RateDecision, error) {
			key = k
			return domain.RateDecision{Allowed: true, Limit: 10, Remaining: 9, ResetAt: time.Now().Add(time.Minute)}, nil
		})

		rec := httptest.NewRecorder()
		middleware.NewRateLimitMiddleware(limiter).Limit(next).ServeHTTP(rec, withUser(httptest.NewRequest(http.MethodGet, "/", nil), userID))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, userID.String(), key)
		assert.Equal(t, "10", rec.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, "9", rec.Header().Get("X-RateLimit-Remaining"))
	})

	t.Run("exhausted", func(t *testing.T) {
		limiter := limiterFunc(func(context.Context, string) (domain.RateDecision, error) {
			return domain.RateDecision{Allowed: false, Limit: 10, ResetAt: time.Now().Add(30 * time.Second)}, nil
		})

		rec := httptest.NewRecorder()
		middleware.NewRateLimitMiddleware(limiter).Limit(next).ServeHTTP(rec, withUser(httptest.NewRequest(http.MethodGet, "/", nil), userID))

		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
		assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	})

	t.Run("limiter down fails open", func(t *testing.T) {
		limiter := limiterFunc(func(context.Context, string) (domain.RateDecision, error) {
			return domain.RateDecision{}, errors.New("connection refused")
		})

		rec := httptest.NewRecorder()
		middleware.NewRateLimitMiddleware(limiter).Limit(next).ServeHTTP(rec, withUser(httptest.NewRequest(http.MethodGet, "/", nil), userID))

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("anonymous", func(t *testing.T) {
		limiter := limiterFunc(func(context.Context, string) (domain.RateDecision, error) {
			t.Fatal("limiter must not be called without a user")
			return domain.RateDecision{}, nil
		})

		rec := httptest.NewRecorder()
		middleware.NewRateLimitMiddleware(limiter).Limit(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestLogger_PassesThrough(t *testing.T) {
	h := middleware.Logger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/brew", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "short and stout", rec.Body.String())
}
