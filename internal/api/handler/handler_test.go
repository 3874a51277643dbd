package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Rrens/codeshare/internal/access"
	"github.com/Rrens/codeshare/internal/api"
	"github.com/Rrens/codeshare/internal/api/handler"
	"github.com/Rrens/codeshare/internal/assist"
	"github.com/Rrens/codeshare/internal/collab"
	"github.com/Rrens/codeshare/internal/config"
	"github.com/Rrens/codeshare/internal/domain"
	"github.com/Rrens/codeshare/internal/protocol"
	"github.com/Rrens/codeshare/internal/repository/sqlstore"
	"github.com/Rrens/codeshare/internal/security"
	"github.com/Rrens/codeshare/internal/service"
	"github.com/Rrens/codeshare/internal/ws"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthCheck(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := httptest.NewRecorder()

	handler.HealthCheck(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
	}

	var response map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if response["success"] != true {
		t.Error("expected success to be true")
	}

	data, ok := response["data"].(map[string]any)
	if !ok {
		t.Fatal("expected data to be a map")
	}

	if data["status"] != "ok" {
		t.Errorf("expected status 'ok', got %v", data["status"])
	}
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestReadyCheck(t *testing.T) {
	ok := handler.ReadyCheck(pingFunc(func(context.Context) error { return nil }), nil)
	rec := httptest.NewRecorder()
	ok(rec, httptest.NewRequest(http.MethodGet, "/api/v1/ready", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
	}

	down := handler.ReadyCheck(pingFunc(func(context.Context) error { return errors.New("connection refused") }), nil)
	rec = httptest.NewRecorder()
	down(rec, httptest.NewRequest(http.MethodGet, "/api/v1/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status %d, got %d", http.StatusServiceUnavailable, rec.Code)
	}
}

type memGrants struct {
	mu     sync.Mutex
	levels map[string]access.Level
}

func (g *memGrants) Put(_ context.Context, userID, workspaceID uuid.UUID, level access.Level, _ time.Duration) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.levels[userID.String()+workspaceID.String()] = level
	return nil
}

func (g *memGrants) Get(_ context.Context, userID, workspaceID uuid.UUID) (access.Level, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.levels[userID.String()+workspaceID.String()], nil
}

func (g *memGrants) Revoke(_ context.Context, workspaceID uuid.UUID) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var n int64
	for k := range g.levels {
		if strings.HasSuffix(k, workspaceID.String()) {
			delete(g.levels, k)
			n++
		}
	}
	return n, nil
}

type stubAnalyzer struct {
	got assist.Request
}

func (a *stubAnalyzer) Name() string       { return "stub" }
func (a *stubAnalyzer) IsConfigured() bool { return true }
func (a *stubAnalyzer) Analyze(_ context.Context, req assist.Request) (*assist.Response, error) {
	a.got = req
	return &assist.Response{Answer: "looks fine", Model: "stub", Version: req.Version}, nil
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   json.RawMessage `json:"error"`
}

type apiServer struct {
	srv *httptest.Server
}

func newAPIServer(t *testing.T, analyzer assist.Analyzer) *apiServer {
	t.Helper()

	db, err := sqlstore.Open(context.Background(), sqlstore.SQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	workspaces := sqlstore.NewWorkspaceRepository(db)
	users := sqlstore.NewUserRepository(db)
	grants := &memGrants{levels: make(map[string]access.Level)}

	jwt := security.NewJWTManager("test-secret-key-with-32-chars!!", 15*time.Minute, time.Hour)
	gate := access.NewGate(grants, time.Minute)
	registry := collab.NewRegistry(collab.RegistryConfig{Store: workspaces, Gate: gate})
	controller := collab.NewVersionController(registry, collab.ControllerConfig{
		Store:        workspaces,
		Gate:         gate,
		HistoryLimit: 10,
	})
	socket := ws.NewHandler(jwt, registry, controller, config.WebSocketConfig{
		SendBuffer: 16,
		WriteWait:  time.Second,
		PongWait:   10 * time.Second,
	})

	router := api.NewRouter(api.Deps{
		AuthService: service.NewAuthService(users, jwt),
		WorkspaceService: service.NewWorkspaceService(service.WorkspaceServiceConfig{
			Workspaces: workspaces,
			Users:      users,
			Gate:       gate,
			Rooms:      registry,
			Grants:     grants,
		}),
		Verifier:       jwt,
		Analyzer:       analyzer,
		Store:          workspaces,
		Registry:       registry,
		Socket:         socket,
		RequestTimeout: 5 * time.Second,
	})

	s := &apiServer{srv: httptest.NewServer(router)}
	t.Cleanup(s.srv.Close)
	return s
}

func (s *apiServer) do(t *testing.T, method, path, token string, body any) (int, envelope) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req, err := http.NewRequest(method, s.srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	if resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	}
	return resp.StatusCode, env
}

// signup registers a user and returns an access token for them
func (s *apiServer) signup(t *testing.T, email, name string) (uuid.UUID, string) {
	t.Helper()

	status, env := s.do(t, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"email":        email,
		"display_name": name,
		"password":     "password123",
	})
	require.Equal(t, http.StatusCreated, status, string(env.Error))

	var user struct {
		ID uuid.UUID `json:"id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &user))

	status, env = s.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email":    email,
		"password": "password123",
	})
	require.Equal(t, http.StatusOK, status, string(env.Error))

	var pair domain.TokenPair
	require.NoError(t, json.Unmarshal(env.Data, &pair))
	return user.ID, pair.AccessToken
}

func (s *apiServer) createWorkspace(t *testing.T, token string, body map[string]any) uuid.UUID {
	t.Helper()

	status, env := s.do(t, http.MethodPost, "/api/v1/workspaces", token, body)
	require.Equal(t, http.StatusCreated, status, string(env.Error))

	var ws domain.Workspace
	require.NoError(t, json.Unmarshal(env.Data, &ws))
	return ws.ID
}

func (s *apiServer) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, evt protocol.Event) {
	t.Helper()
	data, err := protocol.Encode(evt)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func expect(t *testing.T, conn *websocket.Conn, want protocol.Type) protocol.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %s", want)

		evt, err := protocol.DecodeOutbound(data)
		require.NoError(t, err)
		if evt.EventType() == want {
			return evt
		}
	}
}

func TestAuthFlow(t *testing.T) {
	s := newAPIServer(t, nil)

	userID, token := s.signup(t, "alice@example.com", "Alice")

	status, env := s.do(t, http.MethodGet, "/api/v1/auth/me", token, nil)
	require.Equal(t, http.StatusOK, status)

	var me domain.User
	require.NoError(t, json.Unmarshal(env.Data, &me))
	assert.Equal(t, userID, me.ID)
	assert.Equal(t, "Alice", me.DisplayName)

	t.Run("duplicate email", func(t *testing.T) {
		status, _ := s.do(t, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
			"email":        "ALICE@example.com",
			"display_name": "Other",
			"password":     "password123",
		})
		assert.Equal(t, http.StatusConflict, status)
	})

	t.Run("validation errors", func(t *testing.T) {
		status, env := s.do(t, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
			"email":    "not-an-email",
			"password": "short",
		})
		assert.Equal(t, http.StatusBadRequest, status)

		var fields map[string]string
		require.NoError(t, json.Unmarshal(env.Error, &fields))
		assert.Equal(t, "invalid email format", fields["Email"])
		assert.Equal(t, "field is required", fields["DisplayName"])
		assert.Contains(t, fields["Password"], "at least 8")
	})

	t.Run("wrong password", func(t *testing.T) {
		status, _ := s.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
			"email":    "alice@example.com",
			"password": "wrong-password",
		})
		assert.Equal(t, http.StatusUnauthorized, status)
	})

	t.Run("missing token", func(t *testing.T) {
		status, _ := s.do(t, http.MethodGet, "/api/v1/workspaces", "", nil)
		assert.Equal(t, http.StatusUnauthorized, status)
	})

	t.Run("garbage token", func(t *testing.T) {
		status, _ := s.do(t, http.MethodGet, "/api/v1/workspaces", "not-a-jwt", nil)
		assert.Equal(t, http.StatusUnauthorized, status)
	})
}

func TestWorkspaceRoutes(t *testing.T) {
	s := newAPIServer(t, nil)

	_, alice := s.signup(t, "alice@example.com", "Alice")
	bobID, bob := s.signup(t, "bob@example.com", "Bob")

	wsID := s.createWorkspace(t, alice, map[string]any{"title": "Scratch", "code": "print(1)"})
	base := "/api/v1/workspaces/" + wsID.String()

	t.Run("list", func(t *testing.T) {
		status, env := s.do(t, http.MethodGet, "/api/v1/workspaces", alice, nil)
		require.Equal(t, http.StatusOK, status)

		var list []domain.Workspace
		require.NoError(t, json.Unmarshal(env.Data, &list))
		require.Len(t, list, 1)
		assert.Equal(t, "plaintext", list[0].Language)

		status, env = s.do(t, http.MethodGet, "/api/v1/workspaces", bob, nil)
		require.Equal(t, http.StatusOK, status)
		assert.JSONEq(t, "[]", string(env.Data))
	})

	t.Run("bad and unknown IDs", func(t *testing.T) {
		status, _ := s.do(t, http.MethodGet, "/api/v1/workspaces/not-a-uuid", alice, nil)
		assert.Equal(t, http.StatusBadRequest, status)

		status, _ = s.do(t, http.MethodGet, "/api/v1/workspaces/"+uuid.NewString(), alice, nil)
		assert.Equal(t, http.StatusNotFound, status)
	})

	t.Run("private workspace hidden from strangers", func(t *testing.T) {
		status, _ := s.do(t, http.MethodGet, base, bob, nil)
		assert.Equal(t, http.StatusForbidden, status)

		status, _ = s.do(t, http.MethodGet, base+"/history", bob, nil)
		assert.Equal(t, http.StatusForbidden, status)
	})

	t.Run("only the owner updates", func(t *testing.T) {
		status, _ := s.do(t, http.MethodPatch, base, bob, map[string]any{"title": "Mine now"})
		assert.Equal(t, http.StatusForbidden, status)

		status, env := s.do(t, http.MethodPatch, base, alice, map[string]any{
			"title":         "Shared scratch",
			"is_public":     true,
			"view_password": "letmein",
		})
		require.Equal(t, http.StatusOK, status, string(env.Error))

		var ws domain.Workspace
		require.NoError(t, json.Unmarshal(env.Data, &ws))
		assert.Equal(t, "Shared scratch", ws.Title)
		assert.Equal(t, "print(1)", ws.Code)
		assert.Equal(t, domain.InitialVersion, ws.Version)
		assert.NotContains(t, string(env.Data), "letmein")
	})

	t.Run("share password unlocks view", func(t *testing.T) {
		status, _ := s.do(t, http.MethodGet, base, bob, nil)
		assert.Equal(t, http.StatusForbidden, status)

		status, _ = s.do(t, http.MethodPost, base+"/access", bob, map[string]string{"password": "guess", "level": "view"})
		assert.Equal(t, http.StatusForbidden, status)

		status, env := s.do(t, http.MethodPost, base+"/access", bob, map[string]string{"password": "letmein", "level": "view"})
		require.Equal(t, http.StatusOK, status, string(env.Error))

		var perms access.Permissions
		require.NoError(t, json.Unmarshal(env.Data, &perms))
		assert.True(t, perms.View)
		assert.False(t, perms.Edit)

		status, _ = s.do(t, http.MethodGet, base, bob, nil)
		assert.Equal(t, http.StatusOK, status)
	})

	t.Run("collaborators", func(t *testing.T) {
		status, _ := s.do(t, http.MethodPost, base+"/collaborators", alice, map[string]string{"email": "bob@example.com", "role": "owner"})
		assert.Equal(t, http.StatusBadRequest, status)

		status, _ = s.do(t, http.MethodPost, base+"/collaborators", alice, map[string]string{"email": "nobody@example.com", "role": "editor"})
		assert.Equal(t, http.StatusNotFound, status)

		status, env := s.do(t, http.MethodPost, base+"/collaborators", alice, map[string]string{"email": "bob@example.com", "role": "editor"})
		require.Equal(t, http.StatusCreated, status, string(env.Error))

		status, env = s.do(t, http.MethodGet, base, bob, nil)
		require.Equal(t, http.StatusOK, status)

		var view struct {
			Permissions access.Permissions `json:"permissions"`
		}
		require.NoError(t, json.Unmarshal(env.Data, &view))
		assert.True(t, view.Permissions.Edit)
	})

	t.Run("live edit shows up in history and participants", func(t *testing.T) {
		conn := s.dial(t, bob)

		send(t, conn, protocol.JoinRoom{WorkspaceID: wsID})
		state, ok := expect(t, conn, protocol.TypeSyncState).(protocol.SyncState)
		require.True(t, ok)
		assert.Equal(t, "print(1)", state.Document)

		send(t, conn, protocol.SubmitEdit{WorkspaceID: wsID, Document: "print(2)", BaseVersion: state.Version})
		accepted, ok := expect(t, conn, protocol.TypeEditAccepted).(protocol.EditAccepted)
		require.True(t, ok)
		assert.Equal(t, int64(2), accepted.Version)

		status, env := s.do(t, http.MethodGet, base+"/history?limit=5", alice, nil)
		require.Equal(t, http.StatusOK, status)

		var history []domain.HistoryEntry
		require.NoError(t, json.Unmarshal(env.Data, &history))
		require.Len(t, history, 1)
		assert.Equal(t, int64(1), history[0].Version)
		assert.Equal(t, "print(1)", history[0].Code)

		status, env = s.do(t, http.MethodGet, base+"/participants", alice, nil)
		require.Equal(t, http.StatusOK, status)

		var members []domain.Membership
		require.NoError(t, json.Unmarshal(env.Data, &members))
		require.Len(t, members, 1)
		assert.Equal(t, bobID, members[0].Identity.UserID)

		status, env = s.do(t, http.MethodGet, base, alice, nil)
		require.Equal(t, http.StatusOK, status)

		var current domain.Workspace
		require.NoError(t, json.Unmarshal(env.Data, &current))
		assert.Equal(t, "print(2)", current.Code)
		assert.Equal(t, int64(2), current.Version)
	})

	t.Run("history limit must be numeric", func(t *testing.T) {
		status, _ := s.do(t, http.MethodGet, base+"/history?limit=ten", alice, nil)
		assert.Equal(t, http.StatusBadRequest, status)
	})

	t.Run("analyze without assistant", func(t *testing.T) {
		status, _ := s.do(t, http.MethodPost, base+"/analyze", alice, map[string]string{"question": "why?"})
		assert.Equal(t, http.StatusServiceUnavailable, status)
	})

	t.Run("remove collaborator", func(t *testing.T) {
		status, _ := s.do(t, http.MethodDelete, base+"/collaborators/not-a-uuid", alice, nil)
		assert.Equal(t, http.StatusBadRequest, status)

		status, _ = s.do(t, http.MethodDelete, base+"/collaborators/"+bobID.String(), bob, nil)
		assert.Equal(t, http.StatusForbidden, status)

		status, _ = s.do(t, http.MethodDelete, base+"/collaborators/"+bobID.String(), alice, nil)
		assert.Equal(t, http.StatusNoContent, status)
	})

	t.Run("delete", func(t *testing.T) {
		status, _ := s.do(t, http.MethodDelete, base, bob, nil)
		assert.Equal(t, http.StatusForbidden, status)

		status, _ = s.do(t, http.MethodDelete, base, alice, nil)
		assert.Equal(t, http.StatusNoContent, status)

		status, _ = s.do(t, http.MethodGet, base, alice, nil)
		assert.Equal(t, http.StatusNotFound, status)
	})
}

func TestWorkspaceHandler_Analyze(t *testing.T) {
	analyzer := &stubAnalyzer{}
	s := newAPIServer(t, analyzer)

	_, alice := s.signup(t, "alice@example.com", "Alice")
	_, bob := s.signup(t, "bob@example.com", "Bob")
	wsID := s.createWorkspace(t, alice, map[string]any{"title": "Algo", "language": "go", "code": "func main() {}"})
	path := "/api/v1/workspaces/" + wsID.String() + "/analyze"

	status, _ := s.do(t, http.MethodPost, path, bob, map[string]string{"question": "what does this do?"})
	assert.Equal(t, http.StatusForbidden, status)

	status, env := s.do(t, http.MethodPost, path, alice, map[string]string{"question": "what does this do?"})
	require.Equal(t, http.StatusOK, status, string(env.Error))

	var resp assist.Response
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	assert.Equal(t, "looks fine", resp.Answer)
	assert.Equal(t, domain.InitialVersion, resp.Version)

	assert.Equal(t, "go", analyzer.got.Language)
	assert.Equal(t, "func main() {}", analyzer.got.Code)
	assert.Equal(t, "what does this do?", analyzer.got.Question)
}
