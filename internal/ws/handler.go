// Package ws runs the collaboration socket: it authenticates connections, pumps
// protocol events in and out, and guarantees room cleanup when a connection ends.
package ws

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Rrens/codeshare/internal/collab"
	"github.com/Rrens/codeshare/internal/config"
	"github.com/Rrens/codeshare/internal/domain"
	"github.com/Rrens/codeshare/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Verifier turns a bearer credential into an identity. security.JWTManager implements it.
type Verifier interface {
	Verify(ctx context.Context, token string) (domain.Identity, error)
}

// Handler upgrades HTTP requests to collaboration sockets
type Handler struct {
	verifier   Verifier
	registry   *collab.Registry
	controller *collab.VersionController
	cfg        config.WebSocketConfig
	upgrader   websocket.Upgrader

	mu       sync.Mutex
	clients  map[*Client]struct{}
	draining bool
	wg       sync.WaitGroup
}

// NewHandler creates a new socket handler
func NewHandler(verifier Verifier, registry *collab.Registry, controller *collab.VersionController, cfg config.WebSocketConfig) *Handler {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = 10 * time.Second
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = 60 * time.Second
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 1 << 20
	}

	h := &Handler{
		verifier:   verifier,
		registry:   registry,
		controller: controller,
		cfg:        cfg,
		clients:    make(map[*Client]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// ServeHTTP authenticates and serves one connection until it closes
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	if h.draining {
		h.mu.Unlock()
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}
	h.wg.Add(1)
	h.mu.Unlock()
	defer h.wg.Done()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to upgrade connection")
		return
	}

	identity, err := h.verifier.Verify(r.Context(), bearerToken(r))
	if err != nil {
		h.reject(conn, err)
		return
	}

	client := newClient(h, conn)
	client.identity = identity
	client.state.Store(int32(StateAuthenticated))
	if !h.track(client) {
		client.closeWith(websocket.CloseGoingAway, "server is shutting down")
		return
	}

	log.Info().
		Str("connection_id", client.id).
		Str("user_id", identity.UserID.String()).
		Str("remote_addr", r.RemoteAddr).
		Msg("WebSocket authenticated")

	go client.WritePump()
	client.ReadPump()
}

// Shutdown closes every open connection and waits for their cleanup to finish
func (h *Handler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.draining = true
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.closeWith(websocket.CloseGoingAway, "server is shutting down")
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connections returns the number of authenticated connections
func (h *Handler) Connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Handler) reject(conn *websocket.Conn, err error) {
	log.Info().Err(err).Msg("WebSocket authentication failed")

	deadline := time.Now().Add(h.cfg.WriteWait)
	if data, encErr := protocol.Encode(errorEvent(err)); encErr == nil {
		_ = conn.SetWriteDeadline(deadline)
		_ = conn.WriteMessage(websocket.TextMessage, data)
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "authentication failed"), deadline)
	_ = conn.Close()
}

func (h *Handler) track(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.draining {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Handler) forget(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// bearerToken reads the credential from the Authorization header, falling back to
// the token query parameter since browsers cannot set headers on socket upgrades.
func bearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	return r.URL.Query().Get("token")
}
