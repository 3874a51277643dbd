package ws

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Rrens/codeshare/internal/domain"
	"github.com/Rrens/codeshare/internal/protocol"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// State is the lifecycle state of a client connection
type State int32

const (
	StateConnecting State = iota
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "closed"
	}
}

var (
	errClosed         = errors.New("connection closed")
	errSendBufferFull = errors.New("send buffer full")
)

// Client is one authenticated socket. It implements collab.Conn.
type Client struct {
	id       string
	conn     *websocket.Conn
	handler  *Handler
	identity domain.Identity

	send  chan []byte
	done  chan struct{}
	state atomic.Int32

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func newClient(h *Handler, conn *websocket.Conn) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		id:      uuid.NewString(),
		conn:    conn,
		handler: h,
		send:    make(chan []byte, h.cfg.SendBuffer),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// ID returns the connection id
func (c *Client) ID() string { return c.id }

// Done is closed as soon as the client starts closing
func (c *Client) Done() <-chan struct{} { return c.done }

// Identity returns the verified identity behind the connection
func (c *Client) Identity() domain.Identity { return c.identity }

// State returns the current lifecycle state
func (c *Client) State() State { return State(c.state.Load()) }

// Send queues an event for the write pump without blocking
func (c *Client) Send(evt protocol.Event) error {
	if c.State() == StateClosed {
		return errClosed
	}

	data, err := protocol.Encode(evt)
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return errClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return errClosed
	default:
		return errSendBufferFull
	}
}

// ReadPump reads frames until the connection fails, then closes the client.
// It runs on the goroutine that accepted the connection.
func (c *Client) ReadPump() {
	defer c.Close()

	pongWait := c.handler.cfg.PongWait
	c.conn.SetReadLimit(c.handler.cfg.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("connection_id", c.id).Msg("WebSocket read error")
			}
			return
		}

		evt, err := protocol.DecodeInbound(data)
		if err != nil {
			log.Debug().Err(err).Str("connection_id", c.id).Msg("Rejected frame")
			c.sendError(fmt.Errorf("%w: %v", domain.ErrInvalidInput, err))
			continue
		}

		c.dispatch(evt)
	}
}

// WritePump drains the send queue and keeps the connection alive with pings
func (c *Client) WritePump() {
	writeWait := c.handler.cfg.WriteWait
	ticker := time.NewTicker(pingPeriod(c.handler.cfg.PongWait))
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug().Err(err).Str("connection_id", c.id).Msg("WebSocket write error")
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			return
		}
	}
}

// Close moves the client to Closed and removes it from every room. Safe to call
// more than once and from any goroutine.
func (c *Client) Close() {
	c.closeWith(websocket.CloseNormalClosure, "")
}

func (c *Client) closeWith(code int, reason string) {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosed))
		close(c.done)
		c.cancel()

		c.handler.registry.Leave(c.id)
		c.handler.forget(c)

		deadline := time.Now().Add(c.handler.cfg.WriteWait)
		_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		_ = c.conn.Close()

		log.Info().
			Str("connection_id", c.id).
			Str("user_id", c.identity.UserID.String()).
			Msg("WebSocket closed")
	})
}

func (c *Client) dispatch(evt protocol.Event) {
	var err error

	switch e := evt.(type) {
	case protocol.JoinRoom:
		_, err = c.handler.registry.Join(c.ctx, e.WorkspaceID, c.identity, c)

	case protocol.SubmitEdit:
		sub := domain.EditSubmission{
			WorkspaceID: e.WorkspaceID,
			Document:    e.Document,
			BaseVersion: e.BaseVersion,
			Submitter:   c.identity,
		}
		if e.ClientTimestamp != nil {
			sub.ClientTimestamp = *e.ClientTimestamp
		}
		_, err = c.handler.controller.Submit(c.ctx, sub, c)

	case protocol.MoveCursor:
		err = c.handler.registry.Broadcaster().Cursor(e.WorkspaceID, c, c.identity, e.Cursor)

	default:
		err = fmt.Errorf("%w: %s is not accepted from clients", domain.ErrInvalidInput, evt.EventType())
	}

	if err != nil {
		log.Debug().
			Err(err).
			Str("connection_id", c.id).
			Str("event", string(evt.EventType())).
			Msg("Request rejected")
		c.sendError(err)
	}
}

func (c *Client) sendError(err error) {
	if sendErr := c.Send(errorEvent(err)); sendErr != nil {
		log.Debug().Err(sendErr).Str("connection_id", c.id).Msg("Failed to deliver error event")
	}
}

// errorEvent maps a failure to the event sent back to the requesting connection
func errorEvent(err error) protocol.Error {
	switch {
	case errors.Is(err, domain.ErrAuthenticationFailed):
		return protocol.Error{Message: "authentication failed", Code: protocol.CodeAuthFailed}
	case errors.Is(err, domain.ErrNotAuthorized):
		return protocol.Error{Message: "not authorized", Code: protocol.CodeNotAuthorized}
	case errors.Is(err, domain.ErrNotFound):
		return protocol.Error{Message: "workspace not found", Code: protocol.CodeNotFound}
	case errors.Is(err, domain.ErrVersionConflict):
		return protocol.Error{Message: "document changed, resync and retry", Code: protocol.CodeConflict}
	case errors.Is(err, domain.ErrPersistence):
		return protocol.Error{Message: "failed to save, please retry", Code: protocol.CodePersistence}
	case errors.Is(err, domain.ErrInvalidInput):
		return protocol.Error{Message: err.Error(), Code: protocol.CodeInvalid}
	default:
		return protocol.Error{Message: "internal error", Code: protocol.CodeInternal}
	}
}

func pingPeriod(pongWait time.Duration) time.Duration {
	return (pongWait * 9) / 10
}
