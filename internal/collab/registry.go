package collab

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Rrens/codeshare/internal/domain"
	"github.com/Rrens/codeshare/internal/protocol"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	presenceTimeout = 2 * time.Second
	// presenceRefresh bounds how often activity is copied to the presence mirror
	presenceRefresh = time.Minute
)

// RegistryConfig holds the dependencies of a Registry. Now defaults to UTC wall time.
type RegistryConfig struct {
	Store    Store
	Gate     Gate
	Locks    *KeyLock
	Presence Presence
	Now      func() time.Time
}

type member struct {
	record     domain.Membership
	conn       Conn
	mirroredAt time.Time
}

// Registry is the authoritative in-process record of which connection is in which room.
type Registry struct {
	mu     sync.RWMutex
	rooms  map[uuid.UUID]map[string]*member
	byConn map[string]map[uuid.UUID]struct{}

	store       Store
	gate        Gate
	locks       *KeyLock
	presence    Presence
	broadcaster *Broadcaster
	now         func() time.Time
}

// NewRegistry creates an empty registry
func NewRegistry(cfg RegistryConfig) *Registry {
	locks := cfg.Locks
	if locks == nil {
		locks = NewKeyLock()
	}

	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	r := &Registry{
		rooms:    make(map[uuid.UUID]map[string]*member),
		byConn:   make(map[string]map[uuid.UUID]struct{}),
		store:    cfg.Store,
		gate:     cfg.Gate,
		locks:    locks,
		presence: cfg.Presence,
		now:      now,
	}
	r.broadcaster = &Broadcaster{registry: r}
	return r
}

// Broadcaster returns the fan-out helper bound to this registry
func (r *Registry) Broadcaster() *Broadcaster {
	return r.broadcaster
}

// Join adds conn to the workspace room, sends it the current document and tells
// the rest of the room. Joining a room the connection is already in re-sends the
// document and returns the existing record.
func (r *Registry) Join(ctx context.Context, workspaceID uuid.UUID, identity domain.Identity, conn Conn) (domain.Membership, error) {
	// Joins share the edit lock so the snapshot below cannot interleave with an edit.
	unlock := r.locks.Lock(workspaceID)
	defer unlock()

	ws, err := r.store.GetByID(ctx, workspaceID)
	if err != nil {
		return domain.Membership{}, fmt.Errorf("%w: failed to load workspace: %w", domain.ErrPersistence, err)
	}
	if ws == nil {
		return domain.Membership{}, domain.ErrNotFound
	}
	if !r.gate.CanView(ctx, identity.UserID, ws) {
		return domain.Membership{}, domain.ErrNotAuthorized
	}

	r.mu.Lock()
	// A closing connection may already have run Leave; inserting now would strand it.
	select {
	case <-conn.Done():
		r.mu.Unlock()
		return domain.Membership{}, ErrConnClosed
	default:
	}

	if existing, ok := r.rooms[workspaceID][conn.ID()]; ok {
		record := existing.record
		participants := r.participantsLocked(workspaceID)
		r.mu.Unlock()

		r.sendSync(conn, ws, participants)
		return record, nil
	}

	now := r.now()
	m := &member{
		record: domain.Membership{
			WorkspaceID:  workspaceID,
			Identity:     identity,
			ConnectionID: conn.ID(),
			JoinedAt:     now,
			LastActive:   now,
		},
		conn:       conn,
		mirroredAt: now,
	}

	room, ok := r.rooms[workspaceID]
	if !ok {
		room = make(map[string]*member)
		r.rooms[workspaceID] = room
	}
	room[conn.ID()] = m

	joined, ok := r.byConn[conn.ID()]
	if !ok {
		joined = make(map[uuid.UUID]struct{})
		r.byConn[conn.ID()] = joined
	}
	joined[workspaceID] = struct{}{}

	participants := r.participantsLocked(workspaceID)
	r.mu.Unlock()

	r.sendSync(conn, ws, participants)
	r.broadcaster.Broadcast(workspaceID, protocol.ParticipantJoined{
		WorkspaceID: workspaceID,
		Identity:    identity.UserID,
		DisplayName: identity.DisplayName,
	}, conn.ID())

	r.mirrorPresence(m.record)

	log.Info().
		Str("workspace_id", workspaceID.String()).
		Str("user_id", identity.UserID.String()).
		Str("connection_id", conn.ID()).
		Msg("Participant joined")

	return m.record, nil
}

// Leave removes connID from every room it is in and sends one participant-left to
// each of those rooms. Calling it again, or for a connection that never joined, does nothing.
func (r *Registry) Leave(connID string) {
	type departure struct {
		workspaceID uuid.UUID
		userID      uuid.UUID
	}

	r.mu.Lock()
	joined := r.byConn[connID]
	departures := make([]departure, 0, len(joined))
	for workspaceID := range joined {
		room := r.rooms[workspaceID]
		if m, ok := room[connID]; ok {
			departures = append(departures, departure{workspaceID: workspaceID, userID: m.record.Identity.UserID})
			delete(room, connID)
		}
		if len(room) == 0 {
			delete(r.rooms, workspaceID)
		}
	}
	delete(r.byConn, connID)
	r.mu.Unlock()

	for _, d := range departures {
		r.broadcaster.Broadcast(d.workspaceID, protocol.ParticipantLeft{
			WorkspaceID: d.workspaceID,
			Identity:    d.userID,
		}, connID)
		r.removePresence(d.workspaceID, connID)

		log.Info().
			Str("workspace_id", d.workspaceID.String()).
			Str("user_id", d.userID.String()).
			Str("connection_id", connID).
			Msg("Participant left")
	}
}

// Participants returns a snapshot of the room, oldest member first
func (r *Registry) Participants(workspaceID uuid.UUID) []domain.Membership {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.participantsLocked(workspaceID)
}

// IsMember reports whether connID is currently in the workspace room
func (r *Registry) IsMember(workspaceID uuid.UUID, connID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[workspaceID][connID]
	return ok
}

// Touch marks the membership as active now. Unknown memberships are ignored.
// The presence mirror is refreshed at most once per presenceRefresh.
func (r *Registry) Touch(workspaceID uuid.UUID, connID string) {
	r.mu.Lock()
	m, ok := r.rooms[workspaceID][connID]
	if !ok {
		r.mu.Unlock()
		return
	}
	now := r.now()
	m.record.LastActive = now
	mirror := r.presence != nil && now.Sub(m.mirroredAt) >= presenceRefresh
	if mirror {
		m.mirroredAt = now
	}
	record := m.record
	r.mu.Unlock()

	if mirror {
		r.mirrorPresence(record)
	}
}

// DropRoom empties a room whose workspace no longer exists. Members get an error
// event; nobody is sent participant-left since the room itself is gone.
func (r *Registry) DropRoom(workspaceID uuid.UUID, message string) int {
	unlock := r.locks.Lock(workspaceID)
	defer unlock()

	r.mu.Lock()
	room := r.rooms[workspaceID]
	delete(r.rooms, workspaceID)
	for connID := range room {
		if joined, ok := r.byConn[connID]; ok {
			delete(joined, workspaceID)
			if len(joined) == 0 {
				delete(r.byConn, connID)
			}
		}
	}
	r.mu.Unlock()

	for connID, m := range room {
		if err := m.conn.Send(protocol.Error{Message: message, Code: protocol.CodeNotFound}); err != nil {
			log.Warn().
				Err(fmt.Errorf("%w: %w", domain.ErrTransientDelivery, err)).
				Str("workspace_id", workspaceID.String()).
				Str("connection_id", connID).
				Msg("Failed to notify member of closed room")
		}
		r.removePresence(workspaceID, connID)
	}

	if len(room) > 0 {
		log.Info().Str("workspace_id", workspaceID.String()).Int("members", len(room)).Msg("Room dropped")
	}
	return len(room)
}

// Stats summarizes the registry for health reporting
type Stats struct {
	Rooms       int `json:"rooms"`
	Connections int `json:"connections"`
	Memberships int `json:"memberships"`
}

// Stats returns current room and connection counts
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Stats{Rooms: len(r.rooms), Connections: len(r.byConn)}
	for _, room := range r.rooms {
		s.Memberships += len(room)
	}
	return s
}

// conns returns the connections of a room, skipping exclude
func (r *Registry) conns(workspaceID uuid.UUID, exclude string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room := r.rooms[workspaceID]
	out := make([]Conn, 0, len(room))
	for connID, m := range room {
		if connID == exclude {
			continue
		}
		out = append(out, m.conn)
	}
	return out
}

func (r *Registry) participantsLocked(workspaceID uuid.UUID) []domain.Membership {
	room := r.rooms[workspaceID]
	out := make([]domain.Membership, 0, len(room))
	for _, m := range room {
		out = append(out, m.record)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].ConnectionID < out[j].ConnectionID
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out
}

func (r *Registry) sendSync(conn Conn, ws *domain.Workspace, members []domain.Membership) {
	participants := make([]protocol.Participant, 0, len(members))
	for _, m := range members {
		participants = append(participants, protocol.Participant{
			Identity:    m.Identity.UserID,
			DisplayName: m.Identity.DisplayName,
			JoinedAt:    m.JoinedAt,
		})
	}

	err := conn.Send(protocol.SyncState{
		WorkspaceID:  ws.ID,
		Document:     ws.Code,
		Version:      ws.Version,
		Participants: participants,
	})
	if err != nil {
		log.Warn().
			Err(fmt.Errorf("%w: %w", domain.ErrTransientDelivery, err)).
			Str("workspace_id", ws.ID.String()).
			Str("connection_id", conn.ID()).
			Msg("Failed to send sync state")
	}
}

func (r *Registry) mirrorPresence(record domain.Membership) {
	if r.presence == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	err := r.presence.Add(ctx, record)
	cancel()
	if err != nil {
		log.Debug().Err(err).Str("workspace_id", record.WorkspaceID.String()).Msg("Failed to mirror presence")
	}

	// Leave may have cleared the mirror before Add landed.
	if !r.IsMember(record.WorkspaceID, record.ConnectionID) {
		r.removePresence(record.WorkspaceID, record.ConnectionID)
	}
}

func (r *Registry) removePresence(workspaceID uuid.UUID, connID string) {
	if r.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	if err := r.presence.Remove(ctx, workspaceID, connID); err != nil && !errors.Is(err, context.Canceled) {
		log.Debug().Err(err).Str("workspace_id", workspaceID.String()).Msg("Failed to clear presence")
	}
}
