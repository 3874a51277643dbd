package collab_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Rrens/codeshare/internal/domain"
	"github.com/Rrens/codeshare/internal/protocol"
	"github.com/google/uuid"
)

// fakeConn records every event it is sent
type fakeConn struct {
	id string

	mu     sync.Mutex
	events []protocol.Event
	closed bool
	done   chan struct{}
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id, done: make(chan struct{})}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Done() <-chan struct{} { return c.done }

func (c *fakeConn) Send(evt protocol.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("connection closed")
	}
	c.events = append(c.events, evt)
	return nil
}

func (c *fakeConn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
}

func (c *fakeConn) Events() []protocol.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.Event(nil), c.events...)
}

func (c *fakeConn) count(t protocol.Type) int {
	n := 0
	for _, evt := range c.Events() {
		if evt.EventType() == t {
			n++
		}
	}
	return n
}

func (c *fakeConn) last(t protocol.Type) protocol.Event {
	events := c.Events()
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].EventType() == t {
			return events[i]
		}
	}
	return nil
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	c.events = nil
	c.mu.Unlock()
}

// memStore is an in-memory workspace store with a compare-and-set on version
type memStore struct {
	mu         sync.Mutex
	workspaces map[uuid.UUID]*domain.Workspace
	history    map[uuid.UUID][]domain.HistoryEntry

	applyErr   error
	blockApply bool
	getErr     error
	limits     []int
}

func newMemStore() *memStore {
	return &memStore{
		workspaces: make(map[uuid.UUID]*domain.Workspace),
		history:    make(map[uuid.UUID][]domain.HistoryEntry),
	}
}

func (s *memStore) put(ws *domain.Workspace) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workspaces[ws.ID] = ws
}

func (s *memStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Workspace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	ws, ok := s.workspaces[id]
	if !ok {
		return nil, nil
	}
	clone := *ws
	clone.Collaborators = append([]domain.Collaborator(nil), ws.Collaborators...)
	return &clone, nil
}

func (s *memStore) ApplyRevision(ctx context.Context, rev *domain.Revision, historyLimit int) error {
	if s.blockApply {
		<-ctx.Done()
		return ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.limits = append(s.limits, historyLimit)

	if s.applyErr != nil {
		return s.applyErr
	}
	ws, ok := s.workspaces[rev.WorkspaceID]
	if !ok {
		return domain.ErrNotFound
	}
	if ws.Version != rev.PreviousVersion {
		return domain.ErrVersionConflict
	}

	s.history[ws.ID] = append(s.history[ws.ID], rev.Prior)
	ws.Code = rev.Code
	ws.Version = rev.Version
	ws.LastEdited = domain.LastEdited{By: rev.EditedBy, At: rev.EditedAt}
	return nil
}

func (s *memStore) snapshot(id uuid.UUID) (domain.Workspace, []domain.HistoryEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.workspaces[id], append([]domain.HistoryEntry(nil), s.history[id]...)
}

// memPresence records presence calls
type memPresence struct {
	mu      sync.Mutex
	members map[string]domain.Membership
}

func newMemPresence() *memPresence {
	return &memPresence{members: make(map[string]domain.Membership)}
}

func (p *memPresence) Add(_ context.Context, m domain.Membership) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.members[m.WorkspaceID.String()+"/"+m.ConnectionID] = m
	return nil
}

func (p *memPresence) Remove(_ context.Context, workspaceID uuid.UUID, connectionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.members, workspaceID.String()+"/"+connectionID)
	return nil
}

func (p *memPresence) get(workspaceID uuid.UUID, connectionID string) (domain.Membership, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.members[workspaceID.String()+"/"+connectionID]
	return m, ok
}

func (p *memPresence) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.members)
}

type fixture struct {
	owner  domain.Identity
	editor domain.Identity
	viewer domain.Identity
	ws     *domain.Workspace
}

func newFixture(code string) fixture {
	f := fixture{
		owner:  domain.Identity{UserID: uuid.New(), DisplayName: "owner"},
		editor: domain.Identity{UserID: uuid.New(), DisplayName: "editor"},
		viewer: domain.Identity{UserID: uuid.New(), DisplayName: "viewer"},
	}
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f.ws = &domain.Workspace{
		ID:      uuid.New(),
		Title:   "shared",
		Code:    code,
		OwnerID: f.owner.UserID,
		Collaborators: []domain.Collaborator{
			{UserID: f.editor.UserID, Role: domain.RoleEditor},
			{UserID: f.viewer.UserID, Role: domain.RoleViewer},
		},
		Version:   domain.InitialVersion,
		CreatedAt: created,
		UpdatedAt: created,
	}
	return f
}
