package collab

import (
	"encoding/json"
	"fmt"

	"github.com/Rrens/codeshare/internal/domain"
	"github.com/Rrens/codeshare/internal/protocol"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Broadcaster fans events out to the members of a room.
// Delivery is a non-blocking enqueue per connection; peers that cannot take the
// event are logged and skipped.
type Broadcaster struct {
	registry *Registry
}

// Broadcast delivers evt to every member of the room except exclude and returns
// how many connections accepted it.
func (b *Broadcaster) Broadcast(workspaceID uuid.UUID, evt protocol.Event, exclude string) int {
	delivered := 0
	for _, conn := range b.registry.conns(workspaceID, exclude) {
		if err := conn.Send(evt); err != nil {
			ev := log.Warn()
			if evt.EventType() == protocol.TypeCursorMoved {
				ev = log.Debug()
			}
			ev.Err(fmt.Errorf("%w: %w", domain.ErrTransientDelivery, err)).
				Str("workspace_id", workspaceID.String()).
				Str("connection_id", conn.ID()).
				Str("event", string(evt.EventType())).
				Msg("Dropped event for peer")
			continue
		}
		delivered++
	}
	return delivered
}

// Cursor relays a cursor position from a room member to the rest of the room.
// Connections that have not joined the room are rejected.
func (b *Broadcaster) Cursor(workspaceID uuid.UUID, from Conn, identity domain.Identity, cursor json.RawMessage) error {
	if !b.registry.IsMember(workspaceID, from.ID()) {
		return domain.ErrNotAuthorized
	}

	b.registry.Touch(workspaceID, from.ID())
	b.Broadcast(workspaceID, protocol.CursorMoved{
		WorkspaceID: workspaceID,
		Identity:    identity.UserID,
		Cursor:      cursor,
	}, from.ID())
	return nil
}
