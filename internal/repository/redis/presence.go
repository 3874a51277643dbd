package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Rrens/codeshare/internal/domain"
	"github.com/google/uuid"
)

const presenceTTL = 12 * time.Hour

// Presence mirrors room membership into Redis so every server process can list it
type Presence struct {
	client *Client
}

// NewPresence creates a new presence mirror
func NewPresence(client *Client) *Presence {
	return &Presence{client: client}
}

// Add records or refreshes a membership and pushes back the expiry of the room record
func (p *Presence) Add(ctx context.Context, m domain.Membership) error {
	key := p.key(m.WorkspaceID)

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal membership: %w", err)
	}

	pipe := p.client.rdb.TxPipeline()
	pipe.HSet(ctx, key, m.ConnectionID, data)
	pipe.Expire(ctx, key, presenceTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store presence: %w", err)
	}

	return nil
}

// Remove deletes a membership
func (p *Presence) Remove(ctx context.Context, workspaceID uuid.UUID, connectionID string) error {
	return p.client.rdb.HDel(ctx, p.key(workspaceID), connectionID).Err()
}

// Clear drops the whole presence record of a workspace
func (p *Presence) Clear(ctx context.Context, workspaceID uuid.UUID) error {
	return p.client.rdb.Del(ctx, p.key(workspaceID)).Err()
}

func (p *Presence) key(workspaceID uuid.UUID) string {
	return p.client.key("presence", workspaceID.String())
}
