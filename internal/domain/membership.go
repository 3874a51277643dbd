package domain

import (
	"time"

	"github.com/google/uuid"
)

// Membership is one connection's participation in one room. It lives only in memory.
type Membership struct {
	WorkspaceID  uuid.UUID `json:"workspace_id"`
	Identity     Identity  `json:"identity"`
	ConnectionID string    `json:"connection_id"`
	JoinedAt     time.Time `json:"joined_at"`
	LastActive   time.Time `json:"last_active"`
}
