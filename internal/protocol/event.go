// Package protocol defines the events exchanged over the collaboration socket.
//
// The set of events is closed: every event is one of the concrete types in this
// package, and Event cannot be implemented elsewhere. Switches over Event should
// list every type so a new event shows up as a compile-time or vet finding.
package protocol

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Type is the wire tag of an event
type Type string

// Client to server
const (
	TypeJoinRoom   Type = "join-room"
	TypeSubmitEdit Type = "submit-edit"
	TypeMoveCursor Type = "move-cursor"
)

// Server to client
const (
	TypeSyncState         Type = "sync-state"
	TypeParticipantJoined Type = "participant-joined"
	TypeParticipantLeft   Type = "participant-left"
	TypeDocumentUpdated   Type = "document-updated"
	TypeCursorMoved       Type = "cursor-moved"
	TypeEditAccepted      Type = "edit-accepted"
	TypeError             Type = "error"
)

// Event is implemented only by the types in this package
type Event interface {
	EventType() Type
	sealed()
}

// JoinRoom asks to join a workspace room. Requires an authenticated connection.
type JoinRoom struct {
	WorkspaceID uuid.UUID `json:"workspaceId" validate:"required"`
}

// SubmitEdit proposes a whole-document replacement
type SubmitEdit struct {
	WorkspaceID     uuid.UUID  `json:"workspaceId" validate:"required"`
	Document        string     `json:"document"`
	BaseVersion     int64      `json:"baseVersion" validate:"min=0"`
	ClientTimestamp *time.Time `json:"clientTimestamp,omitempty"`
}

// MoveCursor reports a cursor position. The cursor payload is opaque to the server.
type MoveCursor struct {
	WorkspaceID uuid.UUID       `json:"workspaceId" validate:"required"`
	Cursor      json.RawMessage `json:"cursor" validate:"required"`
}

// Participant describes one connected member in a sync-state
type Participant struct {
	Identity    uuid.UUID `json:"identity"`
	DisplayName string    `json:"displayName"`
	JoinedAt    time.Time `json:"joinedAt"`
}

// SyncState is sent once to a client that joined a room
type SyncState struct {
	WorkspaceID  uuid.UUID     `json:"workspaceId"`
	Document     string        `json:"document"`
	Version      int64         `json:"version"`
	Participants []Participant `json:"participants"`
}

// ParticipantJoined is broadcast to the room when someone joins
type ParticipantJoined struct {
	WorkspaceID uuid.UUID `json:"workspaceId"`
	Identity    uuid.UUID `json:"identity"`
	DisplayName string    `json:"displayName"`
}

// ParticipantLeft is broadcast to the room when a connection leaves
type ParticipantLeft struct {
	WorkspaceID uuid.UUID `json:"workspaceId"`
	Identity    uuid.UUID `json:"identity"`
}

// DocumentUpdated carries an accepted edit to every other room member
type DocumentUpdated struct {
	WorkspaceID uuid.UUID `json:"workspaceId"`
	Document    string    `json:"document"`
	Version     int64     `json:"version"`
	EditedBy    uuid.UUID `json:"editedBy"`
	Timestamp   time.Time `json:"timestamp"`
}

// CursorMoved relays a cursor position. Best effort.
type CursorMoved struct {
	WorkspaceID uuid.UUID       `json:"workspaceId"`
	Identity    uuid.UUID       `json:"identity"`
	Cursor      json.RawMessage `json:"cursor"`
}

// EditAccepted acknowledges an accepted submission to its submitter
type EditAccepted struct {
	WorkspaceID uuid.UUID `json:"workspaceId"`
	Version     int64     `json:"version"`
	Timestamp   time.Time `json:"timestamp"`
}

// ErrorCode classifies an Error event
type ErrorCode string

const (
	CodeAuthFailed    ErrorCode = "auth_failed"
	CodeNotAuthorized ErrorCode = "not_authorized"
	CodeNotFound      ErrorCode = "not_found"
	CodePersistence   ErrorCode = "persistence"
	CodeConflict      ErrorCode = "conflict"
	CodeInvalid       ErrorCode = "invalid"
	CodeInternal      ErrorCode = "internal"
)

// Error is delivered only to the connection whose request failed
type Error struct {
	Message string    `json:"message"`
	Code    ErrorCode `json:"code"`
}

func (JoinRoom) EventType() Type          { return TypeJoinRoom }
func (SubmitEdit) EventType() Type        { return TypeSubmitEdit }
func (MoveCursor) EventType() Type        { return TypeMoveCursor }
func (SyncState) EventType() Type         { return TypeSyncState }
func (ParticipantJoined) EventType() Type { return TypeParticipantJoined }
func (ParticipantLeft) EventType() Type   { return TypeParticipantLeft }
func (DocumentUpdated) EventType() Type   { return TypeDocumentUpdated }
func (CursorMoved) EventType() Type       { return TypeCursorMoved }
func (EditAccepted) EventType() Type      { return TypeEditAccepted }
func (Error) EventType() Type             { return TypeError }

func (JoinRoom) sealed()          {}
func (SubmitEdit) sealed()        {}
func (MoveCursor) sealed()        {}
func (SyncState) sealed()         {}
func (ParticipantJoined) sealed() {}
func (ParticipantLeft) sealed()   {}
func (DocumentUpdated) sealed()   {}
func (CursorMoved) sealed()       {}
func (EditAccepted) sealed()      {}
func (Error) sealed()             {}
