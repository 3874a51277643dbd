package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ErrUnknownEvent is returned for tags that are not client-to-server events
var ErrUnknownEvent = errors.New("unknown event type")

// Envelope is the wire frame of every event
type Envelope struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Encode marshals an event into its envelope
func Encode(evt Event) ([]byte, error) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", evt.EventType(), err)
	}

	data, err := json.Marshal(Envelope{Type: evt.EventType(), Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}

	return data, nil
}

// DecodeInbound parses a client frame. Only client-to-server events are accepted,
// and their payloads are validated.
func DecodeInbound(data []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	var evt Event
	switch env.Type {
	case TypeJoinRoom:
		var e JoinRoom
		if err := decodePayload(env.Payload, &e); err != nil {
			return nil, err
		}
		evt = e
	case TypeSubmitEdit:
		var e SubmitEdit
		if err := decodePayload(env.Payload, &e); err != nil {
			return nil, err
		}
		evt = e
	case TypeMoveCursor:
		var e MoveCursor
		if err := decodePayload(env.Payload, &e); err != nil {
			return nil, err
		}
		evt = e
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
	}

	return evt, nil
}

// DecodeOutbound parses a server frame. Used by clients and tests.
func DecodeOutbound(data []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	var (
		evt Event
		err error
	)
	switch env.Type {
	case TypeSyncState:
		var e SyncState
		err = json.Unmarshal(env.Payload, &e)
		evt = e
	case TypeParticipantJoined:
		var e ParticipantJoined
		err = json.Unmarshal(env.Payload, &e)
		evt = e
	case TypeParticipantLeft:
		var e ParticipantLeft
		err = json.Unmarshal(env.Payload, &e)
		evt = e
	case TypeDocumentUpdated:
		var e DocumentUpdated
		err = json.Unmarshal(env.Payload, &e)
		evt = e
	case TypeCursorMoved:
		var e CursorMoved
		err = json.Unmarshal(env.Payload, &e)
		evt = e
	case TypeEditAccepted:
		var e EditAccepted
		err = json.Unmarshal(env.Payload, &e)
		evt = e
	case TypeError:
		var e Error
		err = json.Unmarshal(env.Payload, &e)
		evt = e
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("invalid %s payload: %w", env.Type, err)
	}

	return evt, nil
}

func decodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return errors.New("missing payload")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}
