package message

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Common errors.
var (
	// ErrMalformedMessage means inbound bytes could not be decoded.
	// Callers log and drop; decode failures are never fatal.
	ErrMalformedMessage = errors.New("malformed message")

	// ErrUnknownType means the envelope carried a type this version does
	// not know. Callers ignore it for forward compatibility.
	ErrUnknownType = errors.New("unknown message type")
)

// envelope is the wire framing: a type tag plus the variant's payload.
type envelope struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Encode serializes a message for broadcast.
func Encode(m Message) ([]byte, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", m.Type(), err)
	}

	return json.Marshal(envelope{Type: m.Type(), Payload: payload})
}

// Decode parses inbound bytes into the matching variant.
// Returns ErrMalformedMessage for invalid bytes and ErrUnknownType for
// a type tag this version does not handle.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	switch env.Type {
	case TypeWhiteboard:
		return decodePayload[Whiteboard](env.Payload)
	case TypeNotes:
		return decodePayload[Notes](env.Payload)
	case TypePresence:
		return decodePayload[Presence](env.Payload)
	case TypePermission:
		return decodePayload[Permission](env.Payload)
	case TypeSaveStatus:
		return decodePayload[SaveStatus](env.Payload)
	default:
		return nil, ErrUnknownType
	}
}

// decodePayload unmarshals a payload into a concrete variant.
func decodePayload[M Message](payload json.RawMessage) (Message, error) {
	var m M
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	return m, nil
}
