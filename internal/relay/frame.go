// Package relay implements the peer-fanout data channel: a room-scoped
// websocket hub that delivers topic-tagged frames with sender identity,
// plus the matching client transport.
package relay

import "encoding/json"

// System events the relay emits.
const (
	// EventParticipantLeft notifies remaining peers that a participant
	// disconnected.
	EventParticipantLeft = "participant-left"
)

// Frame is the relay wire format. Application payloads carry Topic and
// Data; relay lifecycle notices carry Event instead.
type Frame struct {
	// SenderID is stamped by the relay on delivery; client-supplied
	// values are ignored.
	SenderID string `json:"senderId,omitempty"`

	Topic string          `json:"topic,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Event string          `json:"event,omitempty"`

	// To restricts delivery to a subset of participant identities.
	// Empty means every other participant in the room.
	To []string `json:"to,omitempty"`
}
