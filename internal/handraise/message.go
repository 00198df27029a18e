package handraise

import (
	"encoding/json"
	"fmt"

	"github.com/serroba/meet-sync/internal/message"
)

// Action identifies a hand-raise wire message.
type Action string

const (
	ActionRaise        Action = "raise"
	ActionLower        Action = "lower"
	ActionLowerAll     Action = "lower-all"
	ActionSyncRequest  Action = "sync-request"
	ActionSyncResponse Action = "sync-response"
)

// Hand is one raised hand.
type Hand struct {
	ParticipantID   string `json:"participantId"`
	ParticipantName string `json:"participantName,omitempty"`
	RaisedAt        int64  `json:"raisedAt"`
}

// Message is the hand-raise wire format. It travels on its own topic,
// separate from the collaboration message union.
//
// For raise/lower, ParticipantID is the subject of the action; a lower
// whose subject differs from its sender means a host lowered someone
// else's hand.
type Message struct {
	Action          Action `json:"action"`
	SenderID        string `json:"senderId"`
	Timestamp       int64  `json:"timestamp"`
	ParticipantID   string `json:"participantId,omitempty"`
	ParticipantName string `json:"participantName,omitempty"`
	RaisedAt        int64  `json:"raisedAt,omitempty"`
	Raised          []Hand `json:"raised,omitempty"`
}

// EncodeMessage serializes a hand-raise message.
func EncodeMessage(m Message) ([]byte, error) {
	return json.Marshal(m)
}

// DecodeMessage parses a hand-raise message, returning
// message.ErrMalformedMessage on invalid bytes.
func DecodeMessage(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", message.ErrMalformedMessage, err)
	}

	return m, nil
}
