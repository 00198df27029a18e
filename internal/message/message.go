package message

import "encoding/json"

// Topic strings, one per logical concern, so a receiver can cheaply
// discard traffic it does not handle.
const (
	TopicWhiteboard  = "collab.whiteboard"
	TopicNotes       = "collab.notes"
	TopicPresence    = "collab.presence"
	TopicPermissions = "collab.permissions"
	TopicSaveStatus  = "collab.save-status"
	TopicHandRaise   = "collab.hand-raise"
)

// Type discriminates the collaboration message union on the wire.
type Type string

const (
	TypeWhiteboard Type = "whiteboard"
	TypeNotes      Type = "notes"
	TypePresence   Type = "presence"
	TypePermission Type = "permission"
	TypeSaveStatus Type = "save-status"
)

// SyncAction identifies the kind of whiteboard/notes sync message.
type SyncAction string

const (
	ActionUpdate       SyncAction = "update"
	ActionSyncRequest  SyncAction = "sync-request"
	ActionSyncResponse SyncAction = "sync-response"
)

// Feature names a collaborative surface.
type Feature string

const (
	FeatureWhiteboard Feature = "whiteboard"
	FeatureNotes      Feature = "notes"
	FeatureCoHost     Feature = "cohost"
)

// Level is a feature's access level.
type Level string

const (
	LevelOpen       Level = "open"
	LevelRestricted Level = "restricted"
)

// PermissionAction identifies a permission state transition.
type PermissionAction string

const (
	PermissionUpdate       PermissionAction = "update"
	PermissionGrant        PermissionAction = "grant"
	PermissionRevoke       PermissionAction = "revoke"
	PermissionGrantCoHost  PermissionAction = "grant-cohost"
	PermissionRevokeCoHost PermissionAction = "revoke-cohost"
)

// SaveState reports the progress of a persistence save.
type SaveState string

const (
	SaveStateSaving SaveState = "saving"
	SaveStateSaved  SaveState = "saved"
	SaveStateError  SaveState = "error"
)

// Meta carries the fields every collaboration message shares.
// Timestamp is sender-local wall-clock milliseconds at send time.
type Meta struct {
	SenderID  string `json:"senderId"`
	Timestamp int64  `json:"timestamp"`
}

// Sender returns the sending participant's stable identity.
func (m Meta) Sender() string { return m.SenderID }

// SentAt returns the sender-local send time in milliseconds.
func (m Meta) SentAt() int64 { return m.Timestamp }

// Message is the tagged union of all collaboration messages.
// Messages are values; they are immutable once constructed.
type Message interface {
	Type() Type
	Sender() string
	SentAt() int64
}

// AssetTypeName marks a record as image/asset metadata rather than a
// drawable shape.
const AssetTypeName = "asset"

// Record is a single whiteboard record keyed by a stable id.
// Data is opaque to the sync layer; rendering belongs to the editor.
type Record struct {
	ID       string          `json:"id"`
	TypeName string          `json:"typeName"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// IsAsset reports whether the record is asset metadata.
func (r Record) IsAsset() bool { return r.TypeName == AssetTypeName }

// Whiteboard synchronizes drawing records. An update carries changed
// records and optional removals; a sync-response carries a full snapshot.
type Whiteboard struct {
	Meta
	Action     SyncAction `json:"action"`
	Changes    []Record   `json:"changes,omitempty"`
	RemovedIDs []string   `json:"removedIds,omitempty"`
	Snapshot   []Record   `json:"snapshot,omitempty"`
}

// Type implements Message.
func (Whiteboard) Type() Type { return TypeWhiteboard }

// Notes synchronizes the shared rich-text document. Updates carry the
// full document content, not an operational diff.
type Notes struct {
	Meta
	Action  SyncAction      `json:"action"`
	Content json.RawMessage `json:"content,omitempty"`
}

// Type implements Message.
func (Notes) Type() Type { return TypeNotes }

// Point is a cursor position on the whiteboard canvas.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Range is a text selection in the notes document.
type Range struct {
	Anchor int `json:"anchor"`
	Head   int `json:"head"`
}

// Presence is the ephemeral cursor/selection state of one participant
// on one feature. Entries expire when LastActive goes stale.
type Presence struct {
	Meta
	Feature    Feature `json:"feature"`
	SenderName string  `json:"senderName,omitempty"`
	Cursor     *Point  `json:"cursor,omitempty"`
	Selection  *Range  `json:"selection,omitempty"`
	LastActive int64   `json:"lastActive"`
}

// Type implements Message.
func (Presence) Type() Type { return TypePresence }

// Permission mutates the room's shared permission state.
type Permission struct {
	Meta
	Action       PermissionAction `json:"action"`
	Feature      Feature          `json:"feature"`
	Level        Level            `json:"permissionLevel,omitempty"`
	TargetUserID string           `json:"targetUserId,omitempty"`
}

// Type implements Message.
func (Permission) Type() Type { return TypePermission }

// SaveStatus reports a peer's persistence save progress.
type SaveStatus struct {
	Meta
	Feature    Feature   `json:"feature"`
	Status     SaveState `json:"status"`
	SenderName string    `json:"senderName,omitempty"`
}

// Type implements Message.
func (SaveStatus) Type() Type { return TypeSaveStatus }

// CollaborationTopic reports whether topic is one of the collaboration
// channels this layer listens on.
func CollaborationTopic(topic string) bool {
	switch topic {
	case TopicWhiteboard, TopicNotes, TopicPresence, TopicPermissions, TopicSaveStatus, TopicHandRaise:
		return true
	default:
		return false
	}
}
