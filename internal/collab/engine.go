// Package collab implements the collaboration sync engine: it routes
// inbound messages to per-feature handlers, exposes the outbound
// senders, and owns presence liveness expiry.
package collab

import (
	"encoding/json"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/serroba/meet-sync/internal/handraise"
	"github.com/serroba/meet-sync/internal/message"
	"github.com/serroba/meet-sync/internal/permission"
	"github.com/serroba/meet-sync/internal/transport"
)

// Default presence liveness parameters.
const (
	DefaultSweepInterval   = time.Second
	DefaultPresenceTimeout = 3 * time.Second
)

// Common errors.
var (
	ErrEngineClosed = errors.New("engine is closed")
)

// Handlers holds the per-feature callbacks the engine routes inbound
// messages to. Fields may be nil. The engine holds the current set;
// replace it with SetHandlers rather than wrapping callbacks in
// indirection.
type Handlers struct {
	// OnWhiteboard receives whiteboard update and sync-response
	// messages. Sync-requests are answered by the engine itself.
	OnWhiteboard func(m message.Whiteboard)

	// OnNotes receives notes update and sync-response messages.
	OnNotes func(m message.Notes)

	// OnPermission fires after an inbound permission message has been
	// applied to the shared state.
	OnPermission func(m message.Permission)

	// OnSaveStatus receives peers' save progress reports.
	OnSaveStatus func(m message.SaveStatus)

	// OnPresence delivers the full live presence list after every
	// change, including expiry sweeps.
	OnPresence func(entries []message.Presence)

	// WhiteboardSnapshot supplies the local record set for answering
	// whiteboard sync-requests. Empty or nil means do not answer.
	WhiteboardSnapshot func() []message.Record

	// NotesDocument supplies the local document for answering notes
	// sync-requests. Nil means do not answer.
	NotesDocument func() json.RawMessage
}

// EngineConfig holds configuration for creating an engine.
type EngineConfig struct {
	Transport transport.Transport

	// LocalName is the participant's display name, attached to presence
	// and save-status messages.
	LocalName string

	// Perms is the room's shared permission state. Nil means every
	// action is allowed (single-user / test mode).
	Perms *permission.State

	// HandRaise, when set, receives frames from the hand-raise topic
	// and a sync request on connect and reconnect.
	HandRaise *handraise.Manager

	Handlers Handlers

	// Clock overrides the time source. Defaults to time.Now.
	Clock func() time.Time

	// SweepInterval and PresenceTimeout tune liveness expiry.
	SweepInterval   time.Duration
	PresenceTimeout time.Duration
}

// presenceKey identifies one participant's presence on one feature.
type presenceKey struct {
	sender  string
	feature message.Feature
}

// Engine is one meeting connection's sync engine. It is constructed at
// join time and torn down with Close at leave; there is no ambient
// process-wide session registry.
type Engine struct {
	transport transport.Transport
	identity  string
	localName string
	perms     *permission.State
	handRaise *handraise.Manager
	now       func() time.Time
	timeout   time.Duration

	mu       sync.Mutex
	handlers Handlers
	presence map[presenceKey]message.Presence
	closed   bool

	ticker *time.Ticker
	done   chan struct{}
}

// NewEngine creates an engine bound to a transport and starts the
// presence sweep.
func NewEngine(cfg EngineConfig) *Engine {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	sweep := cfg.SweepInterval
	if sweep == 0 {
		sweep = DefaultSweepInterval
	}

	timeout := cfg.PresenceTimeout
	if timeout == 0 {
		timeout = DefaultPresenceTimeout
	}

	e := &Engine{
		transport: cfg.Transport,
		identity:  cfg.Transport.LocalIdentity(),
		localName: cfg.LocalName,
		perms:     cfg.Perms,
		handRaise: cfg.HandRaise,
		now:       clock,
		timeout:   timeout,
		handlers:  cfg.Handlers,
		presence:  make(map[presenceKey]message.Presence),
		ticker:    time.NewTicker(sweep),
		done:      make(chan struct{}),
	}

	cfg.Transport.SetReceiver(transport.Receiver{
		OnMessage:         e.onMessage,
		OnConnected:       e.onConnected,
		OnReconnected:     e.onConnected,
		OnParticipantLeft: e.onParticipantLeft,
	})

	go e.sweepLoop()

	return e
}

// Identity returns the local participant identity.
func (e *Engine) Identity() string {
	return e.identity
}

// SetHandlers replaces the current handler set.
func (e *Engine) SetHandlers(h Handlers) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.handlers = h
}

// currentHandlers returns the handler set under the lock.
func (e *Engine) currentHandlers() Handlers {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.handlers
}

// Close stops the presence sweep and resets dependent state. The
// transport itself belongs to the caller.
func (e *Engine) Close() {
	e.mu.Lock()

	if e.closed {
		e.mu.Unlock()

		return
	}

	e.closed = true
	e.presence = make(map[presenceKey]message.Presence)
	e.mu.Unlock()

	e.ticker.Stop()
	close(e.done)

	if e.handRaise != nil {
		e.handRaise.Reset()
	}
}

// CanEdit reports whether the local participant may mutate a feature.
func (e *Engine) CanEdit(feature message.Feature) bool {
	return e.perms == nil || e.perms.CanEdit(feature, e.identity)
}

// meta stamps the local identity and the current time.
func (e *Engine) meta() message.Meta {
	return message.Meta{
		SenderID:  e.identity,
		Timestamp: e.now().UnixMilli(),
	}
}

// SendWhiteboardUpdate broadcasts new or changed records and optional
// removals. Fire-and-forget; the error only signals a dead transport.
func (e *Engine) SendWhiteboardUpdate(changes []message.Record, removedIDs []string) error {
	return e.send(message.Whiteboard{
		Meta:       e.meta(),
		Action:     message.ActionUpdate,
		Changes:    changes,
		RemovedIDs: removedIDs,
	}, message.TopicWhiteboard, true)
}

// SendWhiteboardSnapshot broadcasts the complete record set as a
// sync-response.
func (e *Engine) SendWhiteboardSnapshot(snapshot []message.Record) error {
	return e.send(message.Whiteboard{
		Meta:     e.meta(),
		Action:   message.ActionSyncResponse,
		Snapshot: snapshot,
	}, message.TopicWhiteboard, true)
}

// SendNotesUpdate broadcasts the full notes document.
func (e *Engine) SendNotesUpdate(content json.RawMessage) error {
	return e.send(message.Notes{
		Meta:    e.meta(),
		Action:  message.ActionUpdate,
		Content: content,
	}, message.TopicNotes, true)
}

// SendNotesSnapshot broadcasts the full notes document as a
// sync-response.
func (e *Engine) SendNotesSnapshot(content json.RawMessage) error {
	return e.send(message.Notes{
		Meta:    e.meta(),
		Action:  message.ActionSyncResponse,
		Content: content,
	}, message.TopicNotes, true)
}

// LocalPresence is the local participant's cursor/selection state on
// one feature.
type LocalPresence struct {
	Feature   message.Feature
	Cursor    *message.Point
	Selection *message.Range
}

// SendPresence broadcasts the local presence heartbeat. Unreliable:
// a dropped heartbeat is replaced by the next one, so transport errors
// are swallowed here.
func (e *Engine) SendPresence(p LocalPresence) {
	meta := e.meta()

	err := e.send(message.Presence{
		Meta:       meta,
		Feature:    p.Feature,
		SenderName: e.localName,
		Cursor:     p.Cursor,
		Selection:  p.Selection,
		LastActive: meta.Timestamp,
	}, message.TopicPresence, false)
	if err != nil && !errors.Is(err, transport.ErrTransportClosed) {
		log.Printf("collab: presence send failed: %v", err)
	}
}

// SendSaveStatus broadcasts persistence save progress for a feature.
func (e *Engine) SendSaveStatus(feature message.Feature, status message.SaveState) error {
	return e.send(message.SaveStatus{
		Meta:       e.meta(),
		Feature:    feature,
		Status:     status,
		SenderName: e.localName,
	}, message.TopicSaveStatus, true)
}

// RequestSync broadcasts a sync-request for a feature. Every peer
// holding non-empty state answers with its full state; there is no
// timeout — if nobody answers the local state simply stands.
func (e *Engine) RequestSync(feature message.Feature) error {
	switch feature {
	case message.FeatureWhiteboard:
		return e.send(message.Whiteboard{
			Meta:   e.meta(),
			Action: message.ActionSyncRequest,
		}, message.TopicWhiteboard, true)
	case message.FeatureNotes:
		return e.send(message.Notes{
			Meta:   e.meta(),
			Action: message.ActionSyncRequest,
		}, message.TopicNotes, true)
	default:
		return nil
	}
}

// SetPermissionLevel changes a feature's access level. Refused locally
// for non-managers before any broadcast.
func (e *Engine) SetPermissionLevel(feature message.Feature, level message.Level) error {
	if e.perms == nil || !e.perms.CanManagePermissions(e.identity) {
		return permission.ErrUnauthorized
	}

	e.perms.SetLevel(feature, level)

	return e.send(message.Permission{
		Meta:    e.meta(),
		Action:  message.PermissionUpdate,
		Feature: feature,
		Level:   level,
	}, message.TopicPermissions, true)
}

// GrantAccess adds a user to a feature's allow-list.
func (e *Engine) GrantAccess(feature message.Feature, userID string) error {
	return e.sendAllowListChange(message.PermissionGrant, feature, userID)
}

// RevokeAccess removes a user from a feature's allow-list.
func (e *Engine) RevokeAccess(feature message.Feature, userID string) error {
	return e.sendAllowListChange(message.PermissionRevoke, feature, userID)
}

func (e *Engine) sendAllowListChange(action message.PermissionAction, feature message.Feature, userID string) error {
	if e.perms == nil || !e.perms.CanManagePermissions(e.identity) {
		return permission.ErrUnauthorized
	}

	msg := message.Permission{
		Meta:         e.meta(),
		Action:       action,
		Feature:      feature,
		TargetUserID: userID,
	}
	e.perms.Apply(msg)

	return e.send(msg, message.TopicPermissions, true)
}

// GrantCoHost promotes a user to co-host. Host only.
func (e *Engine) GrantCoHost(userID string) error {
	return e.sendCoHostChange(message.PermissionGrantCoHost, userID)
}

// RevokeCoHost demotes a co-host. Host only.
func (e *Engine) RevokeCoHost(userID string) error {
	return e.sendCoHostChange(message.PermissionRevokeCoHost, userID)
}

func (e *Engine) sendCoHostChange(action message.PermissionAction, userID string) error {
	if e.perms == nil || !e.perms.CanManageCoHosts(e.identity) {
		return permission.ErrUnauthorized
	}

	msg := message.Permission{
		Meta:         e.meta(),
		Action:       action,
		Feature:      message.FeatureCoHost,
		TargetUserID: userID,
	}
	e.perms.Apply(msg)

	return e.send(msg, message.TopicPermissions, true)
}

// send encodes and broadcasts a message on a topic.
func (e *Engine) send(m message.Message, topic string, reliable bool) error {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()

	if closed {
		return ErrEngineClosed
	}

	data, err := message.Encode(m)
	if err != nil {
		return err
	}

	return e.transport.Broadcast(data, transport.BroadcastOptions{
		Reliable: reliable,
		Topic:    topic,
	})
}

// onMessage is the single inbound dispatch point.
func (e *Engine) onMessage(data []byte, senderID, topic string) {
	if !message.CollaborationTopic(topic) {
		return
	}

	// Self-echo suppression: the transport fans out to all participants
	// including the sender in some configurations.
	if senderID == e.identity {
		return
	}

	if topic == message.TopicHandRaise {
		if e.handRaise != nil {
			e.handRaise.HandleFrame(data, senderID)
		}

		return
	}

	msg, err := message.Decode(data)
	if err != nil {
		if errors.Is(err, message.ErrUnknownType) {
			return
		}

		log.Printf("collab: drop message from %s on %s: %v", senderID, topic, err)

		return
	}

	if msg.Sender() == e.identity {
		return
	}

	e.route(msg)
}

// route dispatches a decoded message to the registered handler.
func (e *Engine) route(msg message.Message) {
	h := e.currentHandlers()

	switch m := msg.(type) {
	case message.Whiteboard:
		if m.Action == message.ActionSyncRequest {
			e.answerWhiteboardSync(h)

			return
		}

		if h.OnWhiteboard != nil {
			h.OnWhiteboard(m)
		}
	case message.Notes:
		if m.Action == message.ActionSyncRequest {
			e.answerNotesSync(h)

			return
		}

		if h.OnNotes != nil {
			h.OnNotes(m)
		}
	case message.Presence:
		e.applyPresence(m)
	case message.Permission:
		if e.perms != nil {
			e.perms.Apply(m)
		}

		if h.OnPermission != nil {
			h.OnPermission(m)
		}
	case message.SaveStatus:
		if h.OnSaveStatus != nil {
			h.OnSaveStatus(m)
		}
	}
}

// answerWhiteboardSync replies to a sync-request when local state is
// non-empty.
func (e *Engine) answerWhiteboardSync(h Handlers) {
	if h.WhiteboardSnapshot == nil {
		return
	}

	snapshot := h.WhiteboardSnapshot()
	if len(snapshot) == 0 {
		return
	}

	if err := e.SendWhiteboardSnapshot(snapshot); err != nil {
		log.Printf("collab: whiteboard sync response dropped: %v", err)
	}
}

// answerNotesSync replies to a sync-request when a document exists.
func (e *Engine) answerNotesSync(h Handlers) {
	if h.NotesDocument == nil {
		return
	}

	content := h.NotesDocument()
	if len(content) == 0 {
		return
	}

	if err := e.SendNotesSnapshot(content); err != nil {
		log.Printf("collab: notes sync response dropped: %v", err)
	}
}

// applyPresence upserts a participant's presence entry.
func (e *Engine) applyPresence(m message.Presence) {
	e.mu.Lock()
	e.presence[presenceKey{sender: m.SenderID, feature: m.Feature}] = m
	entries := e.presenceListLocked()
	h := e.handlers
	e.mu.Unlock()

	if h.OnPresence != nil {
		h.OnPresence(entries)
	}
}

// Presence returns the live presence entries, sorted for determinism.
func (e *Engine) Presence() []message.Presence {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.presenceListLocked()
}

// presenceListLocked snapshots the presence map. Caller holds e.mu.
func (e *Engine) presenceListLocked() []message.Presence {
	entries := make([]message.Presence, 0, len(e.presence))

	for _, p := range e.presence {
		entries = append(entries, p)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].SenderID != entries[j].SenderID {
			return entries[i].SenderID < entries[j].SenderID
		}

		return entries[i].Feature < entries[j].Feature
	})

	return entries
}

// sweepLoop periodically expires stale presence entries, so a typing or
// selection indicator disappears when its peer goes silent even without
// a disconnect event.
func (e *Engine) sweepLoop() {
	for {
		select {
		case <-e.done:
			return
		case <-e.ticker.C:
			e.SweepPresence()
		}
	}
}

// SweepPresence removes entries whose lastActive is older than the
// timeout and notifies the subscriber if anything changed.
func (e *Engine) SweepPresence() {
	cutoff := e.now().Add(-e.timeout).UnixMilli()

	e.mu.Lock()

	changed := false

	for key, p := range e.presence {
		if p.LastActive < cutoff {
			delete(e.presence, key)

			changed = true
		}
	}

	var entries []message.Presence

	h := e.handlers
	if changed {
		entries = e.presenceListLocked()
	}

	e.mu.Unlock()

	if changed && h.OnPresence != nil {
		h.OnPresence(entries)
	}
}

// onConnected runs join/reconnect recovery.
func (e *Engine) onConnected() {
	if e.handRaise != nil {
		e.handRaise.RequestSync()
	}
}

// onParticipantLeft drops the participant's presence and raised hand.
func (e *Engine) onParticipantLeft(identity string) {
	e.mu.Lock()

	changed := false

	for key := range e.presence {
		if key.sender == identity {
			delete(e.presence, key)

			changed = true
		}
	}

	var entries []message.Presence

	h := e.handlers
	if changed {
		entries = e.presenceListLocked()
	}

	e.mu.Unlock()

	if changed && h.OnPresence != nil {
		h.OnPresence(entries)
	}

	if e.handRaise != nil {
		e.handRaise.HandleParticipantLeft(identity)
	}
}
