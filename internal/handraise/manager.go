// Package handraise manages the ordered multi-party queue of raised
// hands, including host moderation and join-time recovery.
package handraise

import (
	"log"
	"sort"
	"sync"
	"time"

	"github.com/serroba/meet-sync/internal/message"
	"github.com/serroba/meet-sync/internal/permission"
	"github.com/serroba/meet-sync/internal/transport"
)

// Callbacks notify the UI layer of queue changes. Fields may be nil.
type Callbacks struct {
	// OnQueueChanged delivers the queue in display order after every
	// state change.
	OnQueueChanged func(queue []Hand)

	// OnLoweredByHost fires when another participant lowered the local
	// hand, which warrants a distinct user-facing notice.
	OnLoweredByHost func()
}

// Manager owns one peer's copy of the raised-hand queue. Consistency
// across peers is eventual, through broadcast-and-reconcile.
type Manager struct {
	transport transport.Transport
	perms     *permission.State
	localID   string
	localName string
	now       func() time.Time

	mu        sync.Mutex
	raised    map[string]Hand
	callbacks Callbacks
}

// Config holds configuration for creating a manager.
type Config struct {
	Transport transport.Transport
	Perms     *permission.State
	LocalName string
	Callbacks Callbacks

	// Clock overrides the time source. Defaults to time.Now.
	Clock func() time.Time
}

// NewManager creates a hand-raise manager for the local participant.
func NewManager(cfg Config) *Manager {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Manager{
		transport: cfg.Transport,
		perms:     cfg.Perms,
		localID:   cfg.Transport.LocalIdentity(),
		localName: cfg.LocalName,
		now:       clock,
		raised:    make(map[string]Hand),
		callbacks: cfg.Callbacks,
	}
}

// SetCallbacks replaces the notification callbacks.
func (m *Manager) SetCallbacks(cb Callbacks) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.callbacks = cb
}

// Toggle flips the local raised state and broadcasts the change.
// The broadcast error is returned so a direct user action can surface a
// "couldn't send" notice.
func (m *Manager) Toggle() error {
	m.mu.Lock()

	msg := Message{
		SenderID:      m.localID,
		Timestamp:     m.now().UnixMilli(),
		ParticipantID: m.localID,
	}

	if _, up := m.raised[m.localID]; up {
		msg.Action = ActionLower
		delete(m.raised, m.localID)
	} else {
		msg.Action = ActionRaise
		msg.ParticipantName = m.localName
		msg.RaisedAt = msg.Timestamp
		m.raised[m.localID] = Hand{
			ParticipantID:   m.localID,
			ParticipantName: m.localName,
			RaisedAt:        msg.RaisedAt,
		}
	}

	m.mu.Unlock()
	m.notify()

	return m.broadcast(msg)
}

// LowerParticipant lowers another participant's hand. Host and co-hosts
// only; the broadcast's subject differs from its sender so the target
// can tell it was host-initiated.
func (m *Manager) LowerParticipant(targetID string) error {
	if !m.perms.CanManagePermissions(m.localID) {
		return permission.ErrUnauthorized
	}

	m.mu.Lock()
	delete(m.raised, targetID)
	m.mu.Unlock()
	m.notify()

	return m.broadcast(Message{
		Action:        ActionLower,
		SenderID:      m.localID,
		Timestamp:     m.now().UnixMilli(),
		ParticipantID: targetID,
	})
}

// LowerAll clears the whole queue. Host and co-hosts only.
func (m *Manager) LowerAll() error {
	if !m.perms.CanManagePermissions(m.localID) {
		return permission.ErrUnauthorized
	}

	m.mu.Lock()
	m.raised = make(map[string]Hand)
	m.mu.Unlock()
	m.notify()

	return m.broadcast(Message{
		Action:    ActionLowerAll,
		SenderID:  m.localID,
		Timestamp: m.now().UnixMilli(),
	})
}

// RequestSync asks peers for their current queue. Called on transport
// connect and reconnect; any peer holding a non-empty queue answers.
func (m *Manager) RequestSync() {
	err := m.broadcast(Message{
		Action:    ActionSyncRequest,
		SenderID:  m.localID,
		Timestamp: m.now().UnixMilli(),
	})
	if err != nil {
		log.Printf("handraise: sync request dropped: %v", err)
	}
}

// HandleFrame processes an inbound hand-raise payload from the
// transport. Malformed payloads are logged and dropped.
func (m *Manager) HandleFrame(data []byte, senderID string) {
	msg, err := DecodeMessage(data)
	if err != nil {
		log.Printf("handraise: drop frame from %s: %v", senderID, err)

		return
	}

	if msg.SenderID == m.localID {
		return
	}

	switch msg.Action {
	case ActionRaise:
		m.handleRaise(msg)
	case ActionLower:
		m.handleLower(msg)
	case ActionLowerAll:
		m.handleLowerAll(msg)
	case ActionSyncRequest:
		m.answerSync()
	case ActionSyncResponse:
		m.mergeSync(msg.Raised)
	}
}

// HandleParticipantLeft removes a disconnected participant's hand.
func (m *Manager) HandleParticipantLeft(identity string) {
	m.mu.Lock()
	_, had := m.raised[identity]
	delete(m.raised, identity)
	m.mu.Unlock()

	if had {
		m.notify()
	}
}

// Reset clears all state on meeting disconnect.
func (m *Manager) Reset() {
	m.mu.Lock()
	m.raised = make(map[string]Hand)
	m.mu.Unlock()
	m.notify()
}

// Queue returns the raised hands ordered by ascending raisedAt, with
// participant id breaking clock ties. The order is recomputed on every
// read, never stored pre-sorted.
func (m *Manager) Queue() []Hand {
	m.mu.Lock()
	defer m.mu.Unlock()

	queue := make([]Hand, 0, len(m.raised))

	for _, h := range m.raised {
		queue = append(queue, h)
	}

	sort.Slice(queue, func(i, j int) bool {
		if queue[i].RaisedAt != queue[j].RaisedAt {
			return queue[i].RaisedAt < queue[j].RaisedAt
		}

		return queue[i].ParticipantID < queue[j].ParticipantID
	})

	return queue
}

// IsRaised reports whether a participant's hand is currently up.
func (m *Manager) IsRaised(participantID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.raised[participantID]

	return ok
}

func (m *Manager) handleRaise(msg Message) {
	raisedAt := msg.RaisedAt
	if raisedAt == 0 {
		raisedAt = msg.Timestamp
	}

	m.mu.Lock()
	m.raised[msg.ParticipantID] = Hand{
		ParticipantID:   msg.ParticipantID,
		ParticipantName: msg.ParticipantName,
		RaisedAt:        raisedAt,
	}
	m.mu.Unlock()
	m.notify()
}

func (m *Manager) handleLower(msg Message) {
	m.mu.Lock()
	_, had := m.raised[msg.ParticipantID]
	delete(m.raised, msg.ParticipantID)
	hostLoweredMe := had && msg.ParticipantID == m.localID && msg.SenderID != m.localID
	m.mu.Unlock()

	// Lowering a hand that is not raised is a no-op.
	if !had {
		return
	}

	m.notify()

	if hostLoweredMe {
		m.notifyLoweredByHost()
	}
}

func (m *Manager) handleLowerAll(msg Message) {
	m.mu.Lock()
	_, localWasUp := m.raised[m.localID]
	m.raised = make(map[string]Hand)
	m.mu.Unlock()
	m.notify()

	if localWasUp && msg.SenderID != m.localID {
		m.notifyLoweredByHost()
	}
}

// answerSync responds with the full queue, but only when non-empty.
func (m *Manager) answerSync() {
	queue := m.Queue()
	if len(queue) == 0 {
		return
	}

	err := m.broadcast(Message{
		Action:    ActionSyncResponse,
		SenderID:  m.localID,
		Timestamp: m.now().UnixMilli(),
		Raised:    queue,
	})
	if err != nil {
		log.Printf("handraise: sync response dropped: %v", err)
	}
}

// mergeSync adds entries for unknown participants only. Existing local
// entries are never overwritten, so the first response wins per
// participant and concurrent responders cannot cause flicker.
func (m *Manager) mergeSync(hands []Hand) {
	m.mu.Lock()

	changed := false

	for _, h := range hands {
		if _, ok := m.raised[h.ParticipantID]; ok {
			continue
		}

		m.raised[h.ParticipantID] = h
		changed = true
	}

	m.mu.Unlock()

	if changed {
		m.notify()
	}
}

func (m *Manager) broadcast(msg Message) error {
	data, err := EncodeMessage(msg)
	if err != nil {
		return err
	}

	return m.transport.Broadcast(data, transport.BroadcastOptions{
		Reliable: true,
		Topic:    message.TopicHandRaise,
	})
}

func (m *Manager) notify() {
	m.mu.Lock()
	cb := m.callbacks.OnQueueChanged
	m.mu.Unlock()

	if cb != nil {
		cb(m.Queue())
	}
}

func (m *Manager) notifyLoweredByHost() {
	m.mu.Lock()
	cb := m.callbacks.OnLoweredByHost
	m.mu.Unlock()

	if cb != nil {
		cb()
	}
}
