package relay

import "sync"

// Conn abstracts a websocket connection for testability.
type Conn interface {
	WriteJSON(v any) error
	ReadJSON(v any) error
	Close() error
}

// Client is one connected participant in a room.
type Client struct {
	ID       string
	Identity string
	Room     string
	conn     Conn

	// writeMu serializes writes; delivery happens synchronously on the
	// sender's read loop, which preserves per-sender FIFO order.
	writeMu sync.Mutex
}

// NewClient creates a client wrapper around a connection.
func NewClient(id, identity, room string, conn Conn) *Client {
	return &Client{
		ID:       id,
		Identity: identity,
		Room:     room,
		conn:     conn,
	}
}

// Send writes one frame to the client.
func (c *Client) Send(f Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return c.conn.WriteJSON(f)
}

// Hub tracks rooms and fans frames out to their members.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[string]*Client // room -> connection id -> client
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		rooms: make(map[string]map[string]*Client),
	}
}

// Register adds a client to its room.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.rooms[c.Room] == nil {
		h.rooms[c.Room] = make(map[string]*Client)
	}

	h.rooms[c.Room][c.ID] = c
}

// Unregister removes a client from its room.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.rooms[c.Room]
	if !ok {
		return
	}

	delete(members, c.ID)

	if len(members) == 0 {
		delete(h.rooms, c.Room)
	}
}

// Broadcast delivers a frame to every other member of the sender's
// room, or to the identities listed in frame.To. Delivery is
// synchronous so one sender's frames stay in order.
func (h *Hub) Broadcast(from *Client, frame Frame) {
	frame.SenderID = from.Identity

	targets := frame.To
	frame.To = nil

	for _, member := range h.members(from.Room) {
		if member.ID == from.ID {
			continue
		}

		if len(targets) > 0 && !contains(targets, member.Identity) {
			continue
		}

		// A failed write is the member's problem; its read loop will
		// notice the dead connection and clean up.
		_ = member.Send(frame)
	}
}

// NotifyLeft tells the remaining room members a participant is gone.
func (h *Hub) NotifyLeft(c *Client) {
	for _, member := range h.members(c.Room) {
		if member.ID == c.ID {
			continue
		}

		_ = member.Send(Frame{
			SenderID: c.Identity,
			Event:    EventParticipantLeft,
		})
	}
}

// RoomSize returns the number of connections in a room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.rooms[room])
}

// members snapshots a room's membership.
func (h *Hub) members(room string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	members := make([]*Client, 0, len(h.rooms[room]))

	for _, c := range h.rooms[room] {
		members = append(members, c)
	}

	return members
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}

	return false
}
