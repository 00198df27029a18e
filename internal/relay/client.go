package relay

import (
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/serroba/meet-sync/internal/transport"
)

// ClientTransport is a transport.Transport speaking the relay frame
// protocol over a websocket.
type ClientTransport struct {
	conn     Conn
	identity string

	mu       sync.Mutex
	receiver transport.Receiver
	closed   bool
	started  bool
}

// DialConfig holds configuration for connecting to a relay.
type DialConfig struct {
	// URL is the relay's websocket endpoint, e.g. "ws://host:8080/ws".
	URL string

	// Room is the meeting to join.
	Room string

	// Identity is the local participant's stable identity.
	Identity string
}

// Dial connects to a relay. The caller must install a receiver with
// SetReceiver and then call Start to begin delivery.
func Dial(cfg DialConfig) (*ClientTransport, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse relay url: %w", err)
	}

	q := u.Query()
	q.Set("room", cfg.Room)
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set(headerParticipantID, cfg.Identity)

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), header)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}

	return &ClientTransport{
		conn:     conn,
		identity: cfg.Identity,
	}, nil
}

// Broadcast sends a payload to the other room members.
func (t *ClientTransport) Broadcast(data []byte, opts transport.BroadcastOptions) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return transport.ErrTransportClosed
	}

	err := t.conn.WriteJSON(Frame{
		Topic: opts.Topic,
		Data:  data,
		To:    opts.DestinationIdentities,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", transport.ErrTransportClosed, err)
	}

	return nil
}

// SetReceiver installs the inbound event callbacks.
func (t *ClientTransport) SetReceiver(r transport.Receiver) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.receiver = r
}

// Start begins the read loop and reports the connection as live.
// Call it after SetReceiver so no frame is missed.
func (t *ClientTransport) Start() {
	t.mu.Lock()

	if t.started || t.closed {
		t.mu.Unlock()

		return
	}

	t.started = true
	onConnected := t.receiver.OnConnected
	t.mu.Unlock()

	if onConnected != nil {
		onConnected()
	}

	go t.readLoop()
}

// LocalIdentity returns the local participant's identity.
func (t *ClientTransport) LocalIdentity() string {
	return t.identity
}

// Close tears the connection down.
func (t *ClientTransport) Close() error {
	t.mu.Lock()

	if t.closed {
		t.mu.Unlock()

		return nil
	}

	t.closed = true
	t.mu.Unlock()

	return t.conn.Close()
}

func (t *ClientTransport) readLoop() {
	for {
		var frame Frame
		if err := t.conn.ReadJSON(&frame); err != nil {
			return
		}

		t.mu.Lock()
		r := t.receiver
		closed := t.closed
		t.mu.Unlock()

		if closed {
			return
		}

		if frame.Event == EventParticipantLeft {
			if r.OnParticipantLeft != nil {
				r.OnParticipantLeft(frame.SenderID)
			}

			continue
		}

		if r.OnMessage != nil {
			r.OnMessage(frame.Data, frame.SenderID, frame.Topic)
		}
	}
}

// Ensure ClientTransport implements Transport.
var _ transport.Transport = (*ClientTransport)(nil)
