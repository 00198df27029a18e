package transport

import "sync"

// Bus is an in-process fanout used by tests and local development.
// Unlike the relay, it delivers to every joined peer including the
// sender, which exercises the engine's self-echo filtering.
type Bus struct {
	mu    sync.Mutex
	peers map[string]*BusPeer
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		peers: make(map[string]*BusPeer),
	}
}

// Join adds a participant and returns its transport endpoint.
// A second join with the same identity replaces the first.
func (b *Bus) Join(identity string) *BusPeer {
	peer := &BusPeer{bus: b, identity: identity}

	b.mu.Lock()
	b.peers[identity] = peer
	b.mu.Unlock()

	return peer
}

// remove drops a peer and tells the others it left.
func (b *Bus) remove(identity string) {
	b.mu.Lock()

	if b.peers[identity] == nil {
		b.mu.Unlock()

		return
	}

	delete(b.peers, identity)
	remaining := b.snapshot(nil)
	b.mu.Unlock()

	for _, p := range remaining {
		p.participantLeft(identity)
	}
}

// snapshot copies the current peer set, optionally restricted to the
// given identities. Caller must hold b.mu.
func (b *Bus) snapshot(only []string) []*BusPeer {
	if len(only) > 0 {
		peers := make([]*BusPeer, 0, len(only))

		for _, id := range only {
			if p, ok := b.peers[id]; ok {
				peers = append(peers, p)
			}
		}

		return peers
	}

	peers := make([]*BusPeer, 0, len(b.peers))

	for _, p := range b.peers {
		peers = append(peers, p)
	}

	return peers
}

// BusPeer is one participant's endpoint on a Bus.
type BusPeer struct {
	bus      *Bus
	identity string

	mu       sync.Mutex
	receiver Receiver
	closed   bool
}

// Broadcast delivers synchronously to the targeted peers, which keeps
// per-sender FIFO order without any queueing.
func (p *BusPeer) Broadcast(data []byte, opts BroadcastOptions) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()

	if closed {
		return ErrTransportClosed
	}

	// Copy the peer set before delivering so a handler may broadcast
	// re-entrantly without deadlocking.
	p.bus.mu.Lock()
	peers := p.bus.snapshot(opts.DestinationIdentities)
	p.bus.mu.Unlock()

	for _, target := range peers {
		target.deliver(data, p.identity, opts.Topic)
	}

	return nil
}

// SetReceiver installs the inbound callbacks and reports the connection
// as live.
func (p *BusPeer) SetReceiver(r Receiver) {
	p.mu.Lock()
	p.receiver = r
	p.mu.Unlock()

	if r.OnConnected != nil {
		r.OnConnected()
	}
}

// LocalIdentity returns the peer's identity.
func (p *BusPeer) LocalIdentity() string {
	return p.identity
}

// Close removes the peer from the bus and notifies the others.
func (p *BusPeer) Close() error {
	p.mu.Lock()

	if p.closed {
		p.mu.Unlock()

		return nil
	}

	p.closed = true
	p.mu.Unlock()

	p.bus.remove(p.identity)

	return nil
}

func (p *BusPeer) deliver(data []byte, senderID, topic string) {
	p.mu.Lock()
	onMessage := p.receiver.OnMessage
	closed := p.closed
	p.mu.Unlock()

	if closed || onMessage == nil {
		return
	}

	onMessage(data, senderID, topic)
}

func (p *BusPeer) participantLeft(identity string) {
	p.mu.Lock()
	onLeft := p.receiver.OnParticipantLeft
	p.mu.Unlock()

	if onLeft != nil {
		onLeft(identity)
	}
}

// Ensure BusPeer implements Transport.
var _ Transport = (*BusPeer)(nil)
