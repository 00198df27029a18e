// Package transport abstracts the peer-fanout data channel the
// collaboration layer broadcasts over.
package transport

import "errors"

// Common errors.
var (
	// ErrTransportClosed means a broadcast was attempted with no live
	// connection. The action is abandoned; there is no retry queue.
	ErrTransportClosed = errors.New("transport closed")
)

// BroadcastOptions controls how a payload is fanned out.
type BroadcastOptions struct {
	// Reliable asks the transport to retry delivery. Receivers must be
	// idempotent to duplicates.
	Reliable bool

	// Topic is the logical channel the payload belongs to.
	Topic string

	// DestinationIdentities restricts delivery to a subset of
	// participants. Empty means everyone.
	DestinationIdentities []string
}

// Receiver holds the callbacks a transport delivers events to. Fields
// may be nil; nil callbacks are skipped.
type Receiver struct {
	// OnMessage delivers an inbound payload with the sender's identity
	// and the topic it was sent on. Delivery is FIFO per sender per
	// topic; there is no ordering guarantee across senders.
	OnMessage func(data []byte, senderID, topic string)

	// OnConnected fires once the transport is live.
	OnConnected func()

	// OnReconnected fires after the transport recovers a dropped
	// connection.
	OnReconnected func()

	// OnParticipantLeft fires when another participant disconnects.
	OnParticipantLeft func(identity string)
}

// Transport is the peer-fanout broadcast channel. Implementations must
// deliver sender identity with every inbound message and preserve
// per-sender-per-topic FIFO order.
type Transport interface {
	// Broadcast sends a payload to other participants. Fire-and-forget:
	// it never blocks on remote acknowledgement.
	Broadcast(data []byte, opts BroadcastOptions) error

	// SetReceiver installs the inbound event callbacks.
	SetReceiver(r Receiver)

	// LocalIdentity returns the local participant's stable identity.
	LocalIdentity() string

	// Close tears the connection down.
	Close() error
}
