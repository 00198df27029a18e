package transport_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/serroba/meet-sync/internal/transport"
)

// recorder collects delivered messages.
type recorder struct {
	mu       sync.Mutex
	messages []received
	left     []string
}

type received struct {
	data     string
	senderID string
	topic    string
}

func (r *recorder) receiver() transport.Receiver {
	return transport.Receiver{
		OnMessage: func(data []byte, senderID, topic string) {
			r.mu.Lock()
			defer r.mu.Unlock()

			r.messages = append(r.messages, received{string(data), senderID, topic})
		},
		OnParticipantLeft: func(identity string) {
			r.mu.Lock()
			defer r.mu.Unlock()

			r.left = append(r.left, identity)
		},
	}
}

func (r *recorder) all() []received {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]received(nil), r.messages...)
}

func TestBus_BroadcastIncludesSender(t *testing.T) {
	t.Parallel()

	bus := transport.NewBus()

	alice := bus.Join("alice")
	bob := bus.Join("bob")

	var aliceRec, bobRec recorder

	alice.SetReceiver(aliceRec.receiver())
	bob.SetReceiver(bobRec.receiver())

	require.NoError(t, alice.Broadcast([]byte("hi"), transport.BroadcastOptions{Topic: "t"}))

	// The bus fans out to everyone including the sender, so the engine's
	// self-filter gets exercised.
	require.Len(t, aliceRec.all(), 1)
	require.Len(t, bobRec.all(), 1)

	got := bobRec.all()[0]
	require.Equal(t, "hi", got.data)
	require.Equal(t, "alice", got.senderID)
	require.Equal(t, "t", got.topic)
}

func TestBus_DestinationIdentities(t *testing.T) {
	t.Parallel()

	bus := transport.NewBus()

	alice := bus.Join("alice")
	bob := bus.Join("bob")
	carol := bus.Join("carol")

	var bobRec, carolRec recorder

	bob.SetReceiver(bobRec.receiver())
	carol.SetReceiver(carolRec.receiver())

	require.NoError(t, alice.Broadcast([]byte("secret"), transport.BroadcastOptions{
		Topic:                 "t",
		DestinationIdentities: []string{"bob"},
	}))

	require.Len(t, bobRec.all(), 1)
	require.Empty(t, carolRec.all())
}

func TestBus_PerSenderFIFO(t *testing.T) {
	t.Parallel()

	bus := transport.NewBus()

	alice := bus.Join("alice")
	bob := bus.Join("bob")

	var bobRec recorder

	bob.SetReceiver(bobRec.receiver())

	for i := 0; i < 50; i++ {
		require.NoError(t, alice.Broadcast([]byte(fmt.Sprintf("m%d", i)), transport.BroadcastOptions{Topic: "t"}))
	}

	got := bobRec.all()
	require.Len(t, got, 50)

	for i, msg := range got {
		require.Equal(t, fmt.Sprintf("m%d", i), msg.data)
	}
}

func TestBus_CloseNotifiesOthers(t *testing.T) {
	t.Parallel()

	bus := transport.NewBus()

	alice := bus.Join("alice")
	bob := bus.Join("bob")

	var bobRec recorder

	bob.SetReceiver(bobRec.receiver())

	require.NoError(t, alice.Close())

	bobRec.mu.Lock()
	left := append([]string(nil), bobRec.left...)
	bobRec.mu.Unlock()

	require.Equal(t, []string{"alice"}, left)
}

func TestBus_ClosedPeerRefusesBroadcast(t *testing.T) {
	t.Parallel()

	bus := transport.NewBus()
	alice := bus.Join("alice")

	require.NoError(t, alice.Close())

	err := alice.Broadcast([]byte("x"), transport.BroadcastOptions{Topic: "t"})
	require.ErrorIs(t, err, transport.ErrTransportClosed)
}

func TestBus_ReentrantBroadcast(t *testing.T) {
	t.Parallel()

	bus := transport.NewBus()

	alice := bus.Join("alice")
	bob := bus.Join("bob")

	var aliceRec recorder

	alice.SetReceiver(aliceRec.receiver())

	// Bob answers alice's message from inside his handler, the way a
	// peer answers a sync-request.
	bob.SetReceiver(transport.Receiver{
		OnMessage: func(data []byte, senderID, _ string) {
			if senderID != "bob" {
				_ = bob.Broadcast([]byte("reply"), transport.BroadcastOptions{Topic: "t"})
			}
		},
	})

	require.NoError(t, alice.Broadcast([]byte("ping"), transport.BroadcastOptions{Topic: "t"}))

	var sawReply bool

	for _, msg := range aliceRec.all() {
		if msg.data == "reply" && msg.senderID == "bob" {
			sawReply = true
		}
	}

	require.True(t, sawReply, "expected bob's re-entrant reply to arrive")
}
