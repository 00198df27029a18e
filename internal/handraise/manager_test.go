package handraise_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/serroba/meet-sync/internal/handraise"
	"github.com/serroba/meet-sync/internal/message"
	"github.com/serroba/meet-sync/internal/permission"
	"github.com/serroba/meet-sync/internal/transport"
)

// wire connects a manager to a bus peer so inbound hand-raise frames
// reach it, the way the sync engine routes them in production.
func wire(peer *transport.BusPeer, m *handraise.Manager) {
	peer.SetReceiver(transport.Receiver{
		OnMessage: func(data []byte, senderID, topic string) {
			if topic == message.TopicHandRaise {
				m.HandleFrame(data, senderID)
			}
		},
	})
}

func clockAt(ms int64) func() time.Time {
	return func() time.Time {
		return time.UnixMilli(ms)
	}
}

func newManager(peer *transport.BusPeer, perms *permission.State, ms int64) *handraise.Manager {
	return handraise.NewManager(handraise.Config{
		Transport: peer,
		Perms:     perms,
		LocalName: peer.LocalIdentity(),
		Clock:     clockAt(ms),
	})
}

func TestManager_QueueOrdering(t *testing.T) {
	t.Parallel()

	bus := transport.NewBus()
	perms := permission.NewState("host")

	peer := bus.Join("observer")
	m := newManager(peer, perms, 0)
	wire(peer, m)

	// Raises arrive at timestamps 30, 10, 20 for C, A, B.
	for _, h := range []handraise.Hand{
		{ParticipantID: "C", ParticipantName: "C", RaisedAt: 30},
		{ParticipantID: "A", ParticipantName: "A", RaisedAt: 10},
		{ParticipantID: "B", ParticipantName: "B", RaisedAt: 20},
	} {
		data, err := handraise.EncodeMessage(handraise.Message{
			Action:          handraise.ActionRaise,
			SenderID:        h.ParticipantID,
			ParticipantID:   h.ParticipantID,
			ParticipantName: h.ParticipantName,
			RaisedAt:        h.RaisedAt,
			Timestamp:       h.RaisedAt,
		})
		require.NoError(t, err)

		m.HandleFrame(data, h.ParticipantID)
	}

	queue := m.Queue()
	require.Len(t, queue, 3)
	require.Equal(t, "A", queue[0].ParticipantID)
	require.Equal(t, "B", queue[1].ParticipantID)
	require.Equal(t, "C", queue[2].ParticipantID)
}

func TestManager_QueueOrdering_ClockTie(t *testing.T) {
	t.Parallel()

	bus := transport.NewBus()
	m := newManager(bus.Join("observer"), permission.NewState("host"), 0)

	for _, id := range []string{"zeta", "alpha"} {
		data, err := handraise.EncodeMessage(handraise.Message{
			Action:        handraise.ActionRaise,
			SenderID:      id,
			ParticipantID: id,
			RaisedAt:      100,
			Timestamp:     100,
		})
		require.NoError(t, err)

		m.HandleFrame(data, id)
	}

	queue := m.Queue()
	require.Equal(t, "alpha", queue[0].ParticipantID, "participant id breaks clock ties")
	require.Equal(t, "zeta", queue[1].ParticipantID)
}

func TestManager_TogglePropagates(t *testing.T) {
	t.Parallel()

	bus := transport.NewBus()
	perms := permission.NewState("host")

	alicePeer := bus.Join("alice")
	bobPeer := bus.Join("bob")

	alice := newManager(alicePeer, perms, 10)
	bob := newManager(bobPeer, perms, 11)

	wire(alicePeer, alice)
	wire(bobPeer, bob)

	require.NoError(t, alice.Toggle())

	require.True(t, alice.IsRaised("alice"))
	require.True(t, bob.IsRaised("alice"))

	require.NoError(t, alice.Toggle())

	require.False(t, alice.IsRaised("alice"))
	require.False(t, bob.IsRaised("alice"))
}

func TestManager_LowerParticipant_HostOnly(t *testing.T) {
	t.Parallel()

	bus := transport.NewBus()
	perms := permission.NewState("host")

	peer := bus.Join("participant")
	m := newManager(peer, perms, 0)

	err := m.LowerParticipant("someone")
	require.ErrorIs(t, err, permission.ErrUnauthorized)
}

func TestManager_HostLowerNotifiesTarget(t *testing.T) {
	t.Parallel()

	bus := transport.NewBus()
	perms := permission.NewState("host")

	hostPeer := bus.Join("host")
	alicePeer := bus.Join("alice")

	host := newManager(hostPeer, perms, 5)
	alice := newManager(alicePeer, perms, 6)

	var loweredByHost bool

	alice.SetCallbacks(handraise.Callbacks{
		OnLoweredByHost: func() { loweredByHost = true },
	})

	wire(hostPeer, host)
	wire(alicePeer, alice)

	require.NoError(t, alice.Toggle())
	require.True(t, host.IsRaised("alice"))

	require.NoError(t, host.LowerParticipant("alice"))

	require.False(t, alice.IsRaised("alice"))
	require.True(t, loweredByHost, "expected the target to learn the host lowered it")
}

func TestManager_SelfLowerDoesNotNotify(t *testing.T) {
	t.Parallel()

	bus := transport.NewBus()
	perms := permission.NewState("host")

	alicePeer := bus.Join("alice")
	bobPeer := bus.Join("bob")

	alice := newManager(alicePeer, perms, 5)
	bob := newManager(bobPeer, perms, 6)

	var loweredByHost bool

	bob.SetCallbacks(handraise.Callbacks{
		OnLoweredByHost: func() { loweredByHost = true },
	})

	wire(alicePeer, alice)
	wire(bobPeer, bob)

	require.NoError(t, alice.Toggle())
	require.NoError(t, alice.Toggle())

	require.False(t, loweredByHost, "a self-lower is not a host action")
}

func TestManager_LowerNotRaisedIsNoOp(t *testing.T) {
	t.Parallel()

	bus := transport.NewBus()
	perms := permission.NewState("host")

	peer := bus.Join("alice")
	m := newManager(peer, perms, 0)

	var changes int

	m.SetCallbacks(handraise.Callbacks{
		OnQueueChanged: func([]handraise.Hand) { changes++ },
	})

	data, err := handraise.EncodeMessage(handraise.Message{
		Action:        handraise.ActionLower,
		SenderID:      "bob",
		ParticipantID: "bob",
	})
	require.NoError(t, err)

	m.HandleFrame(data, "bob")

	require.Equal(t, 0, changes, "lowering an unraised hand must not fire a change")
	require.Empty(t, m.Queue())
}

func TestManager_LowerAll(t *testing.T) {
	t.Parallel()

	bus := transport.NewBus()
	perms := permission.NewState("host")

	hostPeer := bus.Join("host")
	alicePeer := bus.Join("alice")
	bobPeer := bus.Join("bob")

	host := newManager(hostPeer, perms, 1)
	alice := newManager(alicePeer, perms, 2)
	bob := newManager(bobPeer, perms, 3)

	wire(hostPeer, host)
	wire(alicePeer, alice)
	wire(bobPeer, bob)

	require.NoError(t, alice.Toggle())
	require.NoError(t, bob.Toggle())
	require.Len(t, host.Queue(), 2)

	require.NoError(t, host.LowerAll())

	require.Empty(t, host.Queue())
	require.Empty(t, alice.Queue())
	require.Empty(t, bob.Queue())
}

func TestManager_SyncMergeIsAddOnly(t *testing.T) {
	t.Parallel()

	bus := transport.NewBus()
	perms := permission.NewState("host")

	peer := bus.Join("joiner")
	m := newManager(peer, perms, 0)

	raise, err := handraise.EncodeMessage(handraise.Message{
		Action:        handraise.ActionRaise,
		SenderID:      "A",
		ParticipantID: "A",
		RaisedAt:      10,
	})
	require.NoError(t, err)
	m.HandleFrame(raise, "A")

	// A second responder reports A at a different raisedAt plus B.
	sync, err := handraise.EncodeMessage(handraise.Message{
		Action:   handraise.ActionSyncResponse,
		SenderID: "responder",
		Raised: []handraise.Hand{
			{ParticipantID: "A", RaisedAt: 99},
			{ParticipantID: "B", RaisedAt: 20},
		},
	})
	require.NoError(t, err)
	m.HandleFrame(sync, "responder")

	queue := m.Queue()
	require.Len(t, queue, 2)
	require.Equal(t, "A", queue[0].ParticipantID)
	require.Equal(t, int64(10), queue[0].RaisedAt, "existing entry must not be overwritten")
	require.Equal(t, "B", queue[1].ParticipantID)
}

func TestManager_SyncRequestAnsweredOnlyWhenNonEmpty(t *testing.T) {
	t.Parallel()

	bus := transport.NewBus()
	perms := permission.NewState("host")

	emptyPeer := bus.Join("empty")
	raisedPeer := bus.Join("raised")

	empty := newManager(emptyPeer, perms, 1)
	raised := newManager(raisedPeer, perms, 2)

	wire(emptyPeer, empty)
	wire(raisedPeer, raised)

	require.NoError(t, raised.Toggle())

	// A late joiner missed the raise broadcast entirely.
	joinerPeer := bus.Join("joiner")
	joiner := newManager(joinerPeer, perms, 3)
	wire(joinerPeer, joiner)

	require.Empty(t, joiner.Queue())

	joiner.RequestSync()

	queue := joiner.Queue()
	require.Len(t, queue, 1)
	require.Equal(t, "raised", queue[0].ParticipantID)
}

func TestManager_ParticipantLeftLowersHand(t *testing.T) {
	t.Parallel()

	bus := transport.NewBus()
	perms := permission.NewState("host")

	alicePeer := bus.Join("alice")
	bobPeer := bus.Join("bob")

	alice := newManager(alicePeer, perms, 1)
	bob := newManager(bobPeer, perms, 2)

	wire(alicePeer, alice)
	wire(bobPeer, bob)

	require.NoError(t, alice.Toggle())
	require.True(t, bob.IsRaised("alice"))

	bob.HandleParticipantLeft("alice")

	require.False(t, bob.IsRaised("alice"))
}

func TestManager_Reset(t *testing.T) {
	t.Parallel()

	bus := transport.NewBus()
	m := newManager(bus.Join("alice"), permission.NewState("host"), 1)

	require.NoError(t, m.Toggle())
	require.Len(t, m.Queue(), 1)

	m.Reset()

	require.Empty(t, m.Queue())
}
