package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cometbft/docsync/crdt/refdoc"
	"github.com/cometbft/docsync/ephemeral"
	"github.com/cometbft/docsync/p2p"
	"github.com/cometbft/docsync/wire"
)

func newTestReducer(localPeer string, perms Permissions) (*Model, *Reducer, *ephemeral.Manager) {
	factory := refdoc.NewFactory(localPeer)
	model := NewModel(factory, wire.Identity{PeerID: localPeer}, perms, 8)
	em := ephemeral.NewManager(nil)
	return model, NewReducer(model, em), em
}

func sendCmds(cmds []Cmd) []SendMessageCmd {
	var out []SendMessageCmd
	for _, c := range cmds {
		if s, ok := c.(SendMessageCmd); ok {
			out = append(out, s)
		}
	}
	return out
}

func establish(t *testing.T, m *Model, r *Reducer, chID p2p.ChannelID, kind p2p.Kind, remotePeerID string) {
	t.Helper()
	_, err := r.Reduce(ChannelAddedEvent{ChannelID: chID, Kind: kind, AdapterType: "test"})
	require.NoError(t, err)
	_, err = r.Reduce(ChannelReceiveEvent{ChannelID: chID, Message: wire.Message{
		Kind:     wire.KindEstablishRequest,
		Identity: &wire.Identity{PeerID: remotePeerID},
	}})
	require.NoError(t, err)
	assert.Equal(t, ConnEstablished, m.Channels[chID].State)
	assert.Equal(t, remotePeerID, m.Channels[chID].PeerID)
}

// S1-adjacent: unknown doc over a network channel with no storage channel
// present replies unavailable immediately (no queueing possible).
func TestSyncRequestUnknownDocNoStorageRepliesUnavailable(t *testing.T) {
	m, r, _ := newTestReducer("1000", Permissions{})
	establish(t, m, r, 1, p2p.KindNetwork, "2000")

	cmds, err := r.Reduce(ChannelReceiveEvent{ChannelID: 1, Message: wire.Message{
		Kind: wire.KindSyncRequest, DocID: "d1", Bidirectional: true,
	}})
	require.NoError(t, err)

	sends := sendCmds(cmds)
	require.NotEmpty(t, sends)
	var response *wire.Message
	for i := range sends {
		if sends[i].Message.Kind == wire.KindSyncResponse {
			response = &sends[i].Message
		}
	}
	require.NotNil(t, response)
	assert.Equal(t, wire.TransmissionUnavailable, response.Transmission.Kind)
}

// S2 — storage-first: two network requests for an unknown doc both queue
// behind a single sync-request toward the one established storage channel,
// and both receive their own response once storage answers.
func TestStorageFirstQueuesAndDrainsBothRequesters(t *testing.T) {
	m, r, _ := newTestReducer("1000", Permissions{})
	establish(t, m, r, 1, p2p.KindStorage, "9000")
	establish(t, m, r, 2, p2p.KindNetwork, "2000")
	establish(t, m, r, 3, p2p.KindNetwork, "3000")

	cmds1, err := r.Reduce(ChannelReceiveEvent{ChannelID: 2, Message: wire.Message{Kind: wire.KindSyncRequest, DocID: "d2"}})
	require.NoError(t, err)
	cmds2, err := r.Reduce(ChannelReceiveEvent{ChannelID: 3, Message: wire.Message{Kind: wire.KindSyncRequest, DocID: "d2"}})
	require.NoError(t, err)

	// Neither requester gets a sync-response yet.
	for _, c := range append(sendCmds(cmds1), sendCmds(cmds2)...) {
		assert.NotEqual(t, wire.KindSyncResponse, c.Message.Kind)
	}

	// Exactly one sync-request was sent to storage (channel 1), not two.
	storageRequests := 0
	for _, c := range append(sendCmds(cmds1), sendCmds(cmds2)...) {
		if c.ChannelID == 1 && c.Message.Kind == wire.KindSyncRequest {
			storageRequests++
		}
	}
	assert.Equal(t, 1, storageRequests)

	ds := m.Docs["d2"]
	require.Len(t, ds.PendingNetworkRequests, 2)
	require.Contains(t, ds.PendingStorageChannels, p2p.ChannelID(1))

	// Storage reports unavailable.
	cmds3, err := r.Reduce(ChannelReceiveEvent{ChannelID: 1, Message: wire.Message{
		Kind: wire.KindSyncResponse, DocID: "d2", Transmission: &wire.Transmission{Kind: wire.TransmissionUnavailable},
	}})
	require.NoError(t, err)

	sends := sendCmds(cmds3)
	toN1, toN2 := 0, 0
	for _, c := range sends {
		if c.Message.Kind != wire.KindSyncResponse {
			continue
		}
		switch c.ChannelID {
		case 2:
			toN1++
		case 3:
			toN2++
		}
		assert.Equal(t, wire.TransmissionUnavailable, c.Message.Transmission.Kind)
	}
	assert.Equal(t, 1, toN1)
	assert.Equal(t, 1, toN2)
	assert.Empty(t, m.Docs["d2"].PendingNetworkRequests)
	assert.Empty(t, m.Docs["d2"].PendingStorageChannels)
}

// S4 — ephemeral broadcast with TTL: a three-peer line A—S—B. S receives
// the broadcast from A and re-emits to B with the hop count decremented,
// stopping once it reaches zero.
func TestEphemeralBroadcastDecrementsAndStops(t *testing.T) {
	m, r, em := newTestReducer("1000", Permissions{})
	establish(t, m, r, 1, p2p.KindNetwork, "2000") // A
	establish(t, m, r, 2, p2p.KindNetwork, "3000") // B

	_, err := r.Reduce(DocEnsureEvent{DocID: "d3"})
	require.NoError(t, err)
	ds := m.Docs["d3"]
	ds.Subscribers[1] = struct{}{}
	ds.Subscribers[2] = struct{}{}

	cmds, err := r.Reduce(ChannelReceiveEvent{ChannelID: 1, Message: wire.Message{
		Kind: wire.KindEphemeral, DocID: "d3", HopsRemaining: 1,
		Stores: []wire.EphemeralEntry{{PeerID: "2000", Namespace: "presence", Data: []byte("online")}},
	}})
	require.NoError(t, err)

	// hopsRemaining decremented to 0: no further rebroadcast.
	assert.Empty(t, sendCmds(cmds))

	store, ok := em.Get("d3", "presence")
	require.True(t, ok)
	v, ok := store.Get("2000")
	require.True(t, ok)
	assert.Equal(t, []byte("online"), v)

	// With hopsRemaining=2, one hop still gets forwarded onward to B, not A.
	cmds2, err := r.Reduce(ChannelReceiveEvent{ChannelID: 1, Message: wire.Message{
		Kind: wire.KindEphemeral, DocID: "d3", HopsRemaining: 2,
		Stores: []wire.EphemeralEntry{{PeerID: "2000", Namespace: "presence", Data: []byte("online")}},
	}})
	require.NoError(t, err)
	sends := sendCmds(cmds2)
	require.Len(t, sends, 1)
	assert.Equal(t, p2p.ChannelID(2), sends[0].ChannelID)
	assert.Equal(t, uint8(1), sends[0].Message.HopsRemaining)
}

// S5 — reciprocal subscription: a non-bidirectional sync-request still
// provokes our own bidirectional sync-request back toward the sender.
func TestReciprocalSubscriptionFiresOnce(t *testing.T) {
	m, r, _ := newTestReducer("1000", Permissions{})
	establish(t, m, r, 1, p2p.KindNetwork, "2000")
	_, err := r.Reduce(DocEnsureEvent{DocID: "d4"})
	require.NoError(t, err)

	cmds, err := r.Reduce(ChannelReceiveEvent{ChannelID: 1, Message: wire.Message{
		Kind: wire.KindSyncRequest, DocID: "d4", Bidirectional: false,
	}})
	require.NoError(t, err)

	var reciprocal *wire.Message
	for _, c := range sendCmds(cmds) {
		if c.Message.Kind == wire.KindSyncRequest {
			reciprocal = &c.Message
		}
	}
	require.NotNil(t, reciprocal)
	assert.True(t, reciprocal.Bidirectional)

	// A second sync-request on the same channel does not re-fire it.
	cmds2, err := r.Reduce(ChannelReceiveEvent{ChannelID: 1, Message: wire.Message{
		Kind: wire.KindSyncRequest, DocID: "d4", Bidirectional: false,
	}})
	require.NoError(t, err)
	for _, c := range sendCmds(cmds2) {
		assert.NotEqual(t, wire.KindSyncRequest, c.Message.Kind)
	}
}

// S6 — permission denial on delete: a single ignored response, no removal,
// no broadcast to other subscribers.
func TestDeleteRequestDeniedIsIgnoredNotBroadcast(t *testing.T) {
	perms := Permissions{Deletion: func(docID, peerID string) bool { return false }}
	m, r, _ := newTestReducer("1000", perms)
	establish(t, m, r, 1, p2p.KindNetwork, "2000") // Y
	establish(t, m, r, 2, p2p.KindNetwork, "4000") // another subscriber

	_, err := r.Reduce(DocEnsureEvent{DocID: "d5"})
	require.NoError(t, err)
	ds := m.Docs["d5"]
	ds.Subscribers[1] = struct{}{}
	ds.Subscribers[2] = struct{}{}

	cmds, err := r.Reduce(ChannelReceiveEvent{ChannelID: 1, Message: wire.Message{Kind: wire.KindDeleteRequest, DocID: "d5"}})
	require.NoError(t, err)

	sends := sendCmds(cmds)
	require.Len(t, sends, 1)
	assert.Equal(t, p2p.ChannelID(1), sends[0].ChannelID)
	assert.Equal(t, wire.KindDeleteResponse, sends[0].Message.Kind)
	assert.Equal(t, wire.DeleteStatusIgnored, sends[0].Message.DeleteStatus)

	_, stillExists := m.Docs["d5"]
	assert.True(t, stillExists)
}

func TestChannelRemovedFailsPendingRequestsWhenStorageExhausted(t *testing.T) {
	m, r, _ := newTestReducer("1000", Permissions{})
	establish(t, m, r, 1, p2p.KindStorage, "9000")
	establish(t, m, r, 2, p2p.KindNetwork, "2000")

	_, err := r.Reduce(ChannelReceiveEvent{ChannelID: 2, Message: wire.Message{Kind: wire.KindSyncRequest, DocID: "d6"}})
	require.NoError(t, err)
	require.Contains(t, m.Docs["d6"].PendingStorageChannels, p2p.ChannelID(1))

	cmds, err := r.Reduce(ChannelRemovedEvent{ChannelID: 1})
	require.NoError(t, err)

	sends := sendCmds(cmds)
	require.Len(t, sends, 1)
	assert.Equal(t, p2p.ChannelID(2), sends[0].ChannelID)
	assert.Equal(t, wire.TransmissionUnavailable, sends[0].Message.Transmission.Kind)
}

func TestPeerRemovedWhenLastChannelDrops(t *testing.T) {
	m, r, _ := newTestReducer("1000", Permissions{})
	establish(t, m, r, 1, p2p.KindNetwork, "2000")
	require.Contains(t, m.Peers, "2000")

	_, err := r.Reduce(ChannelRemovedEvent{ChannelID: 1})
	require.NoError(t, err)
	assert.NotContains(t, m.Peers, "2000")
}

func TestInvalidPeerIDIsRejected(t *testing.T) {
	m, r, _ := newTestReducer("1000", Permissions{})
	_, err := r.Reduce(ChannelAddedEvent{ChannelID: 1, Kind: p2p.KindNetwork, AdapterType: "test"})
	require.NoError(t, err)

	_, err = r.Reduce(ChannelReceiveEvent{ChannelID: 1, Message: wire.Message{
		Kind: wire.KindEstablishRequest, Identity: &wire.Identity{PeerID: "not-a-number"},
	}})
	assert.ErrorIs(t, err, ErrInvalidPeerID)
	assert.Equal(t, ConnPending, m.Channels[1].State)
}

func TestBufferedMessagesReplayAfterEstablish(t *testing.T) {
	m, r, _ := newTestReducer("1000", Permissions{})
	_, err := r.Reduce(ChannelAddedEvent{ChannelID: 1, Kind: p2p.KindNetwork, AdapterType: "test"})
	require.NoError(t, err)

	// A sync-request arrives before the handshake completes: it must buffer,
	// not be dropped or processed against an unvalidated peerId.
	_, err = r.Reduce(ChannelReceiveEvent{ChannelID: 1, Message: wire.Message{Kind: wire.KindSyncRequest, DocID: "d7"}})
	require.NoError(t, err)
	assert.Empty(t, m.Docs)

	cmds, err := r.Reduce(ChannelReceiveEvent{ChannelID: 1, Message: wire.Message{
		Kind: wire.KindEstablishRequest, Identity: &wire.Identity{PeerID: "2000"},
	}})
	require.NoError(t, err)

	found := false
	for _, c := range sendCmds(cmds) {
		if c.Message.Kind == wire.KindSyncResponse && c.Message.DocID == "d7" {
			found = true
		}
	}
	assert.True(t, found, "buffered sync-request should have been replayed after establish")
}
