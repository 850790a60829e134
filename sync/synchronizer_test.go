package sync

import (
	"context"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cometbft/docsync/crdt/refdoc"
	"github.com/cometbft/docsync/p2p"
	"github.com/cometbft/docsync/p2p/inproc"
	"github.com/cometbft/docsync/wire"
)

func newTestSynchronizer(peerID string) *Synchronizer {
	return New(Options{
		Identity: wire.Identity{PeerID: peerID},
		Factory:  refdoc.NewFactory(peerID),
	})
}

func establishedChannel(t *testing.T, s *Synchronizer) p2p.ChannelID {
	t.Helper()
	s.mu.RLock()
	defer s.mu.RUnlock()
	for id, ch := range s.model.Channels {
		if ch.State == ConnEstablished {
			return id
		}
	}
	t.Fatal("no established channel found")
	return 0
}

// S1 — simple handshake and sync: a server peer and a client peer connected
// via the in-process bridge. Once the handshake has established the client's
// channel, the client ensures a doc and inserts text, and a bidirectional
// sync-request is delivered to the client on that channel as if the server
// had sent it; the client's response carries its text, and the server ends
// up holding it.
func TestScenarioS1HandshakeAndSync(t *testing.T) {
	server := newTestSynchronizer("1000")
	client := newTestSynchronizer("2000")

	bridge := inproc.Connect(client.Adapters(), server.Adapters())
	defer bridge.Stop()

	require.Eventually(t, func() bool {
		client.mu.RLock()
		defer client.mu.RUnlock()
		for _, ch := range client.model.Channels {
			if ch.State == ConnEstablished {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond, "handshake should complete over the bridge")

	client.EnsureDocument("d1")
	doc, ok := client.GetDocumentState("d1")
	require.True(t, ok)
	doc.(*refdoc.Document).InsertText("text", "Hello")

	chID := establishedChannel(t, client)
	client.queue.Dispatch(ChannelReceiveEvent{
		ChannelID: chID,
		Message: wire.Message{
			Kind: wire.KindSyncRequest, DocID: "d1", Bidirectional: true,
		},
	})

	require.Eventually(t, func() bool {
		d, ok := server.GetDocumentState("d1")
		if !ok {
			return false
		}
		return d.(*refdoc.Document).GetText("text") == "Hello"
	}, time.Second, 10*time.Millisecond, "server should have imported the client's text")
}

func TestWaitUntilReadyTimesOutWithoutEmission(t *testing.T) {
	s := newTestSynchronizer("1000")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := s.WaitUntilReady(ctx, "never-arrives", func([]ReadyState) bool { return false })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWaitUntilReadyReturnsImmediatelyWhenAlreadyTrue(t *testing.T) {
	s := newTestSynchronizer("1000")
	err := s.WaitUntilReady(context.Background(), "any-doc", func([]ReadyState) bool { return true })
	assert.NoError(t, err)
}

func TestHeartbeatStartStopIsIdempotent(t *testing.T) {
	defer leaktest.Check(t)()

	s := newTestSynchronizer("1000")
	require.NoError(t, s.StartHeartbeat())
	require.NoError(t, s.StartHeartbeat()) // no-op, not an error
	require.NoError(t, s.StopHeartbeat())
	require.NoError(t, s.StopHeartbeat()) // no-op, not an error
}

func TestResetClearsModelAndEphemeralStores(t *testing.T) {
	s := newTestSynchronizer("1000")
	s.EnsureDocument("d1")
	s.GetOrCreateNamespacedStore("d1", "presence").Set("2000", []byte("online"))

	s.Reset()

	_, ok := s.GetDocumentState("d1")
	assert.False(t, ok)
	_, ok = s.ephemeral.Get("d1", "presence")
	assert.False(t, ok)
}
