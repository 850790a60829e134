package p2p

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cometbft/docsync/wire"
)

type recordingHandlers struct {
	added, established, removed []ChannelID
	received                    []wire.Message
}

func (h *recordingHandlers) ChannelAdded(ch *Channel)     { h.added = append(h.added, ch.ID()) }
func (h *recordingHandlers) ChannelEstablish(ch *Channel) { h.established = append(h.established, ch.ID()) }
func (h *recordingHandlers) ChannelRemoved(ch *Channel)   { h.removed = append(h.removed, ch.ID()) }
func (h *recordingHandlers) ChannelReceive(id ChannelID, msg wire.Message) {
	h.received = append(h.received, msg)
}

type noopAdapter struct{ typ string }

func (a *noopAdapter) Type() string { return a.typ }
func (a *noopAdapter) Stop() error  { return nil }

func TestManagerAddAdapterIdempotent(t *testing.T) {
	m := NewManager(&recordingHandlers{}, nil)
	require.NoError(t, m.AddAdapter(&noopAdapter{typ: "ws"}))

	err := m.AddAdapter(&noopAdapter{typ: "ws"})
	var dup ErrDuplicateAdapter
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "ws", dup.Type)
}

func TestManagerNewChannelAssignsMonotonicIDs(t *testing.T) {
	h := &recordingHandlers{}
	m := NewManager(h, nil)

	ch1 := m.NewChannel("ws", KindNetwork, func(wire.Message) error { return nil }, func() error { return nil })
	ch2 := m.NewChannel("ws", KindNetwork, func(wire.Message) error { return nil }, func() error { return nil })

	assert.NotEqual(t, ch1.ID(), ch2.ID())
	assert.Equal(t, []ChannelID{ch1.ID(), ch2.ID()}, h.added)
}

func TestManagerRemoveAdapterRemovesOwnedChannels(t *testing.T) {
	h := &recordingHandlers{}
	m := NewManager(h, nil)
	require.NoError(t, m.AddAdapter(&noopAdapter{typ: "ws"}))

	ch := m.NewChannel("ws", KindNetwork, func(wire.Message) error { return nil }, func() error { return nil })

	require.NoError(t, m.RemoveAdapter("ws"))
	assert.Equal(t, []ChannelID{ch.ID()}, h.removed)
	assert.False(t, m.HasAdapter("ws"))

	_, ok := m.Channel(ch.ID())
	assert.False(t, ok)
}

func TestManagerRemoveUnknownAdapterIsNoop(t *testing.T) {
	m := NewManager(&recordingHandlers{}, nil)
	assert.NoError(t, m.RemoveAdapter("ghost"))
}

func TestManagerSendDropsOnUnknownChannel(t *testing.T) {
	m := NewManager(&recordingHandlers{}, nil)
	// Should log and return, not panic.
	m.Send(ChannelID(999), wire.Message{Kind: wire.KindDirectoryRequest})
}

func TestManagerEstablishAndReceiveDelegate(t *testing.T) {
	h := &recordingHandlers{}
	m := NewManager(h, nil)
	ch := m.NewChannel("ws", KindNetwork, func(wire.Message) error { return nil }, func() error { return nil })

	m.Establish(ch)
	assert.Equal(t, []ChannelID{ch.ID()}, h.established)

	m.Receive(ch.ID(), wire.Message{Kind: wire.KindDirectoryRequest})
	require.Len(t, h.received, 1)
	assert.Equal(t, wire.KindDirectoryRequest, h.received[0].Kind)
}
