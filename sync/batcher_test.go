package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cometbft/docsync/p2p"
	"github.com/cometbft/docsync/wire"
)

func TestBatcherSingleMessageSendsDirect(t *testing.T) {
	b := NewBatcher()
	b.Queue(1, wire.Message{Kind: wire.KindDirectoryRequest})

	var got []wire.Message
	b.Flush(func(_ p2p.ChannelID, m wire.Message) { got = append(got, m) })

	assert.Len(t, got, 1)
	assert.Equal(t, wire.KindDirectoryRequest, got[0].Kind)
}

func TestBatcherMultipleMessagesWrapInBatch(t *testing.T) {
	b := NewBatcher()
	b.Queue(1, wire.Message{Kind: wire.KindDirectoryRequest})
	b.Queue(1, wire.Message{Kind: wire.KindEphemeral})

	var got []wire.Message
	b.Flush(func(_ p2p.ChannelID, m wire.Message) { got = append(got, m) })

	assert.Len(t, got, 1)
	assert.Equal(t, wire.KindBatch, got[0].Kind)
	assert.Len(t, got[0].Messages, 2)
}

func TestBatcherFlushIsIdempotentWhenEmpty(t *testing.T) {
	b := NewBatcher()
	calls := 0
	b.Flush(func(p2p.ChannelID, wire.Message) { calls++ })
	assert.Equal(t, 0, calls)
}

func TestBatcherPerChannelIsolation(t *testing.T) {
	b := NewBatcher()
	b.Queue(1, wire.Message{Kind: wire.KindDirectoryRequest})
	b.Queue(2, wire.Message{Kind: wire.KindDirectoryRequest})

	got := map[p2p.ChannelID]wire.Message{}
	b.Flush(func(ch p2p.ChannelID, m wire.Message) { got[ch] = m })

	assert.Len(t, got, 2)
}
