package sync

import (
	"github.com/cometbft/docsync/p2p"
	"github.com/cometbft/docsync/wire"
)

// Batcher accumulates per-channel outbound messages between quiescence
// points and flushes them as a single frame each.
type Batcher struct {
	pending map[p2p.ChannelID][]wire.Message
}

// NewBatcher constructs an empty Batcher.
func NewBatcher() *Batcher {
	return &Batcher{pending: make(map[p2p.ChannelID][]wire.Message)}
}

// Queue appends msg to channelID's pending list.
func (b *Batcher) Queue(channelID p2p.ChannelID, msg wire.Message) {
	b.pending[channelID] = append(b.pending[channelID], msg)
}

// Flush walks every channel with pending messages and hands send a single
// message per channel: the lone message directly, or a channel/batch
// wrapper when more than one accrued. The queue is emptied atomically per
// channel. Flushing an empty queue is a no-op.
func (b *Batcher) Flush(send func(p2p.ChannelID, wire.Message)) {
	for chID, msgs := range b.pending {
		delete(b.pending, chID)
		if len(msgs) == 0 {
			continue
		}
		if len(msgs) == 1 {
			send(chID, msgs[0])
			continue
		}
		send(chID, wire.Message{Kind: wire.KindBatch, Messages: msgs})
	}
}
