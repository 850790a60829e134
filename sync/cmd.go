package sync

import (
	"github.com/cometbft/docsync/p2p"
	"github.com/cometbft/docsync/wire"
)

// Cmd is an effect the reducer returns for the command executor to apply
// against live services: a mutable model with the reducer returning an
// effect list, kept pure of side effects itself.
type Cmd interface{ isCmd() }

// SendMessageCmd queues msg for channelID on the outbound batcher.
type SendMessageCmd struct {
	ChannelID p2p.ChannelID
	Message   wire.Message
}

type EmitPeerAddedCmd struct{ PeerID string }
type EmitPeerRemovedCmd struct{ PeerID string }
type EmitDocAddedCmd struct{ DocID string }
type EmitDocRemovedCmd struct{ DocID string }

func (SendMessageCmd) isCmd()      {}
func (EmitPeerAddedCmd) isCmd()    {}
func (EmitPeerRemovedCmd) isCmd()  {}
func (EmitDocAddedCmd) isCmd()     {}
func (EmitDocRemovedCmd) isCmd()   {}
