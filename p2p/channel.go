// Package p2p implements the adapter manager: a
// registry of transport adapters that forwards channel lifecycle events to
// the synchronizer, mirroring cometbft's p2p.Switch forwarding AddPeer /
// RemovePeer / Receive to each registered Reactor.
package p2p

import (
	"github.com/cometbft/docsync/wire"
)

// ChannelID is a locally assigned monotonic integer, unique within a
// Manager's lifetime.
type ChannelID uint64

// Kind is whether a channel reaches a network peer or a storage backend.
type Kind uint8

const (
	KindNetwork Kind = iota
	KindStorage
)

func (k Kind) String() string {
	if k == KindStorage {
		return "storage"
	}
	return "network"
}

// Channel is the runtime handle for one transport-level connection. Adapters
// never construct a Channel directly; they call Manager.NewChannel, which
// assigns the ID: channel ids are assigned by the synchronizer instance,
// not by the adapter.
type Channel struct {
	id          ChannelID
	kind        Kind
	adapterType string
	sendFn      func(wire.Message) error
	stopFn      func() error
}

// ID returns the channel's synchronizer-assigned identifier.
func (c *Channel) ID() ChannelID { return c.id }

// Kind returns whether this is a network or storage channel.
func (c *Channel) Kind() Kind { return c.kind }

// AdapterType returns the owning adapter's type tag.
func (c *Channel) AdapterType() string { return c.adapterType }

// Send hands msg to the adapter for transmission. Non-blocking from the
// caller's perspective: the adapter is responsible for any queuing or retry.
func (c *Channel) Send(msg wire.Message) error { return c.sendFn(msg) }

// Stop terminates the underlying transport connection.
func (c *Channel) Stop() error { return c.stopFn() }
