package sync

import (
	"github.com/cometbft/docsync/p2p"
	"github.com/cometbft/docsync/wire"
)

// Event is the reducer's inbound message type — channel lifecycle events
// from the adapter manager, plus local application events.
type Event interface{ isEvent() }

type ChannelAddedEvent struct {
	ChannelID   p2p.ChannelID
	Kind        p2p.Kind
	AdapterType string
}

type EstablishChannelEvent struct {
	ChannelID p2p.ChannelID
}

type ChannelRemovedEvent struct {
	ChannelID p2p.ChannelID
}

type ChannelReceiveEvent struct {
	ChannelID p2p.ChannelID
	Message   wire.Message
}

type DocEnsureEvent struct {
	DocID string
}

type DocDeleteEvent struct {
	DocID string
}

// DocNewEvent advertises locally created document ids to every established
// channel.
type DocNewEvent struct {
	DocIDs []string
}

type HeartbeatEvent struct{}

type EphemeralLocalChangeEvent struct {
	DocID     string
	Namespace string
}

func (ChannelAddedEvent) isEvent()       {}
func (EstablishChannelEvent) isEvent()   {}
func (ChannelRemovedEvent) isEvent()     {}
func (ChannelReceiveEvent) isEvent()     {}
func (DocEnsureEvent) isEvent()          {}
func (DocDeleteEvent) isEvent()          {}
func (DocNewEvent) isEvent()             {}
func (HeartbeatEvent) isEvent()          {}
func (EphemeralLocalChangeEvent) isEvent() {}
