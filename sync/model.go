// Package sync implements the synchronizer core: the
// model, the reducer, the outbound batcher, the work queue and the
// command executor that together coordinate channels, documents and
// ephemeral stores. Modeled on cometbft's mempool Reactor for channel
// lifecycle handling, but the state machine itself is this spec's own —
// cometbft has no analogous reducer to borrow from.
package sync

import (
	"github.com/cometbft/docsync/crdt"
	"github.com/cometbft/docsync/p2p"
	"github.com/cometbft/docsync/wire"
)

// ChannelConnState is a channel's handshake state: pending or established.
type ChannelConnState uint8

const (
	ConnPending ChannelConnState = iota
	ConnEstablished
)

// ChannelEntry is the model's record of one transport-level channel.
type ChannelEntry struct {
	ID          p2p.ChannelID
	Kind        p2p.Kind
	AdapterType string
	State       ChannelConnState

	// PeerID is empty until the establish handshake completes.
	PeerID string

	// pendingInbound buffers messages that arrive before the channel has a
	// validated peerId: a channel stays pending and buffers rather than
	// record a placeholder identity.
	pendingInbound []wire.Message
}

// PeerState is the model's record of one remote peer, reachable over one or
// more channels.
type PeerState struct {
	PeerID   string
	Name     string
	Role     wire.Role
	Channels map[p2p.ChannelID]struct{}
	// Subscriptions is the set of docIds this peer has sent an accepted
	// bidirectional sync-request for (invariant 2).
	Subscriptions map[string]struct{}
}

// PendingNetworkRequest is a network sync-request deferred behind a
// storage-first lookup.
type PendingNetworkRequest struct {
	ChannelID        p2p.ChannelID
	RequesterVersion []byte
	IncludeEphemeral bool
}

// DocState is the model's record of one document, known or merely
// referenced.
type DocState struct {
	DocID string
	// Doc is nil until the document's content is actually known locally —
	// this is the "unknown locally" test used by the storage-first rule.
	Doc crdt.Document

	// Subscribers is the set of remote channels that have sent an accepted
	// bidirectional sync-request for this doc and should receive future
	// updates.
	Subscribers map[p2p.ChannelID]struct{}

	// SubscribedViaChannel tracks which channels we ourselves have already
	// reciprocally subscribed through, so the reciprocal-subscription rule
	// fires at most once per channel. It is the natural complement of
	// PeerState.Subscriptions, which only tracks peers subscribed to *us*.
	SubscribedViaChannel map[p2p.ChannelID]struct{}

	PendingStorageChannels map[p2p.ChannelID]struct{}
	PendingNetworkRequests []PendingNetworkRequest

	ReadyStates   map[p2p.ChannelID]ReadyState
	prevReadySnap []ReadyState
}

func newDocState(docID string) *DocState {
	return &DocState{
		DocID:                docID,
		Subscribers:          make(map[p2p.ChannelID]struct{}),
		SubscribedViaChannel: make(map[p2p.ChannelID]struct{}),
		ReadyStates:          make(map[p2p.ChannelID]ReadyState),
	}
}

// Model is the synchronizer's entire state, exclusively owned by the
// reducer. Adapters must not read or mutate it directly.
type Model struct {
	Factory     crdt.Factory
	Local       wire.Identity
	Permissions Permissions

	// EphemeralHopLimit is the TTL used on locally originated ephemeral
	// broadcasts. A peer-count-derived hop limit can't be reproduced from
	// purely local information in every topology, so this substitutes a
	// configured constant instead (see DESIGN.md).
	EphemeralHopLimit uint8

	Channels map[p2p.ChannelID]*ChannelEntry
	Peers    map[string]*PeerState
	Docs     map[string]*DocState
}

// NewModel constructs an empty model for local identity id.
func NewModel(factory crdt.Factory, id wire.Identity, perms Permissions, ephemeralHopLimit uint8) *Model {
	return &Model{
		Factory:           factory,
		Local:             id,
		Permissions:       perms,
		EphemeralHopLimit: ephemeralHopLimit,
		Channels:          make(map[p2p.ChannelID]*ChannelEntry),
		Peers:             make(map[string]*PeerState),
		Docs:              make(map[string]*DocState),
	}
}

func (m *Model) getOrCreateDoc(docID string) (*DocState, bool) {
	ds, ok := m.Docs[docID]
	if ok {
		return ds, false
	}
	ds = newDocState(docID)
	m.Docs[docID] = ds
	return ds, true
}

func (m *Model) getOrCreatePeer(id string) (*PeerState, bool) {
	p, ok := m.Peers[id]
	if ok {
		return p, false
	}
	p = &PeerState{
		PeerID:        id,
		Channels:      make(map[p2p.ChannelID]struct{}),
		Subscriptions: make(map[string]struct{}),
	}
	m.Peers[id] = p
	return p, true
}

func (m *Model) establishedStorageChannels() []p2p.ChannelID {
	var out []p2p.ChannelID
	for id, ch := range m.Channels {
		if ch.Kind == p2p.KindStorage && ch.State == ConnEstablished {
			out = append(out, id)
		}
	}
	return out
}

func (m *Model) hasEstablishedStorageChannel() bool {
	for _, ch := range m.Channels {
		if ch.Kind == p2p.KindStorage && ch.State == ConnEstablished {
			return true
		}
	}
	return false
}

// knownDocIDs returns every docId whose content is actually known locally
// (Doc != nil), deduplicated by construction (Docs is already a set).
func (m *Model) knownDocIDs() []string {
	var out []string
	for id, ds := range m.Docs {
		if ds.Doc != nil {
			out = append(out, id)
		}
	}
	return out
}
