package sync

import (
	"errors"
	"fmt"
	"hash/fnv"
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2"
	pkgerrors "github.com/pkg/errors"

	"github.com/cometbft/docsync/ephemeral"
	"github.com/cometbft/docsync/p2p"
	"github.com/cometbft/docsync/wire"
)

// seenEphemeralCacheSize bounds the recently-forwarded ephemeral broadcast
// cache (below). A broadcast is identified loosely (doc + content digest),
// so the bound only needs to outlive one hop-count's worth of re-delivery
// across a densely connected mesh, not the lifetime of a document.
const seenEphemeralCacheSize = 1024

// Reducer is the pure(-ish) state machine: it
// mutates model in place and returns the effect commands to apply. The
// second return value aggregates non-fatal protocol errors for the caller
// to log; it never halts processing of subsequent events.
type Reducer struct {
	model     *Model
	ephemeral *ephemeral.Manager
	orch      *orchestrator

	// seenEphemeral dedups ephemeral broadcasts arriving back at this node
	// over a different path before their hop count is exhausted, so a
	// densely connected mesh of storage/network channels doesn't re-forward
	// the same broadcast once per incoming edge.
	seenEphemeral *lru.Cache[string, struct{}]
}

// NewReducer builds a Reducer over model, using ephemeralMgr for ephemeral
// store lookups referenced by orchestration helpers and the ephemeral
// message path.
func NewReducer(model *Model, ephemeralMgr *ephemeral.Manager) *Reducer {
	cache, _ := lru.New[string, struct{}](seenEphemeralCacheSize)
	return &Reducer{
		model:         model,
		ephemeral:     ephemeralMgr,
		orch:          newOrchestrator(model, ephemeralMgr),
		seenEphemeral: cache,
	}
}

// ephemeralBroadcastKey fingerprints one ephemeral broadcast for dedup
// purposes: not cryptographic, just cheap enough to call on every hop.
// hopsRemaining is folded in: the same wire frame re-arriving over a second
// edge with the same hop count maps to the same key and is forwarded once,
// while a copy carrying a different remaining hop count (one that travelled
// a path of different length) gets its own key and is forwarded again.
// Locally originated broadcasts always start at the same hop limit, so an
// identical set of entries re-announced by its originator is not forwarded
// again while its key is still cached.
func ephemeralBroadcastKey(docID string, hopsRemaining uint8, entries []wire.EphemeralEntry) string {
	h := fnv.New64a()
	for _, e := range entries {
		fmt.Fprintf(h, "%s|%s|%x|", e.PeerID, e.Namespace, e.Data)
	}
	return fmt.Sprintf("%s:%d:%x", docID, hopsRemaining, h.Sum64())
}

// Reduce applies ev to the model and returns the resulting commands.
func (r *Reducer) Reduce(ev Event) ([]Cmd, error) {
	switch e := ev.(type) {
	case ChannelAddedEvent:
		return r.reduceChannelAdded(e), nil
	case EstablishChannelEvent:
		return r.reduceEstablishChannel(e), nil
	case ChannelRemovedEvent:
		return r.reduceChannelRemoved(e), nil
	case ChannelReceiveEvent:
		return r.reduceReceive(e.ChannelID, e.Message)
	case DocEnsureEvent:
		return r.reduceDocEnsure(e), nil
	case DocDeleteEvent:
		return r.reduceDocDelete(e), nil
	case DocNewEvent:
		return r.reduceDocNew(e), nil
	case HeartbeatEvent:
		return r.reduceHeartbeat(), nil
	case EphemeralLocalChangeEvent:
		return r.reduceEphemeralLocalChange(e), nil
	default:
		return nil, pkgerrors.Errorf("sync: unhandled event type %T", ev)
	}
}

func (r *Reducer) reduceChannelAdded(e ChannelAddedEvent) []Cmd {
	r.model.Channels[e.ChannelID] = &ChannelEntry{
		ID:          e.ChannelID,
		Kind:        e.Kind,
		AdapterType: e.AdapterType,
		State:       ConnPending,
	}
	return nil
}

func (r *Reducer) reduceEstablishChannel(e EstablishChannelEvent) []Cmd {
	entry, ok := r.model.Channels[e.ChannelID]
	if !ok {
		return nil
	}
	return []Cmd{SendMessageCmd{
		ChannelID: entry.ID,
		Message:   wire.Message{Kind: wire.KindEstablishRequest, Identity: &r.model.Local},
	}}
}

func (r *Reducer) reduceChannelRemoved(e ChannelRemovedEvent) []Cmd {
	entry, ok := r.model.Channels[e.ChannelID]
	if !ok {
		return nil
	}
	delete(r.model.Channels, e.ChannelID)

	var cmds []Cmd

	if entry.PeerID != "" {
		if peer, ok := r.model.Peers[entry.PeerID]; ok {
			delete(peer.Channels, e.ChannelID)
			if len(peer.Channels) == 0 {
				delete(r.model.Peers, entry.PeerID)
				cmds = append(cmds, EmitPeerRemovedCmd{PeerID: entry.PeerID})
			}
		}
	}

	for docID, ds := range r.model.Docs {
		delete(ds.Subscribers, e.ChannelID)
		delete(ds.SubscribedViaChannel, e.ChannelID)
		delete(ds.ReadyStates, e.ChannelID)

		if _, pending := ds.PendingStorageChannels[e.ChannelID]; pending {
			delete(ds.PendingStorageChannels, e.ChannelID)
			if len(ds.PendingStorageChannels) == 0 && len(ds.PendingNetworkRequests) > 0 {
				cmds = append(cmds, r.failPendingRequests(docID, ds)...)
			}
		}
	}

	return cmds
}

func (r *Reducer) failPendingRequests(docID string, ds *DocState) []Cmd {
	var cmds []Cmd
	for _, req := range ds.PendingNetworkRequests {
		cmds = append(cmds, SendMessageCmd{
			ChannelID: req.ChannelID,
			Message: wire.Message{
				Kind:         wire.KindSyncResponse,
				DocID:        docID,
				Transmission: &wire.Transmission{Kind: wire.TransmissionUnavailable},
			},
		})
	}
	ds.PendingNetworkRequests = nil
	return cmds
}

func (r *Reducer) reduceDocEnsure(e DocEnsureEvent) []Cmd {
	ds, created := r.model.getOrCreateDoc(e.DocID)
	if ds.Doc == nil {
		ds.Doc = r.model.Factory.NewDocument()
	}
	if created {
		return []Cmd{EmitDocAddedCmd{DocID: e.DocID}}
	}
	return nil
}

func (r *Reducer) reduceDocDelete(e DocDeleteEvent) []Cmd {
	ds, ok := r.model.Docs[e.DocID]
	if !ok {
		return nil
	}
	subscribers := subscriberChannels(ds, 0)
	delete(r.model.Docs, e.DocID)
	for _, peer := range r.model.Peers {
		delete(peer.Subscriptions, e.DocID)
	}

	cmds := []Cmd{EmitDocRemovedCmd{DocID: e.DocID}}
	for _, chID := range subscribers {
		cmds = append(cmds, SendMessageCmd{
			ChannelID: chID,
			Message:   wire.Message{Kind: wire.KindDeleteRequest, DocID: e.DocID},
		})
	}
	return cmds
}

func (r *Reducer) reduceDocNew(e DocNewEvent) []Cmd {
	var cmds []Cmd
	for id, ch := range r.model.Channels {
		if ch.State != ConnEstablished {
			continue
		}
		cmds = append(cmds, SendMessageCmd{
			ChannelID: id,
			Message:   wire.Message{Kind: wire.KindNewDoc, DocIDs: e.DocIDs},
		})
	}
	return cmds
}

func (r *Reducer) reduceHeartbeat() []Cmd {
	var cmds []Cmd
	for docID, ds := range r.model.Docs {
		if len(ds.Subscribers) == 0 || ds.Doc == nil {
			continue
		}
		for chID := range ds.Subscribers {
			cmds = append(cmds, SendMessageCmd{
				ChannelID: chID,
				Message:   r.orch.buildSyncRequestMessage(docID, ds.Doc.Version(), false, true),
			})
		}
	}
	return cmds
}

func (r *Reducer) reduceEphemeralLocalChange(e EphemeralLocalChangeEvent) []Cmd {
	ds, ok := r.model.Docs[e.DocID]
	if !ok || len(ds.Subscribers) == 0 {
		return nil
	}
	entries := r.orch.encodeAllPeerStores(e.DocID)
	if len(entries) == 0 {
		return nil
	}
	var cmds []Cmd
	for chID := range ds.Subscribers {
		cmds = append(cmds, SendMessageCmd{
			ChannelID: chID,
			Message: wire.Message{
				Kind:          wire.KindEphemeral,
				DocID:         e.DocID,
				HopsRemaining: r.model.EphemeralHopLimit,
				Stores:        entries,
			},
		})
	}
	return cmds
}

// reduceReceive dispatches an inbound channel message by Kind to its
// message-specific reducer rule.
func (r *Reducer) reduceReceive(chID p2p.ChannelID, msg wire.Message) ([]Cmd, error) {
	entry, ok := r.model.Channels[chID]
	if !ok {
		return nil, nil
	}

	if entry.State == ConnPending && !isHandshakeKind(msg.Kind) {
		entry.pendingInbound = append(entry.pendingInbound, msg)
		return nil, nil
	}

	switch msg.Kind {
	case wire.KindEstablishRequest:
		return r.onEstablish(entry, msg, true)
	case wire.KindEstablishResponse:
		return r.onEstablish(entry, msg, false)
	case wire.KindSyncRequest:
		return r.onSyncRequest(entry, msg), nil
	case wire.KindSyncResponse:
		return r.onSyncResponse(entry, msg), nil
	case wire.KindUpdate:
		return r.onUpdate(entry, msg), nil
	case wire.KindDeleteRequest:
		return r.onDeleteRequest(entry, msg), nil
	case wire.KindDeleteResponse:
		return nil, nil
	case wire.KindEphemeral:
		return r.onEphemeral(entry, msg), nil
	case wire.KindDirectoryRequest:
		return r.onDirectoryRequest(entry, msg), nil
	case wire.KindNewDoc:
		return r.onNewDoc(entry, msg), nil
	case wire.KindBatch:
		return r.onBatch(entry, msg)
	default:
		return nil, pkgerrors.WithStack(ErrUnknownMessageKind)
	}
}

func isHandshakeKind(k wire.Kind) bool {
	return k == wire.KindEstablishRequest || k == wire.KindEstablishResponse
}

func isValidPeerID(id string) bool {
	if id == "" {
		return false
	}
	_, err := strconv.ParseUint(id, 10, 64)
	return err == nil
}

func (r *Reducer) onEstablish(entry *ChannelEntry, msg wire.Message, reply bool) ([]Cmd, error) {
	if msg.Identity == nil || !isValidPeerID(msg.Identity.PeerID) {
		return nil, pkgerrors.WithStack(ErrInvalidPeerID)
	}

	entry.PeerID = msg.Identity.PeerID
	entry.State = ConnEstablished

	peer, created := r.model.getOrCreatePeer(entry.PeerID)
	peer.Name = msg.Identity.Name
	peer.Role = msg.Identity.Role
	peer.Channels[entry.ID] = struct{}{}

	var cmds []Cmd
	if created {
		cmds = append(cmds, EmitPeerAddedCmd{PeerID: entry.PeerID})
	}
	if reply {
		cmds = append(cmds, SendMessageCmd{
			ChannelID: entry.ID,
			Message:   wire.Message{Kind: wire.KindEstablishResponse, Identity: &r.model.Local},
		})
	}

	if entry.Kind == p2p.KindStorage {
		for docID, ds := range r.model.Docs {
			if ds.Doc == nil {
				continue
			}
			cmds = append(cmds, SendMessageCmd{
				ChannelID: entry.ID,
				Message:   r.orch.buildSyncRequestMessage(docID, ds.Doc.Version(), false, false),
			})
		}
	}

	buffered := entry.pendingInbound
	entry.pendingInbound = nil
	var errs []error
	for _, m := range buffered {
		replayCmds, err := r.reduceReceive(entry.ID, m)
		cmds = append(cmds, replayCmds...)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return cmds, errors.Join(errs...)
}

func (r *Reducer) onSyncRequest(entry *ChannelEntry, msg wire.Message) []Cmd {
	if !r.model.Permissions.visibility(msg.DocID, entry.PeerID) {
		return []Cmd{SendMessageCmd{
			ChannelID: entry.ID,
			Message:   wire.Message{Kind: wire.KindSyncResponse, DocID: msg.DocID, Transmission: &wire.Transmission{Kind: wire.TransmissionUnavailable}},
		}}
	}

	ds, _ := r.model.getOrCreateDoc(msg.DocID)

	var cmds []Cmd
	queued := false
	if ds.Doc == nil && entry.Kind == p2p.KindNetwork {
		if storageChannels := r.model.establishedStorageChannels(); len(storageChannels) > 0 {
			queued = true
			if ds.PendingStorageChannels == nil {
				ds.PendingStorageChannels = make(map[p2p.ChannelID]struct{})
			}
			var newlyAdded []p2p.ChannelID
			for _, sid := range storageChannels {
				if _, already := ds.PendingStorageChannels[sid]; !already {
					ds.PendingStorageChannels[sid] = struct{}{}
					newlyAdded = append(newlyAdded, sid)
				}
			}
			ds.PendingNetworkRequests = append(ds.PendingNetworkRequests, PendingNetworkRequest{
				ChannelID:        entry.ID,
				RequesterVersion: msg.RequesterVersion,
				IncludeEphemeral: msg.Ephemeral != nil,
			})
			for _, sid := range newlyAdded {
				cmds = append(cmds, SendMessageCmd{
					ChannelID: sid,
					Message:   r.orch.buildSyncRequestMessage(msg.DocID, r.model.Factory.EmptyVersion(), false, false),
				})
			}
		}
	}

	if !queued {
		cmds = append(cmds, SendMessageCmd{
			ChannelID: entry.ID,
			Message:   r.orch.buildSyncResponseMessage(msg.DocID, msg.RequesterVersion, msg.Ephemeral != nil),
		})
	}

	if msg.Bidirectional {
		ds.Subscribers[entry.ID] = struct{}{}
		if peer, ok := r.model.Peers[entry.PeerID]; ok {
			peer.Subscriptions[msg.DocID] = struct{}{}
		}
	}

	if _, already := ds.SubscribedViaChannel[entry.ID]; !already {
		ds.SubscribedViaChannel[entry.ID] = struct{}{}
		var ourVersion []byte
		if ds.Doc != nil {
			ourVersion = ds.Doc.Version().Encode()
		}
		cmds = append(cmds, SendMessageCmd{
			ChannelID: entry.ID,
			Message: wire.Message{
				Kind:             wire.KindSyncRequest,
				DocID:            msg.DocID,
				RequesterVersion: ourVersion,
				Bidirectional:    true,
			},
		})
	}

	if msg.Ephemeral != nil {
		r.applyEphemeralBundle(msg.DocID, msg.Ephemeral.Stores)
	}

	return cmds
}

func (r *Reducer) onSyncResponse(entry *ChannelEntry, msg wire.Message) []Cmd {
	if !r.model.Permissions.mutability(msg.DocID, entry.PeerID) {
		return nil
	}
	if msg.Transmission == nil {
		return nil
	}

	ds, _ := r.model.getOrCreateDoc(msg.DocID)

	switch msg.Transmission.Kind {
	case wire.TransmissionSnapshot:
		if ds.Doc == nil {
			doc, err := r.model.Factory.FromSnapshot(msg.Transmission.Data)
			if err == nil {
				ds.Doc = doc
			}
		} else {
			_ = ds.Doc.Import(msg.Transmission.Data)
		}
	case wire.TransmissionUpdate:
		if ds.Doc == nil {
			ds.Doc = r.model.Factory.NewDocument()
		}
		_ = ds.Doc.Import(msg.Transmission.Data)
	}
	ds.ReadyStates[entry.ID] = ReadyState{
		ChannelID: entry.ID,
		Kind:      entry.Kind,
		PeerID:    entry.PeerID,
		Status:    readyStatusFor(msg.Transmission.Kind),
	}

	var cmds []Cmd
	if _, pending := ds.PendingStorageChannels[entry.ID]; pending {
		delete(ds.PendingStorageChannels, entry.ID)
		if len(ds.PendingStorageChannels) == 0 {
			for _, req := range ds.PendingNetworkRequests {
				cmds = append(cmds, SendMessageCmd{
					ChannelID: req.ChannelID,
					Message:   r.orch.buildSyncResponseMessage(msg.DocID, req.RequesterVersion, req.IncludeEphemeral),
				})
			}
			ds.PendingNetworkRequests = nil
		}
	}

	if msg.Ephemeral != nil {
		r.applyEphemeralBundle(msg.DocID, msg.Ephemeral.Stores)
	}

	return cmds
}

func (r *Reducer) onUpdate(entry *ChannelEntry, msg wire.Message) []Cmd {
	if !r.model.Permissions.mutability(msg.DocID, entry.PeerID) {
		return nil
	}
	if msg.Transmission == nil {
		return nil
	}
	ds, _ := r.model.getOrCreateDoc(msg.DocID)
	if ds.Doc == nil {
		if msg.Transmission.Kind == wire.TransmissionSnapshot {
			if doc, err := r.model.Factory.FromSnapshot(msg.Transmission.Data); err == nil {
				ds.Doc = doc
			}
			return nil
		}
		ds.Doc = r.model.Factory.NewDocument()
	}
	_ = ds.Doc.Import(msg.Transmission.Data)
	return nil
}

func (r *Reducer) onDeleteRequest(entry *ChannelEntry, msg wire.Message) []Cmd {
	if !r.model.Permissions.deletion(msg.DocID, entry.PeerID) {
		return []Cmd{SendMessageCmd{
			ChannelID: entry.ID,
			Message:   wire.Message{Kind: wire.KindDeleteResponse, DocID: msg.DocID, DeleteStatus: wire.DeleteStatusIgnored},
		}}
	}

	ds, ok := r.model.Docs[msg.DocID]
	var others []p2p.ChannelID
	if ok {
		others = subscriberChannels(ds, entry.ID)
		delete(r.model.Docs, msg.DocID)
	}
	for _, peer := range r.model.Peers {
		delete(peer.Subscriptions, msg.DocID)
	}

	cmds := []Cmd{
		EmitDocRemovedCmd{DocID: msg.DocID},
		SendMessageCmd{
			ChannelID: entry.ID,
			Message:   wire.Message{Kind: wire.KindDeleteResponse, DocID: msg.DocID, DeleteStatus: wire.DeleteStatusDeleted},
		},
	}
	for _, chID := range others {
		cmds = append(cmds, SendMessageCmd{
			ChannelID: chID,
			Message:   wire.Message{Kind: wire.KindDeleteRequest, DocID: msg.DocID},
		})
	}
	return cmds
}

func (r *Reducer) onEphemeral(entry *ChannelEntry, msg wire.Message) []Cmd {
	r.applyEphemeralBundle(msg.DocID, msg.Stores)

	if msg.HopsRemaining == 0 {
		return nil
	}
	remaining := msg.HopsRemaining - 1

	ds, ok := r.model.Docs[msg.DocID]
	if !ok || remaining == 0 {
		return nil
	}

	key := ephemeralBroadcastKey(msg.DocID, msg.HopsRemaining, msg.Stores)
	if _, seen := r.seenEphemeral.Get(key); seen {
		return nil
	}
	r.seenEphemeral.Add(key, struct{}{})

	var cmds []Cmd
	for _, chID := range subscriberChannels(ds, entry.ID) {
		cmds = append(cmds, SendMessageCmd{
			ChannelID: chID,
			Message: wire.Message{
				Kind:          wire.KindEphemeral,
				DocID:         msg.DocID,
				HopsRemaining: remaining,
				Stores:        msg.Stores,
			},
		})
	}
	return cmds
}

func (r *Reducer) applyEphemeralBundle(docID string, entries []wire.EphemeralEntry) {
	if r.ephemeral == nil || len(entries) == 0 {
		return
	}
	converted := make([]ephemeral.EphemeralEntry, 0, len(entries))
	for _, e := range entries {
		converted = append(converted, ephemeral.EphemeralEntry{PeerID: e.PeerID, Namespace: e.Namespace, Data: e.Data})
	}
	r.ephemeral.ApplyBundle(docID, converted)
}

func (r *Reducer) onDirectoryRequest(entry *ChannelEntry, msg wire.Message) []Cmd {
	known := r.model.knownDocIDs()
	var result []string
	if len(msg.DocIDs) == 0 {
		result = known
	} else {
		filter := make(map[string]struct{}, len(msg.DocIDs))
		for _, id := range msg.DocIDs {
			filter[id] = struct{}{}
		}
		for _, id := range known {
			if _, ok := filter[id]; ok {
				result = append(result, id)
			}
		}
	}
	return []Cmd{SendMessageCmd{
		ChannelID: entry.ID,
		Message:   wire.Message{Kind: wire.KindDirectoryResponse, DocIDs: result},
	}}
}

func (r *Reducer) onNewDoc(entry *ChannelEntry, msg wire.Message) []Cmd {
	var cmds []Cmd
	for _, docID := range msg.DocIDs {
		ds, exists := r.model.Docs[docID]
		if exists && ds.Doc != nil {
			continue
		}
		if !r.model.Permissions.creation(docID, entry.PeerID) {
			continue
		}
		cmds = append(cmds, SendMessageCmd{
			ChannelID: entry.ID,
			Message:   wire.Message{Kind: wire.KindSyncRequest, DocID: docID, Bidirectional: false},
		})
	}
	return cmds
}

func (r *Reducer) onBatch(entry *ChannelEntry, msg wire.Message) ([]Cmd, error) {
	var cmds []Cmd
	var errs []error
	for _, inner := range msg.Messages {
		innerCmds, err := r.reduceReceive(entry.ID, inner)
		cmds = append(cmds, innerCmds...)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return cmds, errors.Join(errs...)
}
