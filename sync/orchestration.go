package sync

import (
	"github.com/cometbft/docsync/crdt"
	"github.com/cometbft/docsync/ephemeral"
	"github.com/cometbft/docsync/p2p"
	"github.com/cometbft/docsync/wire"
)

// sync orchestration helpers build concrete wire messages from the model
// without mutating it.

type orchestrator struct {
	model     *Model
	ephemeral *ephemeral.Manager
}

func newOrchestrator(m *Model, e *ephemeral.Manager) *orchestrator {
	return &orchestrator{model: m, ephemeral: e}
}

// encodeAllPeerStores returns one wire entry per (namespace, peerId) with
// nonempty data for docID.
func (o *orchestrator) encodeAllPeerStores(docID string) []wire.EphemeralEntry {
	if o.ephemeral == nil {
		return nil
	}
	entries := o.ephemeral.EncodeAllForDoc(docID)
	out := make([]wire.EphemeralEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, wire.EphemeralEntry{PeerID: e.PeerID, Namespace: e.Namespace, Data: e.Data})
	}
	return out
}

func (o *orchestrator) ephemeralBundle(docID string, include bool) *wire.EphemeralBundle {
	if !include {
		return nil
	}
	stores := o.encodeAllPeerStores(docID)
	if len(stores) == 0 {
		return nil
	}
	return &wire.EphemeralBundle{Stores: stores}
}

// buildSyncRequestMessage builds an outbound sync-request for docID, optionally
// attaching our local peer's ephemeral snapshot.
func (o *orchestrator) buildSyncRequestMessage(docID string, version crdt.VersionVector, bidirectional, includeEphemeral bool) wire.Message {
	var encoded []byte
	if version != nil {
		encoded = version.Encode()
	}
	return wire.Message{
		Kind:             wire.KindSyncRequest,
		DocID:            docID,
		RequesterVersion: encoded,
		Bidirectional:    bidirectional,
		Ephemeral:        o.ephemeralBundle(docID, includeEphemeral),
	}
}

// buildSyncResponseMessage implements the version-comparison and tie-break
// table for sync responses. When the doc is unknown locally or holds no
// document, the response carries an unavailable transmission.
func (o *orchestrator) buildSyncResponseMessage(docID string, requesterVersion []byte, includeEphemeral bool) wire.Message {
	ds, known := o.model.Docs[docID]
	if !known || ds.Doc == nil {
		return wire.Message{
			Kind:         wire.KindSyncResponse,
			DocID:        docID,
			Transmission: &wire.Transmission{Kind: wire.TransmissionUnavailable},
			Ephemeral:    o.ephemeralBundle(docID, includeEphemeral),
		}
	}

	localVersion := ds.Doc.Version()

	var reqVersion crdt.VersionVector
	if len(requesterVersion) == 0 {
		reqVersion = o.model.Factory.EmptyVersion()
	} else {
		v, err := o.model.Factory.DecodeVersionVector(requesterVersion)
		if err != nil {
			reqVersion = o.model.Factory.EmptyVersion()
		} else {
			reqVersion = v
		}
	}

	if reqVersion.Length() == 0 {
		data, err := ds.Doc.Export(crdt.ExportSnapshot, nil)
		if err != nil {
			return wire.Message{Kind: wire.KindSyncResponse, DocID: docID, Transmission: &wire.Transmission{Kind: wire.TransmissionUnavailable}}
		}
		return wire.Message{
			Kind:         wire.KindSyncResponse,
			DocID:        docID,
			Transmission: &wire.Transmission{Kind: wire.TransmissionSnapshot, Data: data, Version: localVersion.Encode()},
			Ephemeral:    o.ephemeralBundle(docID, includeEphemeral),
		}
	}

	switch localVersion.Compare(reqVersion) {
	case crdt.OrderingEqual:
		return wire.Message{
			Kind:         wire.KindSyncResponse,
			DocID:        docID,
			Transmission: &wire.Transmission{Kind: wire.TransmissionUpToDate, Version: localVersion.Encode()},
			Ephemeral:    o.ephemeralBundle(docID, includeEphemeral),
		}
	case crdt.OrderingLess:
		// Requester is ahead of us: nothing to send but we're not behind
		// either — per spec's tie-break table, requester-ahead-with-nonempty
		// requester also maps to up-to-date.
		return wire.Message{
			Kind:         wire.KindSyncResponse,
			DocID:        docID,
			Transmission: &wire.Transmission{Kind: wire.TransmissionUpToDate, Version: localVersion.Encode()},
			Ephemeral:    o.ephemeralBundle(docID, includeEphemeral),
		}
	default: // OrderingGreater or OrderingConcurrent: send an update delta
		data, err := ds.Doc.Export(crdt.ExportUpdateFrom, reqVersion)
		if err != nil {
			return wire.Message{Kind: wire.KindSyncResponse, DocID: docID, Transmission: &wire.Transmission{Kind: wire.TransmissionUnavailable}}
		}
		return wire.Message{
			Kind:         wire.KindSyncResponse,
			DocID:        docID,
			Transmission: &wire.Transmission{Kind: wire.TransmissionUpdate, Data: data, Version: localVersion.Encode()},
			Ephemeral:    o.ephemeralBundle(docID, includeEphemeral),
		}
	}
}

func readyStatusFor(kind wire.TransmissionKind) ReadyStatus {
	switch kind {
	case wire.TransmissionSnapshot, wire.TransmissionUpdate:
		return StatusRespondedWithData
	default:
		return StatusRespondedNoData
	}
}

func subscriberChannels(ds *DocState, except p2p.ChannelID) []p2p.ChannelID {
	var out []p2p.ChannelID
	for id := range ds.Subscribers {
		if id != except {
			out = append(out, id)
		}
	}
	return out
}
