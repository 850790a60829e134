package sync

import (
	"context"
	"time"

	"github.com/cometbft/docsync/crdt"
	"github.com/cometbft/docsync/ephemeral"
	"github.com/cometbft/docsync/libs/log"
	docsync_sync "github.com/cometbft/docsync/libs/sync"
	"github.com/cometbft/docsync/p2p"
	"github.com/cometbft/docsync/wire"
)

// Options configures a Synchronizer: identity, adapters, optional
// permissions, middleware, and update callback.
type Options struct {
	Identity          wire.Identity
	Factory           crdt.Factory
	Permissions       Permissions
	Middleware        []MiddlewareFunc
	HeartbeatInterval time.Duration
	EphemeralHopLimit uint8
	Logger            log.Logger
	Metrics           *Metrics
	// OnUpdate, if set, is called whenever a sync-response or update message
	// is imported into a document (a thin convenience hook layered over the
	// emitter events, matching the source library's constructor option).
	OnUpdate func(docID string)
}

// Synchronizer is the thin application-facing façade. It implements
// p2p.Handlers and owns the model, the work
// queue, the ephemeral store manager and the adapter registry.
type Synchronizer struct {
	mu docsync_sync.RWMutex

	model     *Model
	reducer   *Reducer
	ephemeral *ephemeral.Manager
	queue     *WorkQueue
	batcher   *Batcher
	emitter   *Emitter
	adapters  *p2p.Manager
	log       log.Logger
	metrics   *Metrics
	mw        *Middleware
	onUpdate  func(docID string)

	heartbeat *heartbeatTimer
}

// New constructs a Synchronizer. It registers itself as the p2p.Manager's
// Handlers, so callers typically do:
//
//	s := sync.New(opts)
//	s.Adapters().AddAdapter(myAdapter)
func New(opts Options) *Synchronizer {
	logger := opts.Logger
	if logger == nil {
		logger = log.NopLogger()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = NopMetrics()
	}
	hopLimit := opts.EphemeralHopLimit
	if hopLimit == 0 {
		hopLimit = 8
	}

	s := &Synchronizer{log: logger, metrics: metrics, onUpdate: opts.OnUpdate}

	s.ephemeral = ephemeral.NewManager(func(docID, namespace string) {
		s.queue.Dispatch(EphemeralLocalChangeEvent{DocID: docID, Namespace: namespace})
	})
	s.model = NewModel(opts.Factory, opts.Identity, opts.Permissions, hopLimit)
	s.reducer = NewReducer(s.model, s.ephemeral)
	s.batcher = NewBatcher()
	s.emitter = NewEmitter()

	if len(opts.Middleware) > 0 {
		s.mw = NewMiddleware(opts.Middleware...)
	}

	s.adapters = p2p.NewManager(s, logger)
	s.queue = NewWorkQueue(s.model, s.reducer, s.batcher, s.mw, s.emitter, logger, metrics, s.sendToChannel, &s.mu)

	heartbeatInterval := opts.HeartbeatInterval
	if heartbeatInterval <= 0 {
		heartbeatInterval = 10 * time.Second
	}
	s.heartbeat = newHeartbeatTimer(logger, heartbeatInterval, func() {
		s.queue.Dispatch(HeartbeatEvent{})
	})

	return s
}

func (s *Synchronizer) sendToChannel(id p2p.ChannelID, msg wire.Message) {
	s.adapters.Send(id, msg)
	if s.onUpdate != nil && msg.Kind == wire.KindSyncResponse && msg.Transmission != nil {
		switch msg.Transmission.Kind {
		case wire.TransmissionSnapshot, wire.TransmissionUpdate:
			s.onUpdate(msg.DocID)
		}
	}
}

// --- p2p.Handlers ---

func (s *Synchronizer) ChannelAdded(ch *p2p.Channel) {
	s.queue.Dispatch(ChannelAddedEvent{ChannelID: ch.ID(), Kind: ch.Kind(), AdapterType: ch.AdapterType()})
}

func (s *Synchronizer) ChannelEstablish(ch *p2p.Channel) {
	s.queue.Dispatch(EstablishChannelEvent{ChannelID: ch.ID()})
}

func (s *Synchronizer) ChannelRemoved(ch *p2p.Channel) {
	s.queue.Dispatch(ChannelRemovedEvent{ChannelID: ch.ID()})
}

func (s *Synchronizer) ChannelReceive(id p2p.ChannelID, msg wire.Message) {
	s.queue.Dispatch(ChannelReceiveEvent{ChannelID: id, Message: msg})
}

// --- Adapter registry passthrough ---

func (s *Synchronizer) Adapters() *p2p.Manager { return s.adapters }

func (s *Synchronizer) AddAdapter(a p2p.Adapter) error    { return s.adapters.AddAdapter(a) }
func (s *Synchronizer) RemoveAdapter(t string) error      { return s.adapters.RemoveAdapter(t) }
func (s *Synchronizer) HasAdapter(t string) bool          { return s.adapters.HasAdapter(t) }
func (s *Synchronizer) GetAdapter(t string) (p2p.Adapter, bool) { return s.adapters.GetAdapter(t) }

// --- Document lifecycle ---

// EnsureDocument creates docID locally if it doesn't already exist.
func (s *Synchronizer) EnsureDocument(docID string) {
	s.queue.Dispatch(DocEnsureEvent{DocID: docID})
}

// RemoveDocument deletes docID and broadcasts delete-request to subscribers.
func (s *Synchronizer) RemoveDocument(docID string) {
	s.queue.Dispatch(DocDeleteEvent{DocID: docID})
}

// AnnounceNewDocuments advertises docIDs to every established channel.
func (s *Synchronizer) AnnounceNewDocuments(docIDs []string) {
	s.queue.Dispatch(DocNewEvent{DocIDs: docIDs})
}

// GetDocumentState returns the document handle for docID, if known.
func (s *Synchronizer) GetDocumentState(docID string) (crdt.Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ds, ok := s.model.Docs[docID]
	if !ok || ds.Doc == nil {
		return nil, false
	}
	return ds.Doc, true
}

// GetOrCreateDocumentState ensures docID exists and returns its handle.
func (s *Synchronizer) GetOrCreateDocumentState(docID string) crdt.Document {
	s.EnsureDocument(docID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.model.Docs[docID].Doc
}

// --- Peers and readiness ---

// PeerInfo is a read-only snapshot of one tracked peer.
type PeerInfo struct {
	PeerID string
	Name   string
	Role   wire.Role
}

func (s *Synchronizer) GetPeers() []PeerInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]PeerInfo, 0, len(s.model.Peers))
	for _, p := range s.model.Peers {
		out = append(out, PeerInfo{PeerID: p.PeerID, Name: p.Name, Role: p.Role})
	}
	return out
}

func (s *Synchronizer) GetReadyStates(docID string) []ReadyState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ds, ok := s.model.Docs[docID]
	if !ok {
		return nil
	}
	return snapshotReadyStates(ds)
}

// WaitUntilReady awaits predicate(readyStates) for docID, with the supplied
// deadline (or no deadline if ctx carries none).
func (s *Synchronizer) WaitUntilReady(ctx context.Context, docID string, predicate func([]ReadyState) bool) error {
	return WaitUntilReady(ctx, s.emitter, func() []ReadyState { return s.GetReadyStates(docID) }, docID, predicate)
}

// Subscribe registers ch to receive every emitted event.
func (s *Synchronizer) Subscribe(ch chan<- Emission) func() { return s.emitter.Subscribe(ch) }

// --- Heartbeat ---

func (s *Synchronizer) StartHeartbeat() error { return s.heartbeat.Start() }
func (s *Synchronizer) StopHeartbeat() error  { return s.heartbeat.Stop() }

// --- Ephemeral stores ---

func (s *Synchronizer) GetOrCreateNamespacedStore(docID, namespace string) ephemeral.ExternalStore {
	return s.ephemeral.GetOrCreate(docID, namespace)
}

func (s *Synchronizer) RegisterExternalStore(docID, namespace string, store ephemeral.ExternalStore) error {
	return s.ephemeral.RegisterExternal(docID, namespace, store)
}

func (s *Synchronizer) BroadcastNamespacedStore(docID, namespace string) {
	s.queue.Dispatch(EphemeralLocalChangeEvent{DocID: docID, Namespace: namespace})
}

// --- Reset ---

// Reset reinitializes the model and resets every adapter's channel set.
// It is the only terminal operation the synchronizer exposes.
func (s *Synchronizer) Reset() {
	s.mu.Lock()
	s.model = NewModel(s.model.Factory, s.model.Local, s.model.Permissions, s.model.EphemeralHopLimit)
	s.reducer = NewReducer(s.model, s.ephemeral)
	s.batcher = NewBatcher()
	s.queue = NewWorkQueue(s.model, s.reducer, s.batcher, s.mw, s.emitter, s.log, s.metrics, s.sendToChannel, &s.mu)
	s.mu.Unlock()

	s.ephemeral.Reset()
	s.adapters.ResetChannels()
}
