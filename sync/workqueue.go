package sync

import (
	"github.com/cometbft/docsync/libs/log"
	docsync_sync "github.com/cometbft/docsync/libs/sync"
	"github.com/cometbft/docsync/p2p"
	"github.com/cometbft/docsync/wire"
)

// WorkQueue serializes dispatch and absorbs reentrant calls arriving while a
// dispatch is already in flight: the outermost Dispatch sets depth to 1, any
// call made while depth is set only enqueues its event, and the outermost
// call drains the queue, running the ready-state diff plus the outbound
// flush each time the queue empties, before resetting depth to 0.
type WorkQueue struct {
	mu    docsync_sync.Mutex
	depth int
	queue []Event

	// modelMu is the owning Synchronizer's RWMutex. Dispatch takes it for
	// the full drain-plus-flush cycle (including any further rounds
	// triggered by events that arrive while that cycle is running), so the
	// Synchronizer's read accessors — which only ever RLock it — see a
	// consistent model instead of racing a reducer mutation or a batcher
	// flush in progress.
	modelMu *docsync_sync.RWMutex

	model      *Model
	reducer    *Reducer
	batcher    *Batcher
	middleware *Middleware
	emitter    *Emitter
	log        log.Logger
	metrics    *Metrics

	send func(p2p.ChannelID, wire.Message)
}

// NewWorkQueue wires the reducer, batcher, middleware and emitter into a
// single dispatch entry point. send is called once per channel at
// quiescence, with either a lone message or a channel/batch wrapper.
// modelMu is locked for the duration of every drain-plus-flush cycle; pass
// nil only when no concurrent accessor ever reads model (e.g. in tests that
// dispatch from a single goroutine and never call a Synchronizer accessor
// in parallel).
func NewWorkQueue(model *Model, reducer *Reducer, batcher *Batcher, mw *Middleware, emitter *Emitter, logger log.Logger, metrics *Metrics, send func(p2p.ChannelID, wire.Message), modelMu *docsync_sync.RWMutex) *WorkQueue {
	if logger == nil {
		logger = log.NopLogger()
	}
	if metrics == nil {
		metrics = NopMetrics()
	}
	return &WorkQueue{
		model:      model,
		reducer:    reducer,
		batcher:    batcher,
		middleware: mw,
		emitter:    emitter,
		log:        logger,
		metrics:    metrics,
		send:       send,
		modelMu:    modelMu,
	}
}

func (wq *WorkQueue) lockModel() {
	if wq.modelMu != nil {
		wq.modelMu.Lock()
	}
}

func (wq *WorkQueue) unlockModel() {
	if wq.modelMu != nil {
		wq.modelMu.Unlock()
	}
}

// Dispatch is the single entry point for every event, inbound or local. A
// call arriving while a previous Dispatch is still processing — whether
// reentrantly from within that Dispatch's own command effects, or from a
// genuinely concurrent goroutine, as every established p2p channel drives
// its own Dispatch calls from its own read loop — is appended to the
// internal queue instead of run inline. The goroutine that wins the
// transition from depth 0 to 1 holds modelMu (the owning Synchronizer's
// model lock) for the full drain-plus-flush cycle, including any further
// round triggered by an event that arrived while that cycle was running, so
// a concurrent caller queues behind the whole cycle instead of racing
// flush's reads of model and batcher state, and so the Synchronizer's RLock
// accessors actually exclude against it.
func (wq *WorkQueue) Dispatch(ev Event) {
	wq.mu.Lock()
	if wq.depth > 0 {
		wq.queue = append(wq.queue, ev)
		wq.mu.Unlock()
		return
	}
	wq.depth = 1
	wq.mu.Unlock()

	wq.lockModel()
	defer wq.unlockModel()

	wq.drain(ev)
	wq.flush()

	for {
		wq.mu.Lock()
		if len(wq.queue) == 0 {
			wq.depth = 0
			wq.mu.Unlock()
			return
		}
		next := wq.queue[0]
		wq.queue = wq.queue[1:]
		wq.mu.Unlock()

		wq.drain(next)
		wq.flush()
	}
}

func (wq *WorkQueue) drain(first Event) {
	current := first
	for {
		wq.process(current)

		wq.mu.Lock()
		if len(wq.queue) == 0 {
			wq.mu.Unlock()
			return
		}
		current = wq.queue[0]
		wq.queue = wq.queue[1:]
		wq.mu.Unlock()
	}
}

func (wq *WorkQueue) process(ev Event) {
	if recv, ok := ev.(ChannelReceiveEvent); ok {
		wq.metrics.MessagesReceived.WithLabelValues(recv.Message.Kind.String()).Inc()
		if wq.middleware != nil {
			rewritten, allow := wq.middleware.Apply(recv.ChannelID, recv.Message)
			if !allow {
				return
			}
			ev = ChannelReceiveEvent{ChannelID: recv.ChannelID, Message: rewritten}
		}
	}

	cmds, err := wq.reducer.Reduce(ev)
	if err != nil {
		wq.log.Error("reducer error", "err", err)
		wq.metrics.ReducerErrors.Inc()
	}
	wq.applyCmds(cmds)
}

func (wq *WorkQueue) applyCmds(cmds []Cmd) {
	for _, c := range cmds {
		switch cmd := c.(type) {
		case SendMessageCmd:
			wq.metrics.MessagesSent.WithLabelValues(cmd.Message.Kind.String()).Inc()
			if cmd.Message.Kind.IsBatchable() {
				wq.batcher.Queue(cmd.ChannelID, cmd.Message)
			} else {
				wq.send(cmd.ChannelID, cmd.Message)
			}
		case EmitPeerAddedCmd:
			wq.emitter.Emit(Emission{Kind: EventPeerAdded, PeerID: cmd.PeerID})
		case EmitPeerRemovedCmd:
			wq.emitter.Emit(Emission{Kind: EventPeerRemoved, PeerID: cmd.PeerID})
		case EmitDocAddedCmd:
			wq.emitter.Emit(Emission{Kind: EventDocAdded, DocID: cmd.DocID})
		case EmitDocRemovedCmd:
			wq.emitter.Emit(Emission{Kind: EventDocRemoved, DocID: cmd.DocID})
		}
	}
}

// flush runs the ready-state diff and then drains the
// batcher. Both happen exactly once per quiescence point.
func (wq *WorkQueue) flush() {
	for docID, ds := range wq.model.Docs {
		snap := snapshotReadyStates(ds)
		if !readyStatesEqual(snap, ds.prevReadySnap) {
			ds.prevReadySnap = snap
			wq.emitter.Emit(Emission{Kind: EventReadyStateChanged, DocID: docID, ReadyStates: snap})
		}
	}
	wq.batcher.Flush(wq.send)

	wq.metrics.ChannelsActive.Set(float64(len(wq.model.Channels)))
	wq.metrics.PeersActive.Set(float64(len(wq.model.Peers)))
	wq.metrics.DocsKnown.Set(float64(len(wq.model.knownDocIDs())))
}
