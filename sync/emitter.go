package sync

import (
	"context"
	"time"

	docsync_sync "github.com/cometbft/docsync/libs/sync"
)

// EventKind discriminates an emitted synchronizer event.
type EventKind uint8

const (
	EventReadyStateChanged EventKind = iota
	EventPeerAdded
	EventPeerRemoved
	EventDocAdded
	EventDocRemoved
)

// Emission is one broadcast event. ReadyStates is populated only for
// EventReadyStateChanged.
type Emission struct {
	Kind       EventKind
	DocID      string
	PeerID     string
	ReadyStates []ReadyState
}

// Emitter is a fan-out broadcast over subscriber handles, replacing an
// async event iterator with a broadcast over sender handles.
type Emitter struct {
	mu   docsync_sync.Mutex
	subs map[int]chan<- Emission
	next int
}

// NewEmitter constructs an empty Emitter.
func NewEmitter() *Emitter {
	return &Emitter{subs: make(map[int]chan<- Emission)}
}

// Subscribe registers ch to receive every future emission. The returned
// func unsubscribes. Sends are non-blocking: a subscriber that falls behind
// misses emissions rather than stalling the synchronizer.
func (e *Emitter) Subscribe(ch chan<- Emission) func() {
	e.mu.Lock()
	id := e.next
	e.next++
	e.subs[id] = ch
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.subs, id)
		e.mu.Unlock()
	}
}

// Emit broadcasts em to every current subscriber.
func (e *Emitter) Emit(em Emission) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ch := range e.subs {
		select {
		case ch <- em:
		default:
		}
	}
}

// WaitUntilReady blocks until predicate is satisfied by a ready-state
// emission for docID, or is already true, or ctx is done. It models a
// condition variable as a single-consumer channel gated by the predicate.
func WaitUntilReady(ctx context.Context, e *Emitter, current func() []ReadyState, docID string, predicate func([]ReadyState) bool) error {
	if predicate(current()) {
		return nil
	}

	ch := make(chan Emission, 8)
	unsub := e.Subscribe(ch)
	defer unsub()

	// Re-check after subscribing to close the race where the condition
	// became true between the first check and Subscribe.
	if predicate(current()) {
		return nil
	}

	for {
		select {
		case em := <-ch:
			if em.Kind == EventReadyStateChanged && em.DocID == docID && predicate(em.ReadyStates) {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// DeadlineContext derives a context from parent bounded by timeout; a zero
// or negative timeout yields a cancel-only context with no deadline.
func DeadlineContext(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, timeout)
}
