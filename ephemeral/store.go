// Package ephemeral implements the per-(doc, namespace) short-lived stores
// that carry presence-like data. A Store holds one value
// per remote peer id; local mutations fan out to subscribers so the
// synchronizer can react with an ephemeral-local-change message.
package ephemeral

import (
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
)

// ExternalStore is the interface the synchronizer consumes an ephemeral
// store through, whether built-in (Store) or supplied by the application
// via RegisterExternalStore.
type ExternalStore interface {
	Set(key string, value []byte)
	Get(key string) ([]byte, bool)
	Delete(key string)
	GetAllStates() map[string][]byte
	EncodeAll() ([]byte, error)
	Apply(data []byte) error
	// SubscribeLocalUpdates registers cb to be invoked after any local Set/Delete.
	// The returned func unsubscribes.
	SubscribeLocalUpdates(cb func()) (unsubscribe func())
}

// Store is the built-in ExternalStore implementation.
type Store struct {
	mu          sync.RWMutex
	state       map[string][]byte
	subscribers map[int]func()
	nextSubID   int
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		state:       make(map[string][]byte),
		subscribers: make(map[int]func()),
	}
}

// Set stores value under key (normally the setting peer's own peerId) and
// notifies local subscribers.
func (s *Store) Set(key string, value []byte) {
	s.mu.Lock()
	s.state[key] = value
	subs := s.snapshotSubscribers()
	s.mu.Unlock()

	notify(subs)
}

// Get retrieves the value stored under key.
func (s *Store) Get(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.state[key]
	return v, ok
}

// Delete removes key and notifies local subscribers.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	delete(s.state, key)
	subs := s.snapshotSubscribers()
	s.mu.Unlock()

	notify(subs)
}

// GetAllStates returns a copy of every key/value currently held.
func (s *Store) GetAllStates() map[string][]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]byte, len(s.state))
	for k, v := range s.state {
		out[k] = v
	}
	return out
}

// EncodeAll serializes the full store state.
func (s *Store) EncodeAll() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, err := cbor.Marshal(s.state)
	if err != nil {
		return nil, errors.Wrap(err, "encoding ephemeral store")
	}
	return b, nil
}

// Apply merges a remote-encoded full state (as produced by EncodeAll) into
// this store, overwriting locally held keys it mentions. It does not notify
// local subscribers: applying remote state is not a local change.
func (s *Store) Apply(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	var incoming map[string][]byte
	if err := cbor.Unmarshal(data, &incoming); err != nil {
		return errors.Wrap(err, "decoding ephemeral store")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range incoming {
		s.state[k] = v
	}
	return nil
}

// SubscribeLocalUpdates implements ExternalStore.
func (s *Store) SubscribeLocalUpdates(cb func()) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = cb
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subscribers, id)
		s.mu.Unlock()
	}
}

func (s *Store) snapshotSubscribers() []func() {
	out := make([]func(), 0, len(s.subscribers))
	for _, cb := range s.subscribers {
		out = append(out, cb)
	}
	return out
}

func notify(subs []func()) {
	for _, cb := range subs {
		cb()
	}
}
