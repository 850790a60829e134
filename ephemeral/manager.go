package ephemeral

import (
	"fmt"

	"github.com/pkg/errors"

	docsync_sync "github.com/cometbft/docsync/libs/sync"
)

// ErrStoreAlreadyRegistered is returned by RegisterExternal when a store
// already exists for the given (docID, namespace).
type ErrStoreAlreadyRegistered struct {
	DocID     string
	Namespace string
}

func (e ErrStoreAlreadyRegistered) Error() string {
	return fmt.Sprintf("ephemeral store already registered for doc=%s namespace=%s", e.DocID, e.Namespace)
}

type key struct {
	docID     string
	namespace string
}

// OnLocalChange is invoked whenever a managed store observes a local
// mutation; the synchronizer wires this to dispatch an
// ephemeral-local-change message.
type OnLocalChange func(docID, namespace string)

// Manager owns every namespaced store for a single synchronizer instance;
// registered external stores remain owned by their registrant.
type Manager struct {
	mu            docsync_sync.RWMutex
	stores        map[key]ExternalStore
	unsubscribe   map[key]func()
	onLocalChange OnLocalChange
}

// NewManager constructs an empty Manager. onLocalChange may be nil.
func NewManager(onLocalChange OnLocalChange) *Manager {
	return &Manager{
		stores:      make(map[key]ExternalStore),
		unsubscribe: make(map[key]func()),
		onLocalChange: onLocalChange,
	}
}

// GetOrCreate returns the store for (docID, namespace), creating a built-in
// Store on first access and subscribing it to local-change notification.
func (m *Manager) GetOrCreate(docID, namespace string) ExternalStore {
	k := key{docID, namespace}

	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.stores[k]; ok {
		return s
	}
	s := NewStore()
	m.stores[k] = s
	m.unsubscribe[k] = s.SubscribeLocalUpdates(m.notifier(docID, namespace))
	return s
}

// RegisterExternal installs an application-supplied store for (docID,
// namespace). It fails if one already exists (invariant 6).
func (m *Manager) RegisterExternal(docID, namespace string, store ExternalStore) error {
	k := key{docID, namespace}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.stores[k]; ok {
		return errors.WithStack(ErrStoreAlreadyRegistered{DocID: docID, Namespace: namespace})
	}
	m.stores[k] = store
	m.unsubscribe[k] = store.SubscribeLocalUpdates(m.notifier(docID, namespace))
	return nil
}

// Get returns the store for (docID, namespace) if one exists.
func (m *Manager) Get(docID, namespace string) (ExternalStore, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.stores[key{docID, namespace}]
	return s, ok
}

// ForDoc returns every namespace->store pair registered for docID.
func (m *Manager) ForDoc(docID string) map[string]ExternalStore {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]ExternalStore)
	for k, s := range m.stores {
		if k.docID == docID {
			out[k.namespace] = s
		}
	}
	return out
}

// ApplyBundle merges wire-level ephemeral entries into the matching stores,
// creating any that don't yet exist.
func (m *Manager) ApplyBundle(docID string, entries []EphemeralEntry) {
	for _, e := range entries {
		store := m.GetOrCreate(docID, e.Namespace)
		store.Set(e.PeerID, e.Data)
	}
}

// EphemeralEntry mirrors wire.EphemeralEntry without importing the wire
// package, so ephemeral has no dependency on the protocol layer; sync glues
// the two together.
type EphemeralEntry struct {
	PeerID    string
	Namespace string
	Data      []byte
}

// EncodeAllForDoc returns one entry per (namespace, peerID) with nonempty
// data across every store registered for docID.
func (m *Manager) EncodeAllForDoc(docID string) []EphemeralEntry {
	var out []EphemeralEntry
	for ns, store := range m.ForDoc(docID) {
		for peerID, data := range store.GetAllStates() {
			if len(data) == 0 {
				continue
			}
			out = append(out, EphemeralEntry{PeerID: peerID, Namespace: ns, Data: data})
		}
	}
	return out
}

// Reset unsubscribes every store and clears the manager; a Manager lives
// until the enclosing synchronizer resets.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, unsub := range m.unsubscribe {
		unsub()
	}
	m.stores = make(map[key]ExternalStore)
	m.unsubscribe = make(map[key]func())
}

func (m *Manager) notifier(docID, namespace string) func() {
	return func() {
		if m.onLocalChange != nil {
			m.onLocalChange(docID, namespace)
		}
	}
}
