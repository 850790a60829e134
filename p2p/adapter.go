package p2p

import (
	"github.com/pkg/errors"

	"github.com/cometbft/docsync/libs/log"
	docsync_sync "github.com/cometbft/docsync/libs/sync"
	"github.com/cometbft/docsync/wire"
)

// ErrDuplicateAdapter is returned by AddAdapter when the adapter type is
// already registered.
type ErrDuplicateAdapter struct{ Type string }

func (e ErrDuplicateAdapter) Error() string { return "adapter already registered: " + e.Type }

// ErrUnknownChannel is returned when an operation names a channel id the
// Manager has no record of.
var ErrUnknownChannel = errors.New("p2p: unknown channel")

// Adapter is implemented by every transport: each exposes a typed
// identifier (adapterType) and manages a set of channels.
type Adapter interface {
	// Type returns this adapter's stable identifier, used for idempotent add/remove.
	Type() string
	// Stop terminates the adapter and every channel it owns.
	Stop() error
}

// Handlers is implemented by the synchronizer and driven by Manager — the
// four adapter-facing entry points every adapter calls into.
type Handlers interface {
	ChannelAdded(ch *Channel)
	ChannelEstablish(ch *Channel)
	ChannelRemoved(ch *Channel)
	ChannelReceive(id ChannelID, msg wire.Message)
}

// Manager is the registry of transport adapters, the docsync analog of
// cometbft's p2p.Switch.
type Manager struct {
	mu       docsync_sync.Mutex
	log      log.Logger
	handlers Handlers

	nextID   uint64
	adapters map[string]Adapter
	owned    map[string]map[ChannelID]struct{}
	byID     map[ChannelID]*Channel
}

// NewManager constructs a Manager dispatching to handlers.
func NewManager(handlers Handlers, logger log.Logger) *Manager {
	if logger == nil {
		logger = log.NopLogger()
	}
	return &Manager{
		log:      logger,
		handlers: handlers,
		adapters: make(map[string]Adapter),
		owned:    make(map[string]map[ChannelID]struct{}),
		byID:     make(map[ChannelID]*Channel),
	}
}

// AddAdapter registers an adapter. Idempotent by adapterType.
func (m *Manager) AddAdapter(a Adapter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.adapters[a.Type()]; exists {
		return errors.WithStack(ErrDuplicateAdapter{Type: a.Type()})
	}
	m.adapters[a.Type()] = a
	m.owned[a.Type()] = make(map[ChannelID]struct{})
	m.log.Info("adapter added", "type", a.Type())
	return nil
}

// RemoveAdapter stops and removes an adapter, removing every channel it owns.
// Idempotent: removing an unknown type is a no-op.
func (m *Manager) RemoveAdapter(adapterType string) error {
	m.mu.Lock()
	a, ok := m.adapters[adapterType]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	owned := m.owned[adapterType]
	var channels []*Channel
	for id := range owned {
		if ch, ok := m.byID[id]; ok {
			channels = append(channels, ch)
		}
	}
	delete(m.adapters, adapterType)
	delete(m.owned, adapterType)
	for _, ch := range channels {
		delete(m.byID, ch.ID())
	}
	m.mu.Unlock()

	for _, ch := range channels {
		m.handlers.ChannelRemoved(ch)
	}
	if err := a.Stop(); err != nil {
		m.log.Error("adapter stop failed", "type", adapterType, "err", err)
		return err
	}
	m.log.Info("adapter removed", "type", adapterType)
	return nil
}

// HasAdapter reports whether adapterType is currently registered.
func (m *Manager) HasAdapter(adapterType string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.adapters[adapterType]
	return ok
}

// GetAdapter returns the registered adapter for adapterType, if any.
func (m *Manager) GetAdapter(adapterType string) (Adapter, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.adapters[adapterType]
	return a, ok
}

// NewChannel is called by an adapter when it opens a new transport-level
// connection. It assigns a ChannelID and notifies handlers.ChannelAdded.
func (m *Manager) NewChannel(adapterType string, kind Kind, send func(wire.Message) error, stop func() error) *Channel {
	m.mu.Lock()
	m.nextID++
	id := ChannelID(m.nextID)
	ch := &Channel{id: id, kind: kind, adapterType: adapterType, sendFn: send, stopFn: stop}
	m.byID[id] = ch
	if m.owned[adapterType] == nil {
		m.owned[adapterType] = make(map[ChannelID]struct{})
	}
	m.owned[adapterType][id] = struct{}{}
	m.mu.Unlock()

	m.handlers.ChannelAdded(ch)
	return ch
}

// Establish notifies handlers that ch should begin the establish handshake.
func (m *Manager) Establish(ch *Channel) {
	m.handlers.ChannelEstablish(ch)
}

// Remove unregisters ch and notifies handlers.ChannelRemoved. Adapters call
// this when their underlying transport connection closes.
func (m *Manager) Remove(ch *Channel) {
	m.mu.Lock()
	delete(m.byID, ch.ID())
	if set, ok := m.owned[ch.AdapterType()]; ok {
		delete(set, ch.ID())
	}
	m.mu.Unlock()

	m.handlers.ChannelRemoved(ch)
}

// Receive delivers a decoded inbound message from id to handlers.
func (m *Manager) Receive(id ChannelID, msg wire.Message) {
	m.handlers.ChannelReceive(id, msg)
}

// ResetChannels clears every adapter's channel set without removing the
// adapters themselves.
func (m *Manager) ResetChannels() {
	m.mu.Lock()
	m.byID = make(map[ChannelID]*Channel)
	for t := range m.owned {
		m.owned[t] = make(map[ChannelID]struct{})
	}
	m.mu.Unlock()
}

// Channel looks up a previously registered channel by id.
func (m *Manager) Channel(id ChannelID) (*Channel, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.byID[id]
	return ch, ok
}

// Send delivers msg to channel id. A send to a nonexistent or removed
// channel is logged as a warning and dropped, not treated as an error.
func (m *Manager) Send(id ChannelID, msg wire.Message) {
	ch, ok := m.Channel(id)
	if !ok {
		m.log.Error("dropping send to unknown channel", "channel", id, "kind", msg.Kind.String())
		return
	}
	if err := ch.Send(msg); err != nil {
		m.log.Error("channel send failed", "channel", id, "kind", msg.Kind.String(), "err", err)
	}
}
