package sync

import (
	"github.com/cometbft/docsync/p2p"
	"github.com/cometbft/docsync/wire"
)

// MiddlewareFunc is one link in the pre-dispatch filter chain: given a
// channel and an inbound message, it allows (possibly rewritten), or
// rejects.
type MiddlewareFunc func(channelID p2p.ChannelID, msg wire.Message) (rewritten wire.Message, allow bool)

// Middleware runs a chain of MiddlewareFunc before the reducer sees a
// message. For a channel/batch, each link is applied per inner message and
// surviving messages are re-bundled; rejected messages are dropped
// silently, matching the source library's behavior of not logging to avoid
// consumer noise.
type Middleware struct {
	chain []MiddlewareFunc
	// onPanic is an optional diagnostic hook: a middleware link that panics
	// is still treated as a silent rejection, but onPanic, if set, is
	// invoked first so programmer errors aren't eaten entirely.
	onPanic func(channelID p2p.ChannelID, recovered any)
}

// NewMiddleware builds a chain from fns, applied in order.
func NewMiddleware(fns ...MiddlewareFunc) *Middleware {
	return &Middleware{chain: fns}
}

// OnPanic installs the diagnostic hook described above.
func (m *Middleware) OnPanic(hook func(channelID p2p.ChannelID, recovered any)) {
	m.onPanic = hook
}

// Apply runs msg through the chain, unwrapping and re-wrapping batches.
// It returns ok=false when the message (or every inner message of a batch)
// was rejected.
func (m *Middleware) Apply(channelID p2p.ChannelID, msg wire.Message) (wire.Message, bool) {
	if msg.Kind == wire.KindBatch {
		var survivors []wire.Message
		for _, inner := range msg.Messages {
			if out, ok := m.applyOne(channelID, inner); ok {
				survivors = append(survivors, out)
			}
		}
		if len(survivors) == 0 {
			return wire.Message{}, false
		}
		if len(survivors) == 1 {
			return survivors[0], true
		}
		return wire.Message{Kind: wire.KindBatch, Messages: survivors}, true
	}
	return m.applyOne(channelID, msg)
}

func (m *Middleware) applyOne(channelID p2p.ChannelID, msg wire.Message) (out wire.Message, allow bool) {
	current := msg
	for _, fn := range m.chain {
		rewritten, ok := m.invoke(fn, channelID, current)
		if !ok {
			return wire.Message{}, false
		}
		current = rewritten
	}
	return current, true
}

func (m *Middleware) invoke(fn MiddlewareFunc, channelID p2p.ChannelID, msg wire.Message) (out wire.Message, allow bool) {
	defer func() {
		if rec := recover(); rec != nil {
			if m.onPanic != nil {
				m.onPanic(channelID, rec)
			}
			allow = false
		}
	}()
	return fn(channelID, msg)
}
