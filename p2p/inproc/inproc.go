// Package inproc provides a zero-copy adapter pair that bridges two
// synchronizer instances within the same process, for tests and for hosting
// multiple docsync peers inside a single binary without a real transport.
package inproc

import (
	"sync"

	"github.com/cometbft/docsync/p2p"
	"github.com/cometbft/docsync/wire"
)

const adapterType = "inproc"

// Bridge connects two p2p.Manager instances with an in-memory channel pair.
// Each side sees the other as a single network-kind Channel.
type Bridge struct {
	closeOnce sync.Once
	stopCh    chan struct{}

	aSide *side
	bSide *side
}

type side struct {
	mgr *p2p.Manager
	ch  *p2p.Channel
	out chan wire.Message
}

func (s *side) Type() string { return adapterType }
func (s *side) Stop() error  { return nil }

// Connect wires mgrA and mgrB together, creating a channel on each side and
// starting the two relay goroutines, then hands both channels to Establish,
// which runs the establish-request/response handshake over the bridge.
func Connect(mgrA, mgrB *p2p.Manager) *Bridge {
	b := &Bridge{stopCh: make(chan struct{})}

	b.aSide = &side{mgr: mgrA, out: make(chan wire.Message, 64)}
	b.bSide = &side{mgr: mgrB, out: make(chan wire.Message, 64)}

	_ = mgrA.AddAdapter(b.aSide)
	_ = mgrB.AddAdapter(b.bSide)

	b.aSide.ch = mgrA.NewChannel(adapterType, p2p.KindNetwork, b.sendFrom(b.aSide), b.stop)
	b.bSide.ch = mgrB.NewChannel(adapterType, p2p.KindNetwork, b.sendFrom(b.bSide), b.stop)

	go b.relay(b.aSide, b.bSide)
	go b.relay(b.bSide, b.aSide)

	mgrA.Establish(b.aSide.ch)
	mgrB.Establish(b.bSide.ch)

	return b
}

func (b *Bridge) sendFrom(s *side) func(wire.Message) error {
	return func(msg wire.Message) error {
		select {
		case s.out <- msg:
			return nil
		case <-b.stopCh:
			return nil
		}
	}
}

func (b *Bridge) relay(from, to *side) {
	for {
		select {
		case msg := <-from.out:
			to.mgr.Receive(to.ch.ID(), msg)
		case <-b.stopCh:
			return
		}
	}
}

// Stop tears down both sides of the bridge. Safe to call more than once and
// safe to call from either side's adapter Stop().
func (b *Bridge) stop() error {
	b.closeOnce.Do(func() {
		close(b.stopCh)
		b.aSide.mgr.Remove(b.aSide.ch)
		b.bSide.mgr.Remove(b.bSide.ch)
	})
	return nil
}

// Stop is the exported form, for callers holding the Bridge directly rather
// than reaching it through a Channel's Stop.
func (b *Bridge) Stop() error { return b.stop() }
