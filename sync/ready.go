package sync

import (
	"sort"

	"github.com/cometbft/docsync/p2p"
)

// ReadyStatus is one channel's contribution state toward a document's
// readiness.
type ReadyStatus uint8

const (
	StatusPending ReadyStatus = iota
	StatusRespondedWithData
	StatusRespondedNoData
)

func (s ReadyStatus) String() string {
	switch s {
	case StatusRespondedWithData:
		return "responded-with-data"
	case StatusRespondedNoData:
		return "responded-with-no-data"
	default:
		return "pending"
	}
}

// ReadyState is one (channel, doc) contributor record.
type ReadyState struct {
	ChannelID p2p.ChannelID
	Kind      p2p.Kind
	PeerID    string
	Status    ReadyStatus
}

// snapshotReadyStates returns a deterministic-order copy of a doc's current
// ready states, for deep-equal comparison at quiescence.
func snapshotReadyStates(ds *DocState) []ReadyState {
	out := make([]ReadyState, 0, len(ds.ReadyStates))
	for _, rs := range ds.ReadyStates {
		out = append(out, rs)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChannelID < out[j].ChannelID })
	return out
}

func readyStatesEqual(a, b []ReadyState) bool {
	if len(a) != len(b) {
		return false
	}
	idx := make(map[p2p.ChannelID]ReadyState, len(a))
	for _, rs := range a {
		idx[rs.ChannelID] = rs
	}
	for _, rs := range b {
		prev, ok := idx[rs.ChannelID]
		if !ok || prev != rs {
			return false
		}
	}
	return true
}
