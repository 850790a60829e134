// Package refdoc is a minimal reference CRDT used by docsync's own tests to
// exercise the crdt.Document / crdt.VersionVector contract without a
// network dependency on a production CRDT engine, which is treated as
// external and out of scope. It borrows the ledger-CRDT idiom from
// distributed-ledger integration tests, adapted from a chaincode ledger to
// an in-memory per-peer operation log: each container mutation is an
// append-only, causally-ordered operation tagged with a (peer, counter)
// pair, and a version vector is just the per-peer counter high-water
// marks.
package refdoc

import (
	"bytes"
	"sort"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"

	"github.com/cometbft/docsync/crdt"
)

// VV is a version vector: peerID -> highest operation counter seen from that peer.
type VV map[string]uint64

// Compare implements crdt.VersionVector.
func (v VV) Compare(other crdt.VersionVector) crdt.Ordering {
	ov, ok := other.(VV)
	if !ok {
		decoded, err := DecodeVV(other.Encode())
		if err != nil {
			return crdt.OrderingConcurrent
		}
		ov = decoded
	}

	lessOrEq, greaterOrEq := true, true
	peers := make(map[string]struct{}, len(v)+len(ov))
	for p := range v {
		peers[p] = struct{}{}
	}
	for p := range ov {
		peers[p] = struct{}{}
	}
	for p := range peers {
		a, b := v[p], ov[p]
		if a < b {
			greaterOrEq = false
		} else if a > b {
			lessOrEq = false
		}
	}

	switch {
	case lessOrEq && greaterOrEq:
		return crdt.OrderingEqual
	case lessOrEq:
		return crdt.OrderingLess
	case greaterOrEq:
		return crdt.OrderingGreater
	default:
		return crdt.OrderingConcurrent
	}
}

// Length implements crdt.VersionVector.
func (v VV) Length() int {
	n := 0
	for _, c := range v {
		if c != 0 {
			n++
		}
	}
	return n
}

// Encode implements crdt.VersionVector.
func (v VV) Encode() []byte {
	b, err := cbor.Marshal(map[string]uint64(v))
	if err != nil {
		// v is a plain map of primitives; cbor.Marshal cannot fail on it.
		panic(err)
	}
	return b
}

// Equal implements crdt.VersionVector.
func (v VV) Equal(other crdt.VersionVector) bool {
	return bytes.Equal(v.Encode(), other.Encode())
}

// DecodeVV decodes bytes produced by VV.Encode.
func DecodeVV(data []byte) (VV, error) {
	if len(data) == 0 {
		return VV{}, nil
	}
	var m map[string]uint64
	if err := cbor.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(err, "decoding version vector")
	}
	return VV(m), nil
}

type opKind uint8

const (
	opInsertText opKind = iota + 1
	opInsertListItem
)

type op struct {
	Peer      string `cbor:"1,keyasint"`
	Counter   uint64 `cbor:"2,keyasint"`
	Kind      opKind `cbor:"3,keyasint"`
	Container string `cbor:"4,keyasint"`
	Value     string `cbor:"5,keyasint"`
}

// Document is a reference CRDT document supporting a text container and a
// list container, enough to exercise a handshake-and-sync scenario and a
// concurrent list insert merge.
type Document struct {
	mu        sync.Mutex
	localPeer string
	counter   uint64
	ops       []op
	vv        VV
}

// New constructs an empty document attributed to localPeer.
func New(localPeer string) *Document {
	return &Document{localPeer: localPeer, vv: VV{}}
}

// InsertText appends text to the named text container.
func (d *Document) InsertText(container, text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.appendOp(opInsertText, container, text)
}

// GetText returns the named text container's content in causal order.
func (d *Document) GetText(container string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var buf bytes.Buffer
	for _, o := range d.orderedOps() {
		if o.Kind == opInsertText && o.Container == container {
			buf.WriteString(o.Value)
		}
	}
	return buf.String()
}

// InsertListItem appends an item to the named list container.
func (d *Document) InsertListItem(container, item string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.appendOp(opInsertListItem, container, item)
}

// ListItems returns the named list container's items in causal order,
// concurrent inserts from different peers both retained.
func (d *Document) ListItems(container string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []string
	for _, o := range d.orderedOps() {
		if o.Kind == opInsertListItem && o.Container == container {
			out = append(out, o.Value)
		}
	}
	return out
}

func (d *Document) appendOp(kind opKind, container, value string) {
	d.counter++
	o := op{Peer: d.localPeer, Counter: d.counter, Kind: kind, Container: container, Value: value}
	d.ops = append(d.ops, o)
	if d.counter > d.vv[d.localPeer] {
		d.vv[d.localPeer] = d.counter
	}
}

// orderedOps returns a deterministic causal ordering: by counter, then by
// peer id to break ties between concurrent operations.
func (d *Document) orderedOps() []op {
	sorted := make([]op, len(d.ops))
	copy(sorted, d.ops)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Counter != sorted[j].Counter {
			return sorted[i].Counter < sorted[j].Counter
		}
		return sorted[i].Peer < sorted[j].Peer
	})
	return sorted
}

// Import implements crdt.Document: it merges a remote op log (snapshot or
// delta, the shapes are identical for this reference engine) by
// (peer, counter) identity.
func (d *Document) Import(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	var incoming []op
	if err := cbor.Unmarshal(data, &incoming); err != nil {
		return errors.Wrap(err, "decoding op log")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	seen := make(map[[2]interface{}]struct{}, len(d.ops))
	for _, o := range d.ops {
		seen[[2]interface{}{o.Peer, o.Counter}] = struct{}{}
	}
	for _, o := range incoming {
		key := [2]interface{}{o.Peer, o.Counter}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		d.ops = append(d.ops, o)
		if o.Counter > d.vv[o.Peer] {
			d.vv[o.Peer] = o.Counter
		}
		if o.Counter > d.counter {
			d.counter = o.Counter
		}
	}
	return nil
}

// Export implements crdt.Document.
func (d *Document) Export(mode crdt.ExportMode, from crdt.VersionVector) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var fromVV VV
	if mode == crdt.ExportUpdateFrom && from != nil {
		if v, ok := from.(VV); ok {
			fromVV = v
		} else if decoded, err := DecodeVV(from.Encode()); err == nil {
			fromVV = decoded
		}
	}

	var out []op
	for _, o := range d.ops {
		if mode == crdt.ExportUpdateFrom && o.Counter <= fromVV[o.Peer] {
			continue
		}
		out = append(out, o)
	}

	b, err := cbor.Marshal(out)
	if err != nil {
		return nil, errors.Wrap(err, "encoding op log")
	}
	return b, nil
}

// Version implements crdt.Document.
func (d *Document) Version() crdt.VersionVector {
	d.mu.Lock()
	defer d.mu.Unlock()
	clone := make(VV, len(d.vv))
	for p, c := range d.vv {
		clone[p] = c
	}
	return clone
}

// Factory implements crdt.Factory over Document.
type Factory struct {
	localPeer string
}

// NewFactory constructs a Factory whose documents attribute local operations to localPeer.
func NewFactory(localPeer string) *Factory {
	return &Factory{localPeer: localPeer}
}

// NewDocument implements crdt.Factory.
func (f *Factory) NewDocument() crdt.Document {
	return New(f.localPeer)
}

// FromSnapshot implements crdt.Factory.
func (f *Factory) FromSnapshot(data []byte) (crdt.Document, error) {
	d := New(f.localPeer)
	if err := d.Import(data); err != nil {
		return nil, err
	}
	return d, nil
}

// DecodeVersionVector implements crdt.Factory.
func (f *Factory) DecodeVersionVector(data []byte) (crdt.VersionVector, error) {
	return DecodeVV(data)
}

// EmptyVersion implements crdt.Factory.
func (f *Factory) EmptyVersion() crdt.VersionVector {
	return VV{}
}
