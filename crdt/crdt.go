// Package crdt declares the narrow interface the synchronizer consumes from
// a CRDT engine. docsync never looks inside a Document or
// VersionVector; it only imports, exports, compares and measures them. A
// reference implementation lives in crdt/refdoc for tests.
package crdt

// Ordering is the result of comparing two VersionVectors.
type Ordering uint8

const (
	OrderingLess Ordering = iota
	OrderingEqual
	OrderingGreater
	OrderingConcurrent
)

// VersionVector is an opaque CRDT frontier. Implementations are owned by the
// CRDT engine; docsync clones before storing one on a queued entry and never
// holds a reference across a call that could invalidate it.
type VersionVector interface {
	// Compare returns how v relates to other.
	Compare(other VersionVector) Ordering
	// Length is the count of peers with a nonzero counter in v.
	Length() int
	// Encode serializes v to its canonical wire representation.
	Encode() []byte
	// Equal reports whether v and other encode identically.
	Equal(other VersionVector) bool
}

// ExportMode selects what Document.Export produces.
type ExportMode uint8

const (
	// ExportSnapshot exports the full document state.
	ExportSnapshot ExportMode = iota
	// ExportUpdateFrom exports only the operations the caller-supplied
	// VersionVector does not yet reflect.
	ExportUpdateFrom
)

// Document is an opaque CRDT-backed document handle.
type Document interface {
	// Import merges encoded CRDT bytes (a snapshot or an update) into the document.
	Import(data []byte) error
	// Export serializes the document per mode. from is only consulted when
	// mode is ExportUpdateFrom.
	Export(mode ExportMode, from VersionVector) ([]byte, error)
	// Version returns the document's current frontier.
	Version() VersionVector
}

// Factory constructs documents and decodes version vectors, standing in for
// the CRDT engine's top-level entry points: creating an empty document and
// restoring one from a snapshot.
type Factory interface {
	// NewDocument returns a fresh, empty document.
	NewDocument() Document
	// FromSnapshot constructs a document by importing a full snapshot.
	FromSnapshot(data []byte) (Document, error)
	// DecodeVersionVector decodes bytes produced by VersionVector.Encode.
	DecodeVersionVector(data []byte) (VersionVector, error)
	// EmptyVersion returns a zero-length VersionVector, used when comparing
	// against a requester that sent none.
	EmptyVersion() VersionVector
}
