// Package wire defines the channel protocol message taxonomy and its
// binary framing. Messages are encoded as CBOR maps keyed by small
// integers, via github.com/fxamacker/cbor/v2 — a protobuf/gogoproto wire
// style can't express that tagged-map framing, so this one concern uses
// its own codec (see DESIGN.md).
package wire

// Kind discriminates the protocol message taxonomy.
type Kind uint8

const (
	// KindEstablishRequest carries the sender's identity, opening a handshake.
	KindEstablishRequest Kind = iota + 1
	// KindEstablishResponse carries the sender's identity, completing a handshake.
	KindEstablishResponse
	// KindSyncRequest asks the recipient to compare versions for a document.
	KindSyncRequest
	// KindSyncResponse answers a KindSyncRequest.
	KindSyncResponse
	// KindUpdate pushes an unsolicited delta for a document.
	KindUpdate
	// KindNewDoc advertises newly known document ids.
	KindNewDoc
	// KindDirectoryRequest asks for the set of known document ids.
	KindDirectoryRequest
	// KindDirectoryResponse answers a KindDirectoryRequest.
	KindDirectoryResponse
	// KindDeleteRequest asks peers to forget a document.
	KindDeleteRequest
	// KindDeleteResponse answers a KindDeleteRequest.
	KindDeleteResponse
	// KindEphemeral carries namespaced ephemeral store entries with a hop budget.
	KindEphemeral
	// KindBatch wraps a sequence of the above (never itself nested).
	KindBatch
)

// String renders a Kind for logging.
func (k Kind) String() string {
	switch k {
	case KindEstablishRequest:
		return "establish-request"
	case KindEstablishResponse:
		return "establish-response"
	case KindSyncRequest:
		return "sync-request"
	case KindSyncResponse:
		return "sync-response"
	case KindUpdate:
		return "update"
	case KindNewDoc:
		return "new-doc"
	case KindDirectoryRequest:
		return "directory-request"
	case KindDirectoryResponse:
		return "directory-response"
	case KindDeleteRequest:
		return "delete-request"
	case KindDeleteResponse:
		return "delete-response"
	case KindEphemeral:
		return "ephemeral"
	case KindBatch:
		return "batch"
	default:
		return "unknown"
	}
}

// IsBatchable reports whether a message of this kind may be wrapped into a
// KindBatch. Everything except the handshake kinds and batch itself is
// batchable.
func (k Kind) IsBatchable() bool {
	switch k {
	case KindEstablishRequest, KindEstablishResponse, KindBatch:
		return false
	default:
		return true
	}
}

// Role is the remote peer's declared role.
type Role uint8

const (
	RoleUser Role = iota
	RoleService
)

// Identity is exchanged during the establish handshake.
type Identity struct {
	PeerID string `cbor:"1,keyasint"`
	Name   string `cbor:"2,keyasint,omitempty"`
	Role   Role   `cbor:"3,keyasint"`
}

// TransmissionKind discriminates the payload carried by a sync-response or update.
type TransmissionKind uint8

const (
	TransmissionSnapshot TransmissionKind = iota + 1
	TransmissionUpdate
	TransmissionUpToDate
	TransmissionUnavailable
)

// Transmission is the CRDT payload attached to a sync-response or update message.
type Transmission struct {
	Kind TransmissionKind `cbor:"1,keyasint"`
	// Data is the exported CRDT bytes; empty for up-to-date/unavailable.
	Data []byte `cbor:"2,keyasint,omitempty"`
	// Version is the sender's encoded VersionVector at the time of export.
	Version []byte `cbor:"3,keyasint,omitempty"`
}

// DeleteStatus discriminates a delete-response.
type DeleteStatus uint8

const (
	DeleteStatusDeleted DeleteStatus = iota + 1
	DeleteStatusIgnored
)

// EphemeralEntry is one namespaced store's data for a single remote peer.
type EphemeralEntry struct {
	PeerID    string `cbor:"1,keyasint"`
	Namespace string `cbor:"2,keyasint"`
	Data      []byte `cbor:"3,keyasint"`
}

// EphemeralBundle is the ephemeral snapshot optionally attached to a
// sync-request or sync-response.
type EphemeralBundle struct {
	Stores []EphemeralEntry `cbor:"1,keyasint,omitempty"`
}

// Message is the single discriminated union covering all twelve taxonomy
// members. A sum type of twelve Go struct types would force every call site
// to type-switch; cometbft's own protomem.Message uses a oneof for the same
// reason. Unused fields for a given Kind are simply left zero and omitted on
// encode via the cbor "omitempty" tag.
type Message struct {
	Kind Kind `cbor:"1,keyasint"`

	Identity *Identity `cbor:"2,keyasint,omitempty"`

	DocID  string   `cbor:"3,keyasint,omitempty"`
	DocIDs []string `cbor:"4,keyasint,omitempty"`

	RequesterVersion []byte `cbor:"5,keyasint,omitempty"`
	Bidirectional    bool   `cbor:"6,keyasint,omitempty"`

	Transmission *Transmission `cbor:"7,keyasint,omitempty"`

	DeleteStatus DeleteStatus `cbor:"8,keyasint,omitempty"`

	HopsRemaining uint8            `cbor:"9,keyasint,omitempty"`
	Stores        []EphemeralEntry `cbor:"10,keyasint,omitempty"`

	Ephemeral *EphemeralBundle `cbor:"11,keyasint,omitempty"`

	Messages []Message `cbor:"12,keyasint,omitempty"`
}
