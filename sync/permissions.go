package sync

// Permissions is the optional trust hook consulted before acting on a
// peer's document message. Every callback defaults to "allow everyone"
// when nil.
type Permissions struct {
	// Visibility gates whether a sync-request from peerID for docID may see
	// the document's data at all.
	Visibility func(docID, peerID string) bool
	// Mutability gates whether a sync-response/update from peerID may be
	// imported into docID.
	Mutability func(docID, peerID string) bool
	// Creation gates whether an advertised new-doc from peerID may be
	// followed up with a sync-request of our own.
	Creation func(docID, peerID string) bool
	// Deletion gates whether a delete-request from peerID is honored.
	Deletion func(docID, peerID string) bool
}

func (p Permissions) visibility(docID, peerID string) bool {
	if p.Visibility == nil {
		return true
	}
	return p.Visibility(docID, peerID)
}

func (p Permissions) mutability(docID, peerID string) bool {
	if p.Mutability == nil {
		return true
	}
	return p.Mutability(docID, peerID)
}

func (p Permissions) creation(docID, peerID string) bool {
	if p.Creation == nil {
		return true
	}
	return p.Creation(docID, peerID)
}

func (p Permissions) deletion(docID, peerID string) bool {
	if p.Deletion == nil {
		return true
	}
	return p.Deletion(docID, peerID)
}
