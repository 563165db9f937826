package container

import (
	"github.com/cshekharsharma/causaldoc/crdt"
	"github.com/cshekharsharma/causaldoc/id"
)

// List is a List container: a sequence CRDT over opaque arena value
// indices (one uint32 per slot, interpreted by the arena).
type List struct {
	seq *crdt.Sequence[uint32]
}

// NewList returns an empty list container.
func NewList() *List {
	return &List{seq: crdt.NewSequence[uint32]()}
}

// Insert integrates a run of arena value indices at the given origins.
func (l *List) Insert(newID id.ID, value []uint32, originLeft, originRight *id.ID) {
	l.seq.Insert(newID, value, originLeft, originRight)
}

// IDSpansForRange resolves a [pos, pos+len) index range into id spans.
func (l *List) IDSpansForRange(pos, length int) id.IDSpanVector {
	return l.seq.VisibleIDSpansForRange(pos, length)
}

// ApplyDelete hides the atoms in spans.
func (l *List) ApplyDelete(spans id.IDSpanVector) { l.seq.ApplyDelete(spans) }

// Values returns the currently-visible arena value indices in order.
func (l *List) Values() []uint32 { return l.seq.Materialize() }

// Len returns the number of currently-visible elements.
func (l *List) Len() int { return l.seq.VisibleLen() }

// Sequence exposes the underlying sequence for checkout/diff plumbing.
func (l *List) Sequence() *crdt.Sequence[uint32] { return l.seq }
