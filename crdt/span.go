// Package crdt implements the YATA-family sequence CRDT: the per-container
// state that resolves concurrent insertions via left/right origin
// anchors and supports range deletion with tombstone retention.
package crdt

import "github.com/cshekharsharma/causaldoc/id"

// Status is the visibility state of a span, per §4.4.1: a span is
// visible iff none of these three are set.
type Status struct {
	Future      bool
	DeleteTimes uint16
	UndoTimes   uint16
}

// Visible reports whether a span with this status currently shows up in
// the materialised sequence.
func (s Status) Visible() bool {
	return !s.Future && s.DeleteTimes == 0 && s.UndoTimes == 0
}

// Span is a contiguous run of insertions by one peer: the YSpan of
// §4.4.1, generalised over a generic payload slice V (runes for Text,
// arena value indices for List/MovableList).
type Span[V any] struct {
	ID          id.ID
	Len         int
	OriginLeft  *id.ID
	OriginRight *id.ID
	Status      Status
	Value       []V
}

// end returns the exclusive upper bound of the span's own id range.
func (s *Span[V]) end() id.ID {
	return id.ID{Peer: s.ID.Peer, Counter: s.ID.Counter + id.Counter(s.Len)}
}

// containsCounter reports whether counter falls within this span's own
// id range (same peer assumed by caller).
func (s *Span[V]) containsCounter(c id.Counter) bool {
	return c >= s.ID.Counter && c < s.ID.Counter+id.Counter(s.Len)
}

// splitAt splits the span at local offset off (0 < off < Len), mutating
// s to cover [0, off) and returning a new span covering [off, Len) that
// inherits s's OriginRight and Status, with its own OriginLeft set to
// the last atom of the retained left half.
func (s *Span[V]) splitAt(off int) *Span[V] {
	right := &Span[V]{
		ID:          id.ID{Peer: s.ID.Peer, Counter: s.ID.Counter + id.Counter(off)},
		Len:         s.Len - off,
		OriginRight: s.OriginRight,
		Status:      s.Status,
		Value:       append([]V(nil), s.Value[off:]...),
	}
	leftLastID := id.ID{Peer: s.ID.Peer, Counter: s.ID.Counter + id.Counter(off) - 1}
	right.OriginLeft = &leftLastID

	s.Len = off
	s.Value = s.Value[:off]
	s.OriginRight = nil
	return right
}

// canMergeWith reports whether next can be appended to s to form one
// span: contiguous ids, matching status, and next's OriginLeft pointing
// at s's own last atom (so the two were inserted as one contiguous
// causal run with no concurrent insertion able to have landed between
// them).
func (s *Span[V]) canMergeWith(next *Span[V]) bool {
	if s.ID.Peer != next.ID.Peer || s.end() != next.ID {
		return false
	}
	if s.Status != next.Status {
		return false
	}
	lastOfS := id.ID{Peer: s.ID.Peer, Counter: s.end().Counter - 1}
	if next.OriginLeft == nil || *next.OriginLeft != lastOfS {
		return false
	}
	return next.OriginRight == s.OriginRight
}

func (s *Span[V]) mergeWith(next *Span[V]) {
	s.Value = append(s.Value, next.Value...)
	s.Len += next.Len
}
