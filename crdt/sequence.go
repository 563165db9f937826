package crdt

import (
	"sync"

	"github.com/google/btree"

	"github.com/cshekharsharma/causaldoc/id"
)

// linkedSpan is a Span plus its position in the materialised order.
type linkedSpan[V any] struct {
	span *Span[V]
	prev *linkedSpan[V]
	next *linkedSpan[V]
}

// idKey orders linkedSpans in the lookup tree by (peer, start counter),
// giving O(log n) ID -> cursor resolution per §4.4.4's "parallel index
// maps ID -> cursor". google/btree's degree-16 default in NewG
// approximates the fan-out named in §4.4.4 for the YSpan leaves
// themselves; here it indexes spans by id rather than storing them, so
// the actual span payloads live in the linked list below and the tree
// holds pointers into it.
type idKey[V any] struct {
	peer  id.PeerID
	start id.Counter
	node  *linkedSpan[V]
}

func lessIDKey[V any](a, b idKey[V]) bool {
	if a.peer != b.peer {
		return a.peer < b.peer
	}
	return a.start < b.start
}

// Sequence is the per-container state of the YATA sequence CRDT: a
// doubly linked list of Spans in materialised order (the order §4.4.2's
// integration rule scans over), augmented with a btree index from
// (peer, start counter) to the owning list node for O(log n) lookup by
// ID, the access pattern Insert/Delete/checkout all need before they can
// begin their scan.
type Sequence[V any] struct {
	mu    sync.RWMutex
	head  *linkedSpan[V]
	tail  *linkedSpan[V]
	index *btree.BTreeG[idKey[V]]
	count int // visible atom count, maintained incrementally
}

// NewSequence returns an empty sequence.
func NewSequence[V any]() *Sequence[V] {
	return &Sequence[V]{index: btree.NewG(16, lessIDKey[V])}
}

// VisibleLen returns the number of currently-visible atoms.
func (s *Sequence[V]) VisibleLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// findNode locates the linked-list node whose span contains target,
// splitting nothing; it is the read path used by lookups that don't
// need to mutate the span boundary.
func (s *Sequence[V]) findNode(target id.ID) *linkedSpan[V] {
	var found *linkedSpan[V]
	s.index.DescendLessOrEqual(idKey[V]{peer: target.Peer, start: target.Counter}, func(k idKey[V]) bool {
		if k.peer != target.Peer {
			return false
		}
		if k.node.span.containsCounter(target.Counter) {
			found = k.node
		}
		return false
	})
	return found
}

// splitBefore ensures a span boundary exists exactly at target (target
// becomes the first atom of some span), splitting the containing span
// if target falls in its interior, and fixing up both the linked list
// and the index.
func (s *Sequence[V]) splitBefore(target id.ID) *linkedSpan[V] {
	n := s.findNode(target)
	if n == nil {
		return nil
	}
	if n.span.ID == target {
		return n
	}
	off := int(target.Counter - n.span.ID.Counter)
	rightSpan := n.span.splitAt(off)
	rightNode := &linkedSpan[V]{span: rightSpan, prev: n, next: n.next}
	if n.next != nil {
		n.next.prev = rightNode
	} else {
		s.tail = rightNode
	}
	n.next = rightNode
	s.index.ReplaceOrInsert(idKey[V]{peer: rightSpan.ID.Peer, start: rightSpan.ID.Counter, node: rightNode})
	return rightNode
}

// insertNodeAfter splices a brand new node for span right after prev (or
// at the head if prev is nil), updating the index.
func (s *Sequence[V]) insertNodeAfter(prev *linkedSpan[V], span *Span[V]) *linkedSpan[V] {
	n := &linkedSpan[V]{span: span}
	if prev == nil {
		n.next = s.head
		if s.head != nil {
			s.head.prev = n
		} else {
			s.tail = n
		}
		s.head = n
	} else {
		n.prev = prev
		n.next = prev.next
		if prev.next != nil {
			prev.next.prev = n
		} else {
			s.tail = n
		}
		prev.next = n
	}
	s.index.ReplaceOrInsert(idKey[V]{peer: span.ID.Peer, start: span.ID.Counter, node: n})
	if span.Status.Visible() {
		s.count += span.Len
	}
	return n
}

// Insert integrates a brand new span using the YATA rule of §4.4.2: scan
// rightward from just after originLeft's span until originRight's span,
// placing newSpan at the first position where no encountered span O
// forces it further right.
func (s *Sequence[V]) Insert(newID id.ID, value []V, originLeft, originRight *id.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	span := &Span[V]{ID: newID, Len: len(value), Value: value, OriginLeft: originLeft, OriginRight: originRight}

	var left *linkedSpan[V]
	if originLeft != nil {
		// Ensure a boundary exists right after originLeft, then the
		// node ending there (i.e. containing originLeft itself) is the
		// node the scan starts just past.
		s.splitBefore(originLeft.Next())
		left = s.findNode(*originLeft)
	}
	var rightBound *linkedSpan[V]
	if originRight != nil {
		rightBound = s.splitBefore(*originRight)
	}

	scan := s.head
	if left != nil {
		scan = left.next
	}
	insertAfter := left
	for scan != nil && scan != rightBound {
		oLeft := scan.span.OriginLeft
		switch {
		case oLeft == nil && originLeft == nil:
			if scan.span.ID.Peer < newID.Peer {
				insertAfter = scan
				scan = scan.next
				continue
			}
		case oLeft == nil:
			// scan's origin is further left than newSpan's: newSpan
			// goes before scan.
		case originLeft != nil && *oLeft == *originLeft:
			if scan.span.ID.Peer < newID.Peer {
				insertAfter = scan
				scan = scan.next
				continue
			}
		case originLeft != nil && isStrictlyRightOf(*oLeft, *originLeft, s):
			// scan's origin_left is to the right of newSpan's: newSpan
			// precedes scan.
		default:
			insertAfter = scan
			scan = scan.next
			continue
		}
		break
	}

	s.insertNodeAfter(insertAfter, span)
	s.tryMergeAround(insertAfter)
}

// isStrictlyRightOf reports whether a sits strictly to the right of b in
// the current materialised order, walking forward from b's node until a
// is found or the list ends. Used only to break the YATA tie described in
// §4.4.2 when origin_left values differ; a conservative false on an
// unindexed id (can happen for ids outside the current container, which
// should not occur for a well-formed op stream) keeps the scan from
// panicking. Callers already hold s.mu, so this does not lock it itself.
func isStrictlyRightOf[V any](a, b id.ID, s *Sequence[V]) bool {
	nodeA := s.findNode(a)
	nodeB := s.findNode(b)
	if nodeA == nil || nodeB == nil {
		return false
	}
	for n := nodeB.next; n != nil; n = n.next {
		if n == nodeA {
			return true
		}
	}
	return false
}

// tryMergeAround attempts to coalesce the node after prev (or the head)
// with its immediate neighbours once a new span has settled, per
// §4.4.4's "leaves merge when status matches and insertion positions are
// adjacent and payloads are mergeable".
func (s *Sequence[V]) tryMergeAround(prev *linkedSpan[V]) {
	var n *linkedSpan[V]
	if prev == nil {
		n = s.head
	} else {
		n = prev.next
	}
	if n == nil {
		return
	}
	if n.prev != nil && n.prev.span.canMergeWith(n.span) {
		s.mergeNodes(n.prev, n)
		n = n.prev
	}
	if n.next != nil && n.span.canMergeWith(n.next.span) {
		s.mergeNodes(n, n.next)
	}
}

func (s *Sequence[V]) mergeNodes(a, b *linkedSpan[V]) {
	a.span.mergeWith(b.span)
	a.next = b.next
	if b.next != nil {
		b.next.prev = a
	} else {
		s.tail = a
	}
	s.index.Delete(idKey[V]{peer: b.span.ID.Peer, start: b.span.ID.Counter})
}

// PositionToOrigins resolves a unicode/element insertion position into
// the (origin_left, origin_right) pair Insert needs: the id of the
// visible atom immediately before pos, and the id of the visible atom
// immediately at/after pos. Either may be nil at the sequence's
// boundaries.
func (s *Sequence[V]) PositionToOrigins(pos int) (left, right *id.ID) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for n := s.head; n != nil; n = n.next {
		if !n.span.Status.Visible() {
			continue
		}
		if count+n.span.Len <= pos {
			count += n.span.Len
			lastID := id.ID{Peer: n.span.ID.Peer, Counter: n.span.ID.Counter + id.Counter(n.span.Len-1)}
			left = &lastID
			continue
		}
		offset := pos - count
		if offset > 0 {
			leftID := id.ID{Peer: n.span.ID.Peer, Counter: n.span.ID.Counter + id.Counter(offset-1)}
			left = &leftID
		}
		rightID := id.ID{Peer: n.span.ID.Peer, Counter: n.span.ID.Counter + id.Counter(offset)}
		right = &rightID
		return left, right
	}
	return left, nil
}

// VisibleAtom pairs one materialised atom with its own id, for
// containers (like MovableList) that need to track per-element identity
// rather than just the concatenated value.
type VisibleAtom[V any] struct {
	ID    id.ID
	Value V
}

// VisibleIDs returns every currently-visible atom in sequence order,
// exploded out of their spans, paired with its own id.
func (s *Sequence[V]) VisibleIDs() []VisibleAtom[V] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []VisibleAtom[V]
	for n := s.head; n != nil; n = n.next {
		if !n.span.Status.Visible() {
			continue
		}
		for i, v := range n.span.Value {
			out = append(out, VisibleAtom[V]{ID: id.ID{Peer: n.span.ID.Peer, Counter: n.span.ID.Counter + id.Counter(i)}, Value: v})
		}
	}
	return out
}

// Materialize walks the sequence in order and returns the concatenation
// of every visible span's value.
func (s *Sequence[V]) Materialize() []V {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []V
	for n := s.head; n != nil; n = n.next {
		if n.span.Status.Visible() {
			out = append(out, n.span.Value...)
		}
	}
	return out
}

// VisibleIDSpansForRange resolves a [startPos, startPos+length) range of
// currently-visible positions into the underlying id spans, for delete
// ops which store resolved IdSpans rather than positions (§4.4.3).
func (s *Sequence[V]) VisibleIDSpansForRange(startPos, length int) id.IDSpanVector {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out id.IDSpanVector
	pos := 0
	remaining := length
	for n := s.head; n != nil && remaining > 0; n = n.next {
		if !n.span.Status.Visible() {
			continue
		}
		spanLen := n.span.Len
		if pos+spanLen <= startPos {
			pos += spanLen
			continue
		}
		localStart := 0
		if startPos > pos {
			localStart = startPos - pos
		}
		take := spanLen - localStart
		if take > remaining {
			take = remaining
		}
		out = append(out, id.NewIDSpan(n.span.ID.Peer, n.span.ID.Counter+id.Counter(localStart), n.span.ID.Counter+id.Counter(localStart+take)))
		remaining -= take
		pos += spanLen
	}
	return out
}

// ApplyDelete increments DeleteTimes on every span atom in spans,
// splitting span boundaries as needed so each targeted run maps onto
// whole nodes.
func (s *Sequence[V]) ApplyDelete(spans id.IDSpanVector) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, raw := range spans {
		sp := raw.Normalized()
		s.splitBefore(id.ID{Peer: sp.Peer, Counter: sp.Start})
		s.splitBefore(id.ID{Peer: sp.Peer, Counter: sp.End})
		n := s.findNode(id.ID{Peer: sp.Peer, Counter: sp.Start})
		for n != nil && n.span.ID.Peer == sp.Peer && n.span.ID.Counter < sp.End {
			if n.span.Status.Visible() {
				s.count -= n.span.Len
			}
			n.span.Status.DeleteTimes++
			n = n.next
		}
	}
}

// UndoDelete is the inverse of ApplyDelete: decrements DeleteTimes over
// the same id spans.
func (s *Sequence[V]) UndoDelete(spans id.IDSpanVector) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, raw := range spans {
		sp := raw.Normalized()
		n := s.findNode(id.ID{Peer: sp.Peer, Counter: sp.Start})
		for n != nil && n.span.ID.Peer == sp.Peer && n.span.ID.Counter < sp.End {
			if n.span.Status.DeleteTimes > 0 {
				n.span.Status.DeleteTimes--
				if n.span.Status.Visible() {
					s.count += n.span.Len
				}
			}
			n = n.next
		}
	}
}

// SetFuture flips the future bit on every span whose id falls in spans,
// true to retreat (hide) or false to forward (reveal), per §4.4.5.
func (s *Sequence[V]) SetFuture(spans id.IDSpanVector, future bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, raw := range spans {
		sp := raw.Normalized()
		s.splitBefore(id.ID{Peer: sp.Peer, Counter: sp.Start})
		s.splitBefore(id.ID{Peer: sp.Peer, Counter: sp.End})
		n := s.findNode(id.ID{Peer: sp.Peer, Counter: sp.Start})
		for n != nil && n.span.ID.Peer == sp.Peer && n.span.ID.Counter < sp.End {
			wasVisible := n.span.Status.Visible()
			n.span.Status.Future = future
			nowVisible := n.span.Status.Visible()
			if wasVisible && !nowVisible {
				s.count -= n.span.Len
			} else if !wasVisible && nowVisible {
				s.count += n.span.Len
			}
			n = n.next
		}
	}
}
