package crdt

import "github.com/cshekharsharma/causaldoc/delta"

// DiffAgainst walks the sequence's current (post-checkout) state and
// emits a DeltaRope describing the change from a prior visibility
// snapshot taken via Snapshot, per §4.4.6: each span becomes a Retain
// when visibility is unchanged, a Replace(insert) when it became
// visible, or a Replace(delete) when it became hidden. Adjacent items
// with identical attributes are coalesced by Rope.Push itself.
func (s *Sequence[V]) DiffAgainst(before map[nodeKey]bool) *delta.Rope[V] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rope := delta.New[V]()
	for n := s.head; n != nil; n = n.next {
		key := nodeKeyOf(n)
		wasVisible, known := before[key]
		nowVisible := n.span.Status.Visible()
		switch {
		case known && wasVisible && nowVisible:
			rope.PushRetain(n.span.Len, nil)
		case (!known || !wasVisible) && nowVisible:
			rope.PushReplace(n.span.Value, nil, 0)
		case known && wasVisible && !nowVisible:
			rope.PushReplace(nil, nil, n.span.Len)
		}
	}
	return rope
}

// nodeKey identifies one atom by its id. Snapshot records every atom, so
// a span split between the snapshot and the diff is still found under
// its own first atom; DiffAgainst treats each current span independently
// and relies on Rope.Push to coalesce the resulting items.
type nodeKey struct {
	peer    uint64
	counter int32
}

func nodeKeyOf[V any](n *linkedSpan[V]) nodeKey {
	return nodeKey{peer: uint64(n.span.ID.Peer), counter: int32(n.span.ID.Counter)}
}

// Snapshot captures the visibility of every atom currently in the
// sequence, keyed by nodeKey, for later use with DiffAgainst. The
// returned value's underlying type is unexported; callers outside this
// package hold it opaquely and pass it back to DiffAgainstSnapshot.
func (s *Sequence[V]) Snapshot() map[nodeKey]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[nodeKey]bool)
	for n := s.head; n != nil; n = n.next {
		vis := n.span.Status.Visible()
		for i := 0; i < n.span.Len; i++ {
			out[nodeKey{peer: uint64(n.span.ID.Peer), counter: int32(n.span.ID.Counter) + int32(i)}] = vis
		}
	}
	return out
}

// DiffAgainstSnapshot is DiffAgainst for callers outside this package
// that can only hold the Snapshot result as an opaque any.
func (s *Sequence[V]) DiffAgainstSnapshot(before any) *delta.Rope[V] {
	return s.DiffAgainst(before.(map[nodeKey]bool))
}
