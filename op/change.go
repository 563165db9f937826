package op

import "github.com/cshekharsharma/causaldoc/id"

// RleOps is a counter-contiguous, mergeable run of Ops, starting at the
// owning Change's id.Counter.
type RleOps []Op

// Push appends op, merging it into the final element when possible.
func (r RleOps) Push(next Op) RleOps {
	if len(r) > 0 && r[len(r)-1].CanMergeWith(next) {
		// Ops carrying slices only need their range extended; content
		// beyond a single variant never needs element-wise merging
		// here because CanMergeWith already checked adjacency per-kind.
		last := &r[len(r)-1]
		switch next.Content.Kind {
		case KindListInsert:
			last.Content.ListInsert.Slice.End = next.Content.ListInsert.Slice.End
		case KindListInsertText:
			last.Content.ListInsertText.Slice.End = next.Content.ListInsertText.Slice.End
			last.Content.ListInsertText.Len += next.Content.ListInsertText.Len
		case KindListDelete:
			last.Content.ListDelete.SignedLen += next.Content.ListDelete.SignedLen
		case KindCounterIncrement:
			last.Content.CounterIncrement.Delta += next.Content.CounterIncrement.Delta
		}
		return r
	}
	return append(r, next)
}

// AtomLen sums the atom length of every op in the run.
func (r RleOps) AtomLen() int {
	total := 0
	for _, o := range r {
		total += o.AtomLen()
	}
	return total
}

// Change is a causally-atomic group of ops committed by one peer.
type Change struct {
	ID        id.ID
	Lamport   id.Lamport
	Timestamp id.Timestamp
	Deps      id.Frontiers
	// DepOnSelf records whether this change implicitly depends on the
	// same peer's immediately preceding change. That dependency is
	// never listed in Deps explicitly, so the column encoder can store
	// one bit instead of a full ID.
	DepOnSelf bool
	Message   string
	Ops       RleOps
}

// AtomLen is the number of counters this change occupies.
func (c Change) AtomLen() int {
	return c.Ops.AtomLen()
}

// IDSpan returns the span of counters [id.Counter, id.Counter+AtomLen())
// this change occupies.
func (c Change) IDSpan() id.IDSpan {
	return id.NewIDSpan(c.ID.Peer, c.ID.Counter, c.ID.Counter+id.Counter(c.AtomLen()))
}

// LamportEnd returns the lamport value one past the change's last atom:
// the smallest lamport a change depending on it can carry.
func (c Change) LamportEnd() id.Lamport {
	return c.Lamport + id.Lamport(c.AtomLen())
}

// AllDeps returns Deps plus, if DepOnSelf is set, the implicit
// self-dependency on this peer's immediately preceding counter.
func (c Change) AllDeps() id.Frontiers {
	if !c.DepOnSelf || c.ID.Counter == 0 {
		return c.Deps
	}
	out := make(id.Frontiers, 0, len(c.Deps)+1)
	out = append(out, c.Deps...)
	out = append(out, id.ID{Peer: c.ID.Peer, Counter: c.ID.Counter - 1})
	return out
}
