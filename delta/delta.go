// Package delta implements the composable rope-of-edits representation
// consumed by transform, compose, and diff emission across checkpoints.
package delta

// Attr is any comparable attribute payload an item carries (formatting
// marks, rich-text spans, and so on); nil/zero-value means "no attribute".
type Attr any

// Item is one entry of a DeltaRope: either a Retain (keep len atoms of
// the old side, optionally restamping their attribute) or a Replace
// (insert Value and/or delete Delete atoms of the old side).
type Item[V any] struct {
	Retain   int
	Value    []V
	Delete   int
	Attr     Attr
	IsRetain bool
}

// dataLen is the item's contribution to the new side's length.
func (it Item[V]) dataLen() int {
	if it.IsRetain {
		return it.Retain
	}
	return len(it.Value)
}

// deltaLen is the item's contribution to the old side's length.
func (it Item[V]) deltaLen() int {
	if it.IsRetain {
		return it.Retain
	}
	return it.Delete
}

// canMerge reports whether it and next can coalesce into one item: same
// kind, same attribute, and (for Retain) always mergeable, or (for
// Replace) simply concatenable since values are opaque slices.
func (it Item[V]) canMerge(next Item[V]) bool {
	if !attrEqual(it.Attr, next.Attr) {
		return false
	}
	return it.IsRetain == next.IsRetain
}

func attrEqual(a, b Attr) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	if ca, ok := a.(interface{ Equal(Attr) bool }); ok {
		return ca.Equal(b)
	}
	return a == b
}

// Retain builds a Retain item.
func Retain[V any](length int, attr Attr) Item[V] {
	return Item[V]{Retain: length, Attr: attr, IsRetain: true}
}

// Replace builds a Replace item. At least one of value or delete must be
// non-zero; an empty Replace should never be pushed onto a Rope.
func Replace[V any](value []V, attr Attr, deleteLen int) Item[V] {
	return Item[V]{Value: value, Delete: deleteLen, Attr: attr}
}

// Rope is an ordered sequence of Items, tracking both length metrics
// named in §3.4: DataLen (new side) and DeltaLen (old side). It is kept
// as a flat, merge-on-push slice rather than the B-tree named for the
// YSpan sequence itself: a delta is an ephemeral edit script exchanged
// between peers or diffed from a checkout, not a long-lived persisted
// structure, so a slice with adjacent-item coalescing gives the same
// "adjacent items with equal attr coalesce" behaviour at a fraction of
// the bookkeeping of the B-tree used for per-container state in
// crdt.Sequence.
type Rope[V any] struct {
	items    []Item[V]
	dataLen  int
	deltaLen int
}

// New returns an empty rope.
func New[V any]() *Rope[V] {
	return &Rope[V]{}
}

// Items returns the rope's items in order. Callers must not mutate the
// returned slice.
func (r *Rope[V]) Items() []Item[V] { return r.items }

// DataLen is the total length of the new side produced by this delta.
func (r *Rope[V]) DataLen() int { return r.dataLen }

// DeltaLen is the total length of the old side this delta was computed
// against.
func (r *Rope[V]) DeltaLen() int { return r.deltaLen }

// Push appends one item, merging it into the last item when possible
// and dropping no-op zero-length items.
func (r *Rope[V]) Push(it Item[V]) {
	if it.dataLen() == 0 && it.deltaLen() == 0 {
		return
	}
	if n := len(r.items); n > 0 && r.items[n-1].canMerge(it) {
		last := &r.items[n-1]
		if it.IsRetain {
			last.Retain += it.Retain
		} else {
			last.Value = append(last.Value, it.Value...)
			last.Delete += it.Delete
		}
		r.dataLen += it.dataLen()
		r.deltaLen += it.deltaLen()
		return
	}
	r.items = append(r.items, it)
	r.dataLen += it.dataLen()
	r.deltaLen += it.deltaLen()
}

// PushRetain is a convenience wrapper around Push(Retain(...)).
func (r *Rope[V]) PushRetain(length int, attr Attr) {
	if length <= 0 {
		return
	}
	r.Push(Retain[V](length, attr))
}

// PushReplace is a convenience wrapper around Push(Replace(...)).
func (r *Rope[V]) PushReplace(value []V, attr Attr, deleteLen int) {
	if len(value) == 0 && deleteLen == 0 {
		return
	}
	r.Push(Replace(value, attr, deleteLen))
}

// Chop removes a single trailing Retain item whose attribute is the
// zero value, matching §4.5's "the result is chopped: trailing
// empty-attr retains are removed so the delta is minimal".
func (r *Rope[V]) Chop() {
	n := len(r.items)
	if n == 0 {
		return
	}
	last := r.items[n-1]
	if last.IsRetain && last.Attr == nil {
		r.dataLen -= last.Retain
		r.deltaLen -= last.Retain
		r.items = r.items[:n-1]
	}
}

// cursor walks a rope's items, letting compose/transform consume them
// atom-by-atom without having to slice the backing Value slice
// repeatedly; it tracks the offset already consumed within the current
// item.
type cursor[V any] struct {
	items []Item[V]
	idx   int
	off   int
}

func newCursor[V any](items []Item[V]) *cursor[V] {
	return &cursor[V]{items: items}
}

func (c *cursor[V]) done() bool { return c.idx >= len(c.items) }

func (c *cursor[V]) current() (Item[V], bool) {
	if c.done() {
		return Item[V]{}, false
	}
	return c.items[c.idx], true
}

// remaining returns how many atoms are left to consume in the current
// item (on the side appropriate to its kind).
func (c *cursor[V]) remaining() int {
	it, ok := c.current()
	if !ok {
		return 0
	}
	if it.IsRetain {
		return it.Retain - c.off
	}
	return it.deltaLen() - c.off
}

// take consumes up to n atoms from the current item and advances past
// it if exhausted. Returns the slice of the item actually consumed
// (itself, since Items are small enough not to warrant sub-slicing
// Value here beyond what compose/transform explicitly need).
func (c *cursor[V]) take(n int) (Item[V], int) {
	it, ok := c.current()
	if !ok {
		return Item[V]{}, 0
	}
	avail := c.remaining()
	if n > avail {
		n = avail
	}
	c.off += n
	if c.off >= avail {
		c.idx++
		c.off = 0
	}
	return it, n
}
