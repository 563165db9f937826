// Package op defines the atomic operation and change types that the
// causal oplog persists and replays.
package op

import (
	"github.com/cshekharsharma/causaldoc/id"
)

// ContainerIdx is a dense, compact handle to a container. Its high bits
// encode the container's type so dispatch never needs an extra
// indirection through the arena on hot paths.
type ContainerIdx uint32

// ContainerType enumerates the kinds of state a container can hold.
type ContainerType uint8

const (
	ContainerText ContainerType = iota
	ContainerList
	ContainerMovableList
	ContainerMap
	ContainerTree
	ContainerCounter
)

const containerTypeShift = 24

// NewContainerIdx packs a registration-order index and a type tag into
// one ContainerIdx.
func NewContainerIdx(order uint32, typ ContainerType) ContainerIdx {
	return ContainerIdx(order) | ContainerIdx(typ)<<containerTypeShift
}

// Type extracts the container type from the high bits.
func (c ContainerIdx) Type() ContainerType {
	return ContainerType(c >> containerTypeShift)
}

// Order extracts the registration-order index from the low bits.
func (c ContainerIdx) Order() uint32 {
	return uint32(c) &^ (uint32(0xFF) << containerTypeShift)
}

// SliceRange names a contiguous run of arena-interned values.
type SliceRange struct {
	Start uint32
	End   uint32
}

// Len returns the number of values the range covers.
func (s SliceRange) Len() int { return int(s.End - s.Start) }

// BytesSlice names a contiguous run of arena-interned string bytes.
type BytesSlice struct {
	Start uint32
	End   uint32
}

// Len returns the number of bytes the range covers.
func (s BytesSlice) Len() int { return int(s.End - s.Start) }

// ContentKind tags the variant carried by an Op.
type ContentKind uint8

const (
	KindListInsert ContentKind = iota
	KindListInsertText
	KindListDelete
	KindMapSet
	KindTreeMove
	KindCounterIncrement
	KindListMove
	KindMark
	KindListSet
)

// ListInsert inserts a run of arena-interned values at Pos.
type ListInsert struct {
	Slice SliceRange
	Pos   uint32
}

// ListInsertText inserts text, indexed in Unicode code points.
type ListInsertText struct {
	Slice        BytesSlice
	UnicodeStart uint32
	Len          uint32
	Pos          uint32
}

// ListDelete deletes a run; the sign of SignedLen encodes the direction
// the deletion was issued in, which lets two adjacent backward deletes
// merge the same way two adjacent forward deletes do.
type ListDelete struct {
	Pos       int64
	SignedLen int64
}

// EndPos returns the exclusive position bound of the deletion, in the
// direction it was issued.
func (d ListDelete) EndPos() int64 { return d.Pos + d.SignedLen }

// MapSet sets (or, if Value is nil, tombstones) a key.
type MapSet struct {
	Key   string
	Value *uint32 // arena value index; nil means tombstone
}

// TreeID names a node in a Tree container.
type TreeID = id.ID

// TreeMove moves (or, if Parent is nil, deletes) a tree node. A Parent
// of nil together with Target naming a node not yet created is a create.
type TreeMove struct {
	Target TreeID
	Parent *TreeID
}

// CounterIncrement adds (or, if negative, subtracts) Delta from a
// Counter container; supplemented beyond the distilled op table since
// the Counter container itself is a supplemented feature.
type CounterIncrement struct {
	Delta int64
}

// ListMove repositions an existing MovableList element to sit
// immediately after After (the zero id.ID means "move to the front").
// Element deletion from a MovableList is out of scope for this op
// table: a movable list's columnar encoding only ever carries an insert
// or a move, never a delete.
type ListMove struct {
	Element TreeID
	After   TreeID
}

// Mark applies (Value != nil) or removes (Value == nil) a rich-text
// attribute named Key over every character id named in Spans. Spans
// names characters by id rather than by position so a mark keeps
// covering the same text across concurrent edits elsewhere in the
// document, the same reason ListDelete resolves to id spans instead of
// storing a plain [pos, pos+len) pair.
type Mark struct {
	Spans id.IDSpanVector
	Key   string
	Value *uint32 // arena value index; nil means "remove this mark"
}

// ListSet overwrites a MovableList element's value in place, independent
// of its current position: the element keeps whatever anchor the last
// winning Move gave it, but its visible value becomes Value. Element
// names the target by its permanent (insertion) id, the same identity
// ListMove addresses.
type ListSet struct {
	Element TreeID
	Value   *uint32 // arena value index; nil means "no value" (unused today, kept for symmetry with MapSet)
}

// Content is the tagged union of everything an Op can carry. Exactly one
// of the typed fields is meaningful, selected by Kind.
type Content struct {
	Kind             ContentKind
	ListInsert       ListInsert
	ListInsertText   ListInsertText
	ListDelete       ListDelete
	MapSet           MapSet
	TreeMove         TreeMove
	CounterIncrement CounterIncrement
	ListMove         ListMove
	Mark             Mark
	ListSet          ListSet
}

// AsListInsert returns the ListInsert payload if Kind matches.
func (c Content) AsListInsert() (ListInsert, bool) {
	if c.Kind != KindListInsert {
		return ListInsert{}, false
	}
	return c.ListInsert, true
}

// AsListInsertText returns the ListInsertText payload if Kind matches.
func (c Content) AsListInsertText() (ListInsertText, bool) {
	if c.Kind != KindListInsertText {
		return ListInsertText{}, false
	}
	return c.ListInsertText, true
}

// AsListDelete returns the ListDelete payload if Kind matches.
func (c Content) AsListDelete() (ListDelete, bool) {
	if c.Kind != KindListDelete {
		return ListDelete{}, false
	}
	return c.ListDelete, true
}

// AsMapSet returns the MapSet payload if Kind matches.
func (c Content) AsMapSet() (MapSet, bool) {
	if c.Kind != KindMapSet {
		return MapSet{}, false
	}
	return c.MapSet, true
}

// AsTreeMove returns the TreeMove payload if Kind matches.
func (c Content) AsTreeMove() (TreeMove, bool) {
	if c.Kind != KindTreeMove {
		return TreeMove{}, false
	}
	return c.TreeMove, true
}

// IsListInsert reports whether Kind is KindListInsert.
func (c Content) IsListInsert() bool { return c.Kind == KindListInsert }

// IsListInsertText reports whether Kind is KindListInsertText.
func (c Content) IsListInsertText() bool { return c.Kind == KindListInsertText }

// IsListDelete reports whether Kind is KindListDelete.
func (c Content) IsListDelete() bool { return c.Kind == KindListDelete }

// IsMapSet reports whether Kind is KindMapSet.
func (c Content) IsMapSet() bool { return c.Kind == KindMapSet }

// IsTreeMove reports whether Kind is KindTreeMove.
func (c Content) IsTreeMove() bool { return c.Kind == KindTreeMove }

// AsCounterIncrement returns the CounterIncrement payload if Kind
// matches.
func (c Content) AsCounterIncrement() (CounterIncrement, bool) {
	if c.Kind != KindCounterIncrement {
		return CounterIncrement{}, false
	}
	return c.CounterIncrement, true
}

// IsCounterIncrement reports whether Kind is KindCounterIncrement.
func (c Content) IsCounterIncrement() bool { return c.Kind == KindCounterIncrement }

// AsListMove returns the ListMove payload if Kind matches.
func (c Content) AsListMove() (ListMove, bool) {
	if c.Kind != KindListMove {
		return ListMove{}, false
	}
	return c.ListMove, true
}

// IsListMove reports whether Kind is KindListMove.
func (c Content) IsListMove() bool { return c.Kind == KindListMove }

// AsMark returns the Mark payload if Kind matches.
func (c Content) AsMark() (Mark, bool) {
	if c.Kind != KindMark {
		return Mark{}, false
	}
	return c.Mark, true
}

// IsMark reports whether Kind is KindMark.
func (c Content) IsMark() bool { return c.Kind == KindMark }

// AsListSet returns the ListSet payload if Kind matches.
func (c Content) AsListSet() (ListSet, bool) {
	if c.Kind != KindListSet {
		return ListSet{}, false
	}
	return c.ListSet, true
}

// IsListSet reports whether Kind is KindListSet.
func (c Content) IsListSet() bool { return c.Kind == KindListSet }

// Op is one atomic change to one container.
type Op struct {
	Counter   id.Counter
	Container ContainerIdx
	Content   Content
}

// AtomLen returns how many atomic units (characters, list slots, or 1
// for map/tree ops) this op spans, used to keep Change.Ops contiguous.
func (o Op) AtomLen() int {
	switch o.Content.Kind {
	case KindListInsert:
		return o.Content.ListInsert.Slice.Len()
	case KindListInsertText:
		return int(o.Content.ListInsertText.Len)
	case KindListDelete:
		n := o.Content.ListDelete.SignedLen
		if n < 0 {
			n = -n
		}
		return int(n)
	default:
		return 1
	}
}

// CanMergeWith reports whether other is contiguous, same-container, and
// semantically adjacent to o, so the pair could be stored as one RLE
// entry in a column.
func (o Op) CanMergeWith(other Op) bool {
	if o.Container != other.Container || other.Counter != o.Counter+id.Counter(o.AtomLen()) {
		return false
	}
	switch o.Content.Kind {
	case KindListInsert:
		a, ok1 := other.Content.AsListInsert()
		b := o.Content.ListInsert
		return ok1 && a.Pos == b.Pos+uint32(b.Slice.Len()) && a.Slice.Start == b.Slice.End
	case KindListInsertText:
		a, ok1 := other.Content.AsListInsertText()
		b := o.Content.ListInsertText
		return ok1 && a.Pos == b.Pos+b.Len && a.Slice.Start == b.Slice.End && a.UnicodeStart == b.UnicodeStart+b.Len
	case KindListDelete:
		a, ok1 := other.Content.AsListDelete()
		b := o.Content.ListDelete
		if !ok1 {
			return false
		}
		// forward deletes at a fixed position merge; backward deletes
		// whose position decreases by the previous length also merge.
		if b.SignedLen >= 0 {
			return a.SignedLen >= 0 && a.Pos == b.Pos
		}
		return a.SignedLen < 0 && a.Pos == b.Pos+b.SignedLen
	case KindCounterIncrement:
		// two increments to the same counter are always fungible: they
		// commute, so adjacency in counter space is enough to fold them
		// into one RLE run.
		_, ok1 := other.Content.AsCounterIncrement()
		return ok1
	default:
		return false
	}
}
