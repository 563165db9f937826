package causaldoc

import (
	"github.com/cshekharsharma/causaldoc/arena"
	"github.com/cshekharsharma/causaldoc/container"
	"github.com/cshekharsharma/causaldoc/crdt"
	"github.com/cshekharsharma/causaldoc/id"
	"github.com/cshekharsharma/causaldoc/op"
)

func arenaStrRange(b op.BytesSlice) arena.StrRange {
	return arena.StrRange{Start: b.Start, End: b.End}
}

// ensureText, ensureList and friends return the container state for
// cidx, creating an empty one keyed by cidx directly the first time
// this replica sees an op against it. Root containers are registered by
// (name, type) on first local access via getOrRegister; a remote change
// referencing a container this replica has never touched locally is
// keyed by its raw ContainerIdx instead, which only converges with the
// originating peer's idx if every peer registers its root containers in
// the same order. That's a known simplification: production CRDT engines
// resolve container identity by name over the wire rather than by dense
// index, but the single-schema documents this engine targets always
// touch their containers in the same application-defined order.
func (d *Document) ensureText(cidx op.ContainerIdx) *container.Text {
	t, ok := d.texts[cidx]
	if !ok {
		t = container.NewText()
		d.texts[cidx] = t
	}
	return t
}

func (d *Document) ensureList(cidx op.ContainerIdx) *container.List {
	l, ok := d.lists[cidx]
	if !ok {
		l = container.NewList()
		d.lists[cidx] = l
	}
	return l
}

func (d *Document) ensureMovableList(cidx op.ContainerIdx) *container.MovableList {
	m, ok := d.mlists[cidx]
	if !ok {
		m = container.NewMovableList()
		d.mlists[cidx] = m
	}
	return m
}

func (d *Document) ensureMap(cidx op.ContainerIdx) *container.Map {
	m, ok := d.maps[cidx]
	if !ok {
		m = container.NewMap()
		d.maps[cidx] = m
	}
	return m
}

func (d *Document) ensureTree(cidx op.ContainerIdx) *container.Tree {
	t, ok := d.trees[cidx]
	if !ok {
		t = container.NewTree()
		d.trees[cidx] = t
	}
	return t
}

func (d *Document) ensureCounter(cidx op.ContainerIdx) *container.Counter {
	c, ok := d.counts[cidx]
	if !ok {
		c = container.NewCounter()
		d.counts[cidx] = c
	}
	return c
}

// applyChangeToContainers replays every op of a causally-ready change
// (local or remote) into its container's materialised state. Callers
// must already hold stateMu.
func (d *Document) applyChangeToContainers(c *op.Change) {
	counter := c.ID.Counter
	for _, o := range c.Ops {
		ident := id.ID{Peer: c.ID.Peer, Counter: counter}
		d.applyOpToContainer(ident, c.Lamport, o)
		counter += id.Counter(o.AtomLen())
	}
}

// applyOpToContainer dispatches one op against its container's current
// materialised state. ident names the first atom the op occupies.
func (d *Document) applyOpToContainer(ident id.ID, lamport id.Lamport, o op.Op) {
	switch o.Container.Type() {
	case op.ContainerText:
		if mark, ok := o.Content.AsMark(); ok {
			d.ensureText(o.Container).ApplyMark(ident, mark.Spans, mark.Key, mark.Value)
			return
		}
		d.replayTextOp(d.ensureText(o.Container).Sequence(), ident, o)
	case op.ContainerList:
		d.replayListOp(d.ensureList(o.Container).Sequence(), ident, o)
	case op.ContainerMovableList:
		m := d.ensureMovableList(o.Container)
		if mv, ok := o.Content.AsListMove(); ok {
			m.Move(ident, mv.Element, mv.After, uint32(lamport), uint64(ident.Peer))
			return
		}
		if set, ok := o.Content.AsListSet(); ok {
			if set.Value != nil {
				m.SetValue(ident, set.Element, *set.Value, uint32(lamport), uint64(ident.Peer))
			}
			return
		}
		replayMovableInsert(m, ident, o)
	case op.ContainerMap:
		set, ok := o.Content.AsMapSet()
		if !ok {
			return
		}
		d.ensureMap(o.Container).Apply(set.Key, set.Value, uint32(lamport), uint64(ident.Peer))
	case op.ContainerTree:
		mv, ok := o.Content.AsTreeMove()
		if !ok {
			return
		}
		_ = d.ensureTree(o.Container).Apply(mv.Target, mv.Parent, uint32(lamport), uint64(ident.Peer))
	case op.ContainerCounter:
		inc, ok := o.Content.AsCounterIncrement()
		if !ok {
			return
		}
		d.ensureCounter(o.Container).Apply(ident.Peer, inc.Delta)
	}
}

// replayTextOp replays a ListInsertText/ListDelete op against a Text's
// rune sequence. A remote insert's origins are not transmitted over the
// wire (only its author-relative Pos is); they are recovered from this
// replica's own current sequence state via PositionToOrigins. That is
// exact as long as causally-prior changes have already been applied in
// the order PendingBuffer.Drive guarantees -- the same position the
// author saw resolves to the same origin pair here, since every op the
// author's Pos could have depended on is already integrated.
func (d *Document) replayTextOp(seq *crdt.Sequence[rune], ident id.ID, o op.Op) {
	if del, ok := o.Content.AsListDelete(); ok {
		seq.ApplyDelete(seq.VisibleIDSpansForRange(int(del.Pos), int(del.SignedLen)))
		return
	}
	ins, ok := o.Content.AsListInsertText()
	if !ok {
		return
	}
	left, right := seq.PositionToOrigins(int(ins.Pos))
	value := []rune(string(d.arena.StrSlice(arenaStrRange(ins.Slice))))
	seq.Insert(ident, value, left, right)
}

// replayListOp mirrors replayTextOp for a List's uint32 (arena value
// index) sequence.
func (d *Document) replayListOp(seq *crdt.Sequence[uint32], ident id.ID, o op.Op) {
	if del, ok := o.Content.AsListDelete(); ok {
		seq.ApplyDelete(seq.VisibleIDSpansForRange(int(del.Pos), int(del.SignedLen)))
		return
	}
	ins, ok := o.Content.AsListInsert()
	if !ok {
		return
	}
	left, right := seq.PositionToOrigins(int(ins.Pos))
	value := make([]uint32, ins.Slice.Len())
	for i := range value {
		value[i] = ins.Slice.Start + uint32(i)
	}
	seq.Insert(ident, value, left, right)
}

func replayMovableInsert(m *container.MovableList, ident id.ID, o op.Op) {
	ins, ok := o.Content.AsListInsert()
	if !ok {
		return
	}
	left, right := m.Sequence().PositionToOrigins(int(ins.Pos))
	m.Insert(ident, ins.Slice.Start, left, right, id.ID{}, 0, uint64(ident.Peer))
}
