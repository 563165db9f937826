package causaldoc

import (
	"sort"

	"github.com/cshekharsharma/causaldoc/id"
	"github.com/cshekharsharma/causaldoc/op"
)

// Checkout moves the document's materialised state to frontiers,
// retreating or forwarding every sequence container along the path
// AppDag.FindPath reports, per §4.4.5/§4.3. Map, Tree and Counter state
// is LWW/summed and has no notion of "not yet visible", so checkout
// only affects sequence-backed containers (Text, List, MovableList);
// those containers' own convergent merge already makes their current
// value the only one that exists. Returns ErrFrontiersNotFound if any
// id in frontiers is not in this replica's causal log.
func (d *Document) Checkout(frontiers id.Frontiers) error {
	_, err := d.CheckoutDiff(frontiers)
	return err
}

// CheckoutDiff behaves exactly like Checkout, additionally emitting, per
// §4.4.6, a DeltaRope for every text/list/movable-list container that
// existed before the checkout, keyed by root container name; a container
// whose visibility did not change gets a retain-only rope. Each rope is built
// by snapshotting the sequence's span visibility before the
// retreat/forward traversal and diffing it against the visibility
// after; the returned value is *delta.Rope[rune] for a text container
// and *delta.Rope[uint32] for a list or movable-list one.
func (d *Document) CheckoutDiff(frontiers id.Frontiers) (out map[string]any, err error) {
	if pErr := d.checkPoisoned(); pErr != nil {
		return nil, pErr
	}
	defer d.recoverPoison(&err)

	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	d.oplogMu.Lock()
	defer d.oplogMu.Unlock()

	for _, f := range frontiers {
		if _, ok := d.dag.LamportOf(f); !ok {
			return nil, ErrFrontiersNotFound(frontiers)
		}
	}

	current := d.checkoutFrontiers
	if current == nil {
		current = d.dag.Frontiers()
	}
	left, right := d.dag.FindPath(current, frontiers)
	if len(left) == 0 && len(right) == 0 {
		return nil, nil
	}

	textBefore := make(map[op.ContainerIdx]any, len(d.texts))
	for idx, t := range d.texts {
		textBefore[idx] = t.Sequence().Snapshot()
	}
	listBefore := make(map[op.ContainerIdx]any, len(d.lists))
	for idx, l := range d.lists {
		listBefore[idx] = l.Sequence().Snapshot()
	}
	mlistBefore := make(map[op.ContainerIdx]any, len(d.mlists))
	for idx, m := range d.mlists {
		mlistBefore[idx] = m.Sequence().Snapshot()
	}

	retreat := newSeqAccums()
	for _, c := range d.changesOverlapping(left, true) {
		d.accumulateChange(c, retreat)
	}
	for idx, acc := range retreat.text {
		d.ensureText(idx).Sequence().Checkout(acc.toggle, nil, acc.del, nil)
	}
	for idx, acc := range retreat.list {
		d.ensureList(idx).Sequence().Checkout(acc.toggle, nil, acc.del, nil)
	}
	for idx, acc := range retreat.mlist {
		d.ensureMovableList(idx).Sequence().Checkout(acc.toggle, nil, acc.del, nil)
	}
	for idx, marks := range retreat.marks {
		t := d.ensureText(idx)
		for _, ident := range marks {
			t.SetMarkActive(ident, false)
		}
	}
	for idx, moves := range retreat.moves {
		m := d.ensureMovableList(idx)
		for _, mv := range moves {
			m.RetreatMove(mv.element, mv.ident)
		}
	}
	for idx, sets := range retreat.sets {
		m := d.ensureMovableList(idx)
		for _, s := range sets {
			m.RetreatSet(s.element, s.ident)
		}
	}

	forward := newSeqAccums()
	for _, c := range d.changesOverlapping(right, false) {
		d.accumulateChange(c, forward)
	}
	for idx, acc := range forward.text {
		d.ensureText(idx).Sequence().Checkout(nil, acc.toggle, nil, acc.del)
	}
	for idx, acc := range forward.list {
		d.ensureList(idx).Sequence().Checkout(nil, acc.toggle, nil, acc.del)
	}
	for idx, acc := range forward.mlist {
		d.ensureMovableList(idx).Sequence().Checkout(nil, acc.toggle, nil, acc.del)
	}
	for idx, marks := range forward.marks {
		t := d.ensureText(idx)
		for _, ident := range marks {
			t.SetMarkActive(ident, true)
		}
	}
	for idx, moves := range forward.moves {
		m := d.ensureMovableList(idx)
		for _, mv := range moves {
			m.ForwardMove(mv.element, mv.ident)
		}
	}
	for idx, sets := range forward.sets {
		m := d.ensureMovableList(idx)
		for _, s := range sets {
			m.ForwardSet(s.element, s.ident)
		}
	}

	d.checkoutFrontiers = frontiers.Clone()

	out = make(map[string]any)
	for idx, t := range d.texts {
		before, ok := textBefore[idx]
		if !ok {
			continue
		}
		if cid, ok := d.arena.ContainerIDOf(idx); ok {
			out[cid.Name] = t.Sequence().DiffAgainstSnapshot(before)
		}
	}
	for idx, l := range d.lists {
		before, ok := listBefore[idx]
		if !ok {
			continue
		}
		if cid, ok := d.arena.ContainerIDOf(idx); ok {
			out[cid.Name] = l.Sequence().DiffAgainstSnapshot(before)
		}
	}
	for idx, m := range d.mlists {
		before, ok := mlistBefore[idx]
		if !ok {
			continue
		}
		if cid, ok := d.arena.ContainerIDOf(idx); ok {
			out[cid.Name] = m.Sequence().DiffAgainstSnapshot(before)
		}
	}
	return out, nil
}

// changesOverlapping returns every stored change whose span intersects
// any span in spans, sorted by lamport: descending when descending is
// true (a retreat undoes the most recent change first), ascending
// otherwise (a forward applies changes oldest first).
func (d *Document) changesOverlapping(spans id.IDSpanVector, descending bool) []*op.Change {
	seen := map[id.ID]*op.Change{}
	for _, span := range spans {
		n := span.Normalized()
		for cursor := n.Start; cursor < n.End; {
			c, ok := d.changes.FindChangeContaining(id.ID{Peer: span.Peer, Counter: cursor})
			if !ok {
				break
			}
			seen[c.ID] = c
			cursor = c.ID.Counter + id.Counter(c.AtomLen())
		}
	}
	out := make([]*op.Change, 0, len(seen))
	for _, c := range seen {
		out = append(out, c)
	}
	if descending {
		sort.Slice(out, func(i, j int) bool { return out[i].Lamport > out[j].Lamport })
	} else {
		sort.Slice(out, func(i, j int) bool { return out[i].Lamport < out[j].Lamport })
	}
	return out
}

// seqAccum collects the id spans a retreat or forward pass needs to hand
// to crdt.Sequence.Checkout for one container: toggle is every insert
// atom whose future bit flips, del is every delete op's recorded target
// spans to undo or (re)apply.
type seqAccum struct {
	toggle id.IDSpanVector
	del    id.IDSpanVector
}

type seqAccums struct {
	text  map[op.ContainerIdx]*seqAccum
	list  map[op.ContainerIdx]*seqAccum
	mlist map[op.ContainerIdx]*seqAccum
	// marks collects, per text container, the ids of Mark ops the
	// current retreat/forward pass should toggle. Marks have no
	// sequence-atom representation, so they bypass crdt.Sequence.Checkout
	// entirely and are applied directly against container.Text.
	marks map[op.ContainerIdx][]id.ID
	// moves and sets mirror marks for a MovableList's position/value
	// overlays, which are per-element LWW registers with no
	// sequence-atom representation either.
	moves map[op.ContainerIdx][]elementOp
	sets  map[op.ContainerIdx][]elementOp
}

// elementOp names one Move or Set op's target element and its own
// identity, the pair a MovableList needs to retreat or forward past
// that specific claim.
type elementOp struct {
	element id.ID
	ident   id.ID
}

func newSeqAccums() *seqAccums {
	return &seqAccums{
		text:  make(map[op.ContainerIdx]*seqAccum),
		list:  make(map[op.ContainerIdx]*seqAccum),
		mlist: make(map[op.ContainerIdx]*seqAccum),
		marks: make(map[op.ContainerIdx][]id.ID),
		moves: make(map[op.ContainerIdx][]elementOp),
		sets:  make(map[op.ContainerIdx][]elementOp),
	}
}

func accumFor(m map[op.ContainerIdx]*seqAccum, idx op.ContainerIdx) *seqAccum {
	acc, ok := m[idx]
	if !ok {
		acc = &seqAccum{}
		m[idx] = acc
	}
	return acc
}

// accumulateChange walks c's ops, bucketing each insert's span and each
// delete's recorded target spans (from Document.deleteSpans) into the
// accumulator for its container, without yet applying anything.
func (d *Document) accumulateChange(c *op.Change, into *seqAccums) {
	counter := c.ID.Counter
	for _, o := range c.Ops {
		ident := id.ID{Peer: c.ID.Peer, Counter: counter}
		var m map[op.ContainerIdx]*seqAccum
		switch o.Container.Type() {
		case op.ContainerText:
			m = into.text
		case op.ContainerList:
			m = into.list
		case op.ContainerMovableList:
			m = into.mlist
		default:
			counter += id.Counter(o.AtomLen())
			continue
		}
		if o.Content.IsMark() {
			into.marks[o.Container] = append(into.marks[o.Container], ident)
			counter += id.Counter(o.AtomLen())
			continue
		}
		if mv, ok := o.Content.AsListMove(); ok {
			into.moves[o.Container] = append(into.moves[o.Container], elementOp{element: mv.Element, ident: ident})
			counter += id.Counter(o.AtomLen())
			continue
		}
		if set, ok := o.Content.AsListSet(); ok {
			into.sets[o.Container] = append(into.sets[o.Container], elementOp{element: set.Element, ident: ident})
			counter += id.Counter(o.AtomLen())
			continue
		}
		acc := accumFor(m, o.Container)
		if o.Content.IsListInsert() || o.Content.IsListInsertText() {
			acc.toggle = append(acc.toggle, id.NewIDSpan(ident.Peer, ident.Counter, ident.Counter+id.Counter(o.AtomLen())))
		} else if spans, ok := d.deleteSpans[ident]; ok {
			acc.del = append(acc.del, spans...)
		}
		counter += id.Counter(o.AtomLen())
	}
}

// CheckoutToLatest moves the document back to the head of its full
// causal log, undoing any in-progress time travel from a prior
// Checkout.
func (d *Document) CheckoutToLatest() error {
	d.oplogMu.Lock()
	latest := d.dag.Frontiers()
	d.oplogMu.Unlock()
	return d.Checkout(latest)
}
