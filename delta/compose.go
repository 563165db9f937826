package delta

import "github.com/pkg/errors"

// opKind classifies one atom-position of an item for the compose/transform
// walk: every item is either an insert (produces new atoms, consumes
// none of the old side), a delete (consumes old atoms, produces
// nothing), or a retain (consumes one old atom, produces one new atom).
type opKind int

const (
	kindInsert opKind = iota
	kindDelete
	kindRetain
)

// peekable walks a rope's items one "head" at a time, where a head is
// either the insert-value of a Replace, or the delete-count, or a
// retain-count; take(n) consumes n atoms from the current head only
// (never crossing a value/delete split within one Replace) and returns
// what was consumed, splitting the underlying item's value if needed.
type peekable[V any] struct {
	items []Item[V]
	idx   int
	// phase selects which part of the current Replace item is active:
	// Replace items are expanded into an optional delete head followed
	// by an optional insert head so a single Replace can be consumed in
	// two pieces by compose/transform.
	phase   int // 0 = delete half, 1 = insert half (or the only half)
	voffset int // offset already consumed within the active value/delete span
}

func newPeekable[V any](items []Item[V]) *peekable[V] {
	p := &peekable[V]{items: items}
	p.skipEmpty()
	return p
}

func (p *peekable[V]) skipEmpty() {
	for p.idx < len(p.items) {
		it := p.items[p.idx]
		if it.IsRetain {
			if it.Retain-p.voffset > 0 {
				return
			}
			p.idx++
			p.voffset = 0
			continue
		}
		if p.phase == 0 {
			if it.Delete-p.voffset > 0 {
				return
			}
			p.phase = 1
			p.voffset = 0
			continue
		}
		if len(it.Value)-p.voffset > 0 {
			return
		}
		p.idx++
		p.phase = 0
		p.voffset = 0
	}
}

func (p *peekable[V]) done() bool {
	p.skipEmpty()
	return p.idx >= len(p.items)
}

// head returns the kind and attr of the current active span plus how
// many atoms remain in it.
func (p *peekable[V]) head() (opKind, Attr, int) {
	p.skipEmpty()
	if p.idx >= len(p.items) {
		return kindRetain, nil, 0
	}
	it := p.items[p.idx]
	if it.IsRetain {
		return kindRetain, it.Attr, it.Retain - p.voffset
	}
	if p.phase == 0 && it.Delete-p.voffset > 0 {
		return kindDelete, it.Attr, it.Delete - p.voffset
	}
	return kindInsert, it.Attr, len(it.Value) - p.voffset
}

// take consumes up to n atoms from the current head and, for inserts,
// returns the consumed slice of values.
func (p *peekable[V]) take(n int) []V {
	it := p.items[p.idx]
	if it.IsRetain {
		p.voffset += n
		return nil
	}
	if p.phase == 0 {
		p.voffset += n
		return nil
	}
	out := it.Value[p.voffset : p.voffset+n]
	p.voffset += n
	return out
}

func minPositive(a, b int) int {
	if a <= 0 {
		return b
	}
	if b <= 0 {
		return a
	}
	if a < b {
		return a
	}
	return b
}

// Compose concatenates a then b under OT semantics: retain∘x = x,
// delete∘anything = delete, insert∘retain(n<|insert|) slices the
// insert. a.DataLen() must equal b.DeltaLen(), i.e. b is expressed
// against the state a produces.
func Compose[V any](a, b *Rope[V]) (*Rope[V], error) {
	if a.DataLen() != b.DeltaLen() {
		return nil, errors.Errorf("delta: compose length mismatch: a.DataLen=%d b.DeltaLen=%d", a.DataLen(), b.DeltaLen())
	}
	out := New[V]()
	pa := newPeekable(a.Items())
	pb := newPeekable(b.Items())

	for !pa.done() || !pb.done() {
		aKind, aAttr, aLen := pa.head()
		if !pa.done() && aKind == kindInsert {
			// a's insert passes through unless b deletes it.
			bKind, _, bLen := pb.head()
			if !pb.done() && bKind == kindDelete {
				n := minPositive(aLen, bLen)
				pa.take(n)
				pb.take(n)
				continue
			}
			if !pb.done() && bKind == kindInsert {
				// b inserted its own content at this point; it lands
				// ahead of a's not-yet-transformed insert.
				_, bAttr, _ := pb.head()
				v := pb.take(bLen)
				out.PushReplace(v, bAttr, 0)
				continue
			}
			n := aLen
			if !pb.done() && bKind == kindRetain && bLen > 0 {
				n = minPositive(aLen, bLen)
			}
			v := pa.take(n)
			if !pb.done() && bKind == kindRetain {
				pb.take(n)
			}
			out.PushReplace(v, aAttr, 0)
			continue
		}

		if pa.done() {
			bKind, bAttr, bLen := pb.head()
			if pb.done() {
				break
			}
			switch bKind {
			case kindInsert:
				v := pb.take(bLen)
				out.PushReplace(v, bAttr, 0)
			default:
				return nil, errors.New("delta: compose: b references atoms past a's end")
			}
			continue
		}

		bKind, bAttr, bLen := pb.head()
		if pb.done() {
			// only retains/deletes left in a with nothing in b to
			// rebase against: pass a through unchanged.
			switch aKind {
			case kindRetain:
				n := aLen
				pa.take(n)
				out.PushRetain(n, aAttr)
			case kindDelete:
				n := aLen
				pa.take(n)
				out.PushReplace(nil, aAttr, n)
			}
			continue
		}

		switch {
		case aKind == kindDelete:
			// deletes in a are unaffected by b; b is defined against
			// a's output, which never sees deleted atoms.
			n := aLen
			pa.take(n)
			out.PushReplace(nil, aAttr, n)
		case bKind == kindInsert:
			v := pb.take(bLen)
			out.PushReplace(v, bAttr, 0)
		case aKind == kindRetain && bKind == kindRetain:
			n := minPositive(aLen, bLen)
			pa.take(n)
			pb.take(n)
			out.PushRetain(n, bAttr)
		case aKind == kindRetain && bKind == kindDelete:
			n := minPositive(aLen, bLen)
			pa.take(n)
			pb.take(n)
			out.PushReplace(nil, aAttr, n)
		default:
			return nil, errors.New("delta: compose: unreachable item combination")
		}
	}
	out.Chop()
	return out, nil
}

