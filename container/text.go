package container

import (
	"github.com/cshekharsharma/causaldoc/crdt"
	"github.com/cshekharsharma/causaldoc/id"
)

// TextMark records one mark op's target char-id-spans and its key/value
// payload. Value mirrors container.Map's entry: an arena index, nil
// meaning "remove this mark" rather than "set it to nil". Active tracks
// checkout visibility the same way a sequence atom's own tombstone bit
// does: retreating past the mark op clears Active, forwarding past it
// sets it again.
type TextMark struct {
	ID     id.ID
	Key    string
	Value  *uint32
	Spans  id.IDSpanVector
	Active bool
}

// Text is a Text container: a sequence CRDT over runes, exposing a
// unicode-indexed string view, plus an overlay of rich-text marks keyed
// by character id span so formatting survives concurrent edits to the
// surrounding text.
type Text struct {
	seq   *crdt.Sequence[rune]
	marks []*TextMark
}

// NewText returns an empty text container.
func NewText() *Text {
	return &Text{seq: crdt.NewSequence[rune]()}
}

// ApplyMark records a mark op's target spans and payload as active.
func (t *Text) ApplyMark(ident id.ID, spans id.IDSpanVector, key string, value *uint32) {
	t.marks = append(t.marks, &TextMark{ID: ident, Key: key, Value: value, Spans: spans, Active: true})
}

// SetMarkActive toggles a previously-applied mark's visibility, for
// Checkout's retreat/forward passes.
func (t *Text) SetMarkActive(ident id.ID, active bool) {
	for _, m := range t.marks {
		if m.ID == ident {
			m.Active = active
			return
		}
	}
}

// ActiveMarks returns every currently-visible mark, in application
// order (later entries override earlier ones covering the same span for
// the same key, matching a last-write-wins resolution per key).
func (t *Text) ActiveMarks() []TextMark {
	out := make([]TextMark, 0, len(t.marks))
	for _, m := range t.marks {
		if m.Active {
			out = append(out, *m)
		}
	}
	return out
}

// Insert integrates a run of runes at the given origins.
func (t *Text) Insert(newID id.ID, value []rune, originLeft, originRight *id.ID) {
	t.seq.Insert(newID, value, originLeft, originRight)
}

// IDSpansForRange resolves a [pos, pos+len) unicode-index range into the
// underlying id spans, for building a ListDelete/TreeMove-style op whose
// payload is itself an IdSpanVector.
func (t *Text) IDSpansForRange(pos, length int) id.IDSpanVector {
	return t.seq.VisibleIDSpansForRange(pos, length)
}

// ApplyDelete hides the atoms in spans.
func (t *Text) ApplyDelete(spans id.IDSpanVector) { t.seq.ApplyDelete(spans) }

// String returns the current materialised text.
func (t *Text) String() string { return string(t.seq.Materialize()) }

// Len returns the number of currently-visible runes.
func (t *Text) Len() int { return t.seq.VisibleLen() }

// Sequence exposes the underlying sequence for checkout/diff plumbing
// shared with List.
func (t *Text) Sequence() *crdt.Sequence[rune] { return t.seq }
