package delta

import "testing"

func runeValues(s string) []rune { return []rune(s) }

func materialize(base []rune, items []Item[rune]) []rune {
	var out []rune
	pos := 0
	for _, it := range items {
		if it.IsRetain {
			out = append(out, base[pos:pos+it.Retain]...)
			pos += it.Retain
		} else {
			out = append(out, it.Value...)
			pos += it.Delete
		}
	}
	return append(out, base[pos:]...)
}

func TestRopePushMergesAdjacentRetains(t *testing.T) {
	r := New[rune]()
	r.PushRetain(3, nil)
	r.PushRetain(2, nil)
	if len(r.Items()) != 1 || r.Items()[0].Retain != 5 {
		t.Fatalf("expected one merged retain of 5, got %+v", r.Items())
	}
	if r.DataLen() != 5 || r.DeltaLen() != 5 {
		t.Fatalf("unexpected lengths: data=%d delta=%d", r.DataLen(), r.DeltaLen())
	}
}

func TestRopeChopRemovesTrailingEmptyRetain(t *testing.T) {
	r := New[rune]()
	r.PushReplace(runeValues("hi"), nil, 0)
	r.PushRetain(4, nil)
	r.Chop()
	if len(r.Items()) != 1 {
		t.Fatalf("expected trailing retain chopped, got %+v", r.Items())
	}
}

func TestComposeInsertThenRetainPassesInsertThrough(t *testing.T) {
	base := runeValues("abc")
	a := New[rune]()
	a.PushReplace(runeValues("X"), nil, 0)
	a.PushRetain(3, nil)

	b := New[rune]()
	b.PushRetain(4, nil)

	out, err := Compose(a, b)
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	got := string(materialize(base, out.Items()))
	if got != "Xabc" {
		t.Fatalf("got %q, want Xabc", got)
	}
}

func TestComposeDeleteConsumesInsert(t *testing.T) {
	a := New[rune]()
	a.PushReplace(runeValues("XY"), nil, 0)

	b := New[rune]()
	b.PushReplace(nil, nil, 2)

	out, err := Compose(a, b)
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if out.DataLen() != 0 {
		t.Fatalf("expected fully-deleted insert to vanish, got %+v", out.Items())
	}
}

func TestTransformConcurrentInsertsLeftPriority(t *testing.T) {
	self := New[rune]()
	self.PushReplace(runeValues("A"), nil, 0)
	self.PushRetain(3, nil)

	other := New[rune]()
	other.PushReplace(runeValues("B"), nil, 0)
	other.PushRetain(3, nil)

	out := Transform(self, other, true)
	base := runeValues("xyz")
	got := string(materialize(base, out.Items()))
	if got != "Axyz" {
		t.Fatalf("got %q, want Axyz", got)
	}
}

func TestTransformConcurrentInsertsRightPriority(t *testing.T) {
	self := New[rune]()
	self.PushReplace(runeValues("A"), nil, 0)
	self.PushRetain(3, nil)

	other := New[rune]()
	other.PushReplace(runeValues("B"), nil, 0)
	other.PushRetain(3, nil)

	out := Transform(self, other, false)
	if out.Items()[0].Retain != 1 {
		t.Fatalf("expected self's insert to become a retain ceding to other, got %+v", out.Items())
	}
}

func TestTransformDeleteDeleteBothConsume(t *testing.T) {
	self := New[rune]()
	self.PushReplace(nil, nil, 2)
	self.PushRetain(2, nil)

	other := New[rune]()
	other.PushReplace(nil, nil, 2)
	other.PushRetain(2, nil)

	out := Transform(self, other, true)
	if out.DeltaLen() != 0 {
		t.Fatalf("expected both overlapping deletes to cancel out, got %+v", out.Items())
	}
}
