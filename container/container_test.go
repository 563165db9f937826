package container

import (
	"testing"

	"github.com/cshekharsharma/causaldoc/id"
)

func TestCounterSumsAcrossPeers(t *testing.T) {
	c := NewCounter()
	c.Apply(1, 5)
	c.Apply(2, 3)
	c.Apply(1, -2)
	if got := c.Value(); got != 6 {
		t.Fatalf("got %d, want 6", got)
	}
}

func TestMapLastWriteWinsByLamport(t *testing.T) {
	m := NewMap()
	v1, v2 := uint32(1), uint32(2)
	m.Apply("k", &v1, 1, 1)
	m.Apply("k", &v2, 2, 1)
	got, ok := m.Get("k")
	if !ok || got != 2 {
		t.Fatalf("got %v ok=%v, want 2 true", got, ok)
	}
}

func TestMapTombstoneWins(t *testing.T) {
	m := NewMap()
	v1 := uint32(1)
	m.Apply("k", &v1, 1, 1)
	m.Apply("k", nil, 2, 1)
	if _, ok := m.Get("k"); ok {
		t.Fatalf("expected key deleted")
	}
}

func TestTreeRejectsCycleViaIsAncestor(t *testing.T) {
	tr := NewTree()
	a := id.NewID(1, 0)
	b := id.NewID(1, 1)
	_ = tr.Apply(a, nil, 1, 1)
	bParent := a
	_ = tr.Apply(b, &bParent, 2, 1)

	if !tr.IsAncestor(a, b) {
		t.Fatalf("expected a to be recognised as an ancestor of b")
	}
	if tr.IsAncestor(b, a) {
		t.Fatalf("b must not be considered an ancestor of a")
	}
}
